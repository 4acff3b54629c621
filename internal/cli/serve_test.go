package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := execute(t, "serve", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "Start the chat gateway")
		assert.Contains(t, out, "session_id")
	})

	t.Run("start alias", func(t *testing.T) {
		cmd, _, err := GetRootCmd().Find([]string{"start"})
		require.NoError(t, err)
		assert.Equal(t, "serve", cmd.Name())
	})

	t.Run("fails without an API key", func(t *testing.T) {
		dir := isolate(t)

		_, err := execute(t, "serve", "--config", filepath.Join(dir, "confer.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})
}
