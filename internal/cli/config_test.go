package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit(t *testing.T) {
	t.Cleanup(func() { configForce = false })

	t.Run("writes the defaults", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "confer.json")

		out, err := execute(t, "config", "init", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.Contains(t, raw, "provider")
		assert.Contains(t, raw, "store")

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "confer.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

		_, err := execute(t, "config", "init", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")

		_, err = execute(t, "config", "init", "--config", path, "--force")
		require.NoError(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("reports every problem", func(t *testing.T) {
		dir := isolate(t)
		path := filepath.Join(dir, "confer.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"provider":{"max_tokens":10},"agent":{"max_depth":0}}`), 0600))

		out, err := execute(t, "config", "validate", "--config", path)
		require.Error(t, err)
		assert.Contains(t, out, "API key cannot be empty")
		assert.Contains(t, out, "max tokens")
		assert.Contains(t, out, "max depth")
	})

	t.Run("accepts a complete configuration", func(t *testing.T) {
		dir := isolate(t)
		t.Setenv("CONFER_PROVIDER_API_KEY", "sk-test-1234567890")

		out, err := execute(t, "config", "validate", "--config", filepath.Join(dir, "confer.json"))
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})
}

func TestConfigShow(t *testing.T) {
	dir := isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-secret-1234567890")

	out, err := execute(t, "config", "show", "--config", filepath.Join(dir, "confer.json"))
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret-1234567890")
	assert.Contains(t, out, `"api_key": "***"`)
}
