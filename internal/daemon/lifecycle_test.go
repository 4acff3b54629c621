package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManager(t *testing.T) {
	t.Run("should write and remove the PID file", func(t *testing.T) {
		dataDir := filepath.Join(t.TempDir(), "data")
		lm := NewLifecycleManager(dataDir, zerolog.Nop())
		assert.Equal(t, filepath.Join(dataDir, "confer.pid"), lm.PIDFile())

		require.NoError(t, lm.Start())

		pid, err := ReadPID(lm.PIDFile())
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)

		require.NoError(t, lm.Stop())
		assert.NoFileExists(t, lm.PIDFile())

		// Removing a missing file is fine
		assert.NoError(t, lm.Stop())
	})

	t.Run("should replace a stale PID file", func(t *testing.T) {
		dataDir := t.TempDir()
		// PIDs near the maximum are practically never in use
		require.NoError(t, os.WriteFile(PIDFilePath(dataDir), []byte("4194303"), 0644))

		lm := NewLifecycleManager(dataDir, zerolog.Nop())
		require.NoError(t, lm.Start())
		defer lm.Stop()

		pid, err := ReadPID(lm.PIDFile())
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("should refuse when another live process owns the file", func(t *testing.T) {
		dataDir := t.TempDir()
		require.NoError(t, os.WriteFile(PIDFilePath(dataDir), []byte(strconv.Itoa(os.Getppid())), 0644))

		lm := NewLifecycleManager(dataDir, zerolog.Nop())
		assert.Error(t, lm.Start())
	})
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.True(t, os.IsNotExist(err))

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid"), 0644))
	_, err = ReadPID(bad)
	assert.Error(t, err)

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("1234\n"), 0644))
	pid, err := ReadPID(good)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}

func TestProcessRunning(t *testing.T) {
	assert.True(t, ProcessRunning(os.Getpid()))
}
