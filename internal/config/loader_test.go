package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(path string, env map[string]string) *Loader {
	loader := NewLoader(path)
	loader.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return loader
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := newTestLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "openai", cfg.Provider.Name)
		assert.Equal(t, 10, cfg.Agent.MaxDepth)
	})

	t.Run("load config from json file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		testConfig := `{
			"server": {"port": 9001},
			"provider": {"name": "anthropic", "api_key": "sk-ant-file", "max_tokens": 2000},
			"tools": {"deny": ["search_web"]}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := newTestLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, 9001, cfg.Server.Port)
		assert.Equal(t, "anthropic", cfg.Provider.Name)
		assert.Equal(t, "sk-ant-file", cfg.Provider.APIKey)
		assert.Equal(t, 2000, cfg.Provider.MaxTokens)
		assert.Equal(t, []string{"search_web"}, cfg.Tools.Deny)
		assert.Equal(t, 0.7, cfg.Provider.Temperature, "unset keys keep their defaults")
	})

	t.Run("load config from yaml file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		testConfig := "agent:\n  max_depth: 4\nstore:\n  backend: file\n"
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := newTestLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Agent.MaxDepth)
		assert.Equal(t, "file", cfg.Store.Backend)
		assert.Equal(t, filepath.Join(cfg.DataDir, "sessions"), cfg.Store.Path)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"server": {"port": 9001}}`), 0644))

		t.Setenv("CONFER_SERVER_PORT", "9100")
		t.Setenv("CONFER_PROVIDER_MODEL", "gpt-4o-mini")

		cfg, err := newTestLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	})

	t.Run("fall back to the vendor api key variable", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"provider": {"name": "anthropic"}}`), 0644))

		cfg, err := newTestLoader(configPath, map[string]string{
			"OPENAI_API_KEY":    "sk-openai",
			"ANTHROPIC_API_KEY": "sk-ant-env",
		}).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-ant-env", cfg.Provider.APIKey)
	})

	t.Run("set default paths", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "/var/lib/confer", "store": {"backend": "sqlite"}}`), 0644))

		cfg, err := newTestLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, "/var/lib/confer", cfg.DataDir)
		assert.Equal(t, "/var/lib/confer/sessions.db", cfg.Store.Path)
	})

	t.Run("reject a malformed file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0644))

		_, err := newTestLoader(configPath, nil).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save and reload", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nested", "confer.json")
		loader := newTestLoader(configPath, nil)

		cfg := DefaultConfig()
		cfg.Server.Port = 8123
		cfg.Agent.MaxDepth = 7
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 8123, loaded.Server.Port)
		assert.Equal(t, 7, loaded.Agent.MaxDepth)
	})
}
