package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twingate/internal/domain"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, DefaultRedisURL, cfg.Store.RedisURL)
	assert.Equal(t, DefaultPluginDir, cfg.Plugins.Dir)
	assert.True(t, cfg.Plugins.AutoDiscover)
	assert.Equal(t, DefaultRescanDebounce, cfg.Plugins.RescanDebounce)
	assert.Equal(t, "off", cfg.Security.SignatureMode)
	assert.False(t, cfg.Security.Sandbox)
	assert.Equal(t, DefaultHTTPTimeout, cfg.Executor.HTTPTimeout)
	assert.Zero(t, cfg.Executor.PoolSize)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listenAddress: "127.0.0.1:9999"
store:
  backend: bolt
  boltPath: /var/lib/twingate/tools.db
plugins:
  dir: /opt/twingate/plugins
  autoDiscover: false
security:
  signatureMode: best_effort
executor:
  httpTimeout: 10s
  poolSize: 4
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddress)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/twingate/tools.db", cfg.Store.BoltPath)
	assert.Equal(t, "/opt/twingate/plugins", cfg.Plugins.Dir)
	assert.False(t, cfg.Plugins.AutoDiscover)
	assert.Equal(t, "best_effort", cfg.Security.SignatureMode)
	assert.Equal(t, 10*time.Second, cfg.Executor.HTTPTimeout)
	assert.Equal(t, 4, cfg.Executor.PoolSize)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TWINGATE_LISTENADDRESS", "127.0.0.1:8888")
	t.Setenv("TWINGATE_STORE_BACKEND", "bolt")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8888", cfg.ListenAddress)
	assert.Equal(t, "bolt", cfg.Store.Backend)
}

func TestConfigValidation(t *testing.T) {
	base := func() Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Store.Backend = "dynamo"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, domain.CodeConfiguration, domain.CodeFrom(err))

	cfg = base()
	cfg.Store.Backend = "bolt"
	cfg.Store.BoltPath = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Security.SignatureMode = "paranoid"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Executor.PoolSize = -1
	require.Error(t, cfg.Validate())
}
