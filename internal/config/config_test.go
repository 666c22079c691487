package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SkyAgents-Hub/internal/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultCatalogURL, cfg.Catalog.BaseURL)
	assert.Equal(t, DefaultChannelURL, cfg.Channel.URL)
	assert.Equal(t, 10*time.Minute, cfg.Channel.ConnectTimeout.Duration)
	assert.Equal(t, "rpc", cfg.Wallet.Provider)
	assert.Equal(t, "0", cfg.Account.CollectionID)
	assert.Equal(t, "0", cfg.Account.AssetID)
	assert.Equal(t, "memory", cfg.Status.Driver)
	assert.Equal(t, 10*time.Second, cfg.Status.WriteTimeout.Duration)
	assert.Equal(t, time.Hour, cfg.Status.StaleAfter.Duration)
	assert.Equal(t, "memory", cfg.History.Driver)
	assert.Equal(t, "none", cfg.Events.Driver)
	require.NoError(t, cfg.Validate())
}

func TestLoadJSONResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skyagents.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"catalog": {"base_url": "http://catalog.local", "timeout": "5s"},
		"channel": {"connect_timeout": 90},
		"wallet": {"provider": "KEYSTORE", "keystore_path": "keys/wallet.json"},
		"log": {"output_paths": ["stdout", "logs/app.log"], "audit": {"enabled": true, "path": "logs/audit.log"}}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://catalog.local", cfg.Catalog.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Catalog.Timeout.Duration)
	assert.Equal(t, 90*time.Second, cfg.Channel.ConnectTimeout.Duration)
	assert.Equal(t, "keystore", cfg.Wallet.Provider)
	assert.Equal(t, filepath.Join(dir, "keys/wallet.json"), cfg.Wallet.KeystorePath)
	assert.Equal(t, []string{"stdout", filepath.Join(dir, "logs/app.log")}, cfg.Log.OutputPaths)
	assert.Equal(t, filepath.Join(dir, "logs/audit.log"), cfg.Log.Audit.Path)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skyagents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9000"
  allow_origins: ["chrome-extension://abc"]
status:
  driver: redis
  redis:
    address: "redis:6379"
history:
  driver: mysql
  mysql:
    dsn: "user:pass@tcp(db:3306)/skyagents?parseTime=true"
    conn_max_lifetime: 1h
events:
  driver: rabbitmq
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, []string{"chrome-extension://abc"}, cfg.Server.AllowOrigins)
	assert.Equal(t, "redis", cfg.Status.Driver)
	assert.Equal(t, "redis:6379", cfg.Status.Redis.Address)
	assert.Equal(t, "skyagents:status", cfg.Status.Redis.Prefix)
	assert.Equal(t, time.Hour, cfg.History.MySQL.ConnMaxLifetime.Duration)
	assert.Equal(t, "skyagents.status", cfg.Events.RabbitMQ.Exchange)
}

func TestLoadFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"address":":7000"}}`), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Address)
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"provider":       `{"wallet":{"provider":"ledger"}}`,
		"keystore path":  `{"wallet":{"provider":"keystore"}}`,
		"status driver":  `{"status":{"driver":"etcd"}}`,
		"mysql dsn":      `{"history":{"driver":"mysql"}}`,
		"events driver":  `{"events":{"driver":"kafka"}}`,
		"backoff bounds": `{"channel":{"reconnect_min":"1m","reconnect_max":"1s"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cfg.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
		})
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"catalog":{"timeout":"soon"}}`), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
