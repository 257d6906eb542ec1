package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.ReadHeaderTimeout)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "data/taskpulse.db", cfg.Store.SQLitePath)
	assert.Equal(t, "taskpulse", cfg.Store.Schema)
	assert.EqualValues(t, 10, cfg.Store.MaxConns)
	assert.False(t, cfg.Store.AutoMigrate)

	assert.False(t, cfg.WS.OriginRequired)
	assert.Equal(t, []string{"http://localhost", "http://127.0.0.1"}, cfg.WS.AllowedOrigins)
	assert.Equal(t, 256, cfg.WS.SendQueueSize)
	assert.Equal(t, 5*time.Second, cfg.WS.WriteTimeout)
	assert.Zero(t, cfg.WS.ReadIdleTimeout)
	assert.Equal(t, 25*time.Second, cfg.WS.HeartbeatInterval)
	assert.Equal(t, 120, cfg.WS.RateEvents)
	assert.Equal(t, 10*time.Second, cfg.WS.RateWindow)

	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.Equal(t, "en", cfg.NotifyLocale)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TASKPULSE_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("TASKPULSE_STORE_DRIVER", "SQLite")
	t.Setenv("TASKPULSE_STORE_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("TASKPULSE_WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TASKPULSE_WS_ORIGIN_REQUIRED", "true")
	t.Setenv("TASKPULSE_WS_RATE_WINDOW", "30s")
	t.Setenv("TASKPULSE_NOTIFY_LOCALE", "ko")

	cfg, err := LoadConfig(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.HTTPAddr)
	assert.Equal(t, StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.Store.SQLitePath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WS.AllowedOrigins)
	assert.True(t, cfg.WS.OriginRequired)
	assert.Equal(t, 30*time.Second, cfg.WS.RateWindow)
	assert.Equal(t, "ko", cfg.NotifyLocale)
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: "127.0.0.1:7000"
log:
  level: debug
  format: text
store:
  driver: postgres
  database_url: "postgres://localhost/taskpulse"
  auto_migrate: true
ws:
  allowed_origins:
    - https://app.example.com
    - https://admin.example.com
  heartbeat_interval: 0s
`), 0o600))

	cfg, err := LoadConfig(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.True(t, cfg.Store.AutoMigrate)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.WS.AllowedOrigins)
	assert.Zero(t, cfg.WS.HeartbeatInterval)
}

func TestLoadConfig_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskpulse.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[metrics]
enabled = false

[notify]
locale = "ko-KR"
`), 0o600))

	cfg, err := LoadConfig(NewViper(), path)
	require.NoError(t, err)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "ko-KR", cfg.NotifyLocale)
}

func TestLoadConfig_FlagBeatsEnv(t *testing.T) {
	t.Setenv("TASKPULSE_HTTP_ADDR", "127.0.0.1:1111")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", "", "")
	require.NoError(t, fs.Parse([]string{"--addr", "127.0.0.1:2222"}))

	v := NewViper()
	require.NoError(t, v.BindPFlag("http.addr", fs.Lookup("addr")))

	cfg, err := LoadConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2222", cfg.HTTPAddr)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	cases := map[string]map[string]string{
		"unknown driver":       {"TASKPULSE_STORE_DRIVER": "redis"},
		"postgres without url": {"TASKPULSE_STORE_DRIVER": "postgres"},
		"bad log format":       {"TASKPULSE_LOG_FORMAT": "xml"},
		"relative metrics":     {"TASKPULSE_METRICS_PATH": "metrics"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(NewViper(), "")
			require.Error(t, err)
		})
	}
}
