package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"taskpulse/internal/realtime"
)

// EnvPrefix is prepended to every environment override, e.g. TASKPULSE_HTTP_ADDR.
const EnvPrefix = "TASKPULSE"

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains all runtime configuration.
type Config struct {
	HTTPAddr string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	LogLevel  string
	LogFormat string

	Store StoreConfig
	WS    realtime.GatewayConfig

	MetricsEnabled bool
	MetricsPath    string

	NotifyLocale string
}

// StoreConfig selects and configures notification persistence.
type StoreConfig struct {
	Driver     string
	SQLitePath string

	DatabaseURL string
	Schema      string
	MaxConns    int32
	MinConns    int32
	// AutoMigrate creates the Postgres schema on startup. Off by default; production schemas
	// are expected to be managed out of band.
	AutoMigrate bool
}

// NewViper returns a viper instance with defaults and environment overrides installed.
// Flags are bound by the caller (see cmd/taskpulse).
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.sqlite_path", "data/taskpulse.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.schema", "taskpulse")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.auto_migrate", false)

	ws := realtime.DefaultGatewayConfig()
	v.SetDefault("ws.origin_required", ws.OriginRequired)
	v.SetDefault("ws.allowed_origins", strings.Join(ws.AllowedOrigins, ","))
	v.SetDefault("ws.dev_insecure", ws.DevInsecure)
	v.SetDefault("ws.send_queue", ws.SendQueueSize)
	v.SetDefault("ws.write_timeout", ws.WriteTimeout)
	v.SetDefault("ws.read_idle_timeout", ws.ReadIdleTimeout)
	v.SetDefault("ws.heartbeat_interval", ws.HeartbeatInterval)
	v.SetDefault("ws.heartbeat_timeout", ws.HeartbeatTimeout)
	v.SetDefault("ws.rate_events", ws.RateEvents)
	v.SetDefault("ws.rate_window", ws.RateWindow)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("notify.locale", "en")
}

// LoadConfig reads the optional config file (YAML or TOML, picked by extension) into v and
// decodes the merged result. Precedence: bound flags > env > file > defaults.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if configFile = strings.TrimSpace(configFile); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		HTTPAddr:          strings.TrimSpace(v.GetString("http.addr")),
		ReadHeaderTimeout: v.GetDuration("http.read_header_timeout"),
		ReadTimeout:       v.GetDuration("http.read_timeout"),
		WriteTimeout:      v.GetDuration("http.write_timeout"),
		IdleTimeout:       v.GetDuration("http.idle_timeout"),

		LogLevel:  v.GetString("log.level"),
		LogFormat: strings.ToLower(strings.TrimSpace(v.GetString("log.format"))),

		Store: StoreConfig{
			Driver:      strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))),
			SQLitePath:  strings.TrimSpace(v.GetString("store.sqlite_path")),
			DatabaseURL: strings.TrimSpace(v.GetString("store.database_url")),
			Schema:      strings.TrimSpace(v.GetString("store.schema")),
			MaxConns:    v.GetInt32("store.max_conns"),
			MinConns:    v.GetInt32("store.min_conns"),
			AutoMigrate: v.GetBool("store.auto_migrate"),
		},

		WS: realtime.GatewayConfig{
			OriginRequired:    v.GetBool("ws.origin_required"),
			AllowedOrigins:    stringList(v, "ws.allowed_origins"),
			DevInsecure:       v.GetBool("ws.dev_insecure"),
			SendQueueSize:     v.GetInt("ws.send_queue"),
			WriteTimeout:      v.GetDuration("ws.write_timeout"),
			ReadIdleTimeout:   v.GetDuration("ws.read_idle_timeout"),
			HeartbeatInterval: v.GetDuration("ws.heartbeat_interval"),
			HeartbeatTimeout:  v.GetDuration("ws.heartbeat_timeout"),
			RateEvents:        v.GetInt("ws.rate_events"),
			RateWindow:        v.GetDuration("ws.rate_window"),
		},

		MetricsEnabled: v.GetBool("metrics.enabled"),
		MetricsPath:    strings.TrimSpace(v.GetString("metrics.path")),

		NotifyLocale: strings.TrimSpace(v.GetString("notify.locale")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or text", c.LogFormat))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q: want memory, sqlite or postgres", c.Store.Driver))
	}
	if c.MetricsEnabled && !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("metrics.path %q must start with /", c.MetricsPath))
	}
	return errors.Join(errs...)
}

// stringList accepts either a list (config file) or a comma separated string (env, flags).
func stringList(v *viper.Viper, key string) []string {
	switch raw := v.Get(key).(type) {
	case string:
		return realtime.SplitCSV(raw)
	default:
		out := make([]string, 0)
		for _, s := range v.GetStringSlice(key) {
			out = append(out, realtime.SplitCSV(s)...)
		}
		return out
	}
}
