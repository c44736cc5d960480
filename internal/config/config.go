// Package config loads the taskgate TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/taskgate/internal/adapters/notify"
)

// Driver names a storage backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

// minSecretLength mirrors the token signer's minimum.
const minSecretLength = 16

type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Locking   LockingConfig   `toml:"locking"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Notify    NotifyConfig    `toml:"notify"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type DatabaseConfig struct {
	Driver Driver `toml:"driver"`
	// Path is the sqlite file. Ignored by server drivers.
	Path string `toml:"path"`
	// DSN is the mysql or postgres connection string.
	DSN string `toml:"dsn"`
}

type LockingConfig struct {
	MaxAttempts   int `toml:"max_attempts"`
	BaseDelayMS   int `toml:"base_delay_ms"`
	LockTimeoutMS int `toml:"lock_timeout_ms"`
}

type ServerConfig struct {
	HTTPBind        string `toml:"http_bind"`
	APIEndpoint     string `toml:"api_endpoint"`
	MCPEndpoint     string `toml:"mcp_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
}

type AuthConfig struct {
	TokenSecret     string `toml:"token_secret"`
	TokenTTLMinutes int    `toml:"token_ttl_minutes"`
	Issuer          string `toml:"issuer"`
}

type NotifyConfig struct {
	Kind         notify.Kind `toml:"kind"`
	KafkaBrokers []string    `toml:"kafka_brokers"`
	KafkaTopic   string      `toml:"kafka_topic"`
	RedisAddr    string      `toml:"redis_addr"`
	RedisChannel string      `toml:"redis_channel"`
	TimeoutMS    int         `toml:"timeout_ms"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type TelemetryConfig struct {
	// OTELEndpoint enables OTLP/HTTP trace export when set (host:port).
	OTELEndpoint string `toml:"otel_endpoint"`
	ServiceName  string `toml:"service_name"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		Locking: LockingConfig{
			MaxAttempts:   3,
			BaseDelayMS:   50,
			LockTimeoutMS: 5000,
		},
		Server: ServerConfig{
			HTTPBind:        "127.0.0.1:8080",
			APIEndpoint:     "/api/v1",
			MCPEndpoint:     "/mcp",
			MetricsEndpoint: "/metrics",
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 720,
			Issuer:          "taskgate",
		},
		Notify: NotifyConfig{
			Kind:         notify.KindLog,
			KafkaTopic:   "taskgate.review",
			RedisChannel: "taskgate:review",
			TimeoutMS:    5000,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".taskgate/log",
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "taskgate",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if kind, err := notify.ParseKind(string(cfg.Notify.Kind)); err == nil {
		cfg.Notify.Kind = kind
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverMySQL, DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	if c.Locking.MaxAttempts < 1 {
		return errors.New("locking.max_attempts must be >= 1")
	}
	if c.Locking.BaseDelayMS < 0 {
		return errors.New("locking.base_delay_ms must be >= 0")
	}
	if c.Locking.LockTimeoutMS < 0 {
		return errors.New("locking.lock_timeout_ms must be >= 0")
	}

	if c.Auth.TokenTTLMinutes < 0 {
		return errors.New("auth.token_ttl_minutes must be >= 0")
	}
	if secret := c.Auth.TokenSecret; secret != "" && len(secret) < minSecretLength {
		return fmt.Errorf("auth.token_secret must be at least %d bytes", minSecretLength)
	}

	kind, err := notify.ParseKind(string(c.Notify.Kind))
	if err != nil {
		return fmt.Errorf("invalid notify.kind: %q", c.Notify.Kind)
	}
	switch kind {
	case notify.KindKafka:
		if !slices.ContainsFunc(c.Notify.KafkaBrokers, func(b string) bool { return strings.TrimSpace(b) != "" }) {
			return errors.New("notify.kafka_brokers is required for kafka notifications")
		}
	case notify.KindRedis:
		if strings.TrimSpace(c.Notify.RedisAddr) == "" {
			return errors.New("notify.redis_addr is required for redis notifications")
		}
	}
	if c.Notify.TimeoutMS < 0 {
		return errors.New("notify.timeout_ms must be >= 0")
	}

	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// BaseDelay returns the first lock-retry delay.
func (c LockingConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// LockTimeout returns how long one statement may wait on a row lock.
func (c LockingConfig) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// TokenTTL returns the bearer token lifetime.
func (c AuthConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// Timeout returns the per-notification delivery budget.
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	content, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return content, nil
}

// WriteFile writes cfg to path unless a file already exists there.
func WriteFile(path string, cfg Config) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	content, err := Encode(cfg)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
