package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the hybrid storage backend (SQLite + in-memory mirror).
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
	SnapshotDir     string `json:"snapshot_dir" env:"DATABASE_SNAPSHOT_DIR"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SecurityConfig controls the crypto layer's key ring.
type SecurityConfig struct {
	KeyDir         string `json:"key_dir" env:"REGISTRY_KEY_DIR"`
	MasterKey      string `json:"master_key" env:"REGISTRY_MASTER_KEY"`
	KeyRotateEvery string `json:"key_rotate_every" env:"REGISTRY_KEY_ROTATE_EVERY"` // duration string, empty disables auto-rotation
}

// AuthConfig controls HTTP API authentication.
type AuthConfig struct {
	Tokens    []string   `json:"tokens"`
	JWTSecret string     `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Users     []UserSpec `json:"users"`
}

// TracingConfig configures OTLP/Tracing exporters.
type TracingConfig struct {
	Endpoint           string            `json:"endpoint" env:"TRACING_OTLP_ENDPOINT"`
	Insecure           bool              `json:"insecure" env:"TRACING_OTLP_INSECURE"`
	ServiceName        string            `json:"service_name" env:"TRACING_SERVICE_NAME"`
	ResourceAttributes map[string]string `json:"resource_attributes" mapstructure:"resource_attributes"`
	AttributesEnv      string            `json:"-" yaml:"-" env:"TRACING_OTLP_ATTRIBUTES"`
}

type UserSpec struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Security SecurityConfig `json:"security"`
	Auth     AuthConfig     `json:"auth"`
	Tracing  TracingConfig  `json:"tracing"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "registry.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
			SnapshotDir:     "snapshots",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "registry",
		},
		Runtime: RuntimeConfig{
			Subscription: SubscriptionConfig{
				InboxSize:  256,
				AtLeastOne: true,
			},
			Streaming: StreamingConfig{
				HeartbeatInterval: "15s",
				ReconnectBackoff:  "2s",
			},
			Propagation: PropagationConfig{
				RuleTimeout:      "5s",
				DefaultMode:      "eventual",
				ConflictStrategy: "manual",
			},
			HotSwap: HotSwapConfig{
				DrainTimeout:  "30s",
				VerifyTimeout: "10s",
			},
			Bridge: BridgeConfig{
				Enabled:      false,
				PollInterval: "60s",
			},
		},
		Security: SecurityConfig{KeyDir: "keys"},
		Auth:     AuthConfig{},
		Tracing:  TracingConfig{},
	}
}

// RuntimeConfig tunes the behavior of the registry's runtime subsystems:
// the subscription bus, streaming engine, propagation engine, hot-swap
// manager, and integration bridge.
type RuntimeConfig struct {
	Subscription SubscriptionConfig `json:"subscription"`
	Streaming    StreamingConfig    `json:"streaming"`
	Propagation  PropagationConfig  `json:"propagation"`
	HotSwap      HotSwapConfig      `json:"hotswap"`
	Bridge       BridgeConfig       `json:"bridge"`
}

// SubscriptionConfig controls the per-entry subscription bus.
type SubscriptionConfig struct {
	InboxSize  int  `json:"inbox_size" env:"SUBSCRIPTION_INBOX_SIZE"`
	AtLeastOne bool `json:"at_least_once" mapstructure:"at_least_once" env:"SUBSCRIPTION_AT_LEAST_ONCE"`
}

// StreamingConfig controls the bidirectional streaming engine.
type StreamingConfig struct {
	HeartbeatInterval string `json:"heartbeat_interval" env:"STREAMING_HEARTBEAT_INTERVAL"`
	ReconnectBackoff  string `json:"reconnect_backoff" env:"STREAMING_RECONNECT_BACKOFF"`
}

// PropagationConfig controls the propagation engine's defaults.
type PropagationConfig struct {
	RuleTimeout      string `json:"rule_timeout" env:"PROPAGATION_RULE_TIMEOUT"`
	DefaultMode      string `json:"default_mode" env:"PROPAGATION_DEFAULT_MODE"`
	ConflictStrategy string `json:"conflict_strategy" env:"PROPAGATION_CONFLICT_STRATEGY"`
}

// HotSwapConfig controls the hot-swap manager's phase timeouts.
type HotSwapConfig struct {
	DrainTimeout  string `json:"drain_timeout" env:"HOTSWAP_DRAIN_TIMEOUT"`
	VerifyTimeout string `json:"verify_timeout" env:"HOTSWAP_VERIFY_TIMEOUT"`
}

// BridgeConfig controls the integration bridge's reconciliation loop.
type BridgeConfig struct {
	Enabled      bool   `json:"enabled" env:"BRIDGE_ENABLED"`
	PollInterval string `json:"poll_interval" env:"BRIDGE_POLL_INTERVAL"`
}

// ConnectionString returns the DSN used to open the storage backend. For the
// sqlite driver this is a filesystem path (optionally carrying query-string
// pragmas, e.g. "registry.db?_journal=WAL").
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "registry.db"
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	cfg.normalize()

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyDatabaseURLOverride lets DATABASE_URL override any file-based DSN,
// matching the precedence every cmd/ entrypoint in this tree expects.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

func (t *TracingConfig) normalize() {
	if t == nil {
		return
	}
	t.MergeAttributes(t.AttributesEnv)
}

// MergeAttributes merges comma-separated key=value pairs into ResourceAttributes.
func (t *TracingConfig) MergeAttributes(raw string) {
	if t == nil {
		return
	}
	pairs := parseAttributePairs(raw)
	if len(pairs) == 0 {
		return
	}
	if t.ResourceAttributes == nil {
		t.ResourceAttributes = make(map[string]string, len(pairs))
	}
	for k, v := range pairs {
		if k == "" {
			continue
		}
		t.ResourceAttributes[k] = v
	}
}

func parseAttributePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		val := ""
		if len(kv) > 1 {
			val = strings.TrimSpace(kv[1])
		}
		result[key] = val
	}
	return result
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	c.Tracing.normalize()
}
