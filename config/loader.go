// Unified configuration loading: YAML file plus environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTNET").
//	    Load()
//
// Precedence: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	// Server holds the HTTP server settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Registry holds agent registry and health monitor settings.
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Coordination holds session management settings.
	Coordination CoordinationConfig `yaml:"coordination" env:"COORDINATION"`

	// Redis holds cache settings.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database holds the audit store settings.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Auth holds API authentication settings.
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log holds logging settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds OpenTelemetry settings.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// HTTP listen port.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT" json:"http_port"`
	// Prometheus metrics listen port.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT" json:"metrics_port"`
	// Read timeout.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" json:"read_timeout"`
	// Write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" json:"write_timeout"`
	// Idle timeout.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" json:"idle_timeout"`
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" json:"shutdown_timeout"`
	// Rate limit: requests per second.
	RateLimitRPS int `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS" json:"rate_limit_rps"`
	// Rate limit: burst capacity.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" json:"rate_limit_burst"`
	// CORS allowed origin. Empty disables the header.
	AllowedOrigin string `yaml:"allowed_origin" env:"ALLOWED_ORIGIN" json:"allowed_origin"`
	// TLS certificate file (optional).
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE" json:"tls_cert_file"`
	// TLS private key file (optional).
	TLSKeyFile string `yaml:"tls_key_file" env:"TLS_KEY_FILE" json:"tls_key_file"`
}

// RegistryConfig holds agent registry and health monitor settings.
type RegistryConfig struct {
	// Expected heartbeat interval.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL" json:"heartbeat_interval"`
	// Intervals of silence before an agent is degraded. Twice marks it unhealthy.
	MissedBeatsThreshold int `yaml:"missed_beats_threshold" env:"MISSED_BEATS_THRESHOLD" json:"missed_beats_threshold"`
	// Silence duration before an agent is offline.
	OfflineTimeout time.Duration `yaml:"offline_timeout" env:"OFFLINE_TIMEOUT" json:"offline_timeout"`
	// Monitor scan interval. Falls back to the heartbeat interval when zero.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" json:"sweep_interval"`
	// Interval between registry snapshots written to Redis. Zero disables.
	SnapshotInterval time.Duration `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL" json:"snapshot_interval"`
}

// CoordinationConfig holds coordination session settings.
type CoordinationConfig struct {
	// Background sweep interval for session TTLs and auction/voting windows.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" json:"sweep_interval"`
	// Default retry budget for failed tasks.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES" json:"max_retries"`
	// Consensus quorum fraction. Zero means simple majority.
	QuorumFraction float64 `yaml:"quorum_fraction" env:"QUORUM_FRACTION" json:"quorum_fraction"`
	// Voting deadline. Zero means no deadline.
	VotingDeadline time.Duration `yaml:"voting_deadline" env:"VOTING_DEADLINE" json:"voting_deadline"`
	// Auction bid collection window.
	BidWindow time.Duration `yaml:"bid_window" env:"BID_WINDOW" json:"bid_window"`
	// Default session TTL. Zero disables auto-cancellation.
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL" json:"session_ttl"`
	// Escalate permanent task failure to session failure.
	FailSessionOnTaskFailure bool `yaml:"fail_session_on_task_failure" env:"FAIL_SESSION_ON_TASK_FAILURE" json:"fail_session_on_task_failure"`
}

// RedisConfig holds cache settings.
type RedisConfig struct {
	// Enabled turns the Redis cache and registry snapshots on.
	Enabled bool `yaml:"enabled" env:"ENABLED" json:"enabled"`
	// Server address.
	Addr     string `yaml:"addr" env:"ADDR" json:"addr"`
	Password string `yaml:"password" env:"PASSWORD" json:"password"`
	// Database number.
	DB int `yaml:"db" env:"DB" json:"db"`
	// Connection pool size.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE" json:"pool_size"`
	// Minimum idle connections.
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" json:"min_idle_conns"`
	// Default TTL for cached entries.
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL" json:"default_ttl"`
	// Snapshot key. Empty uses the built-in default.
	SnapshotKey string `yaml:"snapshot_key" env:"SNAPSHOT_KEY" json:"snapshot_key"`
}

// DatabaseConfig holds the audit store settings.
type DatabaseConfig struct {
	// Enabled turns the audit store on.
	Enabled bool `yaml:"enabled" env:"ENABLED" json:"enabled"`
	// Driver: postgres or sqlite.
	Driver string `yaml:"driver" env:"DRIVER" json:"driver"`
	// Host.
	Host string `yaml:"host" env:"HOST" json:"host"`
	// Port.
	Port int `yaml:"port" env:"PORT" json:"port"`
	// User.
	User string `yaml:"user" env:"USER" json:"user"`
	// Password.
	Password string `yaml:"password" env:"PASSWORD" json:"password"`
	// Database name.
	Name string `yaml:"name" env:"NAME" json:"name"`
	// SSL mode.
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE" json:"ssl_mode"`
	// Maximum open connections.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" json:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" json:"max_idle_conns"`
	// Connection max lifetime.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" json:"conn_max_lifetime"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// Enabled turns request authentication on.
	Enabled bool `yaml:"enabled" env:"ENABLED" json:"enabled"`
	// JWT signing secret.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" json:"jwt_secret"`
	// Management API key.
	APIKey string `yaml:"api_key" env:"API_KEY" json:"api_key"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL" json:"level"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT" json:"format"`
	// Output paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS" json:"output_paths"`
	// Annotate entries with the caller.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER" json:"enable_caller"`
	// Attach stack traces to error entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE" json:"enable_stacktrace"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	// Enabled turns the OTel SDK on.
	Enabled bool `yaml:"enabled" env:"ENABLED" json:"enabled"`
	// OTLP gRPC endpoint.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" json:"otlp_endpoint"`
	// Reported service name.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME" json:"service_name"`
	// Trace sampling rate.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE" json:"sample_rate"`
}

// Loader loads configuration with a builder-style API.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTNET",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
// Precedence: defaults, then YAML file, then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile merges YAML file contents into cfg. A missing file is not
// an error; the defaults stand.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct and applies env overrides by tag.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration parses as a duration string
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// comma-separated string slices
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit values must be non-negative")
	}

	if c.Registry.HeartbeatInterval <= 0 {
		errs = append(errs, "heartbeat_interval must be positive")
	}
	if c.Registry.MissedBeatsThreshold <= 0 {
		errs = append(errs, "missed_beats_threshold must be positive")
	}

	if c.Coordination.QuorumFraction < 0 || c.Coordination.QuorumFraction > 1 {
		errs = append(errs, "quorum_fraction must be between 0 and 1")
	}
	if c.Coordination.MaxRetries < 0 {
		errs = append(errs, "max_retries must be non-negative")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "sample_rate must be between 0 and 1")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" && c.Auth.APIKey == "" {
		errs = append(errs, "auth enabled but neither jwt_secret nor api_key is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
