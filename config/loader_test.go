package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.Registry.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.Coordination.SweepInterval)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  rate_limit_rps: 50

registry:
  heartbeat_interval: 5s
  missed_beats_threshold: 4
  offline_timeout: 90s

coordination:
  sweep_interval: 250ms
  max_retries: 2
  quorum_fraction: 0.66

redis:
  enabled: true
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 50, cfg.Server.RateLimitRPS)

	assert.Equal(t, 5*time.Second, cfg.Registry.HeartbeatInterval)
	assert.Equal(t, 4, cfg.Registry.MissedBeatsThreshold)
	assert.Equal(t, 90*time.Second, cfg.Registry.OfflineTimeout)

	assert.Equal(t, 250*time.Millisecond, cfg.Coordination.SweepInterval)
	assert.Equal(t, 2, cfg.Coordination.MaxRetries)
	assert.InDelta(t, 0.66, cfg.Coordination.QuorumFraction, 1e-9)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTNET_SERVER_HTTP_PORT", "9999")
	t.Setenv("AGENTNET_REGISTRY_HEARTBEAT_INTERVAL", "3s")
	t.Setenv("AGENTNET_COORDINATION_QUORUM_FRACTION", "0.75")
	t.Setenv("AGENTNET_REDIS_ENABLED", "true")
	t.Setenv("AGENTNET_LOG_LEVEL", "warn")
	t.Setenv("AGENTNET_LOG_OUTPUT_PATHS", "stdout, /var/log/agentnet.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.Registry.HeartbeatInterval)
	assert.InDelta(t, 0.75, cfg.Coordination.QuorumFraction, 1e-9)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/var/log/agentnet.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
log:
  level: "debug"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("AGENTNET_SERVER_HTTP_PORT", "7777")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// env wins over file
	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	// file wins over defaults
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6060")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6060, cfg.Server.HTTPPort)
}

func TestLoader_WithValidator(t *testing.T) {
	failing := func(cfg *Config) error {
		return errors.New("nope")
	}

	_, err := NewLoader().WithValidator(failing).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoader_NonExistentFile(t *testing.T) {
	// a missing file falls back to defaults
	cfg, err := NewLoader().
		WithConfigPath("/nonexistent/config.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("server: [not: valid"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid http port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Server.RateLimitRPS = -1 },
			wantErr: "rate limit",
		},
		{
			name:    "zero heartbeat interval",
			mutate:  func(c *Config) { c.Registry.HeartbeatInterval = 0 },
			wantErr: "heartbeat_interval",
		},
		{
			name:    "quorum fraction above one",
			mutate:  func(c *Config) { c.Coordination.QuorumFraction = 1.5 },
			wantErr: "quorum_fraction",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Coordination.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "sample rate out of range",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 2 },
			wantErr: "sample_rate",
		},
		{
			name: "auth enabled without credentials",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
			},
			wantErr: "auth enabled",
		},
		{
			name: "auth enabled with api key is fine",
			mutate: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.APIKey = "k"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				User: "u", Password: "p", Name: "agents", SSLMode: "disable",
			},
			want: "host=db port=5432 user=u password=p dbname=agents sslmode=disable",
		},
		{
			name:   "sqlite",
			config: DatabaseConfig{Driver: "sqlite", Name: "/tmp/agents.db"},
			want:   "/tmp/agents.db",
		},
		{
			name:   "unknown driver",
			config: DatabaseConfig{Driver: "oracle"},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8181\n"), 0644))

	cfg := MustLoad(configPath)
	assert.Equal(t, 8181, cfg.Server.HTTPPort)
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(":::"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("AGENTNET_LOG_LEVEL", "error")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}
