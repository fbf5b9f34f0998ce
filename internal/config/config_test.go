package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnvVars() {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "AUDITLENS_") {
			os.Unsetenv(strings.SplitN(kv, "=", 2)[0])
		}
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 8890 {
		t.Errorf("expected port 8890, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Engine != "memory" {
		t.Errorf("expected memory engine, got %q", cfg.Storage.Engine)
	}
	if cfg.Retention.RecordTTL != 90*24*time.Hour {
		t.Errorf("expected 90 day record TTL, got %v", cfg.Retention.RecordTTL)
	}
	assert.Equal(t, 90, cfg.ArchiveDays())
	assert.Equal(t, 180, cfg.PurgeDays())
	assert.Equal(t, 3.0, cfg.Anomaly.K)
	assert.Equal(t, 7, cfg.Anomaly.PatternDays)
	assert.Equal(t, []string{"admin", "auditor"}, cfg.Auth.ReviewerRole)
	assert.Equal(t, ":8890", cfg.Address())
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	clearEnvVars()
	defer clearEnvVars()

	t.Setenv("AUDITLENS_HOST", "localhost")
	t.Setenv("AUDITLENS_PORT", "9999")
	t.Setenv("AUDITLENS_STORAGE_ENGINE", "badger")
	t.Setenv("AUDITLENS_DATA_DIR", "/var/lib/auditlens")
	t.Setenv("AUDITLENS_ARCHIVE_AGE", "720h")
	t.Setenv("AUDITLENS_PURGE_AGE", "1440h")
	t.Setenv("AUDITLENS_ANOMALY_K", "2.5")
	t.Setenv("AUDITLENS_KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("AUDITLENS_KAFKA_TOPIC", "audit.critical")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:9999", cfg.Address())
	assert.Equal(t, "badger", cfg.Storage.Engine)
	assert.Equal(t, "/var/lib/auditlens", cfg.Storage.DataDir)
	assert.Equal(t, 30, cfg.ArchiveDays())
	assert.Equal(t, 60, cfg.PurgeDays())
	assert.Equal(t, 2.5, cfg.Anomaly.K)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Notify.KafkaBrokers)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	clearEnvVars()
	t.Setenv("AUDITLENS_PORT", "not-a-number")
	t.Setenv("AUDITLENS_SYNC_WRITES", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8890, cfg.Server.Port)
	assert.False(t, cfg.Storage.SyncWrites)
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: 8890},
		Log:       LogConfig{Level: "info", Format: "json"},
		Storage:   StorageConfig{Engine: "memory", QueryTimeout: time.Second},
		Retention: RetentionConfig{RecordTTL: time.Hour, ArchiveAge: time.Hour, PurgeAge: 2 * time.Hour},
		Anomaly:   AnomalyConfig{K: 3, PatternDays: 7, HighVolume: 100},
		Dispatch:  DispatchConfig{BufferSize: 16, Workers: 1, DropPolicy: "drop"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"bad engine", func(c *Config) { c.Storage.Engine = "sqlite" }, "invalid storage engine"},
		{"mongo without uri", func(c *Config) { c.Storage.Engine = "mongo" }, "mongo URI"},
		{"badger without dir", func(c *Config) { c.Storage.Engine = "badger" }, "data directory"},
		{"purge before archive", func(c *Config) { c.Retention.PurgeAge = time.Minute }, "purge age"},
		{"zero ttl", func(c *Config) { c.Retention.RecordTTL = 0 }, "record TTL"},
		{"zero k", func(c *Config) { c.Anomaly.K = 0 }, "threshold k"},
		{"short seal key", func(c *Config) { c.Seal = SealConfig{Enabled: true, Key: "short"} }, "seal key"},
		{"geo without endpoint", func(c *Config) { c.Geo = GeoConfig{Enabled: true, CacheSize: 1} }, "geo endpoint"},
		{"kafka without topic", func(c *Config) { c.Notify.KafkaBrokers = []string{"k:9092"} }, "kafka topic"},
		{"bad drop policy", func(c *Config) { c.Dispatch.DropPolicy = "spill" }, "drop policy"},
		{"zero workers", func(c *Config) { c.Dispatch.Workers = 0 }, "worker count"},
		{"auth without secret", func(c *Config) { c.Auth = AuthConfig{Enabled: true, Issuer: "x"} }, "JWT secret"},
		{"bad sampling", func(c *Config) {
			c.Tracing = TracingConfig{Enabled: true, Endpoint: "otel:4318", SamplingRatio: 2}
		}, "sampling ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
