package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Storage   StorageConfig
	Retention RetentionConfig
	Anomaly   AnomalyConfig
	Seal      SealConfig
	Geo       GeoConfig
	Notify    NotifyConfig
	Screening ScreeningConfig
	Dispatch  DispatchConfig
	Auth      AuthConfig
	Tracing   TracingConfig
	Metrics   MetricsConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BodyLimit    int
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects and tunes the event store engine.
type StorageConfig struct {
	Engine          string // "memory", "badger", "mongo"
	DataDir         string
	SyncWrites      bool
	GCInterval      time.Duration
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	QueryTimeout    time.Duration
	BackupDir       string
}

// RetentionConfig controls record expiry and the archive/purge sweeps.
type RetentionConfig struct {
	RecordTTL     time.Duration
	ArchiveAge    time.Duration
	PurgeAge      time.Duration
	SweepInterval time.Duration // zero disables the background sweeper
}

// AnomalyConfig holds the detector knobs.
type AnomalyConfig struct {
	K           float64
	PatternDays int
	HighVolume  float64
}

// SealConfig enables field-level sealing of sensitive request body fields.
type SealConfig struct {
	Enabled bool
	Key     string
}

// GeoConfig configures the optional network-origin geolocation lookup.
type GeoConfig struct {
	Enabled   bool
	Endpoint  string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// NotifyConfig configures critical-event notification channels.
type NotifyConfig struct {
	Hub           bool
	MaxClients    int
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaClientID string
	FilePath      string
	Timeout       time.Duration
}

// ScreeningConfig toggles the suspicious-input screening middleware.
type ScreeningConfig struct {
	Enabled bool
}

// DispatchConfig sizes the asynchronous audit write queue.
type DispatchConfig struct {
	BufferSize int
	Workers    int
	DropPolicy string // "drop" or "block"
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	Enabled      bool
	JWTSecret    string
	Issuer       string
	TokenExpiry  time.Duration
	ReviewerRole []string
	PublicPaths  []string
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("AUDITLENS_HOST", ""),
			Port:         getEnvInt("AUDITLENS_PORT", 8890),
			ReadTimeout:  getEnvDuration("AUDITLENS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("AUDITLENS_WRITE_TIMEOUT", 60*time.Second),
			BodyLimit:    getEnvInt("AUDITLENS_BODY_LIMIT", 4*1024*1024),
		},
		Log: LogConfig{
			Level:  getEnvString("AUDITLENS_LOG_LEVEL", "info"),
			Format: getEnvString("AUDITLENS_LOG_FORMAT", "text"),
		},
		Storage: StorageConfig{
			Engine:          getEnvString("AUDITLENS_STORAGE_ENGINE", "memory"),
			DataDir:         getEnvString("AUDITLENS_DATA_DIR", "./data"),
			SyncWrites:      getEnvBool("AUDITLENS_SYNC_WRITES", false),
			GCInterval:      getEnvDuration("AUDITLENS_GC_INTERVAL", 10*time.Minute),
			MongoURI:        getEnvString("AUDITLENS_MONGO_URI", ""),
			MongoDatabase:   getEnvString("AUDITLENS_MONGO_DATABASE", "auditlens"),
			MongoCollection: getEnvString("AUDITLENS_MONGO_COLLECTION", "audit_records"),
			QueryTimeout:    getEnvDuration("AUDITLENS_QUERY_TIMEOUT", 30*time.Second),
			BackupDir:       getEnvString("AUDITLENS_BACKUP_DIR", "./backups"),
		},
		Retention: RetentionConfig{
			RecordTTL:     getEnvDuration("AUDITLENS_RECORD_TTL", 90*24*time.Hour),
			ArchiveAge:    getEnvDuration("AUDITLENS_ARCHIVE_AGE", 90*24*time.Hour),
			PurgeAge:      getEnvDuration("AUDITLENS_PURGE_AGE", 180*24*time.Hour),
			SweepInterval: getEnvDuration("AUDITLENS_SWEEP_INTERVAL", 0),
		},
		Anomaly: AnomalyConfig{
			K:           getEnvFloat("AUDITLENS_ANOMALY_K", 3),
			PatternDays: getEnvInt("AUDITLENS_PATTERN_DAYS", 7),
			HighVolume:  getEnvFloat("AUDITLENS_HIGH_VOLUME", 100),
		},
		Seal: SealConfig{
			Enabled: getEnvBool("AUDITLENS_SEAL_ENABLED", false),
			Key:     getEnvString("AUDITLENS_SEAL_KEY", ""),
		},
		Geo: GeoConfig{
			Enabled:   getEnvBool("AUDITLENS_GEO_ENABLED", false),
			Endpoint:  getEnvString("AUDITLENS_GEO_ENDPOINT", ""),
			Timeout:   getEnvDuration("AUDITLENS_GEO_TIMEOUT", 2*time.Second),
			CacheSize: getEnvInt("AUDITLENS_GEO_CACHE_SIZE", 4096),
			CacheTTL:  getEnvDuration("AUDITLENS_GEO_CACHE_TTL", time.Hour),
		},
		Notify: NotifyConfig{
			Hub:           getEnvBool("AUDITLENS_NOTIFY_HUB", true),
			MaxClients:    getEnvInt("AUDITLENS_NOTIFY_MAX_CLIENTS", 100),
			KafkaBrokers:  getEnvStringSlice("AUDITLENS_KAFKA_BROKERS", nil),
			KafkaTopic:    getEnvString("AUDITLENS_KAFKA_TOPIC", ""),
			KafkaClientID: getEnvString("AUDITLENS_KAFKA_CLIENT_ID", "auditlens"),
			FilePath:      getEnvString("AUDITLENS_NOTIFY_FILE", ""),
			Timeout:       getEnvDuration("AUDITLENS_NOTIFY_TIMEOUT", 5*time.Second),
		},
		Screening: ScreeningConfig{
			Enabled: getEnvBool("AUDITLENS_SCREENING_ENABLED", true),
		},
		Dispatch: DispatchConfig{
			BufferSize: getEnvInt("AUDITLENS_DISPATCH_BUFFER", 1024),
			Workers:    getEnvInt("AUDITLENS_DISPATCH_WORKERS", 2),
			DropPolicy: getEnvString("AUDITLENS_DISPATCH_DROP_POLICY", "drop"),
		},
		Auth: AuthConfig{
			Enabled:      getEnvBool("AUDITLENS_AUTH_ENABLED", false),
			JWTSecret:    getEnvString("AUDITLENS_JWT_SECRET", ""),
			Issuer:       getEnvString("AUDITLENS_JWT_ISSUER", "auditlens"),
			TokenExpiry:  getEnvDuration("AUDITLENS_JWT_EXPIRY", time.Hour),
			ReviewerRole: getEnvStringSlice("AUDITLENS_REVIEWER_ROLES", []string{"admin", "auditor"}),
			PublicPaths:  getEnvStringSlice("AUDITLENS_PUBLIC_PATHS", []string{"/health", "/health/live", "/health/ready", "/metrics"}),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("AUDITLENS_TRACING_ENABLED", false),
			Endpoint:       getEnvString("AUDITLENS_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:    getEnvString("AUDITLENS_TRACING_SERVICE_NAME", "auditlens"),
			ServiceVersion: getEnvString("AUDITLENS_TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("AUDITLENS_TRACING_ENVIRONMENT", "development"),
			SamplingRatio:  getEnvFloat("AUDITLENS_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:   getEnvBool("AUDITLENS_TRACING_INSECURE", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("AUDITLENS_METRICS_ENABLED", true),
			Path:    getEnvString("AUDITLENS_METRICS_PATH", "/metrics"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	switch c.Storage.Engine {
	case "memory":
	case "badger":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("data directory must be specified for the badger engine")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("mongo URI must be specified for the mongo engine")
		}
		if c.Storage.MongoDatabase == "" || c.Storage.MongoCollection == "" {
			return fmt.Errorf("mongo database and collection must be specified")
		}
	default:
		return fmt.Errorf("invalid storage engine: %s (must be memory, badger, or mongo)", c.Storage.Engine)
	}

	if c.Storage.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}

	if c.Retention.RecordTTL <= 0 {
		return fmt.Errorf("invalid record TTL: %v (must be positive)", c.Retention.RecordTTL)
	}
	if c.Retention.ArchiveAge <= 0 {
		return fmt.Errorf("invalid archive age: %v (must be positive)", c.Retention.ArchiveAge)
	}
	if c.Retention.PurgeAge < c.Retention.ArchiveAge {
		return fmt.Errorf("purge age %v must not be shorter than archive age %v", c.Retention.PurgeAge, c.Retention.ArchiveAge)
	}
	if c.Retention.SweepInterval < 0 {
		return fmt.Errorf("sweep interval must not be negative")
	}

	if c.Anomaly.K <= 0 {
		return fmt.Errorf("anomaly threshold k must be positive, got %v", c.Anomaly.K)
	}
	if c.Anomaly.PatternDays <= 0 {
		return fmt.Errorf("pattern window must be at least one day")
	}

	if c.Seal.Enabled && len(c.Seal.Key) < 16 {
		return fmt.Errorf("seal key must be at least 16 characters when sealing is enabled")
	}

	if c.Geo.Enabled {
		if c.Geo.Endpoint == "" {
			return fmt.Errorf("geo endpoint must be specified when geolocation is enabled")
		}
		if c.Geo.CacheSize <= 0 {
			return fmt.Errorf("geo cache size must be positive")
		}
	}

	if len(c.Notify.KafkaBrokers) > 0 && c.Notify.KafkaTopic == "" {
		return fmt.Errorf("kafka topic must be specified when kafka brokers are configured")
	}

	if c.Dispatch.BufferSize <= 0 || c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch buffer size and worker count must be positive")
	}
	if c.Dispatch.DropPolicy != "drop" && c.Dispatch.DropPolicy != "block" {
		return fmt.Errorf("invalid dispatch drop policy: %s (must be drop or block)", c.Dispatch.DropPolicy)
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret must be specified when auth is enabled")
		}
		if c.Auth.Issuer == "" {
			return fmt.Errorf("JWT issuer must be specified when auth is enabled")
		}
	}

	if c.Tracing.Enabled {
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing endpoint must be specified when tracing is enabled")
		}
		if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
			return fmt.Errorf("tracing sampling ratio must be between 0 and 1")
		}
	}

	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	if c.Server.Host == "" {
		return fmt.Sprintf(":%d", c.Server.Port)
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ArchiveDays and PurgeDays express the sweep thresholds in whole days.
func (c *Config) ArchiveDays() int {
	return int(c.Retention.ArchiveAge / (24 * time.Hour))
}

func (c *Config) PurgeDays() int {
	return int(c.Retention.PurgeAge / (24 * time.Hour))
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvStringSlice reads a comma-separated list, dropping empty entries.
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
