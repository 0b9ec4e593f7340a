package config

import (
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/AdityaBheke/BusyBuy/pkg/config"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Authentication providers.
const (
	AuthLocal    = "local"
	AuthFirebase = "firebase"
)

// Identity persistence.
const (
	IdentityFile  = "file"
	IdentityRedis = "redis"
)

// Config holds all configuration for the BusyBuy core.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"BUSYBUY_HTTP_PORT" envDefault:"8080"`

	StoreBackend  string `env:"STORE_BACKEND" envDefault:"memory"`
	AuthProvider  string `env:"AUTH_PROVIDER" envDefault:"local"`
	IdentityStore string `env:"IDENTITY_STORE" envDefault:"file"`

	// Identity persistence
	IdentityFile string        `env:"IDENTITY_FILE" envDefault:".busybuy/identity.json"`
	DeviceID     string        `env:"DEVICE_ID" envDefault:"default"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	// Local accounts
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`

	// Per-client allowance on signup/signin
	AuthAttemptsPerSec float64 `env:"AUTH_ATTEMPTS_PER_SEC" envDefault:"1"`
	AuthAttemptBurst   int     `env:"AUTH_ATTEMPT_BURST" envDefault:"5"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// PostgreSQL
	DatabaseURL        string        `env:"DATABASE_URL" envDefault:""`
	DBHost             string        `env:"DB_HOST" envDefault:"localhost"`
	DBPort             int           `env:"DB_PORT" envDefault:"5432"`
	DBUser             string        `env:"DB_USER" envDefault:"busybuy"`
	DBPassword         string        `env:"DB_PASSWORD" envDefault:"busybuy"`
	DBName             string        `env:"DB_NAME" envDefault:"busybuy"`
	DBSSLMode          string        `env:"DB_SSL_MODE" envDefault:"disable"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"8"`
	SlowQueryThreshold time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Google Cloud: Firestore and Firebase Auth
	GCPProject      string `env:"GCP_PROJECT_ID" envDefault:""`
	GCPCredentials  string `env:"GOOGLE_APPLICATION_CREDENTIALS" envDefault:""`
	FirebaseAPIKey  string `env:"FIREBASE_API_KEY" envDefault:""`
	FirebaseAuthURL string `env:"FIREBASE_AUTH_ENDPOINT" envDefault:"https://identitytoolkit.googleapis.com"`

	// Kafka, optional. No brokers means events are not published.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Notifications kept for GET /api/v1/notifications
	NotificationBuffer int `env:"NOTIFICATION_BUFFER" envDefault:"64"`

	// How often a degraded cart engine retries its live queries
	ResyncInterval time.Duration `env:"RESYNC_INTERVAL" envDefault:"15s"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load busybuy config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains([]string{BackendMemory, BackendRedis, BackendPostgres, BackendFirestore}, c.StoreBackend) {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if !slices.Contains([]string{AuthLocal, AuthFirebase}, c.AuthProvider) {
		return fmt.Errorf("unknown AUTH_PROVIDER %q", c.AuthProvider)
	}
	if !slices.Contains([]string{IdentityFile, IdentityRedis}, c.IdentityStore) {
		return fmt.Errorf("unknown IDENTITY_STORE %q", c.IdentityStore)
	}
	if c.IdentityStore == IdentityFile && c.IdentityFile == "" {
		return fmt.Errorf("IDENTITY_FILE is required for the file identity store")
	}
	if c.StoreBackend == BackendFirestore && c.GCPProject == "" {
		return fmt.Errorf("GCP_PROJECT_ID is required for the firestore backend")
	}
	if c.AuthProvider == AuthFirebase {
		if c.GCPProject == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required for firebase auth")
		}
		if c.FirebaseAPIKey == "" {
			return fmt.Errorf("FIREBASE_API_KEY is required for firebase auth")
		}
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.AuthAttemptsPerSec <= 0 || c.AuthAttemptBurst < 1 {
		return fmt.Errorf("AUTH_ATTEMPTS_PER_SEC and AUTH_ATTEMPT_BURST must be positive")
	}
	if c.NotificationBuffer < 1 {
		return fmt.Errorf("NOTIFICATION_BUFFER must be positive, got %d", c.NotificationBuffer)
	}
	if c.ResyncInterval <= 0 {
		return fmt.Errorf("RESYNC_INTERVAL must be positive, got %s", c.ResyncInterval)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.StoreBackend == BackendRedis || c.IdentityStore == IdentityRedis
}

// UsesGCP reports whether any component needs Google Cloud credentials.
func (c *Config) UsesGCP() bool {
	return c.StoreBackend == BackendFirestore || c.AuthProvider == AuthFirebase
}
