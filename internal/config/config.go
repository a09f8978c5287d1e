package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Config holds all configuration for the catalog sync service
type Config struct {
	// Server
	Port        string
	Environment string
	LogLevel    string
	OpsAPIToken string

	// Source catalog database
	SourceDatabaseURL string
	SourceTable       string
	SourceImageTable  string

	// Cycle journal database; empty means the source database
	JournalDatabaseURL string

	// Remote store (WooCommerce)
	StoreURL       string
	ConsumerKey    string
	ConsumerSecret string

	// Media host (WordPress)
	MediaURL       string
	MediaAuthToken string
	MediaCookie    string

	// GCP
	GCPProjectID    string
	StoreSecretName string

	// Sync Settings
	SyncInterval           time.Duration
	SyncBatchSize          int
	CacheLifespanCycles    int
	RemotePageSize         int
	HTTPTimeout            time.Duration
	MediaTimeout           time.Duration
	FetchTimeout           time.Duration
	ImageUploadConcurrency int
	AbortOnEmptyRemote     bool
	RunOnStart             bool

	// Rate Limiting
	RemoteRateLimit float64 // requests per second, 0 = unlimited

	// Infrastructure
	NATSURL  string
	RedisURL string
	LeaseTTL time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	// Build SOURCE_DATABASE_URL from components using GCP Secret Manager for password
	databaseURL := getEnv("SOURCE_DATABASE_URL", "")
	if databaseURL == "" {
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "postgres")
		dbPassword := secrets.GetDBPassword()
		dbName := getEnv("DB_NAME", "catalog")
		dbSSLMode := getEnv("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode)
	}

	storeURL := strings.TrimRight(getEnv("WOO_URL", ""), "/")

	return &Config{
		Port:        getEnv("PORT", "8099"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		OpsAPIToken: getEnv("OPS_API_TOKEN", ""),

		SourceDatabaseURL:  databaseURL,
		SourceTable:        getEnv("SOURCE_TABLE", "catalog_products"),
		SourceImageTable:   getEnv("SOURCE_IMAGE_TABLE", "catalog_product_images"),
		JournalDatabaseURL: getEnv("JOURNAL_DATABASE_URL", ""),

		StoreURL:       storeURL,
		ConsumerKey:    getEnv("WOO_CONSUMER_KEY", ""),
		ConsumerSecret: getEnv("WOO_CONSUMER_SECRET", ""),

		MediaURL:       strings.TrimRight(getEnv("WP_URL", storeURL), "/"),
		MediaAuthToken: getEnv("WP_AUTH_TOKEN", ""),
		MediaCookie:    getEnv("WP_COOKIE", ""),

		GCPProjectID:    getEnv("GCP_PROJECT_ID", ""),
		StoreSecretName: getEnv("STORE_SECRET_NAME", ""),

		SyncInterval:           getEnvAsDuration("SYNC_INTERVAL", 10*time.Minute),
		SyncBatchSize:          getEnvAsInt("SYNC_BATCH_SIZE", 100),
		CacheLifespanCycles:    getEnvAsInt("CACHE_LIFESPAN_CYCLES", 20),
		RemotePageSize:         getEnvAsInt("REMOTE_PAGE_SIZE", 100),
		HTTPTimeout:            getEnvAsDuration("HTTP_TIMEOUT", 60*time.Second),
		MediaTimeout:           getEnvAsDuration("MEDIA_TIMEOUT", 6*time.Second),
		FetchTimeout:           getEnvAsDuration("FETCH_TIMEOUT", 5*time.Minute),
		ImageUploadConcurrency: getEnvAsInt("IMAGE_UPLOAD_CONCURRENCY", 1),
		AbortOnEmptyRemote:     getEnvAsBool("ABORT_ON_EMPTY_REMOTE_CATALOG", false),
		RunOnStart:             getEnvAsBool("RUN_ON_START", true),

		RemoteRateLimit: getEnvAsFloat("REMOTE_RATE_LIMIT", 0),

		NATSURL:  getEnv("NATS_URL", ""),
		RedisURL: getEnv("REDIS_URL", ""),
		LeaseTTL: getEnvAsDuration("LEASE_TTL", 30*time.Minute),
	}
}

// UsesSecretManager reports whether store credentials come from GCP Secret Manager
func (c *Config) UsesSecretManager() bool {
	return c.GCPProjectID != "" && c.StoreSecretName != ""
}

// JournalDSN returns the journal database, defaulting to the source database
func (c *Config) JournalDSN() string {
	if c.JournalDatabaseURL != "" {
		return c.JournalDatabaseURL
	}
	return c.SourceDatabaseURL
}

// Validate checks the settings the service cannot start without.
// Credentials are only required here when no secret manager supplies them.
func (c *Config) Validate() error {
	var missing []string
	if c.SourceDatabaseURL == "" {
		missing = append(missing, "SOURCE_DATABASE_URL")
	}
	if c.StoreURL == "" {
		missing = append(missing, "WOO_URL")
	}
	if !c.UsesSecretManager() {
		if c.ConsumerKey == "" {
			missing = append(missing, "WOO_CONSUMER_KEY")
		}
		if c.ConsumerSecret == "" {
			missing = append(missing, "WOO_CONSUMER_SECRET")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.SyncBatchSize <= 0 || c.SyncBatchSize > 100 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and 100, got %d", c.SyncBatchSize)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
