package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Provider  ProviderConfig
	Agent     AgentConfig
	Storage   StorageConfig
	Summary   SummaryConfig
	JWT       JWTConfig
	Migration MigrationConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string   `envconfig:"PORT" default:"8080"`
	Host            string   `envconfig:"HOST" default:"127.0.0.1"`
	Environment     string   `envconfig:"ENVIRONMENT" default:"development"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout int      `envconfig:"SHUTDOWN_TIMEOUT" default:"10"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host        string `envconfig:"DB_HOST" default:"localhost"`
	Port        string `envconfig:"DB_PORT" default:"5432"`
	User        string `envconfig:"DB_USER" default:"postgres"`
	Password    string `envconfig:"DB_PASSWORD" default:"postgres"`
	Name        string `envconfig:"DB_NAME" default:"recap"`
	SSLMode     string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns    int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns    int    `envconfig:"DB_MIN_CONNS" default:"5"`
	AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// RedisConfig holds Redis configuration. Redis is optional: it only carries
// the state-change broadcast consumed by UI clients.
type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     string `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// ProviderConfig holds transcription provider configuration
type ProviderConfig struct {
	APIKey         string        `envconfig:"PROVIDER_API_KEY" default:""`
	BaseURL        string        `envconfig:"PROVIDER_BASE_URL" default:"https://api.assemblyai.com"`
	WebhookSecret  string        `envconfig:"PROVIDER_WEBHOOK_SECRET" default:""`
	WebhookBaseURL string        `envconfig:"PROVIDER_WEBHOOK_BASE_URL" default:""`
	CallTimeout    time.Duration `envconfig:"PROVIDER_CALL_TIMEOUT" default:"8s"`
	PollInterval   time.Duration `envconfig:"PROVIDER_POLL_INTERVAL" default:"5s"`
	UploadTimeout  time.Duration `envconfig:"PROVIDER_UPLOAD_TIMEOUT" default:"5m"`
	LanguageCode   string        `envconfig:"PROVIDER_LANGUAGE_CODE" default:""`
	DetectLanguage bool          `envconfig:"PROVIDER_DETECT_LANGUAGE" default:"true"`
}

// AgentConfig holds device recording agent configuration
type AgentConfig struct {
	BaseURL          string        `envconfig:"AGENT_BASE_URL" default:"http://127.0.0.1:7831"`
	CallTimeout      time.Duration `envconfig:"AGENT_CALL_TIMEOUT" default:"5s"`
	AutoStopDebounce time.Duration `envconfig:"AGENT_AUTO_STOP_DEBOUNCE" default:"3s"`
}

// StorageConfig holds object storage configuration for transcript archives
type StorageConfig struct {
	Enabled         bool   `envconfig:"STORAGE_ENABLED" default:"false"`
	Endpoint        string `envconfig:"STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKeyID     string `envconfig:"STORAGE_ACCESS_KEY" default:"minioadmin"`
	SecretAccessKey string `envconfig:"STORAGE_SECRET_KEY" default:"minioadmin"`
	BucketName      string `envconfig:"STORAGE_BUCKET" default:"recap-archive"`
	UseSSL          bool   `envconfig:"STORAGE_USE_SSL" default:"false"`
}

// SummaryConfig holds summary generator configuration
type SummaryConfig struct {
	APIKey  string `envconfig:"SUMMARY_API_KEY" default:""`
	BaseURL string `envconfig:"SUMMARY_API_URL" default:"https://api.groq.com"`
	Model   string `envconfig:"SUMMARY_MODEL" default:"llama-3.3-70b-versatile"`
}

// JWTConfig holds API token configuration
type JWTConfig struct {
	Secret string        `envconfig:"JWT_SECRET" default:"change-me-in-production"`
	Expiry time.Duration `envconfig:"JWT_EXPIRY" default:"168h"`
}

// MigrationConfig holds legacy-store import configuration
type MigrationConfig struct {
	LegacyPath string `envconfig:"LEGACY_STORE_PATH" default:""`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables or defaults")
	}

	config := &Config{}
	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("PROVIDER_API_KEY is required")
	}
	if c.Provider.PollInterval <= 0 {
		return fmt.Errorf("PROVIDER_POLL_INTERVAL must be positive")
	}
	if c.Provider.UploadTimeout < c.Provider.PollInterval {
		return fmt.Errorf("PROVIDER_UPLOAD_TIMEOUT must be at least one poll interval")
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}
