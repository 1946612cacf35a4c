package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Chunk rows bind 8 parameters each, so a single INSERT is bounded by the
// driver's parameter limit (SQLite 32766, PostgreSQL 65535).
const (
	chunkParamsPerRow    = 8
	MaxSQLiteBatchSize   = 32766 / chunkParamsPerRow
	MaxPostgresBatchSize = 65535 / chunkParamsPerRow
)

// Embedding providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderHash   = "hash"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Embedding     EmbeddingConfig
	Retrieval     RetrievalConfig
	Ingest        IngestConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// StorageConfig selects and tunes the chunk store
type StorageConfig struct {
	Driver     string // postgres, sqlite or memory
	SQLitePath string
	BatchSize  int // Rows per insert statement when storing chunks
	InitSchema bool
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider   string
	Model      string
	Dimensions int
	Timeout    time.Duration
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	CacheSize  int // 0 disables the cache
	CacheTTL   time.Duration
	RateLimit  float64 // Requests per second, 0 = unlimited
	RateBurst  int
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// GeminiConfig holds Gemini provider configuration
type GeminiConfig struct {
	APIKey string
}

// RetrievalConfig holds search defaults
type RetrievalConfig struct {
	DefaultTopK        int
	DefaultThreshold   float64
	MaxTopK            int
	ContextAttribution bool
}

// IngestConfig holds text chunking configuration
type IngestConfig struct {
	ChunkSize    int // Runes per chunk
	ChunkOverlap int
}

// AuthConfig holds service token verification settings.
// An empty JWTSecret leaves the API open.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	provider := strings.ToLower(getEnv("EMBEDDING_PROVIDER", ProviderOpenAI))

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Storage: StorageConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "data/retrieval.db"),
			BatchSize:  getEnvAsInt("RETRIEVAL_STORE_BATCH_SIZE", 100),
			InitSchema: getEnvAsBool("DB_INIT_SCHEMA", true),
		},
		Embedding: EmbeddingConfig{
			Provider:   provider,
			Model:      getEnv("EMBEDDING_MODEL", defaultModel(provider)),
			Dimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", defaultDimensions(provider)),
			Timeout:    getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			Gemini: GeminiConfig{
				APIKey: getEnv("GEMINI_API_KEY", ""),
			},
			CacheSize: getEnvAsInt("EMBEDDING_CACHE_SIZE", 1000),
			CacheTTL:  getEnvAsDuration("EMBEDDING_CACHE_TTL", time.Hour),
			RateLimit: getEnvAsFloat("EMBEDDING_RATE_LIMIT", 0),
			RateBurst: getEnvAsInt("EMBEDDING_RATE_BURST", 1),
		},
		Retrieval: RetrievalConfig{
			DefaultTopK:        getEnvAsInt("RETRIEVAL_DEFAULT_TOP_K", 3),
			DefaultThreshold:   getEnvAsFloat("RETRIEVAL_DEFAULT_THRESHOLD", 0.5),
			MaxTopK:            getEnvAsInt("RETRIEVAL_MAX_TOP_K", 100),
			ContextAttribution: getEnvAsBool("RETRIEVAL_CONTEXT_ATTRIBUTION", false),
		},
		Ingest: IngestConfig{
			ChunkSize:    getEnvAsInt("INGEST_CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvAsInt("INGEST_CHUNK_OVERLAP", 200),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer: getEnv("AUTH_JWT_ISSUER", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set and consistent
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		// Database validation (DATABASE_URL or DB_* vars)
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required when DB_DRIVER=sqlite")
		}
	case DriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("store batch size must be positive")
	}
	if limit := MaxStoreBatchSize(c.Storage.Driver); limit > 0 && c.Storage.BatchSize > limit {
		return fmt.Errorf("store batch size %d exceeds the %s limit of %d rows per statement",
			c.Storage.BatchSize, c.Storage.Driver, limit)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.IsProduction() && c.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("openai API key is required in production")
		}
	case ProviderGemini:
		if c.Embedding.Gemini.APIKey == "" {
			return fmt.Errorf("gemini API key is required when EMBEDDING_PROVIDER=gemini")
		}
	case ProviderHash:
		if c.IsProduction() {
			return fmt.Errorf("hash embedder is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.Embedding.RateLimit < 0 {
		return fmt.Errorf("embedding rate limit cannot be negative")
	}

	// Retrieval validation
	if c.Retrieval.MaxTopK <= 0 {
		return fmt.Errorf("max top-k must be positive")
	}
	if c.Retrieval.DefaultTopK <= 0 || c.Retrieval.DefaultTopK > c.Retrieval.MaxTopK {
		return fmt.Errorf("default top-k must be between 1 and %d", c.Retrieval.MaxTopK)
	}
	if c.Retrieval.DefaultThreshold < -1 || c.Retrieval.DefaultThreshold > 1 {
		return fmt.Errorf("default similarity threshold must be within [-1, 1]")
	}

	// Ingest validation
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest chunk size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest chunk overlap must be in [0, chunk size)")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// MaxStoreBatchSize returns the largest batch one INSERT can carry for driver, 0 when unbounded
func MaxStoreBatchSize(driver string) int {
	switch driver {
	case DriverSQLite:
		return MaxSQLiteBatchSize
	case DriverPostgres:
		return MaxPostgresBatchSize
	default:
		return 0
	}
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil && u.Host != "" {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "retrieval"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "retrieval"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-embedding-001"
	case ProviderHash:
		return "fnv-hash"
	default:
		return "text-embedding-3-small"
	}
}

func defaultDimensions(provider string) int {
	switch provider {
	case ProviderGemini:
		return 768
	case ProviderHash:
		return 384
	default:
		return 1536
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
