package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from the environment
type Config struct {
	Environment string

	Server        ServerConfig
	Auth          AuthConfig
	JWT           JWTConfig
	SMTP          SMTPConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// AuthConfig carries the lockout and OTP policy knobs. They are injected
// explicitly into the lockout policy and OTP manager at construction.
type AuthConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	OTPExpiration    time.Duration
	OTPLength        int
	BankName         string
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	SiteName  string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers            []string
	SecurityEventTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL           string
	Username      string
	Password      string
	SecurityIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers holds versioned peppers as "version:value" pairs separated by
	// commas, e.g. "1:oldpepper,2:currentpepper". The highest version is
	// used for new hashes; older versions keep existing hashes verifiable.
	Peppers string
}

type BucketingConfig struct {
	AccountBuckets int
	EventBuckets   int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from environment variables, with a .env
// file as a convenience for local development.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: GetEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       GetEnv("SERVER_DOMAIN", ""),
			CertFile:     GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  GetEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
			Email:        GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			MaxLoginAttempts: getEnvInt("AUTH_MAX_LOGIN_ATTEMPTS", 3),
			LockoutDuration:  getEnvDuration("AUTH_LOCKOUT_DURATION", time.Minute),
			OTPExpiration:    getEnvDuration("AUTH_OTP_EXPIRATION", time.Minute),
			OTPLength:        getEnvInt("AUTH_OTP_LENGTH", 6),
			BankName:         GetEnv("AUTH_BANK_NAME", "Finnect National Bank"),
		},
		JWT: JWTConfig{
			Secret:     GetEnv("JWT_SECRET", ""),
			Issuer:     GetEnv("JWT_ISSUER", "finnect-auth"),
			AccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 24*time.Hour),
		},
		SMTP: SMTPConfig{
			Host:      GetEnv("SMTP_HOST", "localhost"),
			Port:      getEnvInt("SMTP_PORT", 587),
			Username:  GetEnv("SMTP_USERNAME", ""),
			Password:  GetEnv("SMTP_PASSWORD", ""),
			FromEmail: GetEnv("SMTP_FROM_EMAIL", "no-reply@finnect.example"),
			SiteName:  GetEnv("SMTP_SITE_NAME", "Finnect"),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "finnect_auth"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:            getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			SecurityEventTopic: GetEnv("KAFKA_SECURITY_EVENT_TOPIC", "security-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DATABASE", "finnect_audit"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:           GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:      GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:      GetEnv("ELASTICSEARCH_PASSWORD", ""),
			SecurityIndex: GetEnv("ELASTICSEARCH_SECURITY_INDEX", "security-events"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   GetEnv("KMS_KEY_ID", ""),
			Region:  GetEnv("KMS_REGION", "us-east-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Peppers:           GetEnv("HASHING_PEPPERS", ""),
		},
		Bucketing: BucketingConfig{
			AccountBuckets: getEnvInt("BUCKETING_ACCOUNT_BUCKETS", 64),
			EventBuckets:   getEnvInt("BUCKETING_EVENT_BUCKETS", 16),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Validate checks configuration that has no safe default.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.Auth.MaxLoginAttempts < 1 {
		return fmt.Errorf("AUTH_MAX_LOGIN_ATTEMPTS must be at least 1")
	}
	if c.Auth.OTPLength < 4 || c.Auth.OTPLength > 10 {
		return fmt.Errorf("AUTH_OTP_LENGTH must be between 4 and 10")
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
