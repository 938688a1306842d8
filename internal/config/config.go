package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendDynamo = "dynamo"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	LogLevel       string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	// BootstrapTables creates missing DynamoDB tables on startup.
	BootstrapTables bool

	StoreBackend     string // dynamo | memory
	RateLimitBackend string // redis | memory
	RedisURL         string
	RedisKeyPrefix   string

	JWTPublicKeyPath  string
	JWTPrivateKeyPath string
	JWTExpiry         time.Duration
	AllowedOrigins    []string // CORS allowed origins

	Verification VerificationConfig
	Insights     InsightConfig
	Audit        AuditConfig
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users              string
	VerificationTokens string
	AuditLog           string
	Insights           string
}

type VerificationConfig struct {
	// TokenPepper keys the at-rest hash of every secret.
	TokenPepper     string
	TokenTTL        time.Duration
	IssueLimit      int
	IssueWindow     time.Duration
	SuccessRedirect string
	FailureRedirect string
	// PublicRPS and PublicBurst bound the per-IP rate of the public verify endpoint.
	PublicRPS   float64
	PublicBurst int
}

type InsightConfig struct {
	RefreshLimit  int
	RefreshWindow time.Duration
	MaxPerRun     int
	ListDefault   int
	ListMax       int
}

type AuditConfig struct {
	BufferSize    int
	Workers       int
	MaxAttempts   int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	ArchiveBucket string // optional S3 archive
	NATSURL       string // optional JetStream fan-out
	NATSSubject   string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:              getEnv("DYNAMO_TABLE_USERS", "users"),
			VerificationTokens: getEnv("DYNAMO_TABLE_VERIFICATION_TOKENS", "verification_tokens"),
			AuditLog:           getEnv("DYNAMO_TABLE_AUDIT_LOG", "audit_log"),
			Insights:           getEnv("DYNAMO_TABLE_INSIGHTS", "security_insights"),
		},
		BootstrapTables:   getEnvBool("DYNAMO_BOOTSTRAP", true),
		StoreBackend:      getEnv("STORE_BACKEND", BackendDynamo),
		RateLimitBackend:  getEnv("RATE_LIMIT_BACKEND", BackendRedis),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", "gate"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", ""),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		Verification: VerificationConfig{
			TokenPepper:     getEnv("TOKEN_PEPPER", ""),
			TokenTTL:        getEnvDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour),
			IssueLimit:      getEnvInt("VERIFICATION_ISSUE_LIMIT", 5),
			IssueWindow:     getEnvDuration("VERIFICATION_ISSUE_WINDOW", time.Hour),
			SuccessRedirect: getEnv("VERIFY_SUCCESS_REDIRECT", ""),
			FailureRedirect: getEnv("VERIFY_FAILURE_REDIRECT", ""),
			PublicRPS:       getEnvFloat("VERIFY_PUBLIC_RPS", 5),
			PublicBurst:     getEnvInt("VERIFY_PUBLIC_BURST", 10),
		},
		Insights: InsightConfig{
			RefreshLimit:  getEnvInt("INSIGHT_REFRESH_LIMIT", 3),
			RefreshWindow: getEnvDuration("INSIGHT_REFRESH_WINDOW", time.Hour),
			MaxPerRun:     getEnvInt("INSIGHT_MAX_PER_RUN", 5),
			ListDefault:   getEnvInt("INSIGHT_LIST_DEFAULT", 10),
			ListMax:       getEnvInt("INSIGHT_LIST_MAX", 25),
		},
		Audit: AuditConfig{
			BufferSize:    getEnvInt("AUDIT_BUFFER_SIZE", 1024),
			Workers:       getEnvInt("AUDIT_WORKERS", 2),
			MaxAttempts:   getEnvInt("AUDIT_MAX_ATTEMPTS", 5),
			RetryInitial:  getEnvDuration("AUDIT_RETRY_INITIAL", 200*time.Millisecond),
			RetryMax:      getEnvDuration("AUDIT_RETRY_MAX", 5*time.Second),
			ArchiveBucket: getEnv("AUDIT_ARCHIVE_BUCKET", ""),
			NATSURL:       getEnv("NATS_URL", ""),
			NATSSubject:   getEnv("AUDIT_NATS_SUBJECT", "audit.entries"),
		},
	}
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendDynamo, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendDynamo, BackendMemory, c.StoreBackend))
	}
	switch c.RateLimitBackend {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, c.RateLimitBackend))
	}
	if c.IsProduction() {
		if len(c.Verification.TokenPepper) < 32 {
			errs = append(errs, errors.New("TOKEN_PEPPER must be at least 32 bytes in production"))
		}
		if c.StoreBackend == BackendMemory || c.RateLimitBackend == BackendMemory {
			errs = append(errs, errors.New("memory backends are not allowed in production"))
		}
	}
	if c.Verification.TokenTTL <= 0 {
		errs = append(errs, errors.New("VERIFICATION_TOKEN_TTL must be positive"))
	}
	if c.Insights.RefreshLimit < 1 || c.Insights.RefreshWindow <= 0 {
		errs = append(errs, errors.New("INSIGHT_REFRESH_LIMIT and INSIGHT_REFRESH_WINDOW must be positive"))
	}
	if c.Insights.ListMax < 1 || c.Insights.ListDefault < 1 || c.Insights.ListDefault > c.Insights.ListMax {
		errs = append(errs, errors.New("INSIGHT_LIST_DEFAULT must be between 1 and INSIGHT_LIST_MAX"))
	}
	if c.Audit.BufferSize < 1 || c.Audit.Workers < 1 || c.Audit.MaxAttempts < 1 {
		errs = append(errs, errors.New("AUDIT_BUFFER_SIZE, AUDIT_WORKERS and AUDIT_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "24h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
