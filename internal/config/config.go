package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DBUrl              string
	JWTSecret          string
	SupabaseURL        string
	SupabaseBucket     string
	SupabaseServiceKey string
	UploadDir          string
	PublicBaseURL      string
	RedisURL           string
	MaxAttachmentBytes int64
	AppEnv             string
	EnableDocs         bool
	LogLevel           string
	CORSOrigins        string
	// EnvFileLoaded reports whether a .env file was read. The caller logs it
	// once a logger exists.
	EnvFileLoaded bool
}

func LoadConfig() (*Config, error) {
	envLoaded := godotenv.Load() == nil

	jwtSecret, exists := os.LookupEnv("JWT_SECRET")
	if !exists || jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	port := getEnv("PORT", "8080")
	maxAttachment := getEnvInt("MAX_ATTACHMENT_BYTES", 10*1024*1024)
	if maxAttachment <= 0 {
		return nil, fmt.Errorf("MAX_ATTACHMENT_BYTES must be positive")
	}

	return &Config{
		Port:               port,
		DBUrl:              getEnv("DB_URL", ""),
		JWTSecret:          jwtSecret,
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		UploadDir:          getEnv("UPLOAD_DIR", ""),
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		RedisURL:           getEnv("REDIS_URL", ""),
		MaxAttachmentBytes: int64(maxAttachment),
		AppEnv:             normalizeEnv(getEnv("APP_ENV", "production")),
		EnableDocs:         getEnvBool("ENABLE_API_DOCS", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSOrigins:        getEnv("CORS_ORIGINS", "*"),
		EnvFileLoaded:      envLoaded,
	}, nil
}

// ClientConfig configures the terminal client. It never needs the server's
// signing secret.
type ClientConfig struct {
	APIBaseURL   string
	APIToken     string
	PollInterval time.Duration
	AppEnv       string
	LogLevel     string
}

func LoadClientConfig() (*ClientConfig, error) {
	_ = godotenv.Load()

	pollMillis := getEnvInt("POLL_INTERVAL_MS", 3000)
	if pollMillis <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}

	return &ClientConfig{
		APIBaseURL:   strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		APIToken:     getEnv("API_TOKEN", ""),
		PollInterval: time.Duration(pollMillis) * time.Millisecond,
		AppEnv:       normalizeEnv(getEnv("APP_ENV", "development")),
		LogLevel:     getEnv("LOG_LEVEL", "warn"),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "stage", "staging":
		return "staging"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}

func (c *Config) DocsEnabled() bool {
	return c != nil && c.EnableDocs && c.AppEnv == "development"
}

// multipartOverhead covers form fields and part headers sent alongside an
// attachment.
const multipartOverhead = 1 << 20

// RequestBodyLimit is the largest request body the server accepts. It stays
// above MaxAttachmentBytes so oversize files reach the attachment check and
// get its JSON error.
func (c *Config) RequestBodyLimit() int {
	return int(c.MaxAttachmentBytes) + multipartOverhead
}

func (c *Config) SupabaseConfigured() bool {
	return c != nil && c.SupabaseURL != "" && c.SupabaseBucket != "" && c.SupabaseServiceKey != ""
}
