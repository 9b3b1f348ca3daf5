package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Process exit codes of the voice agent CLI.
const (
	ExitOK               = 0
	ExitMissingEnv       = 1
	ExitVerticalInvalid  = 2
	ExitStoreUnavailable = 3
)

// ErrMissingEnv is returned when a required environment variable is unset.
var ErrMissingEnv = errors.New("config: missing required environment variable")

// Config holds application configuration
type Config struct {
	ServiceVersion string
	LogLevel       string
	ListenAddr     string
	Timezone       string

	LLMAPIKey         string
	LLMModel          string
	LLMEmbeddingModel string
	LLMTimeout        time.Duration
	TurnTimeout       time.Duration
	WorkerIdle        time.Duration
	BedrockModelID    string

	BridgeURL        string
	BridgeTimeout    time.Duration
	SettingsCacheTTL time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool

	SessionTimeout   time.Duration
	LocalStoreDriver string
	LocalStorePath   string
	VerticalsPath    string
	DefaultVertical  string
	BusinessName     string

	Retention RetentionDays
	Anonymize bool

	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	BookingEventsQueueURL string
	ArchiveBucket         string

	APIJWTSecret       string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	STTURL string
	TTSURL string
}

// RetentionDays holds GDPR retention windows per data category.
type RetentionDays struct {
	PersonalData int
	Consent      int
	Booking      int
	VoiceSession int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ListenAddr:     getEnv("LISTEN_ADDR", "127.0.0.1:3002"),
		Timezone:       getEnv("TIMEZONE", "Europe/Rome"),

		LLMAPIKey:         strings.TrimSpace(os.Getenv("LLM_API_KEY")),
		LLMModel:          getEnv("LLM_MODEL", "gemini-2.5-flash"),
		LLMEmbeddingModel: getEnvOrEmpty("LLM_EMBEDDING_MODEL", "text-embedding-004"),
		LLMTimeout:        getEnvAsDuration("LLM_TIMEOUT", 2*time.Second),
		TurnTimeout:       getEnvAsDuration("TURN_TIMEOUT", 5*time.Second),
		WorkerIdle:        getEnvAsDuration("TURN_WORKER_IDLE", 2*time.Minute),
		BedrockModelID:    os.Getenv("BEDROCK_MODEL_ID"),

		BridgeURL:        strings.TrimRight(getEnv("BRIDGE_URL", "http://127.0.0.1:3001"), "/"),
		BridgeTimeout:    getEnvAsDuration("BRIDGE_TIMEOUT", 3*time.Second),
		SettingsCacheTTL: getEnvAsDuration("SETTINGS_CACHE_TTL", time.Minute),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),

		SessionTimeout:   time.Duration(getEnvAsInt("SESSION_TIMEOUT_MINUTES", 30)) * time.Minute,
		LocalStoreDriver: strings.ToLower(getEnv("LOCAL_STORE_DRIVER", "sqlite")),
		LocalStorePath:   expandHome(getEnv("LOCAL_STORE_PATH", "~/.fluxion/voice_sessions.db")),
		VerticalsPath:    getEnv("VERTICALS_PATH", "./verticals"),
		DefaultVertical:  getEnv("DEFAULT_VERTICAL", "salone"),
		BusinessName:     getEnv("BUSINESS_NAME", "Fluxion"),

		Retention: RetentionDays{
			PersonalData: getEnvAsInt("GDPR_RETENTION_DAYS_PERSONAL", 2555),
			Consent:      getEnvAsInt("GDPR_RETENTION_DAYS_CONSENT", 1825),
			Booking:      getEnvAsInt("GDPR_RETENTION_DAYS_BOOKING", 1095),
			VoiceSession: getEnvAsInt("GDPR_RETENTION_DAYS_VOICE_SESSION", 365),
		},
		Anonymize: getEnvAsBool("GDPR_ANONYMIZE", false),

		AWSRegion:             getEnv("AWS_REGION", "eu-south-1"),
		AWSAccessKeyID:        os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSEndpointOverride:   os.Getenv("AWS_ENDPOINT_OVERRIDE"),
		BookingEventsQueueURL: os.Getenv("BOOKING_EVENTS_QUEUE_URL"),
		ArchiveBucket:         os.Getenv("ARCHIVE_BUCKET"),

		APIJWTSecret:       os.Getenv("API_JWT_SECRET"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),

		STTURL: os.Getenv("STT_URL"),
		TTSURL: os.Getenv("TTS_URL"),
	}

	if cfg.LLMAPIKey == "" {
		return cfg, fmt.Errorf("%w: LLM_API_KEY", ErrMissingEnv)
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Minute
	}
	return cfg, nil
}

// UsesAWS reports whether any AWS-backed component is enabled.
func (c *Config) UsesAWS() bool {
	return c.BedrockModelID != "" || c.BookingEventsQueueURL != "" || c.ArchiveBucket != ""
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
// getEnvOrEmpty is getEnv, except that a variable set to "" stays empty.
func getEnvOrEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
