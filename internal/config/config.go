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
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Delivery DeliveryConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	AllowedOrigins []string
	CookieDomain   string
}

// AuthConfig holds session and verification token lifetimes
type AuthConfig struct {
	SessionTTL          time.Duration
	OTPChallengeTTL     time.Duration
	OTPStatusChangeTTL  time.Duration
	PasswordResetTTL    time.Duration
	OTPMaxAttempts      int
	CleanupInterval     time.Duration
	CleanupRetention    time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	RequestsPerMinute   int
}

// DeliveryConfig configures the out-of-band channels used for OTP codes and links
type DeliveryConfig struct {
	AWSRegion   string
	FromAddress string
	LinkBaseURL string
	SMSSenderID string
	IssuerName  string
}

// RedisConfig configures the limiter backing send-otp and forgot-password
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	OTPSendLimit  int
	OTPSendWindow time.Duration
	ResetLimit    int
	ResetWindow   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
			CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
		},
		Auth: AuthConfig{
			SessionTTL:          getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			OTPChallengeTTL:     getEnvAsDuration("OTP_CHALLENGE_TTL", 5*time.Minute),
			OTPStatusChangeTTL:  getEnvAsDuration("OTP_STATUS_CHANGE_TTL", 15*time.Minute),
			PasswordResetTTL:    getEnvAsDuration("PASSWORD_RESET_TTL", 30*time.Minute),
			OTPMaxAttempts:      getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			CleanupInterval:     getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			CleanupRetention:    getEnvAsDuration("CLEANUP_RETENTION", 7*24*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			RequestsPerMinute:   getEnvAsInt("AUTH_REQUESTS_PER_MINUTE", 10),
		},
		Delivery: DeliveryConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			LinkBaseURL: getEnv("LINK_BASE_URL", "http://localhost:3000"),
			SMSSenderID: getEnv("SMS_SENDER_ID", ""),
			IssuerName:  getEnv("ISSUER_NAME", "Warden"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			OTPSendLimit:  getEnvAsInt("OTP_SEND_LIMIT", 5),
			OTPSendWindow: getEnvAsDuration("OTP_SEND_WINDOW", 15*time.Minute),
			ResetLimit:    getEnvAsInt("PASSWORD_RESET_LIMIT", 3),
			ResetWindow:   getEnvAsDuration("PASSWORD_RESET_WINDOW", 1*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Auth.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects lifetimes that would break the session/token contract
func (a *AuthConfig) validate() error {
	if a.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	for name, ttl := range map[string]time.Duration{
		"OTP_CHALLENGE_TTL":     a.OTPChallengeTTL,
		"OTP_STATUS_CHANGE_TTL": a.OTPStatusChangeTTL,
		"PASSWORD_RESET_TTL":    a.PasswordResetTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
		if ttl > a.SessionTTL {
			return fmt.Errorf("%s (%s) must not exceed SESSION_TTL (%s)", name, ttl, a.SessionTTL)
		}
	}
	if a.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return []string{}
	}
	items := strings.Split(value, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
