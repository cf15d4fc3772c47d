package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration for the storefront API.
type Config struct {
	HTTP      HTTPConfig
	Store     StoreConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Razorpay  RazorpayConfig
	PhonePe   PhonePeConfig
	Payments  PaymentsConfig
	Mail      MailConfig
	Telemetry TelemetryConfig
}

type HTTPConfig struct {
	Port           string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type StoreConfig struct {
	Backend  string // mongo | memory
	MongoURI string
	Database string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret []byte
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

type PhonePeConfig struct {
	MerchantID string
	SaltKey    string
	SaltIndex  string
	BaseURL    string
}

type PaymentsConfig struct {
	CallbackBaseURL string
	FrontendBaseURL string
	GatewayTimeout  time.Duration
}

type MailConfig struct {
	Mode     string // smtp | queue | log
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type TelemetryConfig struct {
	LogLevel     slog.Level
	ServiceName  string
	OTLPEndpoint string
}

const (
	defaultPort           = ":8080"
	defaultMongoURI       = "mongodb://localhost:27017"
	defaultDatabase       = "storefront"
	defaultRedisAddr      = "localhost:6379"
	defaultRazorpayURL    = "https://api.razorpay.com"
	defaultPhonePeURL     = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	defaultGatewayTimeout = 15
	defaultRateLimitRPS   = 5
	defaultRateLimitBurst = 10
	defaultServiceName    = "storefront"
)

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found; using system environment")
	}

	port := getEnvOrDefault("PORT", defaultPort)
	if port[0] != ':' {
		port = ":" + port
	}

	rps, err := getFloatEnv("RATE_LIMIT_RPS", defaultRateLimitRPS)
	if err != nil {
		return nil, err
	}
	burst, err := getIntEnv("RATE_LIMIT_BURST", defaultRateLimitBurst)
	if err != nil {
		return nil, err
	}
	redisDB, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := getIntEnv("GATEWAY_TIMEOUT_SECONDS", defaultGatewayTimeout)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if value, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if err := level.UnmarshalText([]byte(value)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	backend := getEnvOrDefault("STORE_BACKEND", "mongo")
	if backend != "mongo" && backend != "memory" {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", backend)
	}

	return &Config{
		HTTP: HTTPConfig{
			Port:           port,
			AllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Store: StoreConfig{
			Backend:  backend,
			MongoURI: getEnvOrDefault("MONGO_URI", defaultMongoURI),
			Database: getEnvOrDefault("MONGO_DATABASE", defaultDatabase),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", defaultRedisAddr),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Auth: AuthConfig{JWTSecret: []byte(secret)},
		Razorpay: RazorpayConfig{
			KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
			KeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
			WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
			BaseURL:       getEnvOrDefault("RAZORPAY_BASE_URL", defaultRazorpayURL),
		},
		PhonePe: PhonePeConfig{
			MerchantID: os.Getenv("PHONEPE_MERCHANT_ID"),
			SaltKey:    os.Getenv("PHONEPE_SALT_KEY"),
			SaltIndex:  getEnvOrDefault("PHONEPE_SALT_INDEX", "1"),
			BaseURL:    getEnvOrDefault("PHONEPE_BASE_URL", defaultPhonePeURL),
		},
		Payments: PaymentsConfig{
			CallbackBaseURL: getEnvOrDefault("PAYMENT_CALLBACK_BASE_URL", "http://localhost:8080"),
			FrontendBaseURL: getEnvOrDefault("FRONTEND_BASE_URL", "http://localhost:5173"),
			GatewayTimeout:  time.Duration(timeout) * time.Second,
		},
		Mail: MailConfig{
			Mode:     getEnvOrDefault("NOTIFY_MODE", "log"),
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvOrDefault("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnvOrDefault("SMTP_FROM", "orders@localhost"),
		},
		Telemetry: TelemetryConfig{
			LogLevel:     level,
			ServiceName:  getEnvOrDefault("SERVICE_NAME", defaultServiceName),
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
	}, nil
}

// RazorpayEnabled reports whether Razorpay credentials are configured.
func (c *Config) RazorpayEnabled() bool {
	return c.Razorpay.KeyID != "" && c.Razorpay.KeySecret != ""
}

// PhonePeEnabled reports whether PhonePe credentials are configured.
func (c *Config) PhonePeEnabled() bool {
	return c.PhonePe.MerchantID != "" && c.PhonePe.SaltKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getFloatEnv(key string, defaultValue float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
