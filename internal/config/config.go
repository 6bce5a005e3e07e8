package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"retailpos/backend/internal/logger"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	MainRecordID            string
	DefaultCustomerID       string
	SweepIntervalMinutes    int
	CancelledRetentionHours int
	ShippedAutoDeliverDays  int
	VariantCacheTTLSeconds  int
	CartTTLHours            int
	LoginRateLimit          string
	CompanyName             string
	LogoURL                 string
	Log                     logger.Config
}

// Load reads .env when present, then the process environment.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	return Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		MainRecordID:            getEnv("MAIN_RECORD_ID", "rec-main"),
		DefaultCustomerID:       getEnv("DEFAULT_CUSTOMER_ID", "cust-walkin"),
		SweepIntervalMinutes:    getPositiveInt("SWEEP_INTERVAL_MINUTES", 60),
		CancelledRetentionHours: getPositiveInt("CANCELLED_RETENTION_HOURS", 24),
		ShippedAutoDeliverDays:  getPositiveInt("SHIPPED_AUTO_DELIVER_DAYS", 6),
		VariantCacheTTLSeconds:  getPositiveInt("VARIANT_CACHE_TTL_SECONDS", 30),
		CartTTLHours:            getPositiveInt("CART_TTL_HOURS", 12),
		LoginRateLimit:          getEnv("LOGIN_RATE_LIMIT", "5-M"),
		CompanyName:             getEnv("RECEIPT_COMPANY_NAME", "Retail POS"),
		LogoURL:                 os.Getenv("RECEIPT_LOGO_URL"),
		Log: logger.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
			File:   os.Getenv("LOG_FILE"),
		},
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

func (c Config) CancelledRetention() time.Duration {
	return time.Duration(c.CancelledRetentionHours) * time.Hour
}

func (c Config) ShippedAutoDeliver() time.Duration {
	return time.Duration(c.ShippedAutoDeliverDays) * 24 * time.Hour
}

func (c Config) VariantCacheTTL() time.Duration {
	return time.Duration(c.VariantCacheTTLSeconds) * time.Second
}

func (c Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLHours) * time.Hour
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
