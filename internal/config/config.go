package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	TaxRatePercent         decimal.Decimal
	PopularTTLSeconds      int
	PopularCacheMaxEntries int
	AuthSecret             string
	AccessTokenTTLMinutes  int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	popularTTL, err := strconv.Atoi(getEnv("POPULAR_CACHE_TTL_SECONDS", "300"))
	if err != nil || popularTTL < 1 {
		popularTTL = 300
	}
	popularMax, err := strconv.Atoi(getEnv("POPULAR_CACHE_MAX_ENTRIES", "20"))
	if err != nil || popularMax < 1 {
		popularMax = 20
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	taxRate, err := decimal.NewFromString(getEnv("TAX_RATE_PERCENT", "12"))
	if err != nil || taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(100)) {
		taxRate = decimal.NewFromInt(12)
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		TaxRatePercent:         taxRate,
		PopularTTLSeconds:      popularTTL,
		PopularCacheMaxEntries: popularMax,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// TaxRate converts the configured percentage to the fractional rate used in
// totals computation.
func (c Config) TaxRate() decimal.Decimal {
	return c.TaxRatePercent.Div(decimal.NewFromInt(100))
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
