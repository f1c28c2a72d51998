package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AppConfig struct {
	HTTPAddr     string
	RedisAddr    string
	RedisPass    string
	KafkaBrokers []string

	// Bonus engine
	MaxLevel            int
	MinPurchaseForBonus decimal.Decimal
	MaxBonusAmount      decimal.Decimal
	MinBonusAmount      decimal.Decimal
	LevelOneMaxBonus    decimal.Decimal
	DeepLevelMaxBonus   decimal.Decimal
	MinWithdrawalAmount decimal.Decimal
	DailyRate           decimal.Decimal
	TotalLimit          decimal.Decimal
	Currency            string

	// Per-user velocity limits
	DailyBonusLimitPerUser  decimal.Decimal
	HourlyBonusLimitPerUser decimal.Decimal

	// Payout queue
	PayoutMaxAttempts int
	PayoutBatchSize   int
	PayoutInterval    time.Duration

	// Orchestration
	ProcessingLockTTL         time.Duration
	ProcessingStalenessWindow time.Duration
	PaymentMaxAge             time.Duration

	// Eligibility gates
	RequireVerified  bool
	RequireKYC       bool
	MinAccountAge    time.Duration
	AllowedCountries []string

	// Fraud thresholds
	FraudMaxAccountsPerPhone int
	FraudMaxAccountsPerIP    int
	FraudVelocityPerHour     int
	FraudWindow              time.Duration
	RiskScoreHighThreshold   int

	// Daily yield worker
	DailyYieldHourUTC  int
	FraudSweepInterval time.Duration

	// External interfaces
	WebhookSecret       string
	WebhookMaxSkew      time.Duration
	RateLimitPerMinute  int
	ProviderURL         string
	ProviderAuthToken   string
	ProviderCallbackURL string
	CountryCode         string
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8031"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),

		MaxLevel:            getEnvInt("MAX_LEVEL", 20),
		MinPurchaseForBonus: getEnvDecimal("MIN_PURCHASE_FOR_BONUS", "10000"),
		MaxBonusAmount:      getEnvDecimal("MAX_BONUS_AMOUNT", "10000000"),
		MinBonusAmount:      getEnvDecimal("MIN_BONUS_AMOUNT", "1"),
		LevelOneMaxBonus:    getEnvDecimal("LEVEL_ONE_MAX_BONUS", "500000"),
		DeepLevelMaxBonus:   getEnvDecimal("DEEP_LEVEL_MAX_BONUS", "100000"),
		MinWithdrawalAmount: getEnvDecimal("MIN_WITHDRAWAL_AMOUNT", "1000"),
		DailyRate:           getEnvDecimal("DAILY_RATE", "0.05"),
		TotalLimit:          getEnvDecimal("TOTAL_LIMIT", "0.75"),
		Currency:            getEnv("CURRENCY", "UGX"),

		DailyBonusLimitPerUser:  getEnvDecimal("DAILY_BONUS_LIMIT_PER_USER", "1000000"),
		HourlyBonusLimitPerUser: getEnvDecimal("HOURLY_BONUS_LIMIT_PER_USER", "300000"),

		PayoutMaxAttempts: getEnvInt("PAYOUT_MAX_ATTEMPTS", 5),
		PayoutBatchSize:   getEnvInt("PAYOUT_BATCH_SIZE", 50),
		PayoutInterval:    getEnvDuration("PAYOUT_INTERVAL_SECONDS", 30*time.Second),

		ProcessingLockTTL:         getEnvDuration("PROCESSING_LOCK_TTL_SECONDS", 300*time.Second),
		ProcessingStalenessWindow: getEnvDuration("PROCESSING_STALENESS_SECONDS", 30*time.Minute),
		PaymentMaxAge:             getEnvDuration("PAYMENT_MAX_AGE_SECONDS", 30*24*time.Hour),

		RequireVerified:  getEnvBool("REQUIRE_VERIFIED", false),
		RequireKYC:       getEnvBool("REQUIRE_KYC", false),
		MinAccountAge:    getEnvDuration("MIN_ACCOUNT_AGE_SECONDS", 0),
		AllowedCountries: getEnvSlice("ALLOWED_COUNTRIES", nil),

		FraudMaxAccountsPerPhone: getEnvInt("FRAUD_MAX_ACCOUNTS_PER_PHONE", 2),
		FraudMaxAccountsPerIP:    getEnvInt("FRAUD_MAX_ACCOUNTS_PER_IP", 5),
		FraudVelocityPerHour:     getEnvInt("FRAUD_VELOCITY_PER_HOUR", 50),
		FraudWindow:              getEnvDuration("FRAUD_WINDOW_SECONDS", 24*time.Hour),
		RiskScoreHighThreshold:   getEnvInt("RISK_SCORE_HIGH_THRESHOLD", 70),

		DailyYieldHourUTC:  getEnvInt("DAILY_YIELD_HOUR_UTC", 0),
		FraudSweepInterval: getEnvDuration("FRAUD_SWEEP_INTERVAL_SECONDS", 6*time.Hour),

		WebhookSecret:       getEnv("WEBHOOK_SECRET", ""),
		WebhookMaxSkew:      getEnvDuration("WEBHOOK_MAX_SKEW_SECONDS", 5*time.Minute),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 120),
		ProviderURL:         getEnv("PROVIDER_URL", ""),
		ProviderAuthToken:   getEnv("PROVIDER_AUTH_TOKEN", ""),
		ProviderCallbackURL: getEnv("PROVIDER_CALLBACK_URL", ""),
		CountryCode:         getEnv("COUNTRY_CODE", "UG"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(fallback)
	return d
}
