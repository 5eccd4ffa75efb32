package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr        string
	CRDBDSN         string
	MongoURI        string
	MongoDB         string
	RedisAddr       string
	RabbitURL       string
	EventsExchange  string
	GatewayExchange string
	GatewayQueue    string
	JWTPublicKey    string
	OTLPEndpoint    string

	// PendingTTL is how long an unpaid pending booking may hold inventory
	// before the expiry worker cancels it.
	PendingTTL    time.Duration
	SweepInterval time.Duration
	SweepBatch    int

	OutboxInterval time.Duration
	OutboxBatch    int

	MaxAttempts          int
	OverpaymentTolerance float64
	OfferingCacheTTL     time.Duration
	IdempotencyTTL       time.Duration
	RateLimitPerMinute   int

	LogLevel string
	LogFile  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		CRDBDSN:              v.GetString("CRDB_DSN"),
		MongoURI:             v.GetString("MONGO_URI"),
		MongoDB:              v.GetString("MONGO_DB"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RabbitURL:            v.GetString("RABBIT_URL"),
		EventsExchange:       v.GetString("EVENTS_EXCHANGE"),
		GatewayExchange:      v.GetString("GATEWAY_EXCHANGE"),
		GatewayQueue:         v.GetString("GATEWAY_QUEUE"),
		JWTPublicKey:         v.GetString("JWT_PUBLIC_KEY"),
		OTLPEndpoint:         v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PendingTTL:           v.GetDuration("PENDING_TTL"),
		SweepInterval:        v.GetDuration("SWEEP_INTERVAL"),
		SweepBatch:           v.GetInt("SWEEP_BATCH"),
		OutboxInterval:       v.GetDuration("OUTBOX_INTERVAL"),
		OutboxBatch:          v.GetInt("OUTBOX_BATCH"),
		MaxAttempts:          v.GetInt("MAX_ATTEMPTS"),
		OverpaymentTolerance: v.GetFloat64("OVERPAYMENT_TOLERANCE"),
		OfferingCacheTTL:     v.GetDuration("OFFERING_CACHE_TTL"),
		IdempotencyTTL:       v.GetDuration("IDEMPOTENCY_TTL"),
		RateLimitPerMinute:   v.GetInt("RATE_LIMIT_PER_MINUTE"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFile:              v.GetString("LOG_FILE"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("MONGO_DB", "cbk")
	v.SetDefault("EVENTS_EXCHANGE", "cbk.events")
	v.SetDefault("GATEWAY_EXCHANGE", "cbk.gateway")
	v.SetDefault("GATEWAY_QUEUE", "cbk.payments")
	v.SetDefault("PENDING_TTL", 30*time.Minute)
	v.SetDefault("SWEEP_INTERVAL", time.Minute)
	v.SetDefault("SWEEP_BATCH", 100)
	v.SetDefault("OUTBOX_INTERVAL", 5*time.Second)
	v.SetDefault("OUTBOX_BATCH", 50)
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("OVERPAYMENT_TOLERANCE", 0.01)
	v.SetDefault("OFFERING_CACHE_TTL", 5*time.Minute)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("LOG_LEVEL", "info")
}
