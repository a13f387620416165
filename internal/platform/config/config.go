package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process-level configuration. Every field has a development
// default so `go run ./cmd/server` works without an environment.
type Server struct {
	Addr          string
	LogLevel      string
	LogFormat     string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	DatabaseURL string
	// SeedDemoData loads the demo office catalogue and development accounts.
	SeedDemoData bool
	Redis       RedisConfig
	Kafka       KafkaConfig
	AWS         AWSConfig

	Verification VerificationConfig
}

// RedisConfig configures the resend cooldown store. An empty URL selects the
// in-memory store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the verification event sink. No brokers disables it.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AWSConfig configures evidence uploads (S3) and code delivery (SES). Empty
// bucket or sender disables the corresponding adapter.
type AWSConfig struct {
	Region         string
	EvidenceBucket string
	PublicBaseURL  string
	SenderEmail    string
}

// VerificationConfig holds the verification policy knobs.
type VerificationConfig struct {
	CodeTTL             time.Duration
	ResendCooldown      time.Duration
	RequestTTL          time.Duration
	SweepSchedule       string
	WebsiteFetchTimeout time.Duration
	MetaTagName         string
	AllowedEmailDomains []string
	SearchDebounce      time.Duration
	BcryptCost          int
}

// DefaultVerification returns the production verification policy.
func DefaultVerification() VerificationConfig {
	return VerificationConfig{
		CodeTTL:             15 * time.Minute,
		ResendCooldown:      60 * time.Second,
		RequestTTL:          24 * time.Hour,
		SweepSchedule:       "@every 1m",
		WebsiteFetchTimeout: 10 * time.Second,
		MetaTagName:         "civic-verification",
		AllowedEmailDomains: []string{".gov", ".mil"},
		SearchDebounce:      350 * time.Millisecond,
		BcryptCost:          10,
	}
}

// FromEnv loads an optional .env file then builds the config from the
// environment so main stays lean.
func FromEnv() Server {
	_ = godotenv.Load()

	v := DefaultVerification()
	v.CodeTTL = durationEnv("CODE_TTL", v.CodeTTL)
	v.ResendCooldown = durationEnv("RESEND_COOLDOWN", v.ResendCooldown)
	v.RequestTTL = durationEnv("REQUEST_TTL", v.RequestTTL)
	v.SweepSchedule = stringEnv("SWEEP_SCHEDULE", v.SweepSchedule)
	v.WebsiteFetchTimeout = durationEnv("WEBSITE_FETCH_TIMEOUT", v.WebsiteFetchTimeout)
	v.MetaTagName = stringEnv("WEBSITE_META_TAG", v.MetaTagName)
	v.SearchDebounce = durationEnv("SEARCH_DEBOUNCE", v.SearchDebounce)
	v.BcryptCost = intEnv("CODE_BCRYPT_COST", v.BcryptCost)
	if domains, ok := os.LookupEnv("ALLOWED_EMAIL_DOMAINS"); ok {
		v.AllowedEmailDomains = listEnv(domains)
	}

	return Server{
		Addr:      stringEnv("CIVIC_ADDR", ":8080"),
		LogLevel:  stringEnv("LOG_LEVEL", "info"),
		LogFormat: stringEnv("LOG_FORMAT", "json"),
		// Development default; production must set JWT_SIGNING_KEY.
		JWTSigningKey: stringEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     stringEnv("JWT_ISSUER", "civic"),
		JWTAudience:   stringEnv("JWT_AUDIENCE", "civic-api"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SeedDemoData:  boolEnv("SEED_DEMO_DATA", os.Getenv("DATABASE_URL") == ""),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: listEnv(os.Getenv("KAFKA_BROKERS")),
			Topic:   stringEnv("KAFKA_TOPIC", "civic.verification.events"),
		},
		AWS: AWSConfig{
			Region:         stringEnv("AWS_REGION", "us-east-1"),
			EvidenceBucket: os.Getenv("EVIDENCE_BUCKET"),
			PublicBaseURL:  os.Getenv("EVIDENCE_PUBLIC_BASE_URL"),
			SenderEmail:    os.Getenv("SES_SENDER_EMAIL"),
		},
		Verification: v,
	}
}

func stringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func listEnv(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
