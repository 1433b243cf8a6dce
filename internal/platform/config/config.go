package config

import (
	"os"
	"strconv"
	"time"

	pkgstrings "privata/pkg/platform/strings"
)

// DefaultCacheTTL bounds how long a merged entity may be served from cache.
const DefaultCacheTTL = 300 * time.Second

// Server captures process level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	LogLevel      string
	LogFormat     string

	IdentityDatabaseURL string
	ClinicalDatabaseURL string
	ClinicalSQLitePath  string

	Redis RedisConfig
	Kafka KafkaConfig

	CacheTTL          time.Duration
	SchemaDir         string
	EntityTypes       []string
	PseudonymKey      string
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// RedisConfig configures the shared entity cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit event sink.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          envOr("PRIVATA_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envOr("JWT_ISSUER", "privata"),
		JWTAudience:   envOr("JWT_AUDIENCE", "privata-api"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFormat:     envOr("LOG_FORMAT", "json"),

		IdentityDatabaseURL: os.Getenv("IDENTITY_DATABASE_URL"),
		ClinicalDatabaseURL: os.Getenv("CLINICAL_DATABASE_URL"),
		ClinicalSQLitePath:  os.Getenv("CLINICAL_SQLITE_PATH"),

		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: envOr("KAFKA_AUDIT_TOPIC", "privata.audit"),
		},

		CacheTTL:          envDuration("CACHE_TTL", DefaultCacheTTL),
		SchemaDir:         os.Getenv("SCHEMA_DIR"),
		EntityTypes:       splitList(os.Getenv("ENTITY_TYPES")),
		PseudonymKey:      os.Getenv("PSEUDONYM_KEY"),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileGrace:    envDuration("RECONCILE_GRACE", 30*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	return pkgstrings.SplitList(raw, ",")
}
