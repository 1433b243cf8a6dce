package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PRIVATA_ADDR", "CACHE_TTL", "KAFKA_BROKERS", "ENTITY_TYPES", "RECONCILE_INTERVAL", "JWT_SIGNING_KEY"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, "privata.audit", cfg.Kafka.AuditTopic)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Nil(t, cfg.EntityTypes)
	assert.NotEmpty(t, cfg.JWTSigningKey)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PRIVATA_ADDR", ":9090")
	t.Setenv("CACHE_TTL", "45s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,kafka-1:9092")
	t.Setenv("ENTITY_TYPES", "patient,practitioner")
	t.Setenv("REDIS_POOL_SIZE", "32")
	t.Setenv("RECONCILE_GRACE", "not-a-duration")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 45*time.Second, cfg.CacheTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"patient", "practitioner"}, cfg.EntityTypes)
	assert.Equal(t, 32, cfg.Redis.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.ReconcileGrace)
}
