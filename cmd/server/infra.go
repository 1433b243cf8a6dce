package main

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"privata/internal/entity"
	"privata/internal/entity/cache"
	"privata/internal/entity/events"
	"privata/internal/entity/journal"
	"privata/internal/entity/service"
	"privata/internal/entity/store/clinical"
	"privata/internal/entity/store/identity"
	"privata/internal/platform/config"
	"privata/internal/platform/gormdb"
	"privata/internal/platform/metrics"
	"privata/internal/platform/postgres"
	"privata/internal/platform/redis"
	"privata/internal/pseudonym"
	"privata/internal/schema"
	audit "privata/pkg/platform/audit"
	"privata/pkg/platform/audit/publisher"
	auditmemory "privata/pkg/platform/audit/store/memory"
	"privata/pkg/platform/circuit"
)

// infra holds the connections shared by every entity type. Nil fields mean
// the in-process fallback is used.
type infra struct {
	identityDB *sql.DB
	clinicalDB *gorm.DB
	redis      *redis.Client
	kafka      *events.KafkaPublisher

	generator service.PseudonymGenerator
	cache     service.Cache
	journal   service.Journal
	audit     *publisher.Publisher

	migrateOnce sync.Once
	migrateErr  error
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *infra, err error) {
	in := &infra{}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	if cfg.PseudonymKey != "" {
		keyed, err := pseudonym.NewKeyed([]byte(cfg.PseudonymKey))
		if err != nil {
			return nil, err
		}
		in.generator = keyed
	} else {
		log.Warn("PSEUDONYM_KEY not set; pseudonyms are unsigned UUIDs")
		in.generator = pseudonym.NewUUID()
	}

	if cfg.IdentityDatabaseURL != "" {
		if in.identityDB, err = postgres.Open(ctx, postgres.DefaultPoolConfig(cfg.IdentityDatabaseURL)); err != nil {
			return nil, err
		}
		if err = postgres.Migrate(ctx, in.identityDB); err != nil {
			return nil, err
		}
		in.journal = journal.NewPostgres(in.identityDB)
	} else {
		log.Warn("IDENTITY_DATABASE_URL not set; identity records are kept in memory")
		in.journal = journal.NewInMemoryStore()
	}

	switch {
	case cfg.ClinicalDatabaseURL != "":
		in.clinicalDB, err = gormdb.OpenPostgres(cfg.ClinicalDatabaseURL)
	case cfg.ClinicalSQLitePath != "":
		in.clinicalDB, err = gormdb.OpenSQLite(cfg.ClinicalSQLitePath)
	default:
		log.Warn("no clinical database configured; clinical records are kept in memory")
	}
	if err != nil {
		return nil, err
	}

	if in.redis, err = redis.New(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if in.redis != nil {
		in.cache = cache.NewRedisCache(in.redis.Client)
	} else {
		in.cache = cache.NewInMemoryCache()
	}

	var sink audit.Store = auditmemory.NewInMemoryStore(auditmemory.WithCapacity(10_000))
	if len(cfg.Kafka.Brokers) > 0 {
		if in.kafka, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic); err != nil {
			return nil, err
		}
		if err = in.kafka.EnsureTopic(ctx, 3, 1); err != nil {
			return nil, err
		}
		breaker := circuit.New("kafka-audit", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second))
		sink = events.NewGuardedSink(in.kafka, events.NewLogSink(log), breaker, log)
	}
	in.audit = publisher.NewPublisher(sink, publisher.WithAsyncBuffer(1024), publisher.WithLogger(log))
	return in, nil
}

// factory builds entity stores over the shared connections.
func (in *infra) factory(cfg config.Server, m *metrics.Metrics, log *slog.Logger) entity.Factory {
	return func(entityType string, sc *schema.Schema) (*service.Service, error) {
		var identityStore service.IdentityStore = identity.NewInMemoryStore()
		if in.identityDB != nil {
			identityStore = identity.NewPostgres(in.identityDB, entityType)
		}

		var clinicalStore service.ClinicalStore = clinical.NewInMemoryStore()
		if in.clinicalDB != nil {
			gs := clinical.NewGorm(in.clinicalDB, entityType)
			in.migrateOnce.Do(func() {
				in.migrateErr = gs.AutoMigrate(context.Background())
			})
			if in.migrateErr != nil {
				return nil, in.migrateErr
			}
			clinicalStore = gs
		}

		opts := []service.Option{
			service.WithLogger(log),
			service.WithMetrics(m),
			service.WithAuditPublisher(in.audit),
			service.WithJournal(in.journal),
			service.WithCacheTTL(cfg.CacheTTL),
		}
		if sc != nil {
			opts = append(opts, service.WithSchema(sc))
		}
		return service.New(entityType, identityStore, clinicalStore, in.cache, in.generator, opts...)
	}
}

// Health reports each configured dependency as "ok" or an error message.
func (in *infra) Health(ctx context.Context) map[string]string {
	checks := map[string]string{}
	record := func(name string, err error) {
		if err != nil {
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if in.identityDB != nil {
		record("identity_db", in.identityDB.PingContext(ctx))
	}
	if in.clinicalDB != nil {
		sqlDB, err := in.clinicalDB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		record("clinical_db", err)
	}
	if in.redis != nil {
		record("cache", in.redis.Health(ctx))
	}
	if in.kafka != nil {
		record("audit_sink", in.kafka.Ping(ctx))
	}
	return checks
}

// Close flushes pending audit events before releasing connections.
func (in *infra) Close() {
	if in.audit != nil {
		in.audit.Close()
	}
	if in.kafka != nil {
		in.kafka.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.clinicalDB != nil {
		if sqlDB, err := in.clinicalDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if in.identityDB != nil {
		_ = in.identityDB.Close()
	}
}
