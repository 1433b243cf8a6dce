// Package service implements the entity store: it splits each record into
// an identity half and a clinical half, links them by pseudonym, and serves
// merged reads through a cache.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"privata/internal/classify"
	"privata/internal/entity/cache"
	"privata/internal/entity/journal"
	"privata/internal/entity/models"
	platformlogger "privata/internal/platform/logger"
	"privata/internal/platform/metrics"
	"privata/internal/schema"
	audit "privata/pkg/platform/audit"
	"privata/pkg/requestcontext"
)

var tracer = otel.Tracer("privata/entity")

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// IdentityStore holds identity and metadata fields keyed by entity id.
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (*models.IdentityRecord, error)
	FindMany(ctx context.Context, q models.Query) ([]*models.IdentityRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, rec *models.IdentityRecord) (*models.IdentityRecord, error)
	Update(ctx context.Context, id string, patch models.Patch) (*models.IdentityRecord, error)
	Delete(ctx context.Context, id string) error
}

// ClinicalStore holds sensitive fields keyed by pseudonym.
type ClinicalStore interface {
	FindByID(ctx context.Context, pseudonym string) (*models.ClinicalRecord, error)
	FindMany(ctx context.Context, q models.Query) ([]*models.ClinicalRecord, error)
	Exists(ctx context.Context, pseudonym string) (bool, error)
	Create(ctx context.Context, rec *models.ClinicalRecord) (*models.ClinicalRecord, error)
	Update(ctx context.Context, pseudonym string, patch models.Patch) (*models.ClinicalRecord, error)
	Delete(ctx context.Context, pseudonym string) error
}

// Cache holds serialized merged entities. Get returns sentinel.ErrNotFound
// on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// PseudonymGenerator mints and checks pseudonyms.
type PseudonymGenerator interface {
	Generate() (string, error)
	Validate(pseudonym string) bool
}

// Journal records cross-store write intents.
type Journal interface {
	Begin(ctx context.Context, intent *journal.Intent) error
	Mark(ctx context.Context, id string, status journal.Status, lastErr string, at time.Time) error
	ListPending(ctx context.Context, entityType string, before time.Time) ([]*journal.Intent, error)
	ListGaps(ctx context.Context, entityType string) ([]*journal.Intent, error)
	// Forget clears the pseudonym and recorded error from every settled intent
	// of an entity.
	Forget(ctx context.Context, entityType, entityID string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the entity store for a single entity type.
type Service struct {
	entityType string
	identity   IdentityStore
	clinical   ClinicalStore
	cache      Cache
	generator  PseudonymGenerator
	classifier *classify.Classifier

	schema          *schema.Schema
	journal         Journal
	logger          *slog.Logger
	metrics         *metrics.Metrics
	auditPublisher  AuditPublisher
	cacheTTL        time.Duration
	rules           []classify.Rule
	findConcurrency int
}

type Option func(s *Service)

// WithSchema classifies and validates records against s instead of the
// pattern rules.
func WithSchema(sc *schema.Schema) Option {
	return func(s *Service) {
		s.schema = sc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithJournal replaces the default in-memory journal.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithClassifierRules replaces the default field-name rules.
func WithClassifierRules(rules []classify.Rule) Option {
	return func(s *Service) {
		s.rules = rules
	}
}

// WithFindConcurrency bounds parallel clinical reads in Find.
func WithFindConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.findConcurrency = n
		}
	}
}

// New constructs the entity store for entityType.
func New(entityType string, identity IdentityStore, clinical ClinicalStore, c Cache, generator PseudonymGenerator, opts ...Option) (*Service, error) {
	if entityType == "" {
		return nil, errors.New("entity type is required")
	}
	if identity == nil || clinical == nil || c == nil || generator == nil {
		return nil, errors.New("identity store, clinical store, cache and pseudonym generator are required")
	}
	s := &Service{
		entityType:      entityType,
		identity:        identity,
		clinical:        clinical,
		cache:           c,
		generator:       generator,
		logger:          platformlogger.Discard(),
		cacheTTL:        cache.DefaultTTL,
		findConcurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.journal == nil {
		s.journal = journal.NewInMemoryStore()
	}
	var classifierOpts []classify.Option
	if s.rules != nil {
		classifierOpts = append(classifierOpts, classify.WithRules(s.rules))
	}
	classifier, err := classify.New(generator, classifierOpts...)
	if err != nil {
		return nil, err
	}
	s.classifier = classifier
	return s, nil
}

// EntityType returns the type this store serves.
func (s *Service) EntityType() string {
	return s.entityType
}

// Schema returns the registered schema, or nil when classification is
// pattern based.
func (s *Service) Schema() *schema.Schema {
	return s.schema
}

func (s *Service) fieldSets() *classify.FieldSets {
	if s.schema == nil {
		return nil
	}
	return s.schema.FieldSets()
}

// Timestamps are stored at microsecond precision in UTC so that every store
// and the cache round-trip them unchanged.
func (s *Service) now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
}

// clinicalTime coarsens timestamps written to the clinical store to the UTC
// day, so they cannot be joined against request-time audit events.
func clinicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func (s *Service) cacheKey(id string) string {
	return cache.Key(s.entityType, id)
}
