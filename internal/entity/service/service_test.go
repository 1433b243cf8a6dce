package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"privata/internal/entity/cache"
	"privata/internal/entity/journal"
	"privata/internal/entity/models"
	"privata/internal/entity/store/clinical"
	"privata/internal/entity/store/identity"
	"privata/internal/pseudonym"
	"privata/internal/schema"
	dErrors "privata/pkg/domain-errors"
	audit "privata/pkg/platform/audit"
	auditmemory "privata/pkg/platform/audit/store/memory"
	"privata/pkg/platform/sentinel"
	"privata/pkg/requestcontext"
)

// =============================================================================
// Entity Service Test Suite
// =============================================================================
// Runs the service against the in-memory stores so the split, merge and cache
// behavior is observed end to end. Failure paths live in service_mock_test.go.

type ServiceSuite struct {
	suite.Suite
	identity *identity.InMemoryStore
	clinical *clinical.InMemoryStore
	cache    *cache.InMemoryCache
	journal  *journal.InMemoryStore
	audit    *auditmemory.InMemoryStore
	service  *Service
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.identity = identity.NewInMemoryStore()
	s.clinical = clinical.NewInMemoryStore()
	s.cache = cache.NewInMemoryCache()
	s.journal = journal.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.service = s.newService()
	s.ctx = requestcontext.WithRequestID(context.Background(), "req-1")
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	gen, err := pseudonym.NewKeyed([]byte("0123456789abcdef0123456789abcdef"))
	s.Require().NoError(err)
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithJournal(s.journal),
		WithAuditPublisher(auditStore{s.audit}),
	}
	svc, err := New("patient", s.identity, s.clinical, s.cache, gen, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

type auditStore struct {
	store *auditmemory.InMemoryStore
}

func (a auditStore) Emit(ctx context.Context, event audit.Event) error {
	return a.store.Append(ctx, event)
}

func johnDoe() map[string]any {
	return map[string]any{
		"firstName": "John",
		"lastName":  "Doe",
		"email":     "john@x.com",
		"diagnosis": "Hypertension",
	}
}

func (s *ServiceSuite) TestNew() {
	gen := pseudonym.NewUUID()

	s.Run("entity type is required", func() {
		_, err := New("", s.identity, s.clinical, s.cache, gen)
		s.ErrorContains(err, "entity type is required")
	})

	s.Run("collaborators are required", func() {
		_, err := New("patient", nil, s.clinical, s.cache, gen)
		s.Error(err)
		_, err = New("patient", s.identity, s.clinical, s.cache, nil)
		s.Error(err)
	})

	s.Run("defaults", func() {
		svc, err := New("patient", s.identity, s.clinical, s.cache, gen)
		s.Require().NoError(err)
		s.Equal("patient", svc.EntityType())
		s.Nil(svc.Schema())
		s.Equal(cache.DefaultTTL, svc.cacheTTL)
		s.NotNil(svc.journal)
	})
}

func (s *ServiceSuite) TestScenario() {
	created, err := s.service.Create(s.ctx, johnDoe())
	s.Require().NoError(err)
	s.NotEmpty(created.ID)
	s.Equal(johnDoe(), created.Fields)

	idRec, err := s.identity.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(map[string]any{"firstName": "John", "lastName": "Doe", "email": "john@x.com"}, idRec.Fields)
	s.Equal(created.Pseudonym, idRec.Pseudonym)

	clinRec, err := s.clinical.FindByID(s.ctx, created.Pseudonym)
	s.Require().NoError(err)
	s.Equal(map[string]any{"diagnosis": "Hypertension"}, clinRec.Fields)

	found, err := s.service.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(johnDoe(), found.Fields)

	s.Require().NoError(s.service.Delete(s.ctx, created.ID, models.DeleteOptions{}))

	_, err = s.identity.FindByID(s.ctx, created.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.clinical.FindByID(s.ctx, created.Pseudonym)
	s.ErrorIs(err, sentinel.ErrNotFound)

	gone, err := s.service.FindByID(s.ctx, created.ID)
	s.NoError(err)
	s.Nil(gone)
}

func (s *ServiceSuite) TestRoundTrip() {
	created, err := s.service.Create(s.ctx, map[string]any{
		"firstName": "Ada",
		"age":       36,
		"allergies": []string{"penicillin"},
		"source":    "intake",
	})
	s.Require().NoError(err)
	s.Equal(float64(36), created.Fields["age"])
	s.Equal([]any{"penicillin"}, created.Fields["allergies"])

	s.Run("from cache", func() {
		found, err := s.service.FindByID(s.ctx, created.ID)
		s.Require().NoError(err)
		s.Equal(created, found)
	})

	s.Run("from stores", func() {
		s.Require().NoError(s.cache.Invalidate(s.ctx, cache.Key("patient", created.ID)))
		found, err := s.service.FindByID(s.ctx, created.ID)
		s.Require().NoError(err)
		s.Equal(created, found)
		s.Equal(1, s.cache.Len())
	})
}

func (s *ServiceSuite) TestCreate() {
	s.Run("reserved keys are ignored", func() {
		created, err := s.service.Create(s.ctx, map[string]any{
			"id":        "chosen-by-caller",
			"pseudonym": "psn_forged",
			"createdAt": "1999-01-01T00:00:00Z",
			"firstName": "Grace",
		})
		s.Require().NoError(err)
		s.NotEqual("chosen-by-caller", created.ID)
		s.NotEqual("psn_forged", created.Pseudonym)
		s.Equal(map[string]any{"firstName": "Grace"}, created.Fields)
	})

	s.Run("no sensitive fields writes no clinical record", func() {
		created, err := s.service.Create(s.ctx, map[string]any{"firstName": "Linus", "source": "api"})
		s.Require().NoError(err)
		exists, err := s.clinical.Exists(s.ctx, created.Pseudonym)
		s.Require().NoError(err)
		s.False(exists)
	})

	s.Run("timestamps come from the request", func() {
		at := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.FixedZone("CET", 3600))
		created, err := s.service.Create(requestcontext.WithTime(s.ctx, at), map[string]any{"firstName": "Tim"})
		s.Require().NoError(err)
		want := at.UTC().Truncate(time.Microsecond)
		s.Equal(want, created.CreatedAt)
		s.Equal(want, created.UpdatedAt)
	})

	s.Run("journal intent is committed", func() {
		gaps, err := s.service.Gaps(s.ctx)
		s.Require().NoError(err)
		s.Empty(gaps)
	})

	s.Run("emits audit event without field values", func() {
		s.audit.Clear()
		created, err := s.service.Create(s.ctx, johnDoe())
		s.Require().NoError(err)
		events, err := s.audit.ListByEntity(s.ctx, "patient", created.ID)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventEntityCreated), events[0].Action)
		s.Equal(audit.CategoryCompliance, events[0].Category)
		s.Equal("req-1", events[0].RequestID)
		s.Empty(events[0].Reason)
	})
}

func (s *ServiceSuite) TestCreateWithSchema() {
	sc, err := schema.Parse([]byte(`
name: patient
identity:
  firstName: {type: string, required: true}
sensitive:
  bloodType: {type: string}
metadata:
  source: {type: string, default: api}
`))
	s.Require().NoError(err)
	svc := s.newService(WithSchema(sc))

	s.Run("validation error lists every violation and writes nothing", func() {
		_, err := svc.Create(s.ctx, map[string]any{"bloodType": 7})
		s.Require().True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Len(dErrors.ViolationsOf(err), 2)
		recs, err := s.identity.FindMany(s.ctx, models.Query{})
		s.Require().NoError(err)
		s.Empty(recs)
	})

	s.Run("schema classifies declared fields and applies defaults", func() {
		created, err := svc.Create(s.ctx, map[string]any{"firstName": "Ada", "bloodType": "O-"})
		s.Require().NoError(err)
		s.Equal("api", created.Fields["source"])

		clinRec, err := s.clinical.FindByID(s.ctx, created.Pseudonym)
		s.Require().NoError(err)
		s.Equal(map[string]any{"bloodType": "O-"}, clinRec.Fields)
	})

	s.Run("required field cannot be cleared on update", func() {
		created, err := svc.Create(s.ctx, map[string]any{"firstName": "Ada"})
		s.Require().NoError(err)
		_, err = svc.Update(s.ctx, created.ID, map[string]any{"firstName": nil})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("missing entity is not found even with an invalid payload", func() {
		_, err := svc.Update(s.ctx, "missing", map[string]any{"firstName": nil, "bloodType": 7})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Empty(dErrors.ViolationsOf(err))
	})
}

func (s *ServiceSuite) TestClassificationPrecedence() {
	created, err := s.service.Create(s.ctx, map[string]any{"emailAddress": "a@b.c", "medicalEmail": "x@y.z"})
	s.Require().NoError(err)

	idRec, err := s.identity.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Contains(idRec.Fields, "emailAddress")
	s.Contains(idRec.Fields, "medicalEmail")
	exists, err := s.clinical.Exists(s.ctx, created.Pseudonym)
	s.Require().NoError(err)
	s.False(exists)
}

func (s *ServiceSuite) TestUpdate() {
	s.Run("pseudonym is stable across updates", func() {
		created, err := s.service.Create(s.ctx, johnDoe())
		s.Require().NoError(err)
		for i := range 5 {
			updated, err := s.service.Update(s.ctx, created.ID, map[string]any{
				"diagnosis": fmt.Sprintf("stage %d", i),
				"lastName":  fmt.Sprintf("Doe-%d", i),
			})
			s.Require().NoError(err)
			s.Equal(created.Pseudonym, updated.Pseudonym)
		}
		clinRec, err := s.clinical.FindByID(s.ctx, created.Pseudonym)
		s.Require().NoError(err)
		s.Equal("stage 4", clinRec.Fields["diagnosis"])
	})

	s.Run("next read reflects the update", func() {
		created, err := s.service.Create(s.ctx, johnDoe())
		s.Require().NoError(err)
		_, err = s.service.FindByID(s.ctx, created.ID)
		s.Require().NoError(err)

		_, err = s.service.Update(s.ctx, created.ID, map[string]any{"diagnosis": "Resolved"})
		s.Require().NoError(err)

		found, err := s.service.FindByID(s.ctx, created.ID)
		s.Require().NoError(err)
		s.Equal("Resolved", found.Fields["diagnosis"])
		s.Equal("John", found.Fields["firstName"])
	})

	s.Run("null removes a field", func() {
		created, err := s.service.Create(s.ctx, johnDoe())
		s.Require().NoError(err)
		updated, err := s.service.Update(s.ctx, created.ID, map[string]any{"email": nil, "diagnosis": nil})
		s.Require().NoError(err)
		s.NotContains(updated.Fields, "email")
		s.NotContains(updated.Fields, "diagnosis")
		s.Equal("John", updated.Fields["firstName"])
	})

	s.Run("first sensitive field creates the clinical record", func() {
		created, err := s.service.Create(s.ctx, map[string]any{"firstName": "Ada"})
		s.Require().NoError(err)
		updated, err := s.service.Update(s.ctx, created.ID, map[string]any{"allergies": []string{"latex"}})
		s.Require().NoError(err)
		s.Equal([]any{"latex"}, updated.Fields["allergies"])
		exists, err := s.clinical.Exists(s.ctx, created.Pseudonym)
		s.Require().NoError(err)
		s.True(exists)
	})

	s.Run("updatedAt moves, createdAt does not", func() {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		created, err := s.service.Create(requestcontext.WithTime(s.ctx, t0), johnDoe())
		s.Require().NoError(err)
		t1 := t0.Add(time.Hour)
		updated, err := s.service.Update(requestcontext.WithTime(s.ctx, t1), created.ID, map[string]any{})
		s.Require().NoError(err)
		s.Equal(t0, updated.CreatedAt)
		s.Equal(t1, updated.UpdatedAt)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.service.Update(s.ctx, "missing", map[string]any{"firstName": "X"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestDelete() {
	s.Run("compliance delete keeps the clinical record", func() {
		created, err := s.service.Create(s.ctx, johnDoe())
		s.Require().NoError(err)
		_, err = s.service.FindByID(s.ctx, created.ID)
		s.Require().NoError(err)

		s.Require().NoError(s.service.Delete(s.ctx, created.ID, models.DeleteOptions{RetainSensitive: true}))

		found, err := s.service.FindByID(s.ctx, created.ID)
		s.Require().NoError(err)
		s.Nil(found)

		clinRec, err := s.clinical.FindByID(s.ctx, created.Pseudonym)
		s.Require().NoError(err)
		s.Equal("Hypertension", clinRec.Fields["diagnosis"])

		events, err := s.audit.ListByEntity(s.ctx, "patient", created.ID)
		s.Require().NoError(err)
		s.Equal(string(audit.EventEntityErased), events[len(events)-1].Action)
	})

	s.Run("compliance delete unlinks the id from the pseudonym in the journal", func() {
		created, err := s.service.Create(s.ctx, johnDoe())
		s.Require().NoError(err)
		_, err = s.service.Update(s.ctx, created.ID, map[string]any{"diagnosis": "Resolved"})
		s.Require().NoError(err)

		s.Require().NoError(s.service.Delete(s.ctx, created.ID, models.DeleteOptions{RetainSensitive: true}))

		intents, err := s.journal.ListByEntity(s.ctx, "patient", created.ID)
		s.Require().NoError(err)
		s.Len(intents, 3)
		for _, intent := range intents {
			s.NotEqual(created.Pseudonym, intent.Pseudonym, "%s intent", intent.Op)
		}
	})

	s.Run("plain delete keeps the journal trail", func() {
		created, err := s.service.Create(s.ctx, johnDoe())
		s.Require().NoError(err)
		s.Require().NoError(s.service.Delete(s.ctx, created.ID, models.DeleteOptions{}))

		intents, err := s.journal.ListByEntity(s.ctx, "patient", created.ID)
		s.Require().NoError(err)
		s.Require().Len(intents, 2)
		for _, intent := range intents {
			s.Equal(created.Pseudonym, intent.Pseudonym, "%s intent", intent.Op)
		}
	})

	s.Run("clinical timestamps are coarsened to the day", func() {
		at := time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)
		created, err := s.service.Create(requestcontext.WithTime(s.ctx, at), johnDoe())
		s.Require().NoError(err)

		rec, err := s.clinical.FindByID(s.ctx, created.Pseudonym)
		s.Require().NoError(err)
		day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		s.Equal(day, rec.CreatedAt)
		s.Equal(day, rec.UpdatedAt)
	})

	s.Run("unknown id is not found", func() {
		err := s.service.Delete(s.ctx, "missing", models.DeleteOptions{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("entity without clinical record", func() {
		created, err := s.service.Create(s.ctx, map[string]any{"firstName": "Ada"})
		s.Require().NoError(err)
		s.NoError(s.service.Delete(s.ctx, created.ID, models.DeleteOptions{}))
	})
}

func (s *ServiceSuite) TestFind() {
	alice, err := s.service.Create(s.ctx, map[string]any{"firstName": "Alice", "source": "web", "diagnosis": "Asthma"})
	s.Require().NoError(err)
	_, err = s.service.Create(s.ctx, map[string]any{"firstName": "Bob", "source": "web"})
	s.Require().NoError(err)
	_, err = s.service.Create(s.ctx, map[string]any{"firstName": "Carol", "source": "fax"})
	s.Require().NoError(err)

	s.Run("exact match merges clinical fields", func() {
		found, err := s.service.Find(s.ctx, models.Query{Filters: map[string]any{"firstName": "Alice"}})
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(alice.ID, found[0].ID)
		s.Equal("Asthma", found[0].Fields["diagnosis"])
	})

	s.Run("metadata filter and limit", func() {
		found, err := s.service.Find(s.ctx, models.Query{Filters: map[string]any{"source": "web"}})
		s.Require().NoError(err)
		s.Len(found, 2)

		found, err = s.service.Find(s.ctx, models.Query{Filters: map[string]any{"source": "web"}, Limit: 1})
		s.Require().NoError(err)
		s.Len(found, 1)
	})

	s.Run("no match", func() {
		found, err := s.service.Find(s.ctx, models.Query{Filters: map[string]any{"firstName": "Zed"}})
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("sensitive and reserved filters are rejected", func() {
		_, err := s.service.Find(s.ctx, models.Query{Filters: map[string]any{"diagnosis": "Asthma"}})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		_, err = s.service.Find(s.ctx, models.Query{Filters: map[string]any{"pseudonym": alice.Pseudonym}})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestConcurrentCreates() {
	const n = 10
	var wg sync.WaitGroup
	results := make([]*models.Entity, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.service.Create(s.ctx, map[string]any{
				"firstName": fmt.Sprintf("patient-%d", i),
				"diagnosis": fmt.Sprintf("dx-%d", i),
			})
		}()
	}
	wg.Wait()

	ids := map[string]struct{}{}
	pseudonyms := map[string]struct{}{}
	for i := range n {
		s.Require().NoError(errs[i])
		ids[results[i].ID] = struct{}{}
		pseudonyms[results[i].Pseudonym] = struct{}{}
	}
	s.Len(ids, n)
	s.Len(pseudonyms, n)
}

func (s *ServiceSuite) TestCorruptCacheEntryIsAMiss() {
	created, err := s.service.Create(s.ctx, johnDoe())
	s.Require().NoError(err)
	key := cache.Key("patient", created.ID)
	s.Require().NoError(s.cache.Set(s.ctx, key, []byte("{not json"), time.Minute))

	found, err := s.service.FindByID(s.ctx, created.ID)
	s.Require().NoError(err)
	s.Equal(johnDoe(), found.Fields)

	raw, err := s.cache.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Contains(string(raw), created.ID)
}
