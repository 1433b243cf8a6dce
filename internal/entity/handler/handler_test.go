package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"privata/internal/entity/handler/mocks"
	"privata/internal/entity/models"
	"privata/internal/platform/middleware"
	"privata/internal/schema"
	dErrors "privata/pkg/domain-errors"
	"privata/pkg/platform/httputil"
	"privata/pkg/requestcontext"
)

// =============================================================================
// Entity Handler Test Suite
// =============================================================================
// Verifies routing, status mapping and request parsing. Store behavior is
// mocked; the service suites cover it.

type tokenValidator struct {
	scopes []string
}

func (v tokenValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	if token != "good" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &middleware.JWTClaims{Subject: "svc-intake", Scopes: v.scopes}, nil
}

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	catalog *mocks.MockCatalog
	store   *mocks.MockStore
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.catalog = mocks.NewMockCatalog(s.ctrl)
	s.store = mocks.NewMockStore(s.ctrl)
	s.router = s.newRouter(ScopeRead, ScopeWrite)
}

func (s *HandlerSuite) newRouter(scopes ...string) chi.Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	New(s.catalog, logger, tokenValidator{scopes: scopes}).Register(r)
	return r
}

func (s *HandlerSuite) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Authorization", "Bearer good")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *HandlerSuite) expectPatientStore() {
	s.catalog.EXPECT().Store("patient").Return(s.store, nil)
}

func sampleEntity() *models.Entity {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.Entity{
		ID:        "ent-1",
		Pseudonym: "psn_1",
		Fields:    map[string]any{"firstName": "John", "diagnosis": "Hypertension"},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func (s *HandlerSuite) TestCreate() {
	s.Run("returns the merged entity", func() {
		s.expectPatientStore()
		s.store.EXPECT().Create(gomock.Any(), map[string]any{"firstName": "John", "diagnosis": "Hypertension"}).
			DoAndReturn(func(_ context.Context, _ map[string]any) (*models.Entity, error) {
				return sampleEntity(), nil
			})

		rr := s.do(http.MethodPost, "/v1/entities/patient", `{"firstName":"John","diagnosis":"Hypertension"}`)
		s.Equal(http.StatusCreated, rr.Code)
		s.Equal("/v1/entities/patient/ent-1", rr.Header().Get("Location"))
		var body map[string]any
		s.Require().NoError(json.NewDecoder(rr.Body).Decode(&body))
		s.Equal("ent-1", body["id"])
		s.Equal("Hypertension", body["diagnosis"])
	})

	s.Run("validation error lists violations", func() {
		s.expectPatientStore()
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, dErrors.NewValidation([]dErrors.Violation{
			{Field: "firstName", Rule: "required", Message: "is required"},
		}))

		rr := s.do(http.MethodPost, "/v1/entities/patient", `{}`)
		s.Equal(http.StatusBadRequest, rr.Code)
		var body httputil.ErrorResponse
		s.Require().NoError(json.NewDecoder(rr.Body).Decode(&body))
		s.Equal("validation_error", body.Error)
		s.Len(body.Violations, 1)
	})

	s.Run("malformed body", func() {
		s.expectPatientStore()
		rr := s.do(http.MethodPost, "/v1/entities/patient", `{"firstName":`)
		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.Run("non object body", func() {
		s.expectPatientStore()
		rr := s.do(http.MethodPost, "/v1/entities/patient", `null`)
		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.Run("store failure is a 500 without detail", func() {
		s.expectPatientStore()
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("pq: connection refused"))

		rr := s.do(http.MethodPost, "/v1/entities/patient", `{"firstName":"John"}`)
		s.Equal(http.StatusInternalServerError, rr.Code)
		s.NotContains(rr.Body.String(), "pq:")
	})

	s.Run("unknown entity type", func() {
		s.catalog.EXPECT().Store("invoice").Return(nil, dErrors.New(dErrors.CodeNotFound, `unknown entity type "invoice"`))
		rr := s.do(http.MethodPost, "/v1/entities/invoice", `{}`)
		s.Equal(http.StatusNotFound, rr.Code)
	})
}

func (s *HandlerSuite) TestFindByID() {
	s.Run("found", func() {
		s.expectPatientStore()
		s.store.EXPECT().FindByID(gomock.Any(), "ent-1").Return(sampleEntity(), nil)

		rr := s.do(http.MethodGet, "/v1/entities/patient/ent-1", "")
		s.Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), `"firstName":"John"`)
	})

	s.Run("null is 404", func() {
		s.expectPatientStore()
		s.store.EXPECT().FindByID(gomock.Any(), "ent-2").Return(nil, nil)

		rr := s.do(http.MethodGet, "/v1/entities/patient/ent-2", "")
		s.Equal(http.StatusNotFound, rr.Code)
	})

	s.Run("actor and request id reach the store", func() {
		s.expectPatientStore()
		s.store.EXPECT().FindByID(gomock.Any(), "ent-1").DoAndReturn(
			func(ctx context.Context, _ string) (*models.Entity, error) {
				s.Equal("svc-intake", requestcontext.Actor(ctx))
				s.NotEmpty(requestcontext.RequestID(ctx))
				return sampleEntity(), nil
			})
		s.do(http.MethodGet, "/v1/entities/patient/ent-1", "")
	})
}

func (s *HandlerSuite) TestFind() {
	s.Run("query parameters become filters", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(nil)
		s.store.EXPECT().Find(gomock.Any(), models.Query{
			Filters: map[string]any{"lastName": "Doe", "source": "web"},
			Limit:   10,
		}).Return([]*models.Entity{sampleEntity()}, nil)

		rr := s.do(http.MethodGet, "/v1/entities/patient?lastName=Doe&source=web&limit=10", "")
		s.Equal(http.StatusOK, rr.Code)
		var body FindResponse
		s.Require().NoError(json.NewDecoder(rr.Body).Decode(&body))
		s.Equal(1, body.Count)
		s.Equal("ent-1", body.Entities[0].ID)
	})

	s.Run("empty result is an empty list", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(nil)
		s.store.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, nil)

		rr := s.do(http.MethodGet, "/v1/entities/patient?lastName=Nobody", "")
		s.Equal(http.StatusOK, rr.Code)
		s.JSONEq(`{"entities":[],"count":0}`, rr.Body.String())
	})

	s.Run("bad limit", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(nil)
		rr := s.do(http.MethodGet, "/v1/entities/patient?limit=lots", "")
		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.Run("sensitive filter is rejected by the store", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(nil)
		s.store.EXPECT().Find(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeBadRequest, "cannot filter on sensitive field diagnosis"))

		rr := s.do(http.MethodGet, "/v1/entities/patient?diagnosis=Flu", "")
		s.Equal(http.StatusBadRequest, rr.Code)
	})

	s.Run("filters follow the declared field kind", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(typedSchema())
		s.store.EXPECT().Find(gomock.Any(), models.Query{
			Filters: map[string]any{"age": float64(30), "active": true, "lastName": "Doe", "source": "web"},
		}).Return([]*models.Entity{sampleEntity()}, nil)

		rr := s.do(http.MethodGet, "/v1/entities/patient?age=30&active=true&lastName=Doe&source=web", "")
		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("filter that does not parse as its kind", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(typedSchema())

		rr := s.do(http.MethodGet, "/v1/entities/patient?age=thirty", "")
		s.Equal(http.StatusBadRequest, rr.Code)
		s.Contains(rr.Body.String(), "filter age must be number")
	})
}

func typedSchema() *schema.Schema {
	return &schema.Schema{
		Name: "patient",
		Identity: map[string]schema.FieldSpec{
			"lastName": {Type: schema.KindString},
			"age":      {Type: schema.KindNumber},
		},
		Metadata: map[string]schema.FieldSpec{"active": {Type: schema.KindBoolean}},
	}
}

func (s *HandlerSuite) TestUpdate() {
	s.Run("null removes a field", func() {
		s.expectPatientStore()
		s.store.EXPECT().Update(gomock.Any(), "ent-1", map[string]any{"email": nil}).Return(sampleEntity(), nil)

		rr := s.do(http.MethodPatch, "/v1/entities/patient/ent-1", `{"email":null}`)
		s.Equal(http.StatusOK, rr.Code)
	})

	s.Run("not found", func() {
		s.expectPatientStore()
		s.store.EXPECT().Update(gomock.Any(), "missing", gomock.Any()).Return(nil, dErrors.New(dErrors.CodeNotFound, "entity not found"))

		rr := s.do(http.MethodPatch, "/v1/entities/patient/missing", `{"email":"x@y.z"}`)
		s.Equal(http.StatusNotFound, rr.Code)
	})

	s.Run("form body is refused", func() {
		req := httptest.NewRequest(http.MethodPatch, "/v1/entities/patient/ent-1", strings.NewReader("email=x"))
		req.Header.Set("Authorization", "Bearer good")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		s.Equal(http.StatusUnsupportedMediaType, rr.Code)
	})
}

func (s *HandlerSuite) TestDelete() {
	s.Run("full delete", func() {
		s.expectPatientStore()
		s.store.EXPECT().Delete(gomock.Any(), "ent-1", models.DeleteOptions{}).Return(nil)

		rr := s.do(http.MethodDelete, "/v1/entities/patient/ent-1", "")
		s.Equal(http.StatusNoContent, rr.Code)
	})

	s.Run("retention delete", func() {
		s.expectPatientStore()
		s.store.EXPECT().Delete(gomock.Any(), "ent-1", models.DeleteOptions{RetainSensitive: true}).Return(nil)

		rr := s.do(http.MethodDelete, "/v1/entities/patient/ent-1?retain_sensitive=true", "")
		s.Equal(http.StatusNoContent, rr.Code)
	})

	s.Run("bad retention flag", func() {
		s.expectPatientStore()
		rr := s.do(http.MethodDelete, "/v1/entities/patient/ent-1?retain_sensitive=maybe", "")
		s.Equal(http.StatusBadRequest, rr.Code)
	})
}

func (s *HandlerSuite) TestGetSchema() {
	s.Run("registered schema", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(&schema.Schema{
			Name:      "patient",
			Identity:  map[string]schema.FieldSpec{"firstName": {Type: schema.KindString, Required: true}},
			Sensitive: map[string]schema.FieldSpec{"diagnosis": {Type: schema.KindString}},
		})

		rr := s.do(http.MethodGet, "/v1/schemas/patient", "")
		s.Equal(http.StatusOK, rr.Code)
		s.Contains(rr.Body.String(), `"diagnosis"`)
	})

	s.Run("pattern classified type", func() {
		s.expectPatientStore()
		s.store.EXPECT().Schema().Return(nil)

		rr := s.do(http.MethodGet, "/v1/schemas/patient", "")
		s.Equal(http.StatusNotFound, rr.Code)
	})
}

func (s *HandlerSuite) TestAuth() {
	s.Run("missing token", func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/entities/patient/ent-1", nil)
		rr := httptest.NewRecorder()
		s.router.ServeHTTP(rr, req)
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("read-only token cannot write", func() {
		s.router = s.newRouter(ScopeRead)
		rr := s.do(http.MethodDelete, "/v1/entities/patient/ent-1", "")
		s.Equal(http.StatusForbidden, rr.Code)
	})
}
