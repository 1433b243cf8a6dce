// Package handler exposes the entity catalog over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"privata/internal/entity"
	"privata/internal/entity/models"
	"privata/internal/platform/middleware"
	dErrors "privata/pkg/domain-errors"
	"privata/pkg/platform/httputil"
	"privata/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks
//go:generate mockgen -destination=mocks/store.go -package=mocks privata/internal/entity Store

const (
	ScopeRead  = "entities:read"
	ScopeWrite = "entities:write"

	maxBodyBytes = 1 << 20
	maxLimit     = 500
)

// Catalog resolves the store for an entity type.
type Catalog interface {
	Store(entityType string) (entity.Store, error)
}

// Handler serves /v1/entities and /v1/schemas.
type Handler struct {
	catalog      Catalog
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
	timeout      time.Duration
}

func New(catalog Catalog, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		catalog:      catalog,
		logger:       logger,
		jwtValidator: jwtValidator,
		timeout:      30 * time.Second,
	}
}

// Register mounts the entity routes on r.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(middleware.Logger(h.logger))
	router.Use(chimw.Timeout(h.timeout))
	router.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	router.Route("/v1/entities/{type}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(ScopeRead, h.logger))
			r.Get("/", h.handleFind)
			r.Get("/{id}", h.handleFindByID)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(ScopeWrite, h.logger))
			r.Use(middleware.RequireJSON)
			r.Post("/", h.handleCreate)
			r.Patch("/{id}", h.handleUpdate)
			r.Delete("/{id}", h.handleDelete)
		})
	})
	router.With(middleware.RequireScope(ScopeRead, h.logger)).Get("/v1/schemas/{type}", h.handleGetSchema)

	r.Mount("/", router)
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) (entity.Store, bool) {
	store, err := h.catalog.Store(chi.URLParam(r, "type"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return store, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	created, err := store.Create(r.Context(), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+created.ID)
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleFindByID(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	found, err := store.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if found == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "entity not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, found)
}

// handleFind treats every query parameter except limit as an exact-match
// filter, typed by the store's schema when it has one.
func (h *Handler) handleFind(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	q, err := parseQuery(r, store.Schema())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	found, err := store.Find(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if found == nil {
		found = []*models.Entity{}
	}
	httputil.WriteJSON(w, http.StatusOK, FindResponse{Entities: found, Count: len(found)})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	data, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	updated, err := store.Update(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	var opts models.DeleteOptions
	if raw := r.URL.Query().Get("retain_sensitive"); raw != "" {
		retain, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, dErrors.New(dErrors.CodeBadRequest, "retain_sensitive must be a boolean"))
			return
		}
		opts.RetainSensitive = retain
	}
	if err := store.Delete(r.Context(), chi.URLParam(r, "id"), opts); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}
	sc := store.Schema()
	if sc == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "entity type has no registered schema"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sc)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var data map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&data); err != nil {
		var tooLarge *http.MaxBytesError
		msg := "invalid request body"
		if errors.As(err, &tooLarge) {
			msg = "request body too large"
		} else if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		h.logger.WarnContext(r.Context(), "invalid entity request",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
		return nil, false
	}
	if data == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body must be a JSON object"))
		return nil, false
	}
	return data, true
}

// writeError logs failures the caller cannot fix. Messages never include
// field values.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if httputil.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "entity request failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"entity_type", chi.URLParam(r, "type"),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
