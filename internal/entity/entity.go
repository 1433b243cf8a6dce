// Package entity groups one entity store per entity type behind a catalog
// that transports and the reconciler share.
package entity

import (
	"context"
	"fmt"
	"sync"

	"privata/internal/entity/models"
	"privata/internal/entity/service"
	"privata/internal/schema"
	dErrors "privata/pkg/domain-errors"
	pkgstrings "privata/pkg/platform/strings"
)

// Store is the operation set of a single entity type. *service.Service
// implements it.
type Store interface {
	EntityType() string
	Schema() *schema.Schema
	Create(ctx context.Context, data map[string]any) (*models.Entity, error)
	FindByID(ctx context.Context, id string) (*models.Entity, error)
	Find(ctx context.Context, q models.Query) ([]*models.Entity, error)
	Update(ctx context.Context, id string, updates map[string]any) (*models.Entity, error)
	Delete(ctx context.Context, id string, opts models.DeleteOptions) error
}

// Factory builds the store for entityType. sc is nil when the type has no
// registered schema and is classified by field-name rules.
type Factory func(entityType string, sc *schema.Schema) (*service.Service, error)

// Catalog holds the stores of every served entity type.
type Catalog struct {
	mu       sync.RWMutex
	services map[string]*service.Service
}

func NewCatalog() *Catalog {
	return &Catalog{services: make(map[string]*service.Service)}
}

// Build creates a catalog with one store per registered schema plus one per
// extra type. An extra type that also has a schema uses the schema.
func Build(reg *schema.Registry, extraTypes []string, factory Factory) (*Catalog, error) {
	c := NewCatalog()
	types := reg.Names()
	for _, t := range extraTypes {
		if !reg.Has(t) {
			types = append(types, t)
		}
	}
	for _, t := range types {
		var sc *schema.Schema
		if reg.Has(t) {
			var err error
			if sc, err = reg.Get(t); err != nil {
				return nil, err
			}
		}
		svc, err := factory(t, sc)
		if err != nil {
			return nil, fmt.Errorf("build %s store: %w", t, err)
		}
		if err := c.Register(svc); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds svc under its entity type.
func (c *Catalog) Register(svc *service.Service) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.services[svc.EntityType()]; ok {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("entity type %q is already served", svc.EntityType()))
	}
	c.services[svc.EntityType()] = svc
	return nil
}

// Store returns the store for entityType.
func (c *Catalog) Store(entityType string) (Store, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[entityType]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown entity type %q", entityType))
	}
	return svc, nil
}

// Types lists served entity types in lexical order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return pkgstrings.SortedKeys(c.services)
}

// Repairers returns every store for the reconciler.
func (c *Catalog) Repairers() []service.Repairer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]service.Repairer, 0, len(c.services))
	for _, t := range pkgstrings.SortedKeys(c.services) {
		out = append(out, c.services[t])
	}
	return out
}
