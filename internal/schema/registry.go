package schema

import (
	"fmt"
	"sync"

	dErrors "privata/pkg/domain-errors"
	pkgstrings "privata/pkg/platform/strings"
)

// Registry holds one schema per entity type.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema under name. Names are registered once; a schema
// with nothing to protect is refused.
func (r *Registry) Register(name string, s *Schema) error {
	if name == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "schema name is required")
	}
	if s == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "schema is required")
	}
	s.Name = name
	if err := s.check(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid schema")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[name]; ok {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("schema %q is already registered", name))
	}
	r.schemas[name] = s
	return nil
}

// Get returns the schema registered under name.
func (r *Registry) Get(name string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("schema %q not found", name))
	}
	return s, nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[name]
	return ok
}

// Names lists registered entity types in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return pkgstrings.SortedKeys(r.schemas)
}
