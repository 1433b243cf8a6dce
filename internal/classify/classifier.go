// Package classify splits a flat record into identity, sensitive and metadata
// groups and attaches the pseudonym that links the resulting halves.
package classify

import (
	"errors"
	"strings"
)

// Generator mints pseudonyms for new entities.
type Generator interface {
	Generate() (string, error)
}

// Separated is the outcome of classifying one record.
type Separated struct {
	Identity  map[string]any
	Sensitive map[string]any
	Metadata  map[string]any
	Pseudonym string
}

// Classifier applies an explicit schema when given one, and the ordered
// pattern rules otherwise.
type Classifier struct {
	matchers  []matcher
	generator Generator
}

// Option configures a Classifier.
type Option func(*classifierOptions)

type classifierOptions struct {
	rules []Rule
}

// WithRules replaces DefaultRules. Order matters: the first matching rule wins.
func WithRules(rules []Rule) Option {
	return func(o *classifierOptions) {
		o.rules = rules
	}
}

// New builds a Classifier.
func New(generator Generator, opts ...Option) (*Classifier, error) {
	if generator == nil {
		return nil, errors.New("pseudonym generator is required")
	}
	o := classifierOptions{rules: DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}
	matchers, err := compileRules(o.rules)
	if err != nil {
		return nil, err
	}
	return &Classifier{matchers: matchers, generator: generator}, nil
}

// GroupOf classifies a single field name.
func (c *Classifier) GroupOf(field string, sets *FieldSets) Group {
	if sets != nil {
		return sets.GroupOf(field)
	}
	lower := strings.ToLower(field)
	for _, m := range c.matchers {
		if m.glob.Match(lower) {
			return m.group
		}
	}
	return GroupMetadata
}

// Separate classifies the record of a new entity and mints its pseudonym.
// A nil record yields empty groups and a fresh pseudonym.
func (c *Classifier) Separate(record map[string]any, sets *FieldSets) (*Separated, error) {
	p, err := c.generator.Generate()
	if err != nil {
		return nil, err
	}
	return c.split(record, sets, p), nil
}

// SeparateExisting classifies a change to an existing entity. The entity's
// pseudonym is passed through unchanged; nothing is minted.
func (c *Classifier) SeparateExisting(record map[string]any, sets *FieldSets, pseudonym string) (*Separated, error) {
	if pseudonym == "" {
		return nil, errors.New("existing pseudonym is required to reclassify an entity")
	}
	return c.split(record, sets, pseudonym), nil
}

// Values are routed by their top-level key only; nested maps and slices move
// as a unit.
func (c *Classifier) split(record map[string]any, sets *FieldSets, pseudonym string) *Separated {
	out := &Separated{
		Identity:  map[string]any{},
		Sensitive: map[string]any{},
		Metadata:  map[string]any{},
		Pseudonym: pseudonym,
	}
	for field, value := range record {
		switch c.GroupOf(field, sets) {
		case GroupIdentity:
			out.Identity[field] = value
		case GroupSensitive:
			out.Sensitive[field] = value
		default:
			out.Metadata[field] = value
		}
	}
	return out
}
