package core

import (
	"fmt"

	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// Unlimited is the MaxFeatures value meaning "no limit".
const Unlimited = 0

// SortBy orders results on one attribute.
type SortBy struct {
	Attribute  string
	Descending bool
}

// Query is a declarative request for features of one type.
type Query struct {
	// TypeName selects the feature type (table).
	TypeName string

	// Filter restricts the result. nil means every feature.
	Filter filter.Predicate

	// Properties lists the requested attributes in the order they should be
	// returned. nil means all attributes in schema order.
	Properties []string

	// MaxFeatures caps the number of returned features. Unlimited (0) means
	// no cap.
	MaxFeatures int

	// Handle is a free-form label used in logs.
	Handle string

	// SortBy orders the result.
	SortBy []SortBy
}

// AllProperties reports whether the query requests every attribute.
func (q Query) AllProperties() bool {
	return q.Properties == nil
}

// Validate checks every attribute name the query references against schema.
func (q Query) Validate(schema *Schema) error {
	if q.MaxFeatures < 0 {
		return fmt.Errorf("query %q: negative max features %d", q.Handle, q.MaxFeatures)
	}
	check := func(name string) error {
		if schema.Index(name) < 0 {
			return fmt.Errorf("%w: %q in type %s", ErrAttributeNotFound, name, schema.TypeName())
		}
		return nil
	}
	for _, name := range q.Properties {
		if err := check(name); err != nil {
			return err
		}
	}
	for _, name := range filter.Attributes(q.Filter) {
		if err := check(name); err != nil {
			return err
		}
	}
	for _, s := range q.SortBy {
		if err := check(s.Attribute); err != nil {
			return err
		}
	}
	return nil
}
