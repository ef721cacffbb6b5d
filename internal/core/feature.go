package core

import (
	"fmt"
	"time"

	"github.com/go-spatial/geom"

	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// Feature is one record of a feature type: a value per schema attribute plus
// an identifier.
type Feature struct {
	schema *Schema
	id     string
	values []interface{}
}

var _ filter.Record = (*Feature)(nil)

// NewFeature builds a feature; values must line up with the schema.
func NewFeature(schema *Schema, values []interface{}, id string) (*Feature, error) {
	if schema == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if len(values) != schema.Len() {
		return nil, fmt.Errorf("type %s expects %d values, got %d", schema.TypeName(), schema.Len(), len(values))
	}
	vals := make([]interface{}, len(values))
	copy(vals, values)
	return &Feature{schema: schema, id: id, values: vals}, nil
}

// ID returns the feature identifier.
func (f *Feature) ID() string { return f.id }

// SetID replaces the identifier.
func (f *Feature) SetID(id string) { f.id = id }

// Schema returns the feature's schema.
func (f *Feature) Schema() *Schema { return f.schema }

// Value returns the value at index i.
func (f *Feature) Value(i int) interface{} { return f.values[i] }

// SetValue replaces the value at index i.
func (f *Feature) SetValue(i int, v interface{}) { f.values[i] = v }

// Values returns a copy of the value vector.
func (f *Feature) Values() []interface{} {
	out := make([]interface{}, len(f.values))
	copy(out, f.values)
	return out
}

// Lookup returns the value of the named attribute.
func (f *Feature) Lookup(name string) (interface{}, bool) {
	i := f.schema.Index(name)
	if i < 0 {
		return nil, false
	}
	return f.values[i], true
}

// Get returns the value of the named attribute, or nil.
func (f *Feature) Get(name string) interface{} {
	v, _ := f.Lookup(name)
	return v
}

// Set replaces the value of the named attribute.
func (f *Feature) Set(name string, v interface{}) error {
	i := f.schema.Index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q in type %s", ErrAttributeNotFound, name, f.schema.TypeName())
	}
	f.values[i] = v
	return nil
}

// Clone returns an independent copy of f. Values are copied shallowly.
func (f *Feature) Clone() *Feature {
	return &Feature{schema: f.schema, id: f.id, values: f.Values()}
}

// DefaultGeometry returns the value of the first geometry attribute.
func (f *Feature) DefaultGeometry() geom.Geometry {
	i := f.schema.DefaultGeometry()
	if i < 0 || f.values[i] == nil {
		return nil
	}
	return f.values[i]
}

// Bounds returns the envelope of every geometry value, or nil.
func (f *Feature) Bounds() (*geom.Extent, error) {
	var out *geom.Extent
	for i := 0; i < f.schema.Len(); i++ {
		if !f.schema.Attribute(i).IsGeometry() || f.values[i] == nil {
			continue
		}
		env, err := filter.Envelope(f.values[i])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", f.schema.Attribute(i).Name, err)
		}
		out = filter.UnionExtents(out, env)
	}
	return out, nil
}

// Reshape projects f onto target, whose attributes must all exist in f's
// schema. The identifier is preserved.
func (f *Feature) Reshape(target *Schema) (*Feature, error) {
	if target == f.schema || target.SameAttributes(f.schema) {
		return &Feature{schema: target, id: f.id, values: f.Values()}, nil
	}
	values := make([]interface{}, target.Len())
	for i := 0; i < target.Len(); i++ {
		name := target.Attribute(i).Name
		src := f.schema.Index(name)
		if src < 0 {
			return nil, fmt.Errorf("%w: %q in type %s", ErrAttributeNotFound, name, f.schema.TypeName())
		}
		values[i] = f.values[src]
	}
	return &Feature{schema: target, id: f.id, values: values}, nil
}

// FeatureFactory builds features for the store. It is the seam through which
// a richer feature model can be plugged in.
type FeatureFactory interface {
	// Create builds a feature from a raw value vector and identifier.
	Create(schema *Schema, values []interface{}, id string) (*Feature, error)

	// Defaults returns the value vector of a new, empty feature.
	Defaults(schema *Schema) []interface{}
}

// DefaultFactory builds plain Features. Nullable attributes default to nil,
// the others to the zero value of their type.
type DefaultFactory struct{}

// Create implements FeatureFactory.
func (DefaultFactory) Create(schema *Schema, values []interface{}, id string) (*Feature, error) {
	return NewFeature(schema, values, id)
}

// Defaults implements FeatureFactory.
func (DefaultFactory) Defaults(schema *Schema) []interface{} {
	values := make([]interface{}, schema.Len())
	for i := 0; i < schema.Len(); i++ {
		a := schema.Attribute(i)
		if a.Nullable {
			continue
		}
		switch a.Type {
		case TypeText:
			values[i] = ""
		case TypeInteger:
			values[i] = int64(0)
		case TypeFloat:
			values[i] = float64(0)
		case TypeBoolean:
			values[i] = false
		case TypeDate:
			values[i] = time.Time{}
		}
	}
	return values
}
