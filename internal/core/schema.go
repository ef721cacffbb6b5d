package core

import (
	"fmt"
	"strings"
)

// ValueType is the semantic tag of an attribute's values.
type ValueType int

const (
	TypeOther ValueType = iota
	TypeText
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeDate
	TypeGeometry
)

var valueTypeNames = map[ValueType]string{
	TypeOther:    "other",
	TypeText:     "text",
	TypeInteger:  "integer",
	TypeFloat:    "float",
	TypeBoolean:  "boolean",
	TypeDate:     "date",
	TypeGeometry: "geometry",
}

func (t ValueType) String() string {
	if s, ok := valueTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// ParseValueType is the inverse of ValueType.String.
func ParseValueType(s string) (ValueType, error) {
	for t, name := range valueTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return TypeOther, fmt.Errorf("unknown value type %q", s)
}

// UnknownSRID marks an attribute without a spatial reference.
const UnknownSRID = -1

// AttributeDescriptor describes one attribute of a feature type.
type AttributeDescriptor struct {
	// Name is the attribute name, which is also the column name.
	Name string

	// Type is the semantic value type.
	Type ValueType

	// Nullable indicates whether the attribute may hold nil.
	Nullable bool

	// SRID is the spatial reference of geometry attributes, UnknownSRID otherwise.
	SRID int

	// SQLType is the database type the attribute was discovered from, if any.
	SQLType string
}

// IsGeometry reports whether the attribute holds geometries.
func (a AttributeDescriptor) IsGeometry() bool {
	return a.Type == TypeGeometry
}

// Schema is the ordered, name-unique attribute list of a feature type. The
// attribute order is the index space used everywhere values are addressed by
// position.
type Schema struct {
	typeName   string
	attributes []AttributeDescriptor
	index      map[string]int
}

// NewSchema validates attrs and builds a schema.
func NewSchema(typeName string, attrs []AttributeDescriptor) (*Schema, error) {
	if typeName == "" {
		return nil, fmt.Errorf("type name cannot be empty")
	}
	s := &Schema{
		typeName:   typeName,
		attributes: make([]AttributeDescriptor, len(attrs)),
		index:      make(map[string]int, len(attrs)),
	}
	for i, a := range attrs {
		if a.Name == "" {
			return nil, fmt.Errorf("type %s: attribute %d has no name", typeName, i)
		}
		if _, dup := s.index[a.Name]; dup {
			return nil, fmt.Errorf("type %s: duplicate attribute %q", typeName, a.Name)
		}
		if a.Type != TypeGeometry {
			a.SRID = UnknownSRID
		}
		s.attributes[i] = a
		s.index[a.Name] = i
	}
	return s, nil
}

// MustSchema is NewSchema for statically known schemas; it panics on error.
func MustSchema(typeName string, attrs ...AttributeDescriptor) *Schema {
	s, err := NewSchema(typeName, attrs)
	if err != nil {
		panic(err)
	}
	return s
}

// TypeName returns the feature type name.
func (s *Schema) TypeName() string { return s.typeName }

// Len returns the number of attributes.
func (s *Schema) Len() int { return len(s.attributes) }

// Attribute returns the descriptor at index i.
func (s *Schema) Attribute(i int) AttributeDescriptor { return s.attributes[i] }

// Attributes returns a copy of the descriptors.
func (s *Schema) Attributes() []AttributeDescriptor {
	out := make([]AttributeDescriptor, len(s.attributes))
	copy(out, s.attributes)
	return out
}

// Index returns the position of name, or -1.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Lookup returns the descriptor called name.
func (s *Schema) Lookup(name string) (AttributeDescriptor, bool) {
	i, ok := s.index[name]
	if !ok {
		return AttributeDescriptor{}, false
	}
	return s.attributes[i], true
}

// Names returns the attribute names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.attributes))
	for i, a := range s.attributes {
		names[i] = a.Name
	}
	return names
}

// DefaultGeometry returns the index of the first geometry attribute, or -1.
func (s *Schema) DefaultGeometry() int {
	for i, a := range s.attributes {
		if a.IsGeometry() {
			return i
		}
	}
	return -1
}

// Subset builds a schema with the named attributes in the given order.
func (s *Schema) Subset(names []string) (*Schema, error) {
	attrs := make([]AttributeDescriptor, 0, len(names))
	for _, name := range names {
		a, ok := s.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q in type %s", ErrAttributeNotFound, name, s.typeName)
		}
		attrs = append(attrs, a)
	}
	return NewSchema(s.typeName, attrs)
}

// Without builds a schema with the named attributes removed.
func (s *Schema) Without(names ...string) *Schema {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	attrs := make([]AttributeDescriptor, 0, len(s.attributes))
	for _, a := range s.attributes {
		if _, ok := drop[a.Name]; !ok {
			attrs = append(attrs, a)
		}
	}
	out, _ := NewSchema(s.typeName, attrs)
	return out
}

// SameAttributes reports whether s and o describe the same attributes in the
// same order.
func (s *Schema) SameAttributes(o *Schema) bool {
	if len(s.attributes) != len(o.attributes) {
		return false
	}
	for i := range s.attributes {
		if s.attributes[i] != o.attributes[i] {
			return false
		}
	}
	return true
}

// ColumnInfo is the column metadata introspection reports for a table.
type ColumnInfo struct {
	Name          string
	SQLType       string
	Nullable      bool
	PrimaryKey    int // 1-based position in the primary key, 0 when not a key column
	AutoIncrement bool
	SRID          int
}

// TableInfo is the introspected layout of a table.
type TableInfo struct {
	Name    string
	Schema  string
	Columns []ColumnInfo
}

// KeyColumns returns the primary key columns in key order.
func (t TableInfo) KeyColumns() []ColumnInfo {
	var keys []ColumnInfo
	for pos := 1; ; pos++ {
		found := false
		for _, c := range t.Columns {
			if c.PrimaryKey == pos {
				keys = append(keys, c)
				found = true
				break
			}
		}
		if !found {
			return keys
		}
	}
}
