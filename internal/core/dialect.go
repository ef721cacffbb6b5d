package core

import (
	"context"
	"strings"

	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// GeneratedKeys is how a dialect reports database generated key values after
// an insert.
type GeneratedKeys int

const (
	// KeysLastInsertID reads sql.Result.LastInsertId. Only a single generated
	// integer column can be recovered this way.
	KeysLastInsertID GeneratedKeys = iota

	// KeysReturning appends a RETURNING clause to the insert.
	KeysReturning
)

// Dialect is the set of hooks that adapt the generic SQL translation and row
// codecs to one database.
type Dialect interface {
	// Name is the registry name ("mysql", "postgis", "sqlite").
	Name() string

	// DriverName is the database/sql driver the dialect talks to.
	DriverName() string

	// QuoteIdentifier quotes and escapes a column or table name.
	QuoteIdentifier(name string) string

	// Table returns the quoted, optionally schema-qualified table name.
	Table(dbSchema, name string) string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	// Capabilities describes which predicates the database evaluates.
	Capabilities() filter.Capabilities

	// SelectGeometry wraps a quoted geometry column so it is selected as WKB.
	SelectGeometry(column string, srid int) string

	// GeometryParameter wraps a bind marker receiving WKB.
	GeometryParameter(placeholder string, srid int) string

	// EncodeBBox encodes a bounding box test against a quoted column. bind
	// registers an argument and returns its placeholder.
	EncodeBBox(column string, box filter.BBox, srid int, bind func(interface{}) string) (string, error)

	// EncodeFunction encodes a function applied to already encoded arguments.
	EncodeFunction(name string, args []string) (string, error)

	// GeneratedKeys tells how generated keys are read back.
	GeneratedKeys() GeneratedKeys

	// TypeMap maps column types to value types.
	TypeMap() TypeMap

	// DecodeValue converts a scanned column value into the attribute's value
	// type. Geometry columns arrive as WKB.
	DecodeValue(a AttributeDescriptor, raw interface{}) (interface{}, error)

	// EncodeValue converts an attribute value into a bind argument.
	EncodeValue(a AttributeDescriptor, v interface{}) (interface{}, error)

	// Tables lists the tables visible in dbSchema ("" for the default).
	Tables(ctx context.Context, q Querier, dbSchema string) ([]string, error)

	// Describe introspects one table. It returns ErrSchemaNotFound when the
	// table does not exist.
	Describe(ctx context.Context, q Querier, dbSchema, table string) (*TableInfo, error)
}

// TypeMap resolves database column types to value types. It is immutable
// once built.
type TypeMap struct {
	entries map[string]ValueType
}

// NewTypeMap copies entries into a TypeMap. Keys are matched case
// insensitively against the base type name.
func NewTypeMap(entries map[string]ValueType) TypeMap {
	m := TypeMap{entries: make(map[string]ValueType, len(entries))}
	for k, v := range entries {
		m.entries[strings.ToLower(k)] = v
	}
	return m
}

// Resolve returns the value type of sqlType, or TypeOther. Length and
// precision suffixes and the "unsigned" modifier are ignored.
func (m TypeMap) Resolve(sqlType string) ValueType {
	if t, ok := m.entries[BaseType(sqlType)]; ok {
		return t
	}
	return TypeOther
}

// BaseType lower-cases sqlType and strips modifiers, so that
// "VARCHAR(255)" and "int(11) unsigned" become "varchar" and "int".
func BaseType(sqlType string) string {
	s := strings.ToLower(strings.TrimSpace(sqlType))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, " unsigned")
	return strings.TrimSpace(s)
}
