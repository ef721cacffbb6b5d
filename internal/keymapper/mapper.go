// Package keymapper maps primary key columns to feature ids. Each strategy
// decides where new key values come from and whether the key columns are
// visible as attributes.
package keymapper

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// ErrMissingKeyValue is returned when a client supplied key is nil on insert.
var ErrMissingKeyValue = errors.New("missing key value")

// Column describes one primary key column.
type Column struct {
	Name          string
	Type          core.ValueType
	AutoIncrement bool
}

// keyColumns implements the column bookkeeping and id codec every strategy
// shares.
type keyColumns struct {
	typeName string
	columns  []Column
}

func (k keyColumns) ColumnCount() int { return len(k.columns) }

func (k keyColumns) ColumnName(i int) string { return k.columns[i].Name }

func (k keyColumns) ColumnType(i int) core.ValueType { return k.columns[i].Type }

func (k keyColumns) IsAutoIncrement(i int) bool { return k.columns[i].AutoIncrement }

func (k keyColumns) HasAutoIncrementColumns() bool {
	for _, c := range k.columns {
		if c.AutoIncrement {
			return true
		}
	}
	return false
}

func (k keyColumns) GetID(keys []interface{}) string {
	return EncodeID(k.typeName, keys)
}

func (k keyColumns) GetPKAttributes(id string) ([]interface{}, error) {
	types := make([]core.ValueType, len(k.columns))
	for i, c := range k.columns {
		types[i] = c.Type
	}
	return DecodeID(k.typeName, id, types)
}

// AutoIncrement maps database generated keys. The keys are hidden from the
// attributes and read back after each insert.
type AutoIncrement struct {
	keyColumns
}

var _ core.KeyMapper = (*AutoIncrement)(nil)

// NewAutoIncrement marks every column as generated.
func NewAutoIncrement(typeName string, columns ...Column) (*AutoIncrement, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("type %s: %w", typeName, core.ErrNoPrimaryKey)
	}
	cols := make([]Column, len(columns))
	for i, c := range columns {
		c.AutoIncrement = true
		cols[i] = c
	}
	return &AutoIncrement{keyColumns{typeName: typeName, columns: cols}}, nil
}

func (*AutoIncrement) ReturnKeyColumnsAsAttributes() bool { return false }
func (*AutoIncrement) IsVolatile() bool                   { return false }

// CreateID returns nil for every column; the database fills them.
func (m *AutoIncrement) CreateID(context.Context, core.Querier, *core.Feature) ([]interface{}, error) {
	return make([]interface{}, len(m.columns)), nil
}

// SequenceMapper allocates a single integer key from a Sequence before the
// insert.
type SequenceMapper struct {
	keyColumns
	seq Sequence
}

var _ core.KeyMapper = (*SequenceMapper)(nil)

// NewSequence binds column to seq.
func NewSequence(typeName string, column Column, seq Sequence) (*SequenceMapper, error) {
	if column.Type != core.TypeInteger {
		return nil, fmt.Errorf("type %s: sequence key %s must be an integer, got %s", typeName, column.Name, column.Type)
	}
	if seq == nil {
		return nil, fmt.Errorf("type %s: sequence cannot be nil", typeName)
	}
	column.AutoIncrement = false
	return &SequenceMapper{keyColumns: keyColumns{typeName: typeName, columns: []Column{column}}, seq: seq}, nil
}

func (*SequenceMapper) ReturnKeyColumnsAsAttributes() bool { return false }
func (*SequenceMapper) IsVolatile() bool                   { return false }

// CreateID draws the next value of the sequence.
func (m *SequenceMapper) CreateID(ctx context.Context, q core.Querier, _ *core.Feature) ([]interface{}, error) {
	next, err := m.seq.Next(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("allocating key for %s.%s: %w", m.typeName, m.columns[0].Name, err)
	}
	return []interface{}{next}, nil
}

// UUID fills a single text key with random UUIDs.
type UUID struct {
	keyColumns
}

var _ core.KeyMapper = (*UUID)(nil)

// NewUUID binds column, which must hold text.
func NewUUID(typeName string, column Column) (*UUID, error) {
	if column.Type != core.TypeText && column.Type != core.TypeOther {
		return nil, fmt.Errorf("type %s: uuid key %s must be text, got %s", typeName, column.Name, column.Type)
	}
	column.Type = core.TypeText
	column.AutoIncrement = false
	return &UUID{keyColumns{typeName: typeName, columns: []Column{column}}}, nil
}

func (*UUID) ReturnKeyColumnsAsAttributes() bool { return false }
func (*UUID) IsVolatile() bool                   { return false }

func (m *UUID) CreateID(context.Context, core.Querier, *core.Feature) ([]interface{}, error) {
	return []interface{}{uuid.NewString()}, nil
}

// Columns exposes the key columns as ordinary attributes. New keys are taken
// from the feature being inserted; generated columns may be left nil.
type Columns struct {
	keyColumns
}

var _ core.KeyMapper = (*Columns)(nil)

// NewColumns maps one or more client supplied key columns.
func NewColumns(typeName string, columns ...Column) (*Columns, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("type %s: %w", typeName, core.ErrNoPrimaryKey)
	}
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Columns{keyColumns{typeName: typeName, columns: cols}}, nil
}

func (*Columns) ReturnKeyColumnsAsAttributes() bool { return true }
func (*Columns) IsVolatile() bool                   { return false }

// CreateID reads the key values from f.
func (m *Columns) CreateID(_ context.Context, _ core.Querier, f *core.Feature) ([]interface{}, error) {
	keys := make([]interface{}, len(m.columns))
	for i, c := range m.columns {
		v, ok := f.Lookup(c.Name)
		if !ok {
			return nil, fmt.Errorf("%w: type %s has no attribute for key %s", core.ErrAttributeNotFound, m.typeName, c.Name)
		}
		if v == nil && !c.AutoIncrement {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingKeyValue, m.typeName, c.Name)
		}
		keys[i] = v
	}
	return keys, nil
}

// Null serves tables without a primary key. Ids are generated afresh on
// every read, so they are volatile and cannot address rows.
type Null struct {
	typeName string
}

var _ core.KeyMapper = (*Null)(nil)

// NewNull returns the mapper for a key-less table.
func NewNull(typeName string) *Null {
	return &Null{typeName: typeName}
}

func (*Null) ColumnCount() int                   { return 0 }
func (*Null) ColumnName(i int) string            { panic(fmt.Sprintf("keymapper: no key column %d", i)) }
func (*Null) ColumnType(i int) core.ValueType    { panic(fmt.Sprintf("keymapper: no key column %d", i)) }
func (*Null) IsAutoIncrement(int) bool           { return false }
func (*Null) HasAutoIncrementColumns() bool      { return false }
func (*Null) ReturnKeyColumnsAsAttributes() bool { return false }
func (*Null) IsVolatile() bool                   { return true }

func (*Null) CreateID(context.Context, core.Querier, *core.Feature) ([]interface{}, error) {
	return nil, nil
}

// GetID ignores keys and returns a fresh random id.
func (m *Null) GetID([]interface{}) string {
	return m.typeName + typeSeparator + uuid.NewString()
}

func (m *Null) GetPKAttributes(id string) ([]interface{}, error) {
	return nil, fmt.Errorf("%w: type %s cannot resolve id %q", core.ErrNoPrimaryKey, m.typeName, id)
}
