package core

import (
	"context"
	"database/sql"
)

// Querier is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// KeyMapper maps a table's primary key columns to feature identifiers and
// back. One mapper is bound to one table.
type KeyMapper interface {
	// ColumnCount returns the number of key columns.
	ColumnCount() int

	// ColumnName returns the name of key column i.
	ColumnName(i int) string

	// ColumnType returns the value type of key column i.
	ColumnType(i int) ValueType

	// IsAutoIncrement reports whether the database generates key column i.
	IsAutoIncrement(i int) bool

	// HasAutoIncrementColumns reports whether any key column is generated.
	HasAutoIncrementColumns() bool

	// ReturnKeyColumnsAsAttributes reports whether the key columns are also
	// ordinary feature attributes. When false they are hidden and selected
	// ahead of the attribute columns.
	ReturnKeyColumnsAsAttributes() bool

	// IsVolatile reports whether ids may change between reads.
	IsVolatile() bool

	// CreateID returns the key values for a feature about to be inserted.
	// Generated columns are returned as nil and read back after the insert.
	CreateID(ctx context.Context, q Querier, f *Feature) ([]interface{}, error)

	// GetID encodes key values into a feature id.
	GetID(keys []interface{}) string

	// GetPKAttributes decodes an id produced by GetID back into key values.
	GetPKAttributes(id string) ([]interface{}, error)
}
