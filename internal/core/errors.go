package core

import "errors"

var (
	// ErrSchemaNotFound is returned when a type name has no backing table.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrAttributeNotFound is returned when a query or feature names an
	// attribute the schema does not have.
	ErrAttributeNotFound = errors.New("attribute not found")

	// ErrMalformedID is returned when a feature id cannot be decoded into key
	// values.
	ErrMalformedID = errors.New("malformed feature id")

	// ErrEncoding is returned when a predicate leaf or value cannot be encoded
	// into SQL.
	ErrEncoding = errors.New("cannot encode to sql")

	// ErrCursorClosed is returned by every cursor operation after Close.
	ErrCursorClosed = errors.New("cursor is closed")

	// ErrRowOperation wraps an I/O failure while reading or moving the cursor.
	ErrRowOperation = errors.New("row operation failed")

	// ErrRowWrite wraps a failure while inserting, updating or deleting a row.
	ErrRowWrite = errors.New("row write failed")

	// ErrVolatileKeys is returned when a writer is requested on a table whose
	// ids are not stable.
	ErrVolatileKeys = errors.New("table has volatile feature ids")

	// ErrNoFeature is returned when Next is called with nothing left.
	ErrNoFeature = errors.New("no more features")

	// ErrNoPrimaryKey is returned for key operations on a table without keys.
	ErrNoPrimaryKey = errors.New("table has no primary key")
)
