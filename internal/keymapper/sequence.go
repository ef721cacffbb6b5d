package keymapper

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/kvstore"
)

// Sequence hands out integer keys.
type Sequence interface {
	// Next returns a key that has not been handed out before. q is the
	// connection the insert will run on.
	Next(ctx context.Context, q core.Querier) (int64, error)
}

// MaxIncrement allocates MAX(column)+1 on the insert's own connection. It is
// only safe when a single writer inserts into the table at a time.
type MaxIncrement struct {
	query string
}

// NewMaxIncrement builds the sequence for an already quoted table and column.
func NewMaxIncrement(table, column string) *MaxIncrement {
	return &MaxIncrement{query: fmt.Sprintf("SELECT MAX(%s) FROM %s", column, table)}
}

// Next implements Sequence.
func (m *MaxIncrement) Next(ctx context.Context, q core.Querier) (int64, error) {
	var max sql.NullInt64
	if err := q.QueryRowContext(ctx, m.query).Scan(&max); err != nil {
		return 0, fmt.Errorf("reading max key: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// CounterSequence draws keys from an external counter such as Redis or
// DynamoDB, which keeps allocation safe across processes.
type CounterSequence struct {
	counter kvstore.Counter
	key     string
}

// NewCounterSequence allocates from the counter stored under key.
func NewCounterSequence(counter kvstore.Counter, key string) *CounterSequence {
	return &CounterSequence{counter: counter, key: key}
}

// Next implements Sequence.
func (s *CounterSequence) Next(ctx context.Context, _ core.Querier) (int64, error) {
	n, err := s.counter.Next(ctx, s.key)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %s: %w", s.key, err)
	}
	return n, nil
}
