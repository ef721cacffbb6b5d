// Package cursor owns the statement, row cursor and connection lease behind
// one feature iteration, and applies row mutations on the same lease.
package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
	"github.com/rzpsarthak13/featurestore/internal/translate"
)

type rowState int

const (
	rowNone rowState = iota
	rowExisting
	rowInsert
	rowInserted
)

// Options tune how a cursor is opened.
type Options struct {
	// Buffered drains the result set on open so that mutation statements can
	// run on the lease while iterating. Writers always buffer.
	Buffered bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Stats counts the mutations a cursor applied.
type Stats struct {
	ColumnWrites int
	Inserts      int
	Updates      int
	Deletes      int
}

// ResultCursor is one open SELECT plus the pending row mutation. Attribute
// indexes address plan.Selected; hidden key columns are addressed separately
// through the key column methods. A ResultCursor is not safe for concurrent
// use.
type ResultCursor struct {
	tr      *translate.Translator
	plan    *translate.Plan
	lease   *database.Lease
	logger  *slog.Logger
	metrics *metrics.Metrics

	hidden int
	width  int

	rows   *sql.Rows
	buffer [][]interface{}

	peeked  bool
	next    []interface{}
	current []interface{}
	state   rowState

	pending     map[int]interface{}
	pendingKeys []interface{}
	keys        []interface{}

	stats  Stats
	closed bool
}

// Open runs plan's SELECT on lease. The cursor takes ownership of the lease:
// on failure it is released with the error, otherwise Close releases it.
func Open(ctx context.Context, tr *translate.Translator, plan *translate.Plan, lease *database.Lease, opts Options) (*ResultCursor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &ResultCursor{
		tr:      tr,
		plan:    plan,
		lease:   lease,
		logger:  logger,
		metrics: opts.Metrics,
		hidden:  tr.HiddenKeys(),
	}
	c.width = plan.Columns

	rows, err := lease.Querier().QueryContext(ctx, plan.Statement.SQL, plan.Statement.Args...)
	if err != nil {
		_ = lease.Release(err)
		return nil, fmt.Errorf("%w: query %q on %s: %v", core.ErrRowOperation, plan.Query.Handle, tr.Table(), err)
	}
	c.rows = rows

	if opts.Buffered {
		for rows.Next() {
			row, err := c.scan()
			if err != nil {
				return nil, c.fail("buffer rows", err)
			}
			c.buffer = append(c.buffer, row)
		}
		if err := rows.Err(); err != nil {
			return nil, c.fail("buffer rows", err)
		}
		if err := rows.Close(); err != nil {
			return nil, c.fail("close rows", err)
		}
		c.rows = nil
	}

	mode := "read"
	if opts.Buffered {
		mode = "buffered"
	}
	if c.metrics != nil {
		c.metrics.CursorsOpened.WithLabelValues(c.typeName(), mode).Inc()
	}
	c.logger.Debug("ResultCursor.Open() - opened cursor", "type", c.typeName(), "sql", plan.Statement.SQL,
		"transaction", lease.Transaction().Handle(), "mode", mode)
	return c, nil
}

// Schema is the schema of the attribute columns.
func (c *ResultCursor) Schema() *core.Schema { return c.plan.Selected }

// Plan returns the plan the cursor was opened with.
func (c *ResultCursor) Plan() *translate.Plan { return c.plan }

// Translator returns the translator bound to the table.
func (c *ResultCursor) Translator() *translate.Translator { return c.tr }

// Transaction returns the transaction the cursor runs in.
func (c *ResultCursor) Transaction() *database.Transaction { return c.lease.Transaction() }

// Querier is where the cursor's statements run, for key allocation on the
// same connection.
func (c *ResultCursor) Querier() core.Querier { return c.lease.Querier() }

// Stats returns the mutation counters.
func (c *ResultCursor) Stats() Stats { return c.stats }

// Closed reports whether Close has been called.
func (c *ResultCursor) Closed() bool { return c.closed }

// HasNext reports whether another row is available without consuming it.
// Repeated calls at the same position do not move the cursor.
func (c *ResultCursor) HasNext() (bool, error) {
	if c.closed {
		return false, core.ErrCursorClosed
	}
	if c.peeked {
		return c.next != nil, nil
	}
	c.peeked = true
	c.next = nil

	if c.rows == nil {
		if len(c.buffer) > 0 {
			c.next = c.buffer[0]
			c.buffer = c.buffer[1:]
		}
		return c.next != nil, nil
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return false, c.fail("fetch row", err)
		}
		return false, nil
	}
	row, err := c.scan()
	if err != nil {
		return false, c.fail("scan row", err)
	}
	c.next = row
	return true, nil
}

// Advance moves to the next row and makes it current.
func (c *ResultCursor) Advance() error {
	ok, err := c.HasNext()
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrNoFeature
	}
	c.current = c.next
	c.next = nil
	c.peeked = false
	c.state = rowExisting
	c.resetPending()
	if c.metrics != nil {
		c.metrics.RowsRead.WithLabelValues(c.typeName()).Inc()
	}
	return nil
}

// Read decodes attribute i of the current row.
func (c *ResultCursor) Read(i int) (interface{}, error) {
	if err := c.check(rowExisting); err != nil {
		return nil, err
	}
	if i < 0 || i >= c.plan.Selected.Len() {
		return nil, fmt.Errorf("attribute index %d out of range for type %s", i, c.typeName())
	}
	a := c.plan.Selected.Attribute(i)
	v, err := c.tr.Dialect().DecodeValue(a, c.current[c.hidden+i])
	if err != nil {
		return nil, fmt.Errorf("read %s.%s: %w", c.typeName(), a.Name, err)
	}
	return v, nil
}

// ReadKeyColumn returns key column k of the current row, or of the row just
// inserted.
func (c *ResultCursor) ReadKeyColumn(k int) (interface{}, error) {
	if c.closed {
		return nil, core.ErrCursorClosed
	}
	if k < 0 || k >= c.tr.Mapper().ColumnCount() {
		return nil, fmt.Errorf("key column index %d out of range for type %s", k, c.typeName())
	}
	switch c.state {
	case rowInserted:
		return c.keys[k], nil
	case rowExisting:
	default:
		return nil, fmt.Errorf("type %s: no current row", c.typeName())
	}

	a := c.tr.KeyAttribute(k)
	col := k
	if c.hidden == 0 {
		idx := c.plan.Selected.Index(a.Name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: key column %q not selected", core.ErrAttributeNotFound, a.Name)
		}
		col = idx
	}
	v, err := c.tr.Dialect().DecodeValue(a, c.current[col])
	if err != nil {
		return nil, fmt.Errorf("read key %s.%s: %w", c.typeName(), a.Name, err)
	}
	return v, nil
}

// KeyValues reads every key column of the current row.
func (c *ResultCursor) KeyValues() ([]interface{}, error) {
	keys := make([]interface{}, c.tr.Mapper().ColumnCount())
	for k := range keys {
		v, err := c.ReadKeyColumn(k)
		if err != nil {
			return nil, err
		}
		keys[k] = v
	}
	return keys, nil
}

// Write stages v for attribute i of the row being updated or inserted.
func (c *ResultCursor) Write(i int, v interface{}) error {
	if err := c.check(rowExisting, rowInsert); err != nil {
		return err
	}
	if i < 0 || i >= c.plan.Selected.Len() {
		return fmt.Errorf("attribute index %d out of range for type %s", i, c.typeName())
	}
	c.pending[i] = v
	c.stats.ColumnWrites++
	return nil
}

// WriteKeyColumn stages v for hidden key column k of the row being inserted.
func (c *ResultCursor) WriteKeyColumn(k int, v interface{}) error {
	if err := c.check(rowInsert); err != nil {
		return err
	}
	if k < 0 || k >= len(c.pendingKeys) {
		return fmt.Errorf("key column index %d out of range for type %s", k, c.typeName())
	}
	c.pendingKeys[k] = v
	return nil
}

// BeginInsert positions the cursor on a fresh row buffer.
func (c *ResultCursor) BeginInsert() error {
	if c.closed {
		return core.ErrCursorClosed
	}
	c.current = nil
	c.state = rowInsert
	c.resetPending()
	return nil
}

// CommitInsert inserts the staged row. Database generated keys are read back
// and are then available through ReadKeyColumn.
func (c *ResultCursor) CommitInsert(ctx context.Context) error {
	if err := c.check(rowInsert); err != nil {
		return err
	}
	mapper := c.tr.Mapper()

	var hiddenKeys []interface{}
	if c.hidden > 0 {
		hiddenKeys = c.pendingKeys
	}
	stmt, err := c.tr.Insert(c.assignments(), hiddenKeys)
	if err != nil {
		return c.fail("build insert", err)
	}

	keys := make([]interface{}, mapper.ColumnCount())
	for k := range keys {
		if c.hidden > 0 {
			keys[k] = c.pendingKeys[k]
		} else if idx := c.plan.Selected.Index(mapper.ColumnName(k)); idx >= 0 {
			keys[k] = c.pending[idx]
		}
	}

	q := c.lease.Querier()
	switch {
	case !mapper.HasAutoIncrementColumns():
		if _, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return c.fail("insert", err)
		}
	case c.tr.Dialect().GeneratedKeys() == core.KeysReturning:
		var generated []int
		for k := range keys {
			if mapper.IsAutoIncrement(k) {
				generated = append(generated, k)
			}
		}
		raw := make([]interface{}, len(generated))
		dest := make([]interface{}, len(generated))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := q.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(dest...); err != nil {
			return c.fail("insert", err)
		}
		for i, k := range generated {
			v, err := c.tr.Dialect().DecodeValue(c.tr.KeyAttribute(k), raw[i])
			if err != nil {
				return c.fail("decode generated key", err)
			}
			keys[k] = v
		}
	default:
		res, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			return c.fail("insert", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return c.fail("read generated key", err)
		}
		assigned := false
		for k := range keys {
			if !mapper.IsAutoIncrement(k) || keys[k] != nil {
				continue
			}
			if assigned {
				return c.fail("read generated key", fmt.Errorf("only one generated key column can be read back"))
			}
			keys[k] = id
			assigned = true
		}
	}

	c.keys = keys
	c.state = rowInserted
	c.stats.Inserts++
	c.countWrite("insert")
	c.logger.Debug("ResultCursor.CommitInsert() - inserted row", "type", c.typeName(), "keys", keys)
	return nil
}

// CommitUpdate writes the staged columns of the current row. Nothing is sent
// when no column was staged.
func (c *ResultCursor) CommitUpdate(ctx context.Context) error {
	if err := c.check(rowExisting); err != nil {
		return err
	}
	if len(c.pending) == 0 {
		return nil
	}
	keys, err := c.KeyValues()
	if err != nil {
		return c.fail("read keys", err)
	}
	stmt, err := c.tr.Update(c.assignments(), keys)
	if err != nil {
		return c.fail("build update", err)
	}
	if _, err := c.lease.Querier().ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return c.fail("update", err)
	}
	c.resetPending()
	c.stats.Updates++
	c.countWrite("update")
	c.logger.Debug("ResultCursor.CommitUpdate() - updated row", "type", c.typeName(), "keys", keys)
	return nil
}

// DeleteCurrentRow deletes the current row.
func (c *ResultCursor) DeleteCurrentRow(ctx context.Context) error {
	if err := c.check(rowExisting); err != nil {
		return err
	}
	keys, err := c.KeyValues()
	if err != nil {
		return c.fail("read keys", err)
	}
	stmt, err := c.tr.Delete(keys)
	if err != nil {
		return c.fail("build delete", err)
	}
	if _, err := c.lease.Querier().ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return c.fail("delete", err)
	}
	c.current = nil
	c.state = rowNone
	c.resetPending()
	c.stats.Deletes++
	c.countWrite("delete")
	c.logger.Debug("ResultCursor.DeleteCurrentRow() - deleted row", "type", c.typeName(), "keys", keys)
	return nil
}

// Close releases the row cursor and the lease. A non-nil cause rolls back a
// shared transaction. Closing twice is a no-op.
func (c *ResultCursor) Close(cause error) error {
	if c.closed {
		c.logger.Debug("ResultCursor.Close() - already closed", "type", c.typeName())
		return nil
	}
	c.closed = true
	c.buffer = nil
	c.current = nil
	c.next = nil

	var errs []error
	if c.rows != nil {
		if err := c.rows.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close rows: %w", err))
		}
		c.rows = nil
	}
	if err := c.lease.Release(cause); err != nil {
		errs = append(errs, err)
	}

	outcome := "ok"
	if cause != nil {
		outcome = "error"
	}
	if c.metrics != nil {
		c.metrics.CursorsClosed.WithLabelValues(c.typeName(), outcome).Inc()
	}
	c.logger.Debug("ResultCursor.Close() - closed cursor", "type", c.typeName(), "outcome", outcome)
	return errors.Join(errs...)
}

func (c *ResultCursor) typeName() string { return c.plan.Selected.TypeName() }

func (c *ResultCursor) check(states ...rowState) error {
	if c.closed {
		return core.ErrCursorClosed
	}
	for _, s := range states {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("type %s: no row positioned for this operation", c.typeName())
}

func (c *ResultCursor) resetPending() {
	c.pending = make(map[int]interface{})
	c.pendingKeys = make([]interface{}, c.tr.Mapper().ColumnCount())
	c.keys = nil
}

// assignments returns the staged writes in attribute order.
func (c *ResultCursor) assignments() []translate.Assignment {
	out := make([]translate.Assignment, 0, len(c.pending))
	for i := 0; i < c.plan.Selected.Len(); i++ {
		if v, ok := c.pending[i]; ok {
			out = append(out, translate.Assignment{Attribute: c.plan.Selected.Attribute(i), Value: v})
		}
	}
	return out
}

func (c *ResultCursor) scan() ([]interface{}, error) {
	row := make([]interface{}, c.width)
	dest := make([]interface{}, c.width)
	for i := range row {
		dest[i] = &row[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return nil, err
	}
	return row, nil
}

// fail closes the cursor with err and reports a row operation failure.
func (c *ResultCursor) fail(op string, err error) error {
	if cerr := c.Close(err); cerr != nil {
		c.logger.Warn("ResultCursor.fail() - close after failure", "type", c.typeName(), "error", cerr)
	}
	return fmt.Errorf("%w: %s on %s: %w", core.ErrRowOperation, op, c.tr.Table(), err)
}

func (c *ResultCursor) countWrite(op string) {
	if c.metrics != nil {
		c.metrics.RowsWritten.WithLabelValues(c.typeName(), op).Inc()
	}
}
