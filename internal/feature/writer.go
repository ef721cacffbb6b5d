package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-spatial/geom"
	"github.com/google/go-cmp/cmp"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/cursor"
	"github.com/rzpsarthak13/featurestore/internal/filter"
)

// Writer iterates like a Reader and writes caller edits back. Once the
// existing rows are exhausted, Next hands out new features that Write
// inserts.
//
// Write or Remove must be called before the next HasNext or Next: moving on
// drops an unwritten feature.
type Writer struct {
	reader   *Reader
	cursor   *cursor.ResultCursor
	schema   *core.Schema
	mapper   core.KeyMapper
	factory  core.FeatureFactory
	notifier core.Notifier
	logger   *slog.Logger

	live      *core.Feature
	current   *core.Feature
	inserting bool

	batch *commitBatch
}

// commitBatch gathers what a shared transaction touched so a single event
// can be fired on commit.
type commitBatch struct {
	mu     sync.Mutex
	bounds *geom.Extent
	ids    []string
}

func (b *commitBatch) add(bounds *geom.Extent, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bounds = filter.UnionExtents(b.bounds, bounds)
	b.ids = append(b.ids, id)
}

// NewWriter wraps c, which must be buffered and select every attribute.
// notifier may be nil.
func NewWriter(c *cursor.ResultCursor, notifier core.Notifier, opts Options) *Writer {
	return &Writer{
		reader:   NewReader(c, opts),
		cursor:   c,
		schema:   c.Plan().Requested,
		mapper:   c.Translator().Mapper(),
		factory:  opts.factory(),
		notifier: notifier,
		logger:   opts.logger(),
	}
}

// Schema is the feature type written.
func (w *Writer) Schema() *core.Schema { return w.schema }

// Stats returns the mutations applied so far.
func (w *Writer) Stats() cursor.Stats { return w.cursor.Stats() }

// HasNext reports whether an existing feature remains. Next still returns a
// new feature when it is false.
func (w *Writer) HasNext() (bool, error) {
	w.drop()
	return w.reader.HasNext()
}

// Next returns the next existing feature, or a new feature carrying default
// values once the existing ones are exhausted.
func (w *Writer) Next() (*core.Feature, error) {
	if w.cursor.Closed() {
		return nil, core.ErrCursorClosed
	}
	w.drop()

	ok, err := w.reader.HasNext()
	if err != nil {
		return nil, err
	}
	if ok {
		f, err := w.reader.Next()
		if err != nil {
			return nil, err
		}
		w.live = f
		w.current = f.Clone()
		return w.current, nil
	}

	if err := w.cursor.BeginInsert(); err != nil {
		return nil, err
	}
	f, err := w.factory.Create(w.schema, w.newValues(), "")
	if err != nil {
		return nil, err
	}
	w.current = f
	w.inserting = true
	return w.current, nil
}

// Write stores the feature last returned by Next. An unmodified existing
// feature is left alone; a modified one has its changed columns updated; a
// new one is inserted and receives its identifier.
func (w *Writer) Write(ctx context.Context) error {
	if w.cursor.Closed() {
		return core.ErrCursorClosed
	}
	if w.current == nil {
		return fmt.Errorf("%w: call Next before Write", core.ErrNoFeature)
	}
	if w.inserting {
		return w.insert(ctx)
	}
	return w.update(ctx)
}

// newValues returns the factory defaults of a new feature with exposed
// generated key attributes left nil, so the database assigns them.
func (w *Writer) newValues() []interface{} {
	values := w.factory.Defaults(w.schema)
	if !w.mapper.ReturnKeyColumnsAsAttributes() {
		return values
	}
	for k := 0; k < w.mapper.ColumnCount(); k++ {
		if !w.mapper.IsAutoIncrement(k) {
			continue
		}
		if i := w.schema.Index(w.mapper.ColumnName(k)); i >= 0 && i < len(values) {
			values[i] = nil
		}
	}
	return values
}

func (w *Writer) insert(ctx context.Context) error {
	f := w.current
	keys, err := w.mapper.CreateID(ctx, w.cursor.Querier(), f)
	if err != nil {
		return w.fail("create id", err)
	}
	if w.cursor.Translator().HiddenKeys() > 0 {
		for k, v := range keys {
			if err := w.cursor.WriteKeyColumn(k, v); err != nil {
				return w.fail("write key", err)
			}
		}
	}
	for i := 0; i < w.schema.Len(); i++ {
		if err := w.cursor.Write(i, f.Value(i)); err != nil {
			return w.fail("write "+w.schema.Attribute(i).Name, err)
		}
	}
	if err := w.cursor.CommitInsert(ctx); err != nil {
		return w.fail("insert", err)
	}

	keys, err = w.cursor.KeyValues()
	if err != nil {
		return w.fail("read generated keys", err)
	}
	if w.mapper.ReturnKeyColumnsAsAttributes() {
		for k, v := range keys {
			if i := w.schema.Index(w.mapper.ColumnName(k)); i >= 0 {
				f.SetValue(i, v)
			}
		}
	}
	f.SetID(w.mapper.GetID(keys))

	bounds, err := f.Bounds()
	if err != nil {
		w.logger.Warn("Writer.insert() - cannot compute bounds", "feature", f.ID(), "error", err)
	}
	w.reset()
	w.fire(ctx, core.FeaturesAdded, bounds, f.ID())
	return nil
}

func (w *Writer) update(ctx context.Context) error {
	live, current := w.live, w.current
	changed := 0
	for i := 0; i < w.schema.Len(); i++ {
		if cmp.Equal(live.Value(i), current.Value(i)) {
			continue
		}
		if err := w.cursor.Write(i, current.Value(i)); err != nil {
			return w.fail("write "+w.schema.Attribute(i).Name, err)
		}
		changed++
	}
	if changed == 0 {
		w.reset()
		return nil
	}
	if err := w.cursor.CommitUpdate(ctx); err != nil {
		return w.fail("update", err)
	}

	oldBounds, err := live.Bounds()
	if err != nil {
		w.logger.Warn("Writer.update() - cannot compute old bounds", "feature", live.ID(), "error", err)
	}
	newBounds, err := current.Bounds()
	if err != nil {
		w.logger.Warn("Writer.update() - cannot compute new bounds", "feature", current.ID(), "error", err)
	}
	w.reset()
	w.fire(ctx, core.FeaturesChanged, filter.UnionExtents(oldBounds, newBounds), live.ID())
	return nil
}

// Remove deletes the feature last returned by Next. A new feature that was
// never written is simply discarded.
func (w *Writer) Remove(ctx context.Context) error {
	if w.cursor.Closed() {
		return core.ErrCursorClosed
	}
	if w.current == nil {
		return fmt.Errorf("%w: call Next before Remove", core.ErrNoFeature)
	}
	if w.inserting {
		w.reset()
		return nil
	}

	live := w.live
	if err := w.cursor.DeleteCurrentRow(ctx); err != nil {
		return w.fail("delete", err)
	}
	bounds, err := live.Bounds()
	if err != nil {
		w.logger.Warn("Writer.Remove() - cannot compute bounds", "feature", live.ID(), "error", err)
	}
	w.reset()
	w.fire(ctx, core.FeaturesRemoved, bounds, live.ID())
	return nil
}

// Close closes the cursor. An unwritten new feature is discarded.
func (w *Writer) Close() error {
	w.reset()
	return w.reader.Close()
}

func (w *Writer) reset() {
	w.live = nil
	w.current = nil
	w.inserting = false
}

// drop forgets an existing feature the caller moved past without writing.
func (w *Writer) drop() {
	if w.current != nil && !w.inserting {
		w.reset()
	}
}

// fail closes the cursor with err. Live and current are reset so the caller
// has to call Next again.
func (w *Writer) fail(op string, err error) error {
	w.reset()
	if !w.cursor.Closed() {
		if cerr := w.cursor.Close(err); cerr != nil {
			w.logger.Warn("Writer.fail() - close after failure", "error", cerr)
		}
	}
	if errors.Is(err, core.ErrRowWrite) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %w", core.ErrRowWrite, op, w.schema.TypeName(), err)
}

func (w *Writer) fire(ctx context.Context, kind core.EventKind, bounds *geom.Extent, id string) {
	if w.notifier == nil {
		return
	}
	tx := w.cursor.Transaction()
	w.notifier.Notify(ctx, core.FeatureEvent{
		Kind:       kind,
		TypeName:   w.schema.TypeName(),
		TxHandle:   tx.Handle(),
		AutoCommit: tx.IsAutoCommit(),
		Bounds:     bounds,
		FeatureIDs: []string{id},
	})

	if !tx.IsShared() {
		return
	}
	if w.batch == nil {
		batch := &commitBatch{}
		w.batch = batch
		typeName := w.schema.TypeName()
		notifier := w.notifier
		tx.OnCommit(func(ctx context.Context) {
			batch.mu.Lock()
			ev := core.FeatureEvent{
				Kind:       core.FeaturesChanged,
				TypeName:   typeName,
				TxHandle:   tx.Handle(),
				Bounds:     batch.bounds,
				FeatureIDs: append([]string(nil), batch.ids...),
				Commit:     true,
			}
			batch.mu.Unlock()
			notifier.Notify(ctx, ev)
		})
	}
	w.batch.add(bounds, id)
}
