// Package feature turns result cursors into feature iteration and applies
// caller edits back through them.
package feature

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/cursor"
	"github.com/rzpsarthak13/featurestore/internal/filter"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
)

// Options configures readers and writers.
type Options struct {
	Factory core.FeatureFactory
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o Options) factory() core.FeatureFactory {
	if o.Factory == nil {
		return core.DefaultFactory{}
	}
	return o.Factory
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Reader yields the features of a cursor that satisfy the residual
// predicate, shaped to the requested schema. A Reader is not safe for
// concurrent use.
type Reader struct {
	cursor  *cursor.ResultCursor
	factory core.FeatureFactory
	logger  *slog.Logger
	metrics *metrics.Metrics

	residual  filter.Predicate
	requested *core.Schema
	limit     int
	returned  int

	// next is the prefetched feature; failed is the error of a row that could
	// not be materialized, reported by the following Next.
	next   *core.Feature
	failed error
	done   bool
}

// NewReader wraps c. The reader owns the cursor from here on.
func NewReader(c *cursor.ResultCursor, opts Options) *Reader {
	plan := c.Plan()
	r := &Reader{
		cursor:    c,
		factory:   opts.factory(),
		logger:    opts.logger(),
		metrics:   opts.Metrics,
		residual:  plan.Residual,
		requested: plan.Requested,
	}
	if !plan.LimitPushed {
		r.limit = plan.Query.MaxFeatures
	}
	return r
}

// Schema is the schema of the returned features.
func (r *Reader) Schema() *core.Schema { return r.requested }

// HasNext reports whether Next has a feature or an error to return. Rows
// rejected by the residual predicate are skipped here.
func (r *Reader) HasNext() (bool, error) {
	if r.cursor.Closed() {
		return false, core.ErrCursorClosed
	}
	if r.next != nil || r.failed != nil {
		return true, nil
	}
	if r.done {
		return false, nil
	}
	if r.limit != core.Unlimited && r.returned >= r.limit {
		r.done = true
		return false, nil
	}

	for {
		ok, err := r.cursor.HasNext()
		if err != nil {
			return false, err
		}
		if !ok {
			r.done = true
			return false, nil
		}
		if err := r.cursor.Advance(); err != nil {
			return false, err
		}

		f, err := r.materialize()
		if err != nil {
			r.failed = err
			return true, nil
		}
		match, err := filter.Evaluate(r.residual, f)
		if err != nil {
			r.failed = fmt.Errorf("evaluate %s on feature %s: %w", r.residual, f.ID(), err)
			return true, nil
		}
		if !match {
			if r.metrics != nil {
				r.metrics.FeaturesFiltered.WithLabelValues(r.requested.TypeName()).Inc()
			}
			continue
		}
		if r.next, err = f.Reshape(r.requested); err != nil {
			r.next = nil
			r.failed = err
		}
		return true, nil
	}
}

// Next returns the next matching feature. A row that failed to decode is
// reported once as an error and iteration can continue past it.
func (r *Reader) Next() (*core.Feature, error) {
	ok, err := r.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNoFeature
	}
	if r.failed != nil {
		err := r.failed
		r.failed = nil
		return nil, err
	}
	f := r.next
	r.next = nil
	r.returned++
	return f, nil
}

// Close closes the underlying cursor. Later calls to HasNext and Next fail
// with core.ErrCursorClosed.
func (r *Reader) Close() error {
	r.next = nil
	r.failed = nil
	r.done = true
	return r.cursor.Close(nil)
}

// materialize builds the feature of the cursor's current row over the
// selected schema, identifier included.
func (r *Reader) materialize() (*core.Feature, error) {
	selected := r.cursor.Schema()
	values := make([]interface{}, selected.Len())
	for i := range values {
		v, err := r.cursor.Read(i)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	keys, err := r.cursor.KeyValues()
	if err != nil {
		return nil, err
	}
	id := r.cursor.Translator().Mapper().GetID(keys)
	return r.factory.Create(selected, values, id)
}

// VisitError records the failure of one feature during Visit.
type VisitError struct {
	// Index is the position of the failed row among the rows visited.
	Index int

	// FeatureID is empty when the row could not be decoded.
	FeatureID string

	Err error
}

func (e VisitError) Error() string {
	if e.FeatureID == "" {
		return fmt.Sprintf("row %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("feature %s: %v", e.FeatureID, e.Err)
}

func (e VisitError) Unwrap() error { return e.Err }

// VisitErrors collects the per-feature failures of a best-effort visit.
type VisitErrors []VisitError

func (e VisitErrors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return fmt.Sprintf("%d features failed: %s", len(e), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e VisitErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, ve := range e {
		out[i] = ve
	}
	return out
}

// Visit calls fn for every feature of r. Decode and visitor failures are
// recorded and the visit moves on; the result is then a VisitErrors. Cursor
// failures end the visit and are returned as is. Visit does not close r.
func Visit(r *Reader, fn func(*core.Feature) error) error {
	var failures VisitErrors
	for i := 0; ; i++ {
		ok, err := r.HasNext()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		f, err := r.Next()
		if err != nil {
			if errors.Is(err, core.ErrCursorClosed) || errors.Is(err, core.ErrRowOperation) {
				return err
			}
			failures = append(failures, VisitError{Index: i, Err: err})
			continue
		}
		if err := fn(f); err != nil {
			failures = append(failures, VisitError{Index: i, FeatureID: f.ID(), Err: err})
		}
	}
	if len(failures) > 0 {
		r.logger.Warn("feature.Visit() - features failed", "type", r.requested.TypeName(), "failures", len(failures))
		return failures
	}
	return nil
}
