// Package store is the per-database entry point: it discovers feature types
// and opens readers and writers over them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-spatial/geom"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/cursor"
	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/event"
	"github.com/rzpsarthak13/featurestore/internal/feature"
	"github.com/rzpsarthak13/featurestore/internal/filter"
	"github.com/rzpsarthak13/featurestore/internal/kvstore"
	"github.com/rzpsarthak13/featurestore/internal/logging"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
	"github.com/rzpsarthak13/featurestore/internal/registry"
	"github.com/rzpsarthak13/featurestore/internal/translate"
)

// NotOptimizable is returned by Count when the database cannot compute the
// count because part of the filter runs in process.
const NotOptimizable = -1

// Options configures a Store. Dialect and DB are required.
type Options struct {
	Dialect core.Dialect
	DB      *sql.DB

	// Config supplies the table overrides. Defaults are used when nil.
	Config *registry.ConfigManager

	// Types caches discovered schemas. A private registry is used when nil.
	Types *registry.TypeRegistry

	// Sequences feeds sequence keys from an external counter. When nil the
	// next key is MAX(key)+1.
	Sequences kvstore.Counter

	Factory core.FeatureFactory
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Store gives access to the feature types of one database. It is safe for
// concurrent use: every call without a transaction leases its own
// connection.
type Store struct {
	dialect    core.Dialect
	db         *sql.DB
	config     *registry.ConfigManager
	types      *registry.TypeRegistry
	sequences  kvstore.Counter
	factory    core.FeatureFactory
	logger     *slog.Logger
	metrics    *metrics.Metrics
	dispatcher *event.Dispatcher

	discoverMu sync.Mutex
}

// New creates a Store.
func New(opts Options) (*Store, error) {
	if opts.Dialect == nil {
		return nil, fmt.Errorf("dialect is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if opts.Config == nil {
		opts.Config = registry.NewConfigManager()
	}
	if opts.Types == nil {
		opts.Types = registry.NewTypeRegistry(nil)
	}
	if opts.Factory == nil {
		opts.Factory = core.DefaultFactory{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := logging.Component(opts.Logger, "store")
	return &Store{
		dialect:    opts.Dialect,
		db:         opts.DB,
		config:     opts.Config,
		types:      opts.Types,
		sequences:  opts.Sequences,
		factory:    opts.Factory,
		logger:     logger,
		metrics:    opts.Metrics,
		dispatcher: event.NewDispatcher(logging.Component(opts.Logger, "events")),
	}, nil
}

// Dialect returns the dialect the store was created with.
func (s *Store) Dialect() core.Dialect { return s.dialect }

// DB returns the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// AddListener subscribes l to the feature events fired by writers.
func (s *Store) AddListener(l core.Listener) { s.dispatcher.Add(l) }

// RemoveListener unsubscribes l and reports whether it was subscribed.
func (s *Store) RemoveListener(l core.Listener) bool { return s.dispatcher.Remove(l) }

// BeginTransaction starts a shared transaction that several readers and
// writers can run in sequence. The caller commits or rolls it back.
func (s *Store) BeginTransaction(ctx context.Context, handle string) (*database.Transaction, error) {
	return database.Begin(ctx, s.db, handle)
}

// OpenReader runs q and returns a reader over the matching features. tx may
// be nil for AutoCommit.
func (s *Store) OpenReader(ctx context.Context, q core.Query, tx *database.Transaction) (*feature.Reader, error) {
	c, err := s.open(ctx, q, tx, false)
	if err != nil {
		return nil, err
	}
	return feature.NewReader(c, s.featureOptions()), nil
}

type writerOptions struct {
	allowVolatile bool
}

// WriterOption configures OpenWriter.
type WriterOption func(*writerOptions)

// AllowVolatile lets a writer open on a table whose feature ids are not
// stable between reads.
func AllowVolatile() WriterOption {
	return func(o *writerOptions) { o.allowVolatile = true }
}

// OpenWriter returns a writer over the features of typeName matching p. New
// features are appended once the matches are exhausted.
func (s *Store) OpenWriter(ctx context.Context, typeName string, p filter.Predicate, tx *database.Transaction, opts ...WriterOption) (*feature.Writer, error) {
	var o writerOptions
	for _, opt := range opts {
		opt(&o)
	}
	meta, err := s.metadata(ctx, typeName)
	if err != nil {
		return nil, err
	}
	if meta.Mapper.IsVolatile() && !o.allowVolatile && !meta.Config.AllowVolatile {
		return nil, fmt.Errorf("cannot write %s: %w", typeName, core.ErrVolatileKeys)
	}

	c, err := s.open(ctx, core.Query{TypeName: typeName, Filter: p, Handle: "writer"}, tx, true)
	if err != nil {
		return nil, err
	}
	return feature.NewWriter(c, s.dispatcher, s.featureOptions()), nil
}

// Count returns the number of features matching q, or NotOptimizable when
// the filter cannot be evaluated by the database alone.
func (s *Store) Count(ctx context.Context, q core.Query, tx *database.Transaction) (int, error) {
	meta, err := s.metadata(ctx, q.TypeName)
	if err != nil {
		return 0, err
	}
	stmt, ok, err := meta.Translator.Count(q)
	if err != nil {
		return 0, err
	}
	if !ok {
		return NotOptimizable, nil
	}

	lease, err := database.Acquire(ctx, s.db, tx, s.logger)
	if err != nil {
		return 0, err
	}
	var n int
	err = lease.Querier().QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n)
	if rerr := lease.Release(err); rerr != nil {
		s.logger.Warn("Store.Count() - release failed", "type", q.TypeName, "error", rerr)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", core.ErrRowOperation, q.TypeName, err)
	}
	if q.MaxFeatures != core.Unlimited && n > q.MaxFeatures {
		n = q.MaxFeatures
	}
	return n, nil
}

// Visit calls fn for every feature matching q. Per-feature failures are
// collected into a feature.VisitErrors and the visit continues.
func (s *Store) Visit(ctx context.Context, q core.Query, tx *database.Transaction, fn func(*core.Feature) error) error {
	r, err := s.OpenReader(ctx, q, tx)
	if err != nil {
		return err
	}
	err = feature.Visit(r, fn)
	return errors.Join(err, r.Close())
}

// Bounds returns the union of the geometry envelopes of the features matching
// q, or nil when none has a geometry.
func (s *Store) Bounds(ctx context.Context, q core.Query, tx *database.Transaction) (*geom.Extent, error) {
	schema, err := s.SchemaFor(ctx, q.TypeName)
	if err != nil {
		return nil, err
	}
	g := schema.DefaultGeometry()
	if g < 0 {
		return nil, nil
	}
	q.Properties = []string{schema.Attribute(g).Name}

	var out *geom.Extent
	err = s.Visit(ctx, q, tx, func(f *core.Feature) error {
		b, err := f.Bounds()
		if err != nil {
			return err
		}
		out = filter.UnionExtents(out, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) open(ctx context.Context, q core.Query, tx *database.Transaction, buffered bool) (*cursor.ResultCursor, error) {
	meta, err := s.metadata(ctx, q.TypeName)
	if err != nil {
		return nil, err
	}
	plan, err := meta.Translator.Plan(q)
	if err != nil {
		return nil, err
	}
	s.recordSplit(plan)

	lease, err := database.Acquire(ctx, s.db, tx, s.logger)
	if err != nil {
		return nil, err
	}
	return cursor.Open(ctx, meta.Translator, plan, lease, cursor.Options{
		Buffered: buffered,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
}

func (s *Store) recordSplit(plan *translate.Plan) {
	outcome := metrics.SplitOutcome(filter.IsInclude(plan.Pushed), filter.IsInclude(plan.Residual))
	if s.metrics != nil {
		s.metrics.FilterSplits.WithLabelValues(plan.Requested.TypeName(), outcome).Inc()
	}
	s.logger.Debug("Store.open() - filter split",
		"type", plan.Requested.TypeName(), "handle", plan.Query.Handle,
		"pushed", plan.Pushed, "residual", plan.Residual, "outcome", outcome)
}

func (s *Store) featureOptions() feature.Options {
	return feature.Options{Factory: s.factory, Logger: s.logger, Metrics: s.metrics}
}
