package featurestore

import (
	"context"

	"github.com/go-spatial/geom"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/store"
)

// FeatureType provides read and write access to the features of one type.
// Every method takes a predicate selecting the features; a nil predicate
// selects all of them.
type FeatureType interface {
	// Name returns the type name.
	Name() string

	// Schema returns the attributes of the type. Key columns are only part
	// of it when the key mapper exposes them.
	Schema(ctx context.Context) (*Schema, error)

	// Features returns a reader over the matching features. The part of p
	// the database cannot evaluate is applied in process.
	Features(ctx context.Context, p Predicate, opts ...QueryOption) (*Reader, error)

	// Writer returns a writer over the matching features. New features are
	// appended once the matches are exhausted. Types with volatile feature
	// ids are refused unless AllowVolatileWrites is given.
	Writer(ctx context.Context, p Predicate, opts ...QueryOption) (*Writer, error)

	// Count returns the number of matching features, or NotOptimizable when
	// the database cannot count them alone.
	Count(ctx context.Context, p Predicate, opts ...QueryOption) (int, error)

	// Bounds returns the union of the envelopes of the matching features'
	// default geometries, or nil when there is none.
	Bounds(ctx context.Context, p Predicate, opts ...QueryOption) (*geom.Extent, error)

	// Visit calls fn for every matching feature. Failures of single features
	// are collected into a VisitErrors and the visit continues.
	Visit(ctx context.Context, p Predicate, fn func(*Feature) error, opts ...QueryOption) error

	// Invalidate drops the cached schema so the next call rediscovers the
	// table.
	Invalidate(ctx context.Context) error
}

type queryOptions struct {
	query         core.Query
	tx            *database.Transaction
	allowVolatile bool
}

// QueryOption customizes a FeatureType call.
type QueryOption func(*queryOptions)

// WithProperties limits the returned attributes to names, in that order.
func WithProperties(names ...string) QueryOption {
	return func(o *queryOptions) { o.query.Properties = names }
}

// WithMaxFeatures stops after n features.
func WithMaxFeatures(n int) QueryOption {
	return func(o *queryOptions) { o.query.MaxFeatures = n }
}

// WithSortBy appends a sort key.
func WithSortBy(attribute string, descending bool) QueryOption {
	return func(o *queryOptions) {
		o.query.SortBy = append(o.query.SortBy, SortBy{Attribute: attribute, Descending: descending})
	}
}

// WithHandle names the request in logs and events.
func WithHandle(handle string) QueryOption {
	return func(o *queryOptions) { o.query.Handle = handle }
}

// InTransaction runs the call in tx instead of its own connection.
func InTransaction(tx *Transaction) QueryOption {
	return func(o *queryOptions) { o.tx = tx }
}

// AllowVolatileWrites lets Writer open on a type whose feature ids are not
// stable between reads.
func AllowVolatileWrites() QueryOption {
	return func(o *queryOptions) { o.allowVolatile = true }
}

// typeWrapper binds a type name to the client's store.
type typeWrapper struct {
	name   string
	client *clientWrapper
}

func (tw *typeWrapper) build(p Predicate, opts []QueryOption) queryOptions {
	o := queryOptions{query: core.Query{TypeName: tw.name, Filter: p}}
	for _, opt := range opts {
		opt(&o)
	}
	o.query.TypeName = tw.name
	return o
}

// Name returns the type name.
func (tw *typeWrapper) Name() string { return tw.name }

// Schema returns the attributes of the type.
func (tw *typeWrapper) Schema(ctx context.Context) (*Schema, error) {
	s, err := tw.client.impl.Store()
	if err != nil {
		return nil, err
	}
	return s.SchemaFor(ctx, tw.name)
}

// Features returns a reader over the matching features.
func (tw *typeWrapper) Features(ctx context.Context, p Predicate, opts ...QueryOption) (*Reader, error) {
	s, err := tw.client.impl.Store()
	if err != nil {
		return nil, err
	}
	o := tw.build(p, opts)
	return s.OpenReader(ctx, o.query, o.tx)
}

// Writer returns a writer over the matching features.
func (tw *typeWrapper) Writer(ctx context.Context, p Predicate, opts ...QueryOption) (*Writer, error) {
	s, err := tw.client.impl.Store()
	if err != nil {
		return nil, err
	}
	o := tw.build(p, opts)
	var wopts []store.WriterOption
	if o.allowVolatile {
		wopts = append(wopts, store.AllowVolatile())
	}
	return s.OpenWriter(ctx, tw.name, o.query.Filter, o.tx, wopts...)
}

// Count returns the number of matching features.
func (tw *typeWrapper) Count(ctx context.Context, p Predicate, opts ...QueryOption) (int, error) {
	s, err := tw.client.impl.Store()
	if err != nil {
		return 0, err
	}
	o := tw.build(p, opts)
	return s.Count(ctx, o.query, o.tx)
}

// Bounds returns the extent of the matching features.
func (tw *typeWrapper) Bounds(ctx context.Context, p Predicate, opts ...QueryOption) (*geom.Extent, error) {
	s, err := tw.client.impl.Store()
	if err != nil {
		return nil, err
	}
	o := tw.build(p, opts)
	return s.Bounds(ctx, o.query, o.tx)
}

// Visit calls fn for every matching feature.
func (tw *typeWrapper) Visit(ctx context.Context, p Predicate, fn func(*Feature) error, opts ...QueryOption) error {
	s, err := tw.client.impl.Store()
	if err != nil {
		return err
	}
	o := tw.build(p, opts)
	return s.Visit(ctx, o.query, o.tx, fn)
}

// Invalidate drops the cached schema.
func (tw *typeWrapper) Invalidate(ctx context.Context) error {
	s, err := tw.client.impl.Store()
	if err != nil {
		return err
	}
	return s.Invalidate(ctx, tw.name)
}
