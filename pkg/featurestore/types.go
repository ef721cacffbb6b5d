package featurestore

import (
	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/database"
	"github.com/rzpsarthak13/featurestore/internal/feature"
	"github.com/rzpsarthak13/featurestore/internal/filter"
	"github.com/rzpsarthak13/featurestore/internal/registry"
	"github.com/rzpsarthak13/featurestore/internal/store"
)

type (
	Schema              = core.Schema
	AttributeDescriptor = core.AttributeDescriptor
	ValueType           = core.ValueType
	Feature             = core.Feature
	SortBy              = core.SortBy

	// Reader iterates the features matching a query. Close must be called.
	Reader = feature.Reader

	// Writer iterates and modifies features. Close must be called.
	Writer = feature.Writer

	// VisitErrors collects the per-feature failures of a visit.
	VisitErrors = feature.VisitErrors

	// Transaction is a shared transaction that several readers and writers
	// use in sequence.
	Transaction = database.Transaction

	Listener     = core.Listener
	ListenerFunc = core.ListenerFunc
	FeatureEvent = core.FeatureEvent
	EventKind    = core.EventKind

	LifecycleHook     = registry.LifecycleHook
	LifecycleHookFunc = registry.LifecycleHookFunc

	Predicate = filter.Predicate
)

const (
	FeaturesAdded   = core.FeaturesAdded
	FeaturesChanged = core.FeaturesChanged
	FeaturesRemoved = core.FeaturesRemoved

	// NotOptimizable is returned by Count when part of the filter runs in
	// process.
	NotOptimizable = store.NotOptimizable
)

var (
	ErrSchemaNotFound    = core.ErrSchemaNotFound
	ErrAttributeNotFound = core.ErrAttributeNotFound
	ErrMalformedID       = core.ErrMalformedID
	ErrEncoding          = core.ErrEncoding
	ErrCursorClosed      = core.ErrCursorClosed
	ErrRowOperation      = core.ErrRowOperation
	ErrRowWrite          = core.ErrRowWrite
	ErrVolatileKeys      = core.ErrVolatileKeys
	ErrNoFeature         = core.ErrNoFeature
	ErrNoPrimaryKey      = core.ErrNoPrimaryKey
)

// Predicate constructors.
var (
	All        = filter.All
	None       = filter.None
	Eq         = filter.Eq
	Ne         = filter.Ne
	Lt         = filter.Lt
	Le         = filter.Le
	Gt         = filter.Gt
	Ge         = filter.Ge
	Like       = filter.Like
	IsNull     = filter.IsNull
	IDs        = filter.IDs
	Not        = filter.Negate
	And        = filter.AllOf
	Or         = filter.AnyOf
	Intersects = filter.Intersects
)
