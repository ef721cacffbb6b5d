package core

import (
	"context"

	"github.com/go-spatial/geom"
)

// EventKind tells listeners what happened to the features of an event.
type EventKind int

const (
	FeaturesAdded EventKind = iota
	FeaturesChanged
	FeaturesRemoved
)

func (k EventKind) String() string {
	switch k {
	case FeaturesAdded:
		return "added"
	case FeaturesChanged:
		return "changed"
	case FeaturesRemoved:
		return "removed"
	}
	return "unknown"
}

// FeatureEvent describes a change to stored features.
type FeatureEvent struct {
	Kind     EventKind
	TypeName string

	// TxHandle names the transaction the change was made in. AutoCommit is
	// true when every statement committed on its own.
	TxHandle   string
	AutoCommit bool

	// Bounds covers the geometries touched; nil when unknown or empty.
	Bounds *geom.Extent

	// FeatureIDs lists the affected ids when known.
	FeatureIDs []string

	// Commit marks the batch event fired when a shared transaction commits.
	Commit bool
}

// Listener receives feature events.
type Listener interface {
	OnFeatureEvent(ctx context.Context, ev FeatureEvent) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev FeatureEvent) error

// OnFeatureEvent implements Listener.
func (f ListenerFunc) OnFeatureEvent(ctx context.Context, ev FeatureEvent) error {
	return f(ctx, ev)
}

// Notifier is how write paths publish events.
type Notifier interface {
	Notify(ctx context.Context, ev FeatureEvent)
}
