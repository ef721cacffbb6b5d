// Package metrics holds the Prometheus counters of the feature store.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "featurestore"

	MetricCursorsOpened    = "cursors_opened_total"
	MetricCursorsClosed    = "cursors_closed_total"
	MetricRowsRead         = "rows_read_total"
	MetricFeaturesFiltered = "features_filtered_total"
	MetricRowsWritten      = "rows_written_total"
	MetricFilterSplits     = "filter_splits_total"
	MetricEventsPublished  = "events_published_total"
)

// Split outcomes.
const (
	SplitNone     = "none"     // no filter
	SplitPushed   = "pushed"   // evaluated by the database only
	SplitPartial  = "partial"  // both sides non-trivial
	SplitResidual = "residual" // evaluated in process only
)

// Metrics groups the counters. The zero value is not usable; call New.
type Metrics struct {
	CursorsOpened    *prometheus.CounterVec
	CursorsClosed    *prometheus.CounterVec
	RowsRead         *prometheus.CounterVec
	FeaturesFiltered *prometheus.CounterVec
	RowsWritten      *prometheus.CounterVec
	FilterSplits     *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
}

// New creates the counters and registers them on reg. A nil reg leaves them
// unregistered, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CursorsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricCursorsOpened,
			Help:      "Result cursors opened, by feature type and mode.",
		}, []string{"type", "mode"}),
		CursorsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricCursorsClosed,
			Help:      "Result cursors closed, by feature type and outcome.",
		}, []string{"type", "outcome"}),
		RowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRowsRead,
			Help:      "Rows fetched from the database.",
		}, []string{"type"}),
		FeaturesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricFeaturesFiltered,
			Help:      "Rows rejected by the in-process residual filter.",
		}, []string{"type"}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRowsWritten,
			Help:      "Rows inserted, updated or deleted.",
		}, []string{"type", "op"}),
		FilterSplits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricFilterSplits,
			Help:      "Filter split outcomes.",
		}, []string{"type", "outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricEventsPublished,
			Help:      "Feature events handed to publishers, by sink and result.",
		}, []string{"sink", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.CursorsOpened, m.CursorsClosed, m.RowsRead, m.FeaturesFiltered,
			m.RowsWritten, m.FilterSplits, m.EventsPublished)
	}
	return m
}

// SplitOutcome classifies a split for FilterSplits.
func SplitOutcome(pushedIsInclude, residualIsInclude bool) string {
	switch {
	case pushedIsInclude && residualIsInclude:
		return SplitNone
	case residualIsInclude:
		return SplitPushed
	case pushedIsInclude:
		return SplitResidual
	}
	return SplitPartial
}
