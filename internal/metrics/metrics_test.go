package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RowsRead.WithLabelValues("roads").Add(3)
	m.RowsWritten.WithLabelValues("roads", "insert").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsRead.WithLabelValues("roads")))
	n, err := testutil.GatherAndCount(reg, "featurestore_rows_written_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Panics(t, func() { New(reg) }, "duplicate registration")
}

func TestSplitOutcome(t *testing.T) {
	assert.Equal(t, SplitNone, SplitOutcome(true, true))
	assert.Equal(t, SplitPushed, SplitOutcome(false, true))
	assert.Equal(t, SplitResidual, SplitOutcome(true, false))
	assert.Equal(t, SplitPartial, SplitOutcome(false, false))
}
