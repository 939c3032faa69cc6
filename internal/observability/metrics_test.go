package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.CandleOutcomes.WithLabelValues("1min", "created").Inc()
	m.CandleOutcomes.WithLabelValues("1min", "created").Inc()
	m.TicksRejected.WithLabelValues("validation").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CandleOutcomes.WithLabelValues("1min", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksRejected.WithLabelValues("validation")))
}

func TestRecordHelpers_UseDefaultMetrics(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.ArchivedTicks)
	RecordArchiveBatch(5, nil)
	RecordArchiveBatch(7, errors.New("down"))
	assert.Equal(t, before+5, testutil.ToFloat64(DefaultMetrics.ArchivedTicks))

	failedBefore := testutil.ToFloat64(DefaultMetrics.SweepFailures.WithLabelValues("ticks"))
	RecordSweep(map[string]int64{"candles:1day": 3}, []string{"ticks"}, time.Second)
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(DefaultMetrics.SweepFailures.WithLabelValues("ticks")))
}
