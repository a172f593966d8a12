package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/magcollector/internal/align"
)

type counts [4]int

func (c counts) Counts() (int, int, int, int) { return c[0], c[1], c[2], c[3] }

func TestRecordWriteSplitsByModality(t *testing.T) {
	before := testutil.ToFloat64(rowsInsertedCounter.WithLabelValues("magnetic", "test"))
	beforeSkipped := testutil.ToFloat64(rowsSkippedCounter.WithLabelValues("pose", "test"))

	RecordWrite("test", counts{3, 1, 0, 2})

	require.InDelta(t, before+3, testutil.ToFloat64(rowsInsertedCounter.WithLabelValues("magnetic", "test")), 0.0001)
	require.InDelta(t, beforeSkipped+2, testutil.ToFloat64(rowsSkippedCounter.WithLabelValues("pose", "test")), 0.0001)
}

func TestRecordAlignmentCountsDrops(t *testing.T) {
	before := testutil.ToFloat64(alignedDroppedCounter)
	RecordAlignment(align.Stats{Dropped: 4, Duplicates: 1})
	require.InDelta(t, before+4, testutil.ToFloat64(alignedDroppedCounter), 0.0001)
}

func TestObserveIngestDurationIgnoresNegative(t *testing.T) {
	before := histogramSampleCount(t, "histtest")

	ObserveIngestDuration("histtest", 25*time.Millisecond)
	ObserveIngestDuration("histtest", -time.Second)

	require.Equal(t, before+1, histogramSampleCount(t, "histtest"))
}

func TestRecordPosesFilteredSkipsZero(t *testing.T) {
	before := testutil.ToFloat64(posesFilteredCounter)
	RecordPosesFiltered(0)
	RecordPosesFiltered(2)
	require.InDelta(t, before+2, testutil.ToFloat64(posesFilteredCounter), 0.0001)
}

func histogramSampleCount(t *testing.T, source string) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	observer := ingestDuration.WithLabelValues(source)
	hist, ok := observer.(prometheus.Histogram)
	require.True(t, ok)
	require.NoError(t, hist.Write(metric))
	require.NotNil(t, metric.GetHistogram())
	return metric.GetHistogram().GetSampleCount()
}
