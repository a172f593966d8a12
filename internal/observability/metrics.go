package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"example.com/magcollector/internal/align"
)

// WriteCounts is the subset of a write result the metrics care about.
type WriteCounts interface {
	Counts() (insertedMag, insertedPose, skippedMag, skippedPose int)
}

var (
	rowsInsertedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magcollector",
		Subsystem: "persistence",
		Name:      "rows_inserted_total",
		Help:      "Rows inserted, labeled by modality and ingestion source.",
	}, []string{"modality", "source"})

	rowsSkippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "magcollector",
		Subsystem: "persistence",
		Name:      "rows_skipped_total",
		Help:      "Rows skipped because (device_id, ts) already existed.",
	}, []string{"modality", "source"})

	batchPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "magcollector",
		Subsystem: "persistence",
		Name:      "last_batch_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent batch write that inserted rows.",
	})

	alignedDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "magcollector",
		Subsystem: "align",
		Name:      "rows_dropped_total",
		Help:      "Joined rows removed because a field had no prior value to carry forward.",
	})

	alignedDuplicateCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "magcollector",
		Subsystem: "align",
		Name:      "rows_deduplicated_total",
		Help:      "Aligned rows removed because their timestamp repeated an earlier row.",
	})

	posesFilteredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "magcollector",
		Subsystem: "align",
		Name:      "poses_filtered_total",
		Help:      "Aligned pose rows excluded by the floor level policy.",
	})

	ingestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "magcollector",
		Subsystem: "ingest",
		Name:      "duration_seconds",
		Help:      "Wall time of one ingestion run.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(
		rowsInsertedCounter,
		rowsSkippedCounter,
		batchPersistGauge,
		alignedDroppedCounter,
		alignedDuplicateCounter,
		posesFilteredCounter,
		ingestDuration,
	)
}

// RecordWrite adds the counts of one batch write.
func RecordWrite(source string, result WriteCounts) {
	im, ip, sm, sp := result.Counts()
	rowsInsertedCounter.WithLabelValues("magnetic", source).Add(float64(im))
	rowsInsertedCounter.WithLabelValues("pose", source).Add(float64(ip))
	rowsSkippedCounter.WithLabelValues("magnetic", source).Add(float64(sm))
	rowsSkippedCounter.WithLabelValues("pose", source).Add(float64(sp))
}

// RecordBatchPersisted updates the persistence watermark gauge.
func RecordBatchPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	batchPersistGauge.Set(float64(ts.Unix()))
}

// RecordAlignment adds the drop counts of one alignment run.
func RecordAlignment(stats align.Stats) {
	alignedDroppedCounter.Add(float64(stats.Dropped))
	alignedDuplicateCounter.Add(float64(stats.Duplicates))
}

// RecordPosesFiltered counts pose rows excluded by the floor policy.
func RecordPosesFiltered(n int) {
	if n <= 0 {
		return
	}
	posesFilteredCounter.Add(float64(n))
}

// ObserveIngestDuration records the wall time of one ingestion run.
func ObserveIngestDuration(source string, d time.Duration) {
	if d < 0 {
		return
	}
	ingestDuration.WithLabelValues(source).Observe(d.Seconds())
}
