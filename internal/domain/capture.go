package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/magcollector/internal/align"
	"example.com/magcollector/internal/batch"
	"example.com/magcollector/internal/capture"
	"example.com/magcollector/internal/observability"
)

// PoseLevelValid reports whether a trajectory floor level is worth storing. Level 0 marks
// readings whose indoor floor is unknown.
func PoseLevelValid(level float64) bool {
	return level != 0
}

// CaptureInput is one recorded session on disk, already normalized.
type CaptureInput struct {
	DeviceID  string
	Streams   capture.Streams
	BatchTime *int64
	DryRun    bool
}

// IngestReport describes one capture ingestion run.
type IngestReport struct {
	RunID         string
	DeviceID      string
	BatchTime     int64
	Align         align.Stats
	Magnetics     int // magnetic rows offered to the writer
	Poses         int // pose rows offered to the writer
	PosesFiltered int
	Write         WriteResult
	Duration      time.Duration
}

// IngestCapture aligns the three streams of a capture, tags them with one batch time and
// writes them duplicate-safely in a single transaction.
func (s *Service) IngestCapture(ctx context.Context, input CaptureInput) (IngestReport, error) {
	deviceID := strings.TrimSpace(input.DeviceID)
	if deviceID == "" {
		return IngestReport{}, ErrInvalidDevice
	}
	if totalSamples(input.Streams) == 0 {
		return IngestReport{}, ErrEmptyPayload
	}

	start := s.now()
	report := IngestReport{RunID: uuid.NewString(), DeviceID: deviceID}
	logger := s.logger.With(zap.String("run_id", report.RunID), zap.String("device_id", deviceID))

	table, stats, err := align.Align(input.Streams.All()...)
	if err != nil {
		return IngestReport{}, err
	}
	report.Align = stats
	observability.RecordAlignment(stats)
	if stats.Dropped > 0 {
		logger.Info("aligned rows dropped", zap.Int("dropped", stats.Dropped), zap.Int("joined", stats.Joined))
	}

	report.BatchTime = batch.Resolve(batch.Options{
		Explicit:       input.BatchTime,
		FirstTimestamp: batch.FirstTimestamp(table),
		Now:            s.now,
	})

	write, filtered := RecordsFromTable(table, BatchKey{DeviceID: deviceID, BatchTime: report.BatchTime}, s.now())
	report.PosesFiltered = filtered
	report.Magnetics = len(write.Magnetics)
	report.Poses = len(write.Poses)
	observability.RecordPosesFiltered(filtered)

	if !write.Empty() && !input.DryRun {
		result, err := s.persist(ctx, write, SourceCapture)
		if err != nil {
			return IngestReport{}, err
		}
		report.Write = result
	}

	report.Duration = s.now().Sub(start)
	observability.ObserveIngestDuration(SourceCapture, report.Duration)
	logger.Info("capture ingested",
		zap.Int64("batch_time", report.BatchTime),
		zap.Int("aligned", stats.Output),
		zap.Int("poses_filtered", filtered),
		zap.Bool("dry_run", input.DryRun),
	)
	return report, nil
}

func totalSamples(streams capture.Streams) int {
	n := 0
	for _, s := range streams.All() {
		n += len(s.Samples)
	}
	return n
}

// RecordsFromTable maps aligned rows onto stored records. Timestamps become ms; pose rows
// failing PoseLevelValid are excluded and counted.
func RecordsFromTable(table align.Table, key BatchKey, createdAt time.Time) (BatchWrite, int) {
	write := BatchWrite{BatchKey: key}
	if len(table.Rows) == 0 {
		return write, 0
	}

	col := func(name string) int { return table.Index(name) }
	mx, my, mz := col(capture.FieldMagX), col(capture.FieldMagY), col(capture.FieldMagZ)
	lat, lon, level := col(capture.FieldLat), col(capture.FieldLon), col(capture.FieldLevel)
	rx, ry, rz, rw := col(capture.FieldRotX), col(capture.FieldRotY), col(capture.FieldRotZ), col(capture.FieldRotW)

	get := func(row align.Row, idx int, fallback float64) (float64, bool) {
		if idx < 0 || !row.Values[idx].Valid {
			return fallback, false
		}
		return row.Values[idx].Float, true
	}

	filtered := 0
	for _, row := range table.Rows {
		ts := batch.ToMillis(row.Timestamp, table.Unit)

		if x, ok := get(row, mx, 0); ok {
			y, _ := get(row, my, 0)
			z, _ := get(row, mz, 0)
			write.Magnetics = append(write.Magnetics, MagneticReading{
				DeviceID: key.DeviceID, TS: ts, X: x, Y: y, Z: z,
				BatchTime: key.BatchTime, CreatedAt: createdAt,
			})
		}

		lv, hasLevel := get(row, level, 0)
		if !hasLevel {
			continue
		}
		if !PoseLevelValid(lv) {
			filtered++
			continue
		}
		px, _ := get(row, lat, 0)
		py, _ := get(row, lon, 0)
		ox, _ := get(row, rx, DefaultOriX)
		oy, _ := get(row, ry, DefaultOriY)
		oz, _ := get(row, rz, DefaultOriZ)
		ow, _ := get(row, rw, DefaultOriW)
		write.Poses = append(write.Poses, PoseReading{
			DeviceID: key.DeviceID, TS: ts,
			PosX: px, PosY: py, PosZ: lv,
			OriX: ox, OriY: oy, OriZ: oz, OriW: ow,
			BatchTime: key.BatchTime, CreatedAt: createdAt,
		})
	}
	return write, filtered
}
