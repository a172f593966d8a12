// Package domain defines the ingestion and retrieval logic for sensor readings.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/magcollector/internal/batch"
	"example.com/magcollector/internal/observability"
)

var (
	// ErrEmptyPayload is returned when an ingestion call carries no records in any modality.
	ErrEmptyPayload = errors.New("magnetics and poses are both empty")
	// ErrInvalidDevice is returned when the device identifier is blank.
	ErrInvalidDevice = errors.New("device_id is required")
	// ErrInvalidLimit is returned when a result-size bound is outside 1..MaxLatestLimit.
	ErrInvalidLimit = errors.New("limit must be between 1 and 1000")
	// ErrStoreUnavailable wraps every reading store failure. The original error stays reachable
	// through errors.Is and errors.As.
	ErrStoreUnavailable = errors.New("reading store unavailable")
)

const (
	DefaultLatestLimit = 100
	MaxLatestLimit     = 1000
)

// Upload sources recorded on metrics and events.
const (
	SourceAPI     = "api"
	SourceKafka   = "kafka"
	SourceCapture = "capture"
)

// ReadingStore captures persistence operations. WriteBatch must be atomic per call and
// insert each (device_id, ts) at most once, skipping rows that already exist.
type ReadingStore interface {
	WriteBatch(ctx context.Context, write BatchWrite) (WriteResult, error)
	ListBatches(ctx context.Context, deviceID string) ([]int64, error)
	FetchBatch(ctx context.Context, deviceID string, batchTime int64) (Batch, error)
	LatestMagnetics(ctx context.Context, deviceID string, limit int) ([]MagneticReading, error)
}

// BatchIndexEntry is one cache lookup. Generation counts the invalidations of the device
// seen by the lookup and is handed back to Set.
type BatchIndexEntry struct {
	Batches    []int64
	Hit        bool
	Generation int64
}

// BatchIndexCache memoizes ListBatches per device. Set must store nothing when the device
// was invalidated after the Get that returned generation, so a list read before a write
// can never be cached after that write.
type BatchIndexCache interface {
	Get(ctx context.Context, deviceID string) (BatchIndexEntry, error)
	Set(ctx context.Context, deviceID string, generation int64, batches []int64) error
	Invalidate(ctx context.Context, deviceID string) error
}

// BatchNotifier is told about every committed batch write.
type BatchNotifier interface {
	BatchIngested(ctx context.Context, event BatchEvent) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (BatchIndexEntry, error) { return BatchIndexEntry{}, nil }
func (noopCache) Set(context.Context, string, int64, []int64) error    { return nil }
func (noopCache) Invalidate(context.Context, string) error             { return nil }

type noopNotifier struct{}

func (noopNotifier) BatchIngested(context.Context, BatchEvent) error { return nil }

// Option configures optional collaborators of the Service.
type Option func(*Service)

// WithCache sets the batch index cache.
func WithCache(cache BatchIndexCache) Option {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithNotifier sets the batch notifier.
func WithNotifier(notifier BatchNotifier) Option {
	return func(s *Service) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the wall clock used for batch times and created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service orchestrates ingestion and retrieval.
type Service struct {
	store    ReadingStore
	cache    BatchIndexCache
	notifier BatchNotifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(store ReadingStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		cache:    noopCache{},
		notifier: noopNotifier{},
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadInput captures an already-combined payload from the API or the upload topic.
type UploadInput struct {
	DeviceID    string
	BatchTime   *int64
	CollectedAt *time.Time
	Magnetics   []MagneticSample
	Poses       []PoseSample
	Source      string
}

// UploadResult reports what an upload stored.
type UploadResult struct {
	BatchTime int64
	Write     WriteResult
}

// Upload tags every sample with one batch time and writes them duplicate-safely.
func (s *Service) Upload(ctx context.Context, input UploadInput) (UploadResult, error) {
	deviceID := strings.TrimSpace(input.DeviceID)
	if deviceID == "" {
		return UploadResult{}, ErrInvalidDevice
	}
	if len(input.Magnetics) == 0 && len(input.Poses) == 0 {
		return UploadResult{}, ErrEmptyPayload
	}
	source := input.Source
	if source == "" {
		source = SourceAPI
	}

	start := s.now()
	batchTime := batch.Resolve(batch.Options{
		Explicit:    input.BatchTime,
		CollectedAt: input.CollectedAt,
		Now:         s.now,
	})

	write := BatchWrite{BatchKey: BatchKey{DeviceID: deviceID, BatchTime: batchTime}}
	createdAt := s.now()
	write.Magnetics = make([]MagneticReading, 0, len(input.Magnetics))
	for _, m := range input.Magnetics {
		write.Magnetics = append(write.Magnetics, MagneticReading{
			DeviceID: deviceID, TS: m.Timestamp, X: m.X, Y: m.Y, Z: m.Z,
			BatchTime: batchTime, CreatedAt: createdAt,
		})
	}
	write.Poses = make([]PoseReading, 0, len(input.Poses))
	for _, p := range input.Poses {
		write.Poses = append(write.Poses, PoseReading{
			DeviceID: deviceID, TS: p.Timestamp,
			PosX: p.PosX, PosY: p.PosY, PosZ: p.PosZ,
			OriX: p.OriX, OriY: p.OriY, OriZ: p.OriZ, OriW: p.OriW,
			BatchTime: batchTime, CreatedAt: createdAt,
		})
	}

	result, err := s.persist(ctx, write, source)
	if err != nil {
		return UploadResult{}, err
	}
	observability.ObserveIngestDuration(source, s.now().Sub(start))
	return UploadResult{BatchTime: batchTime, Write: result}, nil
}

// persist runs the transactional write and its post-commit side effects.
func (s *Service) persist(ctx context.Context, write BatchWrite, source string) (WriteResult, error) {
	logger := s.logger.With(
		zap.String("device_id", write.DeviceID),
		zap.Int64("batch_time", write.BatchTime),
		zap.String("source", source),
	)

	result, err := s.store.WriteBatch(ctx, write)
	if err != nil {
		logger.Error("batch write failed", zap.Error(err))
		return WriteResult{}, storeError(err)
	}
	observability.RecordWrite(source, result)
	logger.Info("batch written",
		zap.Int("inserted_magnetics", result.InsertedMagnetics),
		zap.Int("inserted_poses", result.InsertedPoses),
		zap.Int("skipped_magnetics", result.SkippedMagnetics),
		zap.Int("skipped_poses", result.SkippedPoses),
	)

	if result.Inserted() == 0 {
		return result, nil
	}
	observability.RecordBatchPersisted(s.now())

	if err := s.cache.Invalidate(ctx, write.DeviceID); err != nil {
		logger.Warn("batch index invalidation failed", zap.Error(err))
	}

	event := BatchEvent{
		EventID:           uuid.NewString(),
		DeviceID:          write.DeviceID,
		BatchTime:         write.BatchTime,
		InsertedMagnetics: result.InsertedMagnetics,
		InsertedPoses:     result.InsertedPoses,
		Source:            source,
		OccurredAt:        s.now(),
	}
	if err := s.notifier.BatchIngested(ctx, event); err != nil {
		logger.Warn("batch notification failed", zap.String("event_id", event.EventID), zap.Error(err))
	}
	return result, nil
}

// ListBatches returns the distinct batch times of a device in ascending order.
func (s *Service) ListBatches(ctx context.Context, deviceID string) ([]int64, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrInvalidDevice
	}

	entry, cacheErr := s.cache.Get(ctx, deviceID)
	if cacheErr != nil {
		s.logger.Warn("batch index cache read failed", zap.String("device_id", deviceID), zap.Error(cacheErr))
	} else if entry.Hit {
		return entry.Batches, nil
	}

	batches, err := s.store.ListBatches(ctx, deviceID)
	if err != nil {
		return nil, storeError(err)
	}
	if batches == nil {
		batches = []int64{}
	}
	if cacheErr != nil {
		// Generation unknown; filling could overwrite a newer invalidation.
		return batches, nil
	}
	if err := s.cache.Set(ctx, deviceID, entry.Generation, batches); err != nil {
		s.logger.Warn("batch index cache write failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	return batches, nil
}

// FetchBatch returns every record of one batch.
func (s *Service) FetchBatch(ctx context.Context, deviceID string, batchTime int64) (Batch, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Batch{}, ErrInvalidDevice
	}
	b, err := s.store.FetchBatch(ctx, deviceID, batchTime)
	if err != nil {
		return Batch{}, storeError(err)
	}
	if b.Magnetics == nil {
		b.Magnetics = []MagneticReading{}
	}
	if b.Poses == nil {
		b.Poses = []PoseReading{}
	}
	b.BatchKey = BatchKey{DeviceID: deviceID, BatchTime: batchTime}
	return b, nil
}

// LatestMagnetics returns the newest readings first. A zero limit means DefaultLatestLimit.
func (s *Service) LatestMagnetics(ctx context.Context, deviceID string, limit int) ([]MagneticReading, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrInvalidDevice
	}
	if limit == 0 {
		limit = DefaultLatestLimit
	}
	if limit < 1 || limit > MaxLatestLimit {
		return nil, ErrInvalidLimit
	}
	readings, err := s.store.LatestMagnetics(ctx, deviceID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	if readings == nil {
		readings = []MagneticReading{}
	}
	return readings, nil
}

func storeError(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
