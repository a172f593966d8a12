// Package memory provides an in-process ReadingStore with the same duplicate-safe,
// all-or-nothing write semantics as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/magcollector/internal/domain"
)

type readingKey struct {
	deviceID string
	ts       int64
}

// Store keeps readings in maps guarded by one lock.
type Store struct {
	mu        sync.RWMutex
	magnetics map[readingKey]domain.MagneticReading
	poses     map[readingKey]domain.PoseReading
	// failNext makes the next write fail, for exercising rollback paths.
	failNext error
}

var _ domain.ReadingStore = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		magnetics: make(map[readingKey]domain.MagneticReading),
		poses:     make(map[readingKey]domain.PoseReading),
	}
}

// FailNextWrite makes the next WriteBatch return err without storing anything.
func (s *Store) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// WriteBatch stages every row, then commits under the write lock so a failure stores nothing.
func (s *Store) WriteBatch(ctx context.Context, write domain.BatchWrite) (domain.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.WriteResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return domain.WriteResult{}, err
	}

	var result domain.WriteResult
	stagedMag := make(map[readingKey]domain.MagneticReading)
	for _, m := range write.Magnetics {
		key := readingKey{deviceID: m.DeviceID, ts: m.TS}
		if _, exists := s.magnetics[key]; exists {
			result.SkippedMagnetics++
			continue
		}
		if _, staged := stagedMag[key]; staged {
			result.SkippedMagnetics++
			continue
		}
		stagedMag[key] = m
		result.InsertedMagnetics++
	}

	stagedPose := make(map[readingKey]domain.PoseReading)
	for _, p := range write.Poses {
		key := readingKey{deviceID: p.DeviceID, ts: p.TS}
		if _, exists := s.poses[key]; exists {
			result.SkippedPoses++
			continue
		}
		if _, staged := stagedPose[key]; staged {
			result.SkippedPoses++
			continue
		}
		stagedPose[key] = p
		result.InsertedPoses++
	}

	for k, v := range stagedMag {
		s.magnetics[k] = v
	}
	for k, v := range stagedPose {
		s.poses[k] = v
	}
	return result, nil
}

// ListBatches returns the distinct batch times of a device across both modalities.
func (s *Store) ListBatches(_ context.Context, deviceID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{})
	for k, m := range s.magnetics {
		if k.deviceID == deviceID {
			seen[m.BatchTime] = struct{}{}
		}
	}
	for k, p := range s.poses {
		if k.deviceID == deviceID {
			seen[p.BatchTime] = struct{}{}
		}
	}

	out := make([]int64, 0, len(seen))
	for bt := range seen {
		out = append(out, bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FetchBatch returns both modalities of one batch ordered by ts.
func (s *Store) FetchBatch(_ context.Context, deviceID string, batchTime int64) (domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := domain.Batch{
		BatchKey:  domain.BatchKey{DeviceID: deviceID, BatchTime: batchTime},
		Magnetics: []domain.MagneticReading{},
		Poses:     []domain.PoseReading{},
	}
	for k, m := range s.magnetics {
		if k.deviceID == deviceID && m.BatchTime == batchTime {
			out.Magnetics = append(out.Magnetics, m)
		}
	}
	for k, p := range s.poses {
		if k.deviceID == deviceID && p.BatchTime == batchTime {
			out.Poses = append(out.Poses, p)
		}
	}
	sort.Slice(out.Magnetics, func(i, j int) bool { return out.Magnetics[i].TS < out.Magnetics[j].TS })
	sort.Slice(out.Poses, func(i, j int) bool { return out.Poses[i].TS < out.Poses[j].TS })
	return out, nil
}

// LatestMagnetics returns up to limit readings, newest first.
func (s *Store) LatestMagnetics(_ context.Context, deviceID string, limit int) ([]domain.MagneticReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MagneticReading, 0)
	for k, m := range s.magnetics {
		if k.deviceID == deviceID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS > out[j].TS })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EachMagnetic visits every magnetic reading ordered by ts, for the line-protocol exporter.
func (s *Store) EachMagnetic(ctx context.Context, fn func(domain.MagneticReading) error) error {
	s.mu.RLock()
	all := make([]domain.MagneticReading, 0, len(s.magnetics))
	for _, m := range s.magnetics {
		all = append(all, m)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].TS != all[j].TS {
			return all[i].TS < all[j].TS
		}
		return all[i].DeviceID < all[j].DeviceID
	})
	for _, m := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}
