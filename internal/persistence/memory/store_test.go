package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/magcollector/internal/domain"
)

func write(device string, batchTime int64, ts ...int64) domain.BatchWrite {
	w := domain.BatchWrite{BatchKey: domain.BatchKey{DeviceID: device, BatchTime: batchTime}}
	for _, t := range ts {
		w.Magnetics = append(w.Magnetics, domain.MagneticReading{DeviceID: device, TS: t, X: float64(t), BatchTime: batchTime})
		w.Poses = append(w.Poses, domain.PoseReading{DeviceID: device, TS: t, PosZ: 1, OriW: 1, BatchTime: batchTime})
	}
	return w
}

func TestWriteBatchSkipsExistingAndRepeatedRows(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	res, err := store.WriteBatch(ctx, write("dev", 1, 10, 20, 20))
	require.NoError(t, err)
	require.Equal(t, 2, res.InsertedMagnetics)
	require.Equal(t, 1, res.SkippedMagnetics)
	require.Equal(t, 2, res.InsertedPoses)

	res, err = store.WriteBatch(ctx, write("dev", 2, 20, 30))
	require.NoError(t, err)
	require.Equal(t, 1, res.InsertedMagnetics)
	require.Equal(t, 1, res.SkippedMagnetics)

	// The first stored row wins.
	b, err := store.FetchBatch(ctx, "dev", 1)
	require.NoError(t, err)
	require.Len(t, b.Magnetics, 2)
	require.Equal(t, []int64{10, 20}, []int64{b.Magnetics[0].TS, b.Magnetics[1].TS})
}

func TestWriteBatchFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("boom")

	store.FailNextWrite(boom)
	_, err := store.WriteBatch(ctx, write("dev", 1, 1, 2))
	require.ErrorIs(t, err, boom)

	batches, err := store.ListBatches(ctx, "dev")
	require.NoError(t, err)
	require.Empty(t, batches)

	res, err := store.WriteBatch(ctx, write("dev", 1, 1, 2))
	require.NoError(t, err)
	require.Equal(t, 2, res.InsertedMagnetics)
}

func TestListBatchesUnionsModalities(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	magOnly := write("dev", 300, 1)
	magOnly.Poses = nil
	poseOnly := write("dev", 100, 2)
	poseOnly.Magnetics = nil
	other := write("other", 200, 3)

	for _, w := range []domain.BatchWrite{magOnly, poseOnly, other} {
		_, err := store.WriteBatch(ctx, w)
		require.NoError(t, err)
	}

	batches, err := store.ListBatches(ctx, "dev")
	require.NoError(t, err)
	require.Equal(t, []int64{100, 300}, batches)
}

func TestLatestMagneticsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.WriteBatch(ctx, write("dev", 1, 5, 1, 3, 4, 2))
	require.NoError(t, err)

	latest, err := store.LatestMagnetics(ctx, "dev", 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	require.Equal(t, int64(5), latest[0].TS)
	require.Equal(t, int64(3), latest[2].TS)
}

func TestEachMagneticOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	_, err := store.WriteBatch(ctx, write("b", 1, 3, 1))
	require.NoError(t, err)
	_, err = store.WriteBatch(ctx, write("a", 1, 2))
	require.NoError(t, err)

	var got []int64
	require.NoError(t, store.EachMagnetic(ctx, func(m domain.MagneticReading) error {
		got = append(got, m.TS)
		return nil
	}))
	require.Equal(t, []int64{1, 2, 3}, got)
}
