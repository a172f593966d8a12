package align

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func magnetic(samples ...Sample) Stream {
	return Stream{Name: "magnetic", Fields: []string{"mf_x"}, Unit: Nanosecond, Samples: samples}
}

func trajectory(samples ...Sample) Stream {
	return Stream{Name: "trajectory", Fields: []string{"dt_lat", "dt_level"}, Unit: Nanosecond, Samples: samples}
}

func rotation(samples ...Sample) Stream {
	return Stream{Name: "rotation", Fields: []string{"grv_w"}, Unit: Nanosecond, Samples: samples}
}

func s(ts int64, values ...Value) Sample {
	return Sample{Timestamp: ts, Values: values}
}

func TestAlignEmptyInputs(t *testing.T) {
	table, stats, err := Align(magnetic(), trajectory(), rotation())
	require.NoError(t, err)
	require.Empty(t, table.Rows)
	require.Equal(t, []string{"mf_x", "dt_lat", "dt_level", "grv_w"}, table.Fields)
	require.Equal(t, 0, stats.Output)
}

func TestAlignForwardFillCarriesLastObservation(t *testing.T) {
	table, _, err := Align(
		magnetic(s(0, Some(1))),
		trajectory(s(0, Some(10), Some(2)), s(10, Some(11), Some(2))),
		rotation(s(0, Some(1))),
	)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	require.Equal(t, int64(10), table.Rows[1].Timestamp)
	require.Equal(t, Some(1), table.Lookup(1, "mf_x"))
	require.Equal(t, Some(11), table.Lookup(1, "dt_lat"))
}

func TestAlignDropsRowsWithoutPriorValue(t *testing.T) {
	table, stats, err := Align(
		magnetic(s(5, Some(1))),
		trajectory(s(1, Some(10), Some(2)), s(5, Some(11), Some(2))),
		rotation(s(1, Some(1))),
	)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Dropped)
	require.Len(t, table.Rows, 1)
	require.Equal(t, int64(5), table.Rows[0].Timestamp)
}

func TestCrossFillMergesRowsSharingTimestamp(t *testing.T) {
	rows := []Row{
		{Timestamp: 7, Values: []Value{Some(1), Absent}},
		{Timestamp: 7, Values: []Value{Absent, Some(2)}},
		{Timestamp: 8, Values: []Value{Absent, Absent}},
	}
	CrossFill(rows)

	require.Equal(t, []Value{Some(1), Some(2)}, rows[0].Values)
	require.Equal(t, []Value{Some(1), Some(2)}, rows[1].Values)
	require.Equal(t, []Value{Absent, Absent}, rows[2].Values, "cross-fill never crosses timestamps")
}

func TestCrossFillPrefersEarliestThenLatest(t *testing.T) {
	rows := []Row{
		{Timestamp: 1, Values: []Value{Absent}},
		{Timestamp: 1, Values: []Value{Some(3)}},
		{Timestamp: 1, Values: []Value{Absent}},
		{Timestamp: 1, Values: []Value{Some(4)}},
	}
	CrossFill(rows)

	require.Equal(t, Some(3), rows[0].Values[0], "leading gap backfilled from first later value")
	require.Equal(t, Some(3), rows[2].Values[0], "middle gap takes the earlier value")
}

func TestJoinKeepsDuplicateTimestampsAsCartesianProduct(t *testing.T) {
	left := Table{Fields: []string{"a"}, Rows: []Row{
		{Timestamp: 1, Values: []Value{Some(1)}},
		{Timestamp: 1, Values: []Value{Some(2)}},
	}}
	right := Table{Fields: []string{"b"}, Rows: []Row{
		{Timestamp: 1, Values: []Value{Some(10)}},
		{Timestamp: 2, Values: []Value{Some(20)}},
	}}

	joined, err := Join(left, right)
	require.NoError(t, err)
	require.Len(t, joined.Rows, 3)
	require.Equal(t, []Value{Some(1), Some(10)}, joined.Rows[0].Values)
	require.Equal(t, []Value{Some(2), Some(10)}, joined.Rows[1].Values)
	require.Equal(t, []Value{Absent, Some(20)}, joined.Rows[2].Values)
}

func TestJoinRejectsFieldCollision(t *testing.T) {
	_, err := Join(Table{Fields: []string{"x"}}, Table{Fields: []string{"x"}})
	require.ErrorIs(t, err, ErrFieldCollision)
}

func TestAlignDedupKeepsFirstOccurrence(t *testing.T) {
	table, stats, err := Align(
		magnetic(s(1, Some(1)), s(1, Some(2))),
		trajectory(s(1, Some(10), Some(2))),
		rotation(s(1, Some(1))),
	)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	require.Equal(t, 1, stats.Duplicates)
	require.Equal(t, Some(1), table.Lookup(0, "mf_x"))
}

func TestAlignInvariants(t *testing.T) {
	streams := []Stream{
		magnetic(s(30, Some(3)), s(10, Some(1)), s(20, Absent), s(20, Some(2)), s(50, Some(5))),
		trajectory(s(15, Some(1), Some(1)), s(20, Absent, Some(1)), s(40, Some(4), Absent)),
		rotation(s(5, Some(0.5)), s(30, Some(0.7)), s(30, Absent)),
	}

	first, _, err := Align(streams...)
	require.NoError(t, err)
	second, _, err := Align(streams...)
	require.NoError(t, err)
	require.Equal(t, first, second, "alignment must be idempotent")

	seen := make(map[int64]struct{})
	var prev int64 = -1
	for _, row := range first.Rows {
		require.True(t, row.Complete(), "row %d has an absent field", row.Timestamp)
		_, dup := seen[row.Timestamp]
		require.False(t, dup, "duplicate timestamp %d", row.Timestamp)
		seen[row.Timestamp] = struct{}{}
		require.GreaterOrEqual(t, row.Timestamp, prev)
		prev = row.Timestamp
	}
	require.NotEmpty(t, first.Rows)
}

func TestAlignNormalizesUnits(t *testing.T) {
	ms := Stream{Name: "upload", Fields: []string{"u"}, Unit: Millisecond, Samples: []Sample{s(2, Some(1))}}
	ns := Stream{Name: "capture", Fields: []string{"c"}, Unit: Nanosecond, Samples: []Sample{s(2_000_000, Some(9))}}

	table, _, err := Align(ms, ns)
	require.NoError(t, err)
	require.Equal(t, Nanosecond, table.Unit)
	require.Len(t, table.Rows, 1)
	require.Equal(t, int64(2_000_000), table.Rows[0].Timestamp)
}

func TestConvertFloors(t *testing.T) {
	require.Equal(t, int64(1), Convert(1_999_999, Nanosecond, Millisecond))
	require.Equal(t, int64(-1), Convert(-1, Nanosecond, Millisecond))
	require.Equal(t, int64(3_000_000), Convert(3, Millisecond, Nanosecond))
}
