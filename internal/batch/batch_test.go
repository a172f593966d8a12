package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/magcollector/internal/align"
)

func fixedClock() time.Time {
	return time.Date(2025, time.January, 28, 12, 10, 30, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func TestResolvePrecedence(t *testing.T) {
	collected := time.UnixMilli(5_000).UTC()

	cases := []struct {
		name string
		opts Options
		want int64
	}{
		{"explicit wins", Options{Explicit: ptr(int64(42)), CollectedAt: &collected, FirstTimestamp: ptr(int64(7)), Now: fixedClock}, 42},
		{"explicit zero is still explicit", Options{Explicit: ptr(int64(0)), FirstTimestamp: ptr(int64(7)), Now: fixedClock}, 0},
		{"collected at", Options{CollectedAt: &collected, FirstTimestamp: ptr(int64(7)), Now: fixedClock}, 5_000},
		{"first timestamp", Options{FirstTimestamp: ptr(int64(7)), Now: fixedClock}, 7},
		{"wall clock", Options{Now: fixedClock}, fixedClock().UnixMilli()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Resolve(tc.opts))
		})
	}
}

func TestFirstTimestampConvertsToMillis(t *testing.T) {
	table := align.Table{Unit: align.Nanosecond, Rows: []align.Row{{Timestamp: 1_738_066_230_123_456_789}}}
	got := FirstTimestamp(table)
	require.NotNil(t, got)
	require.Equal(t, int64(1_738_066_230_123), *got)

	require.Nil(t, FirstTimestamp(align.Table{}))
}
