// Package batch derives the batch time that tags every record of one capture or upload.
package batch

import (
	"time"

	"example.com/magcollector/internal/align"
)

// Options lists the fallback sources for a batch time, highest precedence first.
type Options struct {
	// Explicit is a caller-supplied batch time in ms, used verbatim.
	Explicit *int64
	// CollectedAt is the client-reported collection time.
	CollectedAt *time.Time
	// FirstTimestamp is the first aligned timestamp in ms; set only on the capture path.
	FirstTimestamp *int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Resolve returns the batch time in ms since epoch.
func Resolve(opts Options) int64 {
	switch {
	case opts.Explicit != nil:
		return *opts.Explicit
	case opts.CollectedAt != nil && !opts.CollectedAt.IsZero():
		return opts.CollectedAt.UnixMilli()
	case opts.FirstTimestamp != nil:
		return *opts.FirstTimestamp
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	return now().UnixMilli()
}

// FirstTimestamp returns the first row's timestamp of table in ms, or nil when empty.
func FirstTimestamp(table align.Table) *int64 {
	if len(table.Rows) == 0 {
		return nil
	}
	ms := ToMillis(table.Rows[0].Timestamp, table.Unit)
	return &ms
}

// ToMillis converts ts expressed in unit to milliseconds.
func ToMillis(ts int64, unit align.Unit) int64 {
	return align.Convert(ts, unit, align.Millisecond)
}
