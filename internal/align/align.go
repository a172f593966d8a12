// Package align reconciles independently sampled sensor streams onto one timestamp axis.
package align

import (
	"errors"
	"fmt"
	"sort"
)

// ErrFieldCollision is returned when two streams expose the same field name.
var ErrFieldCollision = errors.New("field name collision")

// Unit is the epoch resolution of a stream's timestamps.
type Unit int

const (
	Millisecond Unit = iota
	Nanosecond
)

func (u Unit) String() string {
	switch u {
	case Nanosecond:
		return "ns"
	default:
		return "ms"
	}
}

// perMillisecond is the number of ticks of u in one millisecond.
func (u Unit) perMillisecond() int64 {
	if u == Nanosecond {
		return 1_000_000
	}
	return 1
}

// Convert rescales ts from unit `from` to unit `to`. Coarsening floors.
func Convert(ts int64, from, to Unit) int64 {
	f, t := from.perMillisecond(), to.perMillisecond()
	switch {
	case f == t:
		return ts
	case f < t:
		return ts * (t / f)
	default:
		return floorDiv(ts, f/t)
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Value is a possibly absent reading.
type Value struct {
	Float float64
	Valid bool
}

// Some wraps a present value.
func Some(v float64) Value { return Value{Float: v, Valid: true} }

// Absent is the missing marker.
var Absent = Value{}

// Sample is one timestamped record of a single stream.
type Sample struct {
	Timestamp int64
	Values    []Value
}

// Stream is a normalized sensor sequence with canonical, non-colliding field names.
type Stream struct {
	Name    string
	Fields  []string
	Unit    Unit
	Samples []Sample
}

// Row is one timestamp of the joined schema.
type Row struct {
	Timestamp int64
	Values    []Value
}

// Complete reports whether no field of the row is absent.
func (r Row) Complete() bool {
	for _, v := range r.Values {
		if !v.Valid {
			return false
		}
	}
	return true
}

// Table is a sequence of rows sharing one schema and unit.
type Table struct {
	Fields []string
	Unit   Unit
	Rows   []Row
}

// Index returns the column position of field, or -1.
func (t Table) Index(field string) int {
	for i, f := range t.Fields {
		if f == field {
			return i
		}
	}
	return -1
}

// Lookup returns the value of field in row i.
func (t Table) Lookup(i int, field string) Value {
	idx := t.Index(field)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return Absent
	}
	return t.Rows[i].Values[idx]
}

// Stats summarises one alignment run.
type Stats struct {
	Joined     int // rows after the outer join
	Dropped    int // rows removed because a field could not be resolved
	Duplicates int // rows removed by timestamp dedup
	Output     int
}

// Align joins the streams on timestamp and resolves missing values: same-timestamp
// cross-fill, then forward-fill, then incomplete rows and duplicate timestamps are dropped.
func Align(streams ...Stream) (Table, Stats, error) {
	var stats Stats

	unit := finestUnit(streams)
	table := Table{Unit: unit}
	for i, s := range streams {
		next, err := tableFromStream(s, unit)
		if err != nil {
			return Table{}, stats, err
		}
		if i == 0 {
			table = next
			continue
		}
		if table, err = Join(table, next); err != nil {
			return Table{}, stats, err
		}
	}
	stats.Joined = len(table.Rows)

	SortByTimestamp(table.Rows)
	CrossFill(table.Rows)
	SortByTimestamp(table.Rows)
	ForwardFill(table.Rows)

	before := len(table.Rows)
	table.Rows = DropIncomplete(table.Rows)
	stats.Dropped = before - len(table.Rows)

	before = len(table.Rows)
	table.Rows = DedupTimestamps(table.Rows)
	stats.Duplicates = before - len(table.Rows)
	stats.Output = len(table.Rows)

	return table, stats, nil
}

func finestUnit(streams []Stream) Unit {
	unit := Millisecond
	for _, s := range streams {
		if s.Unit.perMillisecond() > unit.perMillisecond() {
			unit = s.Unit
		}
	}
	return unit
}

func tableFromStream(s Stream, unit Unit) (Table, error) {
	rows := make([]Row, 0, len(s.Samples))
	for i, sample := range s.Samples {
		if len(sample.Values) != len(s.Fields) {
			return Table{}, fmt.Errorf("stream %s sample %d: %d values for %d fields", s.Name, i, len(sample.Values), len(s.Fields))
		}
		values := make([]Value, len(sample.Values))
		copy(values, sample.Values)
		rows = append(rows, Row{Timestamp: Convert(sample.Timestamp, s.Unit, unit), Values: values})
	}
	fields := make([]string, len(s.Fields))
	copy(fields, s.Fields)
	return Table{Fields: fields, Unit: unit, Rows: rows}, nil
}

// Join performs a full outer join of left and right on timestamp. Keys present on both
// sides yield the cartesian product of their rows, so duplicate timestamps survive.
// Output is ordered by timestamp; within a key, left-major.
func Join(left, right Table) (Table, error) {
	seen := make(map[string]struct{}, len(left.Fields))
	for _, f := range left.Fields {
		seen[f] = struct{}{}
	}
	for _, f := range right.Fields {
		if _, dup := seen[f]; dup {
			return Table{}, fmt.Errorf("%w: %s", ErrFieldCollision, f)
		}
	}
	if right.Unit != left.Unit {
		return Table{}, fmt.Errorf("join unit mismatch: %s vs %s", left.Unit, right.Unit)
	}

	fields := append(append(make([]string, 0, len(left.Fields)+len(right.Fields)), left.Fields...), right.Fields...)
	nl, nr := len(left.Fields), len(right.Fields)

	lg, lkeys := groupIndices(left.Rows)
	rg, rkeys := groupIndices(right.Rows)
	keys := mergeKeys(lkeys, rkeys)

	var rows []Row
	for _, ts := range keys {
		ls, rs := lg[ts], rg[ts]
		switch {
		case len(rs) == 0:
			for _, i := range ls {
				rows = append(rows, Row{Timestamp: ts, Values: concat(left.Rows[i].Values, absentValues(nr))})
			}
		case len(ls) == 0:
			for _, j := range rs {
				rows = append(rows, Row{Timestamp: ts, Values: concat(absentValues(nl), right.Rows[j].Values)})
			}
		default:
			for _, i := range ls {
				for _, j := range rs {
					rows = append(rows, Row{Timestamp: ts, Values: concat(left.Rows[i].Values, right.Rows[j].Values)})
				}
			}
		}
	}
	return Table{Fields: fields, Unit: left.Unit, Rows: rows}, nil
}

func groupIndices(rows []Row) (map[int64][]int, []int64) {
	groups := make(map[int64][]int)
	keys := make([]int64, 0)
	for i, r := range rows {
		if _, ok := groups[r.Timestamp]; !ok {
			keys = append(keys, r.Timestamp)
		}
		groups[r.Timestamp] = append(groups[r.Timestamp], i)
	}
	return groups, keys
}

func mergeKeys(a, b []int64) []int64 {
	set := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, k := range append(append([]int64{}, a...), b...) {
		if _, ok := set[k]; ok {
			continue
		}
		set[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func concat(a, b []Value) []Value {
	out := make([]Value, 0, len(a)+len(b))
	return append(append(out, a...), b...)
}

func absentValues(n int) []Value {
	return make([]Value, n)
}

// SortByTimestamp stable-sorts rows ascending by timestamp.
func SortByTimestamp(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })
}

// CrossFill fills absent fields from other rows sharing the exact timestamp: forward-fill
// then backward-fill within each group. Rows must already be sorted by timestamp.
func CrossFill(rows []Row) {
	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) && rows[end].Timestamp == rows[start].Timestamp {
			end++
		}
		if end-start > 1 {
			fillGroup(rows[start:end])
		}
		start = end
	}
}

func fillGroup(group []Row) {
	width := len(group[0].Values)
	for f := 0; f < width; f++ {
		last := Absent
		for i := range group {
			if group[i].Values[f].Valid {
				last = group[i].Values[f]
			} else if last.Valid {
				group[i].Values[f] = last
			}
		}
		next := Absent
		for i := len(group) - 1; i >= 0; i-- {
			if group[i].Values[f].Valid {
				next = group[i].Values[f]
			} else if next.Valid {
				group[i].Values[f] = next
			}
		}
	}
}

// ForwardFill carries the last observed value of every field forward across rows.
func ForwardFill(rows []Row) {
	if len(rows) == 0 {
		return
	}
	last := make([]Value, len(rows[0].Values))
	for i := range rows {
		for f, v := range rows[i].Values {
			if v.Valid {
				last[f] = v
			} else if last[f].Valid {
				rows[i].Values[f] = last[f]
			}
		}
	}
}

// DropIncomplete removes rows with any absent field.
func DropIncomplete(rows []Row) []Row {
	out := rows[:0]
	for _, r := range rows {
		if r.Complete() {
			out = append(out, r)
		}
	}
	return out
}

// DedupTimestamps keeps the first row of every timestamp; order is preserved.
func DedupTimestamps(rows []Row) []Row {
	seen := make(map[int64]struct{}, len(rows))
	out := rows[:0]
	for _, r := range rows {
		if _, ok := seen[r.Timestamp]; ok {
			continue
		}
		seen[r.Timestamp] = struct{}{}
		out = append(out, r)
	}
	return out
}
