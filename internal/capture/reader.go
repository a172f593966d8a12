// Package capture loads raw per-sensor CSV recordings and normalizes them into align streams.
package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"example.com/magcollector/internal/align"
)

// ErrMissingColumn indicates a required column is absent from a raw recording.
var ErrMissingColumn = errors.New("missing column")

// MissingColumnError names the stream and column that could not be found.
type MissingColumnError struct {
	Kind   Kind
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: %s %q", e.Kind, ErrMissingColumn, e.Column)
}

// Unwrap lets errors.Is match ErrMissingColumn.
func (e *MissingColumnError) Unwrap() error { return ErrMissingColumn }

// ParseError reports a cell that is not a number.
type ParseError struct {
	Kind   Kind
	Column string
	Row    int // 1-based data row, header excluded
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: row %d column %q: %v", e.Kind, e.Row, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind identifies a sensor recording.
type Kind string

const (
	Magnetic   Kind = "magnetic"
	Trajectory Kind = "trajectory"
	Rotation   Kind = "rotation"
)

// Column maps a raw CSV column to its canonical name.
type Column struct {
	Source    string
	Canonical string
}

// Spec describes how one sensor's recording is laid out on disk.
type Spec struct {
	File      string
	Timestamp string
	Columns   []Column
	Unit      align.Unit
}

// Canonical value field names.
const (
	FieldMagX     = "mf_x"
	FieldMagY     = "mf_y"
	FieldMagZ     = "mf_z"
	FieldLat      = "dt_lat"
	FieldLon      = "dt_lon"
	FieldLevel    = "dt_level"
	FieldRotX     = "grv_x"
	FieldRotY     = "grv_y"
	FieldRotZ     = "grv_z"
	FieldRotW     = "grv_w"
	TimestampName = "ts"
)

var specs = map[Kind]Spec{
	Magnetic: {
		File:      "MagneticField.csv",
		Timestamp: "event_ts",
		Columns: []Column{
			{Source: "val_x", Canonical: FieldMagX},
			{Source: "val_y", Canonical: FieldMagY},
			{Source: "val_z", Canonical: FieldMagZ},
		},
		Unit: align.Nanosecond,
	},
	Trajectory: {
		File:      "DeviceTrajectory.csv",
		Timestamp: "result_ts",
		Columns: []Column{
			{Source: "lat", Canonical: FieldLat},
			{Source: "lon", Canonical: FieldLon},
			{Source: "level", Canonical: FieldLevel},
		},
		Unit: align.Nanosecond,
	},
	Rotation: {
		File:      "GameRotationVector.csv",
		Timestamp: "event_ts",
		Columns: []Column{
			{Source: "val_x", Canonical: FieldRotX},
			{Source: "val_y", Canonical: FieldRotY},
			{Source: "val_z", Canonical: FieldRotZ},
			{Source: "val_w", Canonical: FieldRotW},
		},
		Unit: align.Nanosecond,
	},
}

// Kinds lists the recordings of a capture in join order.
var Kinds = []Kind{Magnetic, Trajectory, Rotation}

// SpecFor returns the layout of kind.
func SpecFor(kind Kind) (Spec, bool) {
	spec, ok := specs[kind]
	return spec, ok
}

// Streams holds the three normalized recordings of one capture.
type Streams struct {
	Magnetic   align.Stream
	Trajectory align.Stream
	Rotation   align.Stream
}

// All returns the streams in join order.
func (s Streams) All() []align.Stream {
	return []align.Stream{s.Magnetic, s.Trajectory, s.Rotation}
}

// Normalize projects a raw table onto the canonical columns of kind. Empty and NaN cells
// become absent values; nothing is filtered.
func Normalize(kind Kind, header []string, records [][]string) (align.Stream, error) {
	spec, ok := specs[kind]
	if !ok {
		return align.Stream{}, fmt.Errorf("unknown sensor kind %q", kind)
	}

	positions := make(map[string]int, len(header))
	for i, name := range header {
		positions[strings.TrimSpace(name)] = i
	}

	tsIdx, ok := positions[spec.Timestamp]
	if !ok {
		return align.Stream{}, &MissingColumnError{Kind: kind, Column: spec.Timestamp}
	}
	valueIdx := make([]int, len(spec.Columns))
	fields := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		idx, ok := positions[col.Source]
		if !ok {
			return align.Stream{}, &MissingColumnError{Kind: kind, Column: col.Source}
		}
		valueIdx[i] = idx
		fields[i] = col.Canonical
	}

	samples := make([]align.Sample, 0, len(records))
	for n, record := range records {
		row := n + 1
		ts, err := parseTimestamp(cell(record, tsIdx))
		if err != nil {
			return align.Stream{}, &ParseError{Kind: kind, Column: spec.Timestamp, Row: row, Err: err}
		}
		values := make([]align.Value, len(valueIdx))
		for i, idx := range valueIdx {
			v, err := parseValue(cell(record, idx))
			if err != nil {
				return align.Stream{}, &ParseError{Kind: kind, Column: spec.Columns[i].Source, Row: row, Err: err}
			}
			values[i] = v
		}
		samples = append(samples, align.Sample{Timestamp: ts, Values: values})
	}

	return align.Stream{Name: string(kind), Fields: fields, Unit: spec.Unit, Samples: samples}, nil
}

func cell(record []string, idx int) string {
	if idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseTimestamp(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("empty timestamp")
	}
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ts, nil
	}
	// Some exports write integral timestamps in float notation (1.7e18).
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid timestamp %q", raw)
	}
	// 2^63 is exactly representable; anything at or past it does not fit an int64.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("timestamp %q out of range", raw)
	}
	return int64(f), nil
}

func parseValue(raw string) (align.Value, error) {
	if raw == "" {
		return align.Absent, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return align.Absent, err
	}
	if math.IsNaN(f) {
		return align.Absent, nil
	}
	return align.Some(f), nil
}

// ReadStream parses a CSV recording of kind from r.
func ReadStream(r io.Reader, kind Kind) (align.Stream, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return align.Stream{}, &MissingColumnError{Kind: kind, Column: specs[kind].Timestamp}
		}
		return align.Stream{}, fmt.Errorf("%s: read header: %w", kind, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	records, err := reader.ReadAll()
	if err != nil {
		return align.Stream{}, fmt.Errorf("%s: read records: %w", kind, err)
	}
	return Normalize(kind, header, records)
}

// ReadFile opens and parses one recording.
func ReadFile(path string, kind Kind) (align.Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return align.Stream{}, err
	}
	defer f.Close()
	return ReadStream(f, kind)
}

// LoadDir reads the three recordings of a capture directory.
func LoadDir(dir string) (Streams, error) {
	var out Streams
	for _, kind := range Kinds {
		stream, err := ReadFile(filepath.Join(dir, specs[kind].File), kind)
		if err != nil {
			return Streams{}, err
		}
		switch kind {
		case Magnetic:
			out.Magnetic = stream
		case Trajectory:
			out.Trajectory = stream
		case Rotation:
			out.Rotation = stream
		}
	}
	return out, nil
}
