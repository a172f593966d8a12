package domain

import "time"

// Identity quaternion used when orientation is not reported.
const (
	DefaultOriX = 0.0
	DefaultOriY = 0.0
	DefaultOriZ = 0.0
	DefaultOriW = 1.0
)

// MagneticReading is one stored magnetometer sample.
type MagneticReading struct {
	DeviceID  string
	TS        int64 // ms since epoch
	X         float64
	Y         float64
	Z         float64
	BatchTime int64
	CreatedAt time.Time
}

// PoseReading is one stored position/orientation sample. Position holds lat/lon/level
// for trajectory-derived poses.
type PoseReading struct {
	DeviceID  string
	TS        int64
	PosX      float64
	PosY      float64
	PosZ      float64
	OriX      float64
	OriY      float64
	OriZ      float64
	OriW      float64
	BatchTime int64
	CreatedAt time.Time
}

// BatchKey identifies one capture/upload.
type BatchKey struct {
	DeviceID  string
	BatchTime int64
}

// Batch is every record stored under one key, each sequence ordered by TS ascending.
type Batch struct {
	BatchKey
	Magnetics []MagneticReading
	Poses     []PoseReading
}

// BatchWrite is the unit of one transactional write.
type BatchWrite struct {
	BatchKey
	Magnetics []MagneticReading
	Poses     []PoseReading
}

// Empty reports whether the write carries no rows.
func (w BatchWrite) Empty() bool {
	return len(w.Magnetics) == 0 && len(w.Poses) == 0
}

// WriteResult counts rows inserted and rows skipped because (device_id, ts) already existed.
type WriteResult struct {
	InsertedMagnetics int
	InsertedPoses     int
	SkippedMagnetics  int
	SkippedPoses      int
}

// Inserted is the total number of new rows.
func (r WriteResult) Inserted() int {
	return r.InsertedMagnetics + r.InsertedPoses
}

// Counts exposes the four counters for metrics.
func (r WriteResult) Counts() (insertedMag, insertedPose, skippedMag, skippedPose int) {
	return r.InsertedMagnetics, r.InsertedPoses, r.SkippedMagnetics, r.SkippedPoses
}

// MagneticSample is an uploaded magnetometer sample (ms timestamps).
type MagneticSample struct {
	Timestamp int64
	X         float64
	Y         float64
	Z         float64
}

// PoseSample is an uploaded pose sample. Callers apply the identity-quaternion default.
type PoseSample struct {
	Timestamp int64
	PosX      float64
	PosY      float64
	PosZ      float64
	OriX      float64
	OriY      float64
	OriZ      float64
	OriW      float64
}

// BatchEvent announces a committed batch write.
type BatchEvent struct {
	EventID           string    `json:"event_id"`
	DeviceID          string    `json:"device_id"`
	BatchTime         int64     `json:"batch_time"`
	InsertedMagnetics int       `json:"inserted_magnetics"`
	InsertedPoses     int       `json:"inserted_poses"`
	Source            string    `json:"source"`
	OccurredAt        time.Time `json:"occurred_at"`
}
