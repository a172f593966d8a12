// Package events defines the JSON payloads accepted by the HTTP API and the upload topic.
package events

import (
	"time"

	"example.com/magcollector/internal/domain"
)

// MagneticRecord is one uploaded magnetometer sample.
type MagneticRecord struct {
	Timestamp int64   `json:"timestamp"` // ms since epoch
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
}

// PoseRecord is one uploaded pose. Omitted position fields are 0; omitted orientation
// fields fall back to the identity quaternion.
type PoseRecord struct {
	Timestamp int64    `json:"timestamp"`
	PosX      float64  `json:"pos_x"`
	PosY      float64  `json:"pos_y"`
	PosZ      float64  `json:"pos_z"`
	OriX      *float64 `json:"ori_x,omitempty"`
	OriY      *float64 `json:"ori_y,omitempty"`
	OriZ      *float64 `json:"ori_z,omitempty"`
	OriW      *float64 `json:"ori_w,omitempty"`
}

// Upload is the combined magnetics and poses payload.
type Upload struct {
	DeviceID  string           `json:"device_id"`
	BatchTime *int64           `json:"batch_time,omitempty"`
	Magnetics []MagneticRecord `json:"magnetics"`
	Poses     []PoseRecord     `json:"poses"`
}

// MagneticUpload is the magnetics-only payload of the legacy endpoint.
type MagneticUpload struct {
	DeviceID    string           `json:"device_id"`
	CollectedAt *time.Time       `json:"collected_at,omitempty"`
	Records     []MagneticRecord `json:"records"`
}

// Input converts the payload into a service call tagged with source.
func (u Upload) Input(source string) domain.UploadInput {
	return domain.UploadInput{
		DeviceID:  u.DeviceID,
		BatchTime: u.BatchTime,
		Magnetics: magneticSamples(u.Magnetics),
		Poses:     poseSamples(u.Poses),
		Source:    source,
	}
}

// Input converts the payload into a service call tagged with source.
func (u MagneticUpload) Input(source string) domain.UploadInput {
	return domain.UploadInput{
		DeviceID:    u.DeviceID,
		CollectedAt: u.CollectedAt,
		Magnetics:   magneticSamples(u.Records),
		Source:      source,
	}
}

func magneticSamples(records []MagneticRecord) []domain.MagneticSample {
	out := make([]domain.MagneticSample, 0, len(records))
	for _, r := range records {
		out = append(out, domain.MagneticSample{Timestamp: r.Timestamp, X: r.X, Y: r.Y, Z: r.Z})
	}
	return out
}

func poseSamples(records []PoseRecord) []domain.PoseSample {
	out := make([]domain.PoseSample, 0, len(records))
	for _, r := range records {
		out = append(out, domain.PoseSample{
			Timestamp: r.Timestamp,
			PosX:      r.PosX,
			PosY:      r.PosY,
			PosZ:      r.PosZ,
			OriX:      orDefault(r.OriX, domain.DefaultOriX),
			OriY:      orDefault(r.OriY, domain.DefaultOriY),
			OriZ:      orDefault(r.OriZ, domain.DefaultOriZ),
			OriW:      orDefault(r.OriW, domain.DefaultOriW),
		})
	}
	return out
}

func orDefault(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
