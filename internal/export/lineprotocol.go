// Package export copies stored magnetic readings into an InfluxDB 1.x compatible endpoint.
package export

import (
	"strconv"
	"strings"

	"example.com/magcollector/internal/domain"
)

var tagEscaper = strings.NewReplacer(" ", "_", ",", `\,`, "=", `\=`)

// EncodeMagnetic renders one reading as a line-protocol point with a ms timestamp.
func EncodeMagnetic(measurement string, r domain.MagneticReading) string {
	var b strings.Builder
	b.WriteString(measurement)
	b.WriteString(",device_id=")
	b.WriteString(tagEscaper.Replace(r.DeviceID))
	b.WriteString(" x=")
	b.WriteString(formatFloat(r.X))
	b.WriteString(",y=")
	b.WriteString(formatFloat(r.Y))
	b.WriteString(",z=")
	b.WriteString(formatFloat(r.Z))
	b.WriteString(",batch_time=")
	b.WriteString(strconv.FormatInt(r.BatchTime, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(r.TS, 10))
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
