package capture

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/magcollector/internal/align"
)

func TestReadStreamRenamesAndProjects(t *testing.T) {
	raw := "arrival_ts,event_ts,val_x,val_y,val_z\n" +
		"99,1000,1.5,2.5,3.5\n" +
		"99,2000,,NaN,4\n"

	stream, err := ReadStream(strings.NewReader(raw), Magnetic)
	require.NoError(t, err)
	require.Equal(t, []string{FieldMagX, FieldMagY, FieldMagZ}, stream.Fields)
	require.Equal(t, align.Nanosecond, stream.Unit)
	require.Len(t, stream.Samples, 2)

	require.Equal(t, int64(1000), stream.Samples[0].Timestamp)
	require.Equal(t, []align.Value{align.Some(1.5), align.Some(2.5), align.Some(3.5)}, stream.Samples[0].Values)
	require.Equal(t, []align.Value{align.Absent, align.Absent, align.Some(4)}, stream.Samples[1].Values)
}

func TestReadStreamMissingTimestampColumn(t *testing.T) {
	raw := "pos_ts,lat,lon,level\n1,2,3,4\n"

	_, err := ReadStream(strings.NewReader(raw), Trajectory)
	require.ErrorIs(t, err, ErrMissingColumn)

	var mc *MissingColumnError
	require.ErrorAs(t, err, &mc)
	require.Equal(t, "result_ts", mc.Column)
	require.Equal(t, Trajectory, mc.Kind)
}

func TestReadStreamMissingValueColumn(t *testing.T) {
	raw := "event_ts,val_x,val_y,val_z\n1,2,3,4\n"

	_, err := ReadStream(strings.NewReader(raw), Rotation)
	var mc *MissingColumnError
	require.ErrorAs(t, err, &mc)
	require.Equal(t, "val_w", mc.Column)
}

func TestReadStreamReportsRowOfBadCell(t *testing.T) {
	raw := "result_ts,lat,lon,level\n" +
		"1,10,20,1\n" +
		"2,abc,20,1\n"

	_, err := ReadStream(strings.NewReader(raw), Trajectory)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 2, pe.Row)
	require.Equal(t, "lat", pe.Column)
}

func TestReadStreamRejectsTimestampOutsideInt64(t *testing.T) {
	for _, ts := range []string{"9.3e18", "9.223372036854775807e18", "-9.3e18", "1e300"} {
		raw := "event_ts,val_x,val_y,val_z\n" + ts + ",1,2,3\n"

		_, err := ReadStream(strings.NewReader(raw), Magnetic)
		var pe *ParseError
		require.ErrorAs(t, err, &pe, ts)
		require.Equal(t, "event_ts", pe.Column)
		require.Equal(t, 1, pe.Row)
	}

	stream, err := ReadStream(strings.NewReader("event_ts,val_x,val_y,val_z\n1.7e18,1,2,3\n"), Magnetic)
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000000000), stream.Samples[0].Timestamp)
}

func TestReadStreamHeaderOnly(t *testing.T) {
	stream, err := ReadStream(strings.NewReader("event_ts,val_x,val_y,val_z\n"), Magnetic)
	require.NoError(t, err)
	require.Empty(t, stream.Samples)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("MagneticField.csv", "arrival_ts,event_ts,val_x,val_y,val_z\n0,10,1,2,3\n")
	write("DeviceTrajectory.csv", "result_ts,pos_ts,lat,lon,level,floor_id,fusion_type,accuracy_meters\n10,9,48.1,11.5,2,f1,gnss,3.2\n")
	write("GameRotationVector.csv", "arrival_ts,event_ts,val_x,val_y,val_z,val_w\n0,10,0,0,0,1\n")

	streams, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, streams.Magnetic.Samples, 1)
	require.Equal(t, []string{FieldLat, FieldLon, FieldLevel}, streams.Trajectory.Fields)
	require.Equal(t, align.Some(2), streams.Trajectory.Samples[0].Values[2])
	require.Len(t, streams.All(), 3)
}

func TestLoadDirMissingFile(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.ErrorIs(t, err, fs.ErrNotExist)
}
