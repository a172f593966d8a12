package export

import (
	"context"

	"go.uber.org/zap"

	"example.com/magcollector/internal/domain"
)

// DefaultBatchSize bounds the number of lines per write request.
const DefaultBatchSize = 5000

// Source streams magnetic readings ordered by ts ascending.
type Source interface {
	EachMagnetic(ctx context.Context, fn func(domain.MagneticReading) error) error
}

// LineWriter receives one batch of encoded lines.
type LineWriter interface {
	WriteLines(ctx context.Context, lines []string) error
}

// Exporter copies every magnetic reading from a Source to a LineWriter.
type Exporter struct {
	source      Source
	writer      LineWriter
	measurement string
	batchSize   int
	logger      *zap.Logger
}

// NewExporter constructs an Exporter. Non-positive batch sizes use DefaultBatchSize.
func NewExporter(source Source, writer LineWriter, measurement string, batchSize int, logger *zap.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if measurement == "" {
		measurement = "magnetic"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{source: source, writer: writer, measurement: measurement, batchSize: batchSize, logger: logger}
}

// Run exports all readings and returns the number of lines written.
func (e *Exporter) Run(ctx context.Context) (int, error) {
	buffer := make([]string, 0, e.batchSize)
	written := 0

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := e.writer.WriteLines(ctx, buffer); err != nil {
			return err
		}
		written += len(buffer)
		e.logger.Info("lines exported", zap.Int("written", written))
		buffer = buffer[:0]
		return nil
	}

	err := e.source.EachMagnetic(ctx, func(r domain.MagneticReading) error {
		buffer = append(buffer, EncodeMagnetic(e.measurement, r))
		if len(buffer) >= e.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}
