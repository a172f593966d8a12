package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// InfluxWriter posts line-protocol batches to <url>/write.
type InfluxWriter struct {
	client   *resty.Client
	database string
}

// NewInfluxWriter constructs an InfluxWriter.
func NewInfluxWriter(baseURL, database string, timeout time.Duration) *InfluxWriter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "text/plain; charset=utf-8")
	return &InfluxWriter{client: client, database: database}
}

// WriteLines sends lines as one request. An empty slice is a no-op.
func (w *InfluxWriter) WriteLines(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"db": w.database, "precision": "ms"}).
		SetBody(strings.Join(lines, "\n")).
		Post("/write")
	if err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	if resp.IsError() {
		return &WriteError{Status: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
	}
	return nil
}

// WriteError represents a non-successful write response.
type WriteError struct {
	Status int
	Body   string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("influx write failed with status %d: %s", e.Status, e.Body)
}
