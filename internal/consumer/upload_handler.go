package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"example.com/magcollector/internal/domain"
)

// Uploader is satisfied by domain.Service.
type Uploader interface {
	Upload(ctx context.Context, input domain.UploadInput) (domain.UploadResult, error)
}

// UploadHandler stores each consumed upload through the ingestion service.
type UploadHandler struct {
	uploader Uploader
	logger   *zap.Logger
}

// NewUploadHandler constructs an UploadHandler.
func NewUploadHandler(uploader Uploader, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{uploader: uploader, logger: logger}
}

// Handle writes the upload. Validation failures are wrapped with ErrInvalidMessage.
func (h *UploadHandler) Handle(ctx context.Context, msg Message) error {
	if msg.Upload.DeviceID == "" && msg.Key != "" {
		msg.Upload.DeviceID = msg.Key
	}

	result, err := h.uploader.Upload(ctx, msg.Upload.Input(domain.SourceKafka))
	if err != nil {
		if errors.Is(err, domain.ErrEmptyPayload) || errors.Is(err, domain.ErrInvalidDevice) {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return err
	}

	h.logger.Debug("upload consumed",
		zap.String("device_id", msg.Upload.DeviceID),
		zap.Int64("batch_time", result.BatchTime),
		zap.Int64("offset", msg.Offset),
	)
	return nil
}
