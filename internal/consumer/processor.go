// Package consumer ingests combined uploads published to Kafka.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/magcollector/internal/events"
)

// ErrInvalidMessage marks a message that can never succeed. The processor commits it.
var ErrInvalidMessage = errors.New("invalid upload message")

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded uploads.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded upload record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Key       string
	Upload    events.Upload
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRetryBackoff sets the first and the largest delay between attempts of a failing message.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(p *Processor) {
		if base > 0 {
			p.baseDelay = base
		}
		if max >= p.baseDelay {
			p.maxDelay = max
		}
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
// A message whose handler fails transiently is retried until it succeeds, so no later
// offset of its partition is committed past it.
type Processor struct {
	reader    Reader
	handler   Handler
	logger    *zap.Logger
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:    reader,
		handler:   handler,
		logger:    zap.NewNop(),
		baseDelay: 200 * time.Millisecond,
		maxDelay:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Warn("fetch error", zap.Error(err))
			continue
		}

		fields := []zap.Field{
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		}

		decoded, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Warn("decode error", append(fields, zap.Error(decodeErr))...)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			p.commit(ctx, msg)
			continue
		}

		if handleErr := p.handle(ctx, decoded, fields); handleErr != nil {
			if errors.Is(handleErr, ErrInvalidMessage) {
				p.logger.Warn("upload rejected", append(fields, zap.Error(handleErr))...)
				recordRejected(msg.Topic)
				p.commit(ctx, msg)
				continue
			}
			// Cancelled while retrying; the message stays uncommitted for the next run.
			return handleErr
		}

		if p.commit(ctx, msg) {
			recordProcessed(decoded)
		}
	}
}

// handle runs the handler until it succeeds, rejects the message, or ctx ends.
func (p *Processor) handle(ctx context.Context, msg Message, fields []zap.Field) error {
	for attempt := 1; ; attempt++ {
		err := p.handler.Handle(ctx, msg)
		if err == nil || errors.Is(err, ErrInvalidMessage) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		delay := p.backoffDelay(attempt)
		p.logger.Error("handler error, retrying",
			append(fields,
				zap.String("device_id", msg.Upload.DeviceID),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)...)
		recordHandlerError(msg.Topic)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// backoffDelay doubles from baseDelay and is capped at maxDelay.
func (p *Processor) backoffDelay(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 1; i < attempt && delay < p.maxDelay; i++ {
		delay *= 2
	}
	if delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) bool {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Warn("commit error", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		return false
	}
	return true
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) == 0 {
		return Message{}, errors.New("empty payload")
	}

	var upload events.Upload
	if err := json.Unmarshal(msg.Value, &upload); err != nil {
		return Message{}, fmt.Errorf("decode upload: %w", err)
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Key:       string(msg.Key),
		Upload:    upload,
	}, nil
}
