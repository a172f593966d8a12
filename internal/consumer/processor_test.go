package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"example.com/magcollector/internal/domain"
	"example.com/magcollector/internal/persistence/memory"
)

func uploadMessage(topic string, offset int64, value string) kafka.Message {
	return kafka.Message{
		Topic:     topic,
		Partition: 0,
		Offset:    offset,
		Time:      time.Now().UTC(),
		Key:       []byte("dev-1"),
		Value:     []byte(value),
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := uploadMessage("uploads-success", 10, `{"device_id":"dev-1","batch_time":5,"magnetics":[{"timestamp":1,"x":1,"y":2,"z":3}]}`)
	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{}

	processor := NewProcessor(reader, handler, WithLogger(zap.NewNop()))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, "dev-1", handler.last.Upload.DeviceID)
	require.Equal(t, int64(5), *handler.last.Upload.BatchTime)
	require.Equal(t, int64(10), handler.last.Offset)
	require.Equal(t, float64(1), testutil.ToFloat64(processedCounter.WithLabelValues("uploads-success")))
}

func TestProcessorRetriesHandlerErrorWithoutCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := uploadMessage("uploads-retry", 20, `{"device_id":"dev-1","magnetics":[{"timestamp":1}]}`)
	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := &stubHandler{err: errors.New("store unavailable"), failures: -1}
	handler.onCall = func(calls int) {
		if calls == 3 {
			cancel()
		}
	}

	processor := NewProcessor(reader, handler, WithRetryBackoff(time.Millisecond, time.Millisecond))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 3, handler.calls)
	require.Equal(t, 1, reader.index, "no later message is fetched while one is failing")
	require.Empty(t, reader.committed)
	require.GreaterOrEqual(t, testutil.ToFloat64(handlerErrorCounter.WithLabelValues("uploads-retry")), float64(2))
}

func TestProcessorRedeliversFailedUploadBeforeNextOffset(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			uploadMessage("uploads-ordered", 20, `{"device_id":"dev-1","batch_time":1,"magnetics":[{"timestamp":1}]}`),
			uploadMessage("uploads-ordered", 21, `{"device_id":"dev-1","batch_time":2,"magnetics":[{"timestamp":2}]}`),
		},
		after: contextCanceled,
	}
	handler := &stubHandler{err: errors.New("connection reset"), failures: 1}

	processor := NewProcessor(reader, handler, WithRetryBackoff(time.Millisecond, time.Millisecond))

	err := processor.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, []int64{20, 20, 21}, handler.offsets)
	require.Equal(t, []int64{20, 21}, reader.committed)
}

func TestProcessorBackoffDoublesUpToMax(t *testing.T) {
	p := NewProcessor(&stubReader{}, &stubHandler{}, WithRetryBackoff(10*time.Millisecond, 50*time.Millisecond))

	require.Equal(t, 10*time.Millisecond, p.backoffDelay(1))
	require.Equal(t, 20*time.Millisecond, p.backoffDelay(2))
	require.Equal(t, 40*time.Millisecond, p.backoffDelay(3))
	require.Equal(t, 50*time.Millisecond, p.backoffDelay(4))
	require.Equal(t, 50*time.Millisecond, p.backoffDelay(40))
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			uploadMessage("uploads-malformed", 1, `{not json`),
			uploadMessage("uploads-malformed", 2, ``),
		},
		after: contextCanceled,
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls)
	require.Equal(t, 2, reader.commitCalls)
	require.Equal(t, float64(2), testutil.ToFloat64(decodeErrorCounter.WithLabelValues("uploads-malformed")))
}

func TestProcessorCommitsRejectedUploads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := uploadMessage("uploads-rejected", 3, `{"device_id":"dev-1","magnetics":[],"poses":[]}`)
	reader := &stubReader{messages: []kafka.Message{msg}, after: contextCanceled}
	handler := NewUploadHandler(domain.NewService(memory.NewStore()), zap.NewNop())

	err := NewProcessor(reader, handler).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, float64(1), testutil.ToFloat64(rejectedCounter.WithLabelValues("uploads-rejected")))
}

func TestUploadHandlerStoresUpload(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	handler := NewUploadHandler(domain.NewService(store), nil)

	msg, err := decodeMessage(uploadMessage("uploads", 1, `{"batch_time":9,"poses":[{"timestamp":4,"pos_z":2}]}`))
	require.NoError(t, err)
	require.NoError(t, handler.Handle(ctx, msg))

	b, err := store.FetchBatch(ctx, "dev-1", 9)
	require.NoError(t, err)
	require.Len(t, b.Poses, 1, "device falls back to the message key")
	require.Equal(t, 1.0, b.Poses[0].OriW)
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	committed   []int64
	after       func() error
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		if r.after != nil {
			return kafka.Message{}, r.after()
		}
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commitCalls++
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

func contextCanceled() error { return context.Canceled }

// stubHandler returns err for the first failures calls; a negative count fails forever.
type stubHandler struct {
	calls    int
	err      error
	failures int
	offsets  []int64
	last     Message
	onCall   func(calls int)
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	h.offsets = append(h.offsets, msg.Offset)
	if h.onCall != nil {
		h.onCall(h.calls)
	}
	if h.err != nil && (h.failures < 0 || h.calls <= h.failures) {
		return h.err
	}
	return nil
}
