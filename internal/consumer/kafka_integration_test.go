//go:build integration

package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/magcollector/internal/domain"
	"example.com/magcollector/internal/events"
	"example.com/magcollector/internal/notify"
	"example.com/magcollector/internal/persistence/memory"
)

func TestKafkaUploadIsStoredAndAnnounced(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]

	const uploadTopic = "magcollector.uploads"
	const eventTopic = "magcollector.batches"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(
		kafka.TopicConfig{Topic: uploadTopic, NumPartitions: 1, ReplicationFactor: 1},
		kafka.TopicConfig{Topic: eventTopic, NumPartitions: 1, ReplicationFactor: 1},
	))

	batchWriter := notify.NewBatchWriter([]string{broker}, eventTopic)
	defer batchWriter.Close()

	store := memory.NewStore()
	service := domain.NewService(store, domain.WithNotifier(notify.NewKafkaNotifier(batchWriter)))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "magcollector-integration",
		Topic:       uploadTopic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()

	proc := NewProcessor(reader, NewUploadHandler(service, nil))
	go func() {
		_ = proc.Run(consumerCtx)
	}()

	batchTime := int64(1700000000000)
	upload := events.Upload{
		BatchTime: &batchTime,
		Magnetics: []events.MagneticRecord{{Timestamp: 1, X: 1, Y: 2, Z: 3}, {Timestamp: 2, X: 4, Y: 5, Z: 6}},
		Poses:     []events.PoseRecord{{Timestamp: 1, PosZ: 1}},
	}
	payload, err := json.Marshal(upload)
	require.NoError(t, err)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  uploadTopic,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	// The device id travels only in the key.
	require.NoError(t, writer.WriteMessages(ctx, kafka.Message{Key: []byte("phone-7"), Value: payload}))

	require.Eventually(t, func() bool {
		b, err := store.FetchBatch(ctx, "phone-7", batchTime)
		return err == nil && len(b.Magnetics) == 2 && len(b.Poses) == 1
	}, 30*time.Second, 500*time.Millisecond)

	eventReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       eventTopic,
		Partition:   0,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer eventReader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := eventReader.ReadMessage(readCtx)
	require.NoError(t, err)
	require.Equal(t, "phone-7", string(msg.Key))

	var evt domain.BatchEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	require.Equal(t, batchTime, evt.BatchTime)
	require.Equal(t, 2, evt.InsertedMagnetics)
	require.Equal(t, 1, evt.InsertedPoses)
	require.Equal(t, domain.SourceKafka, evt.Source)
}
