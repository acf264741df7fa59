package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_PublishUsesOneWriterPerTopic(t *testing.T) {
	writers := map[string]*recordingWriter{}
	p := NewProducerWithWriters(func(topic string) MessageWriter {
		w := &recordingWriter{}
		writers[topic] = w
		return w
	}, logger.NewNop())

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, TopicCostAlerts, "creator-1", map[string]string{"type": "warning"}))
	require.NoError(t, p.Publish(ctx, TopicCostAlerts, "creator-2", map[string]string{"type": "critical"}))
	require.NoError(t, p.PublishBinary(ctx, TopicCacheInvalidations, []byte("video-1"), []byte("{}")))

	require.Len(t, writers, 2)
	alerts := writers[TopicCostAlerts].messages
	require.Len(t, alerts, 2)
	assert.Equal(t, "creator-1", string(alerts[0].Key))

	var body map[string]string
	require.NoError(t, json.Unmarshal(alerts[1].Value, &body))
	assert.Equal(t, "critical", body["type"])

	require.NoError(t, p.Close())
	assert.True(t, writers[TopicCostAlerts].closed)
	assert.True(t, writers[TopicCacheInvalidations].closed)
}

func TestProducer_WriteError(t *testing.T) {
	p := NewProducerWithWriters(func(string) MessageWriter {
		return &recordingWriter{err: errors.New("leader not available")}
	}, logger.NewNop())

	err := p.Publish(context.Background(), TopicCostAlerts, "k", struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicCostAlerts)
}

func TestProducer_MarshalError(t *testing.T) {
	p := NewProducerWithWriters(func(string) MessageWriter { return &recordingWriter{} }, logger.NewNop())

	err := p.Publish(context.Background(), TopicCostAlerts, "k", make(chan int))
	assert.Error(t, err)
}

type scriptedReader struct {
	mu       sync.Mutex
	messages []kafka.Message
	failOnce bool
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.failOnce {
		r.failOnce = false
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker hiccup")
	}
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) Close() error { return nil }

func TestConsumer_DeliversUntilCancelled(t *testing.T) {
	reader := &scriptedReader{
		failOnce: true,
		messages: []kafka.Message{
			{Key: []byte("a"), Value: []byte("1")},
			{Key: []byte("b"), Value: []byte("2")},
			{Key: []byte("c"), Value: []byte("3")},
		},
	}
	c := NewConsumerWithReader(reader, logger.NewNop())
	c.readBackoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		keys []string
	)
	err := c.Consume(ctx, func(_ context.Context, msg kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, string(msg.Key))
		if len(keys) == 3 {
			cancel()
		}
		if string(msg.Key) == "b" {
			return errors.New("handler failed")
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b", "c"}, keys, "read and handler errors do not stop consumption")
}

func TestConsumer_ShutdownCheck(t *testing.T) {
	c := NewConsumerWithReader(&scriptedReader{messages: []kafka.Message{{Key: []byte("a")}}}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ReadMessageWithShutdownCheck(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
