package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	calls    int
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishWritesKeyedJSON(t *testing.T) {
	writer := &fakeWriter{}
	p := newPublisher(writer, "transfer_completed", zaptest.NewLogger(t))

	err := p.Publish(context.Background(), "transfer-1", map[string]string{"transfer_id": "transfer-1"})
	require.NoError(t, err)

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "transfer-1", string(writer.messages[0].Key))

	var body map[string]string
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &body))
	assert.Equal(t, "transfer-1", body["transfer_id"])

	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}

func TestPublishRejectsUnmarshalableEvent(t *testing.T) {
	writer := &fakeWriter{}
	p := newPublisher(writer, "transfer_completed", zaptest.NewLogger(t))

	err := p.Publish(context.Background(), "k", make(chan int))
	require.Error(t, err)
	assert.Zero(t, writer.calls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	broker := errors.New("broker down")
	writer := &fakeWriter{err: broker}
	p := newPublisher(writer, "transfer_completed", zaptest.NewLogger(t))

	for i := 0; i < breakerFailures; i++ {
		err := p.Publish(context.Background(), "k", "v")
		assert.ErrorIs(t, err, broker)
	}

	err := p.Publish(context.Background(), "k", "v")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, breakerFailures, writer.calls, "an open breaker must not reach the broker")
}
