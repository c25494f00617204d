package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btorressz/micro-batch-amm/kit/mq"
)

type testMessage struct {
	payload []byte
}

func (t *testMessage) GetKey() string {
	return "test"
}

func (t *testMessage) Marshal() ([]byte, error) {
	return t.payload, nil
}

func TestMemoryMQ(t *testing.T) {
	t.Run("observers receive produced messages in order", func(t *testing.T) {
		ctx := context.Background()
		topic := CreateMemoryMQ(ctx, 10)
		defer topic.Shutdown()

		receivedCh := make(chan []byte, 10)
		topic.Subscribe("test", func(message []byte) error {
			receivedCh <- message
			return nil
		})

		require.NoError(t, topic.Produce(ctx, &testMessage{payload: []byte("first")}))
		require.NoError(t, topic.Produce(ctx, &testMessage{payload: []byte("second")}))

		assert.Equal(t, []byte("first"), <-receivedCh)
		assert.Equal(t, []byte("second"), <-receivedCh)
	})

	t.Run("unsubscribed observers stop receiving", func(t *testing.T) {
		ctx := context.Background()
		topic := CreateMemoryMQ(ctx, 10)
		defer topic.Shutdown()

		receivedCh := make(chan []byte, 10)
		observer := topic.Subscribe("test", func(message []byte) error {
			receivedCh <- message
			return nil
		})
		topic.UnSubscribe(observer)

		require.NoError(t, topic.Produce(ctx, &testMessage{payload: []byte("orphan")}))

		select {
		case <-receivedCh:
			t.Fatal("unsubscribed observer received a message")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("notify errors go to the error handler", func(t *testing.T) {
		ctx := context.Background()
		topic := CreateMemoryMQ(ctx, 10)
		defer topic.Shutdown()

		handledCh := make(chan error, 1)
		topic.Subscribe("test", func(message []byte) error {
			return errors.New("notify failed")
		}, mq.AddErrorHandler(func(err error) {
			handledCh <- err
		}))

		require.NoError(t, topic.Produce(ctx, &testMessage{payload: []byte("boom")}))

		select {
		case err := <-handledCh:
			assert.Error(t, err)
		case <-time.After(time.Second):
			t.Fatal("error handler not called")
		}
	})

	t.Run("shutdown closes done", func(t *testing.T) {
		topic := CreateMemoryMQ(context.Background(), 10)
		assert.True(t, topic.Shutdown())

		select {
		case <-topic.Done():
		case <-time.After(time.Second):
			t.Fatal("done channel not closed")
		}
	})
}
