package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryBusDeliversToSubscriber(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())
	var got []Message
	bus.Subscribe("t1", func(_ context.Context, msg Message) error {
		got = append(got, msg)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), Message{Topic: "t1", Payload: []byte("a")}))
	require.NoError(t, bus.Publish(context.Background(), Message{Topic: "t2", Payload: []byte("b")}))

	require.Len(t, got, 1)
	assert.Equal(t, "a", string(got[0].Payload))
	assert.NotEmpty(t, got[0].ID)
	assert.Len(t, bus.Messages("t2"), 1)
}

func TestMemoryBusRejectsEmptyTopic(t *testing.T) {
	err := NewMemoryBus(nil).Publish(context.Background(), Message{})
	assert.ErrorIs(t, err, ErrEmptyTopic)
}
