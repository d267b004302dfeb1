package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	FlowID string `json:"flow_id"`
	Body   string `json:"body"`
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewInProcEventBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan delivery, 1)
	require.NoError(t, bus.Subscribe(ctx, "webhook.delivered", func(ctx context.Context, msg *Message) error {
		var d delivery
		if err := msg.Decode(&d); err != nil {
			return err
		}
		got <- d
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, "webhook.delivered", delivery{FlowID: "f1", Body: "hello"}))
	select {
	case d := <-got:
		assert.Equal(t, delivery{FlowID: "f1", Body: "hello"}, d)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestHandlerErrorDoesNotBlockNextMessage(t *testing.T) {
	bus := NewInProcEventBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 2)
	require.NoError(t, bus.Subscribe(ctx, "topic", func(ctx context.Context, msg *Message) error {
		seen <- string(msg.Payload)
		return errors.New("boom")
	}))
	require.NoError(t, bus.Publish(ctx, "topic", []byte("one")))
	require.NoError(t, bus.Publish(ctx, "topic", []byte("two")))

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}
}

func TestRequestIDPropagates(t *testing.T) {
	bus := NewInProcEventBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := make(chan string, 1)
	require.NoError(t, bus.Subscribe(ctx, "topic", func(ctx context.Context, msg *Message) error {
		id, _ := utils.RequestIDFromContext(ctx)
		ids <- id
		return nil
	}))
	require.NoError(t, bus.Publish(utils.WithRequestID(ctx, "req-42"), "topic", map[string]any{"a": 1}))
	select {
	case id := <-ids:
		assert.Equal(t, "req-42", id)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestNewEventBusFromConfig(t *testing.T) {
	bus, err := NewEventBusFromConfig(nil)
	require.NoError(t, err)
	assert.NotNil(t, bus)

	bus, err = NewEventBusFromConfig(&config.EventConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.NotNil(t, bus)

	_, err = NewEventBusFromConfig(&config.EventConfig{Driver: "nats"})
	assert.Error(t, err, "nats requires url")

	_, err = NewEventBusFromConfig(&config.EventConfig{Driver: "kafka"})
	assert.Error(t, err)
}
