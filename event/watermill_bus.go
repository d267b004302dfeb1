package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/awantoch/flowhook/utils"
	stan "github.com/nats-io/stan.go"
)

// WatermillEventBus satisfies our EventBus interface using Watermill.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

var _ EventBus = (*WatermillEventBus)(nil)

// NewWatermillInMemBus returns a Watermill-based, in-memory bus.
func NewWatermillInMemBus() *WatermillEventBus {
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 100}, zapAdapter{})
	return &WatermillEventBus{publisher: ps, subscriber: ps}
}

// NewWatermillNATSBus returns a NATS Streaming backed bus.
func NewWatermillNATSBus(clusterID, clientID, url string) (*WatermillEventBus, error) {
	logger := zapAdapter{}
	pub, err := nats.NewStreamingPublisher(nats.StreamingPublisherConfig{
		ClusterID:   clusterID,
		ClientID:    clientID + "-pub",
		StanOptions: []stan.Option{stan.NatsURL(url)},
		Marshaler:   nats.GobMarshaler{},
	}, logger)
	if err != nil {
		return nil, utils.Errorf("failed to create NATS publisher: %w", err)
	}
	sub, err := nats.NewStreamingSubscriber(nats.StreamingSubscriberConfig{
		ClusterID:        clusterID,
		ClientID:         clientID + "-sub",
		QueueGroup:       "flowhook",
		DurableName:      "flowhook",
		SubscribersCount: 1,
		StanOptions:      []stan.Option{stan.NatsURL(url)},
		Unmarshaler:      nats.GobMarshaler{},
		CloseTimeout:     30 * time.Second,
		AckWaitTimeout:   30 * time.Second,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, utils.Errorf("failed to create NATS subscriber: %w", err)
	}
	return &WatermillEventBus{publisher: pub, subscriber: sub}, nil
}

// Publish sends payload as JSON. Byte slices are sent as-is.
func (b *WatermillEventBus) Publish(ctx context.Context, topic string, payload any) error {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return utils.Errorf("failed to marshal %s payload: %w", topic, err)
		}
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	if reqID, ok := utils.RequestIDFromContext(ctx); ok {
		msg.Metadata.Set("request_id", reqID)
	}
	return b.publisher.Publish(topic, msg)
}

func (b *WatermillEventBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return utils.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	go func() {
		for msg := range ch {
			hctx := ctx
			if reqID := msg.Metadata.Get("request_id"); reqID != "" {
				hctx = utils.WithRequestID(hctx, reqID)
			}
			if err := handler(hctx, &Message{ID: msg.UUID, Topic: topic, Payload: msg.Payload}); err != nil {
				utils.ErrorCtx(hctx, "event handler failed", "topic", topic, "message_id", msg.UUID, "error", err)
			}
			msg.Ack()
		}
	}()
	return nil
}

func (b *WatermillEventBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	if sub, ok := b.publisher.(message.Subscriber); ok && sub == b.subscriber {
		return nil
	}
	return b.subscriber.Close()
}

// zapAdapter routes watermill's logs to the internal zap logger.
type zapAdapter struct {
	fields watermill.LogFields
}

func (z zapAdapter) args(fields watermill.LogFields) []any {
	all := z.fields.Add(fields)
	out := make([]any, 0, len(all)*2)
	for k, v := range all {
		out = append(out, k, v)
	}
	return out
}

func (z zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	utils.Logger().Errorw(msg, append(z.args(fields), "error", err)...)
}

func (z zapAdapter) Info(msg string, fields watermill.LogFields) {
	utils.Logger().Debugw(msg, z.args(fields)...)
}

func (z zapAdapter) Debug(msg string, fields watermill.LogFields) {
	utils.Logger().Debugw(msg, z.args(fields)...)
}

func (z zapAdapter) Trace(string, watermill.LogFields) {}

func (z zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zapAdapter{fields: z.fields.Add(fields)}
}
