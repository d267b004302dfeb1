package event

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/awantoch/flowhook/config"
	"github.com/awantoch/flowhook/constants"
	"github.com/awantoch/flowhook/utils"
)

// Message is a delivered event.
type Message struct {
	ID      string
	Topic   string
	Payload []byte
}

// Decode unmarshals the JSON payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler processes one message. A returned error is logged and the message
// is acknowledged anyway; handlers own their retries.
type Handler func(ctx context.Context, msg *Message) error

type EventBus interface {
	Publish(ctx context.Context, topic string, payload any) error
	// Subscribe consumes topic until ctx is done.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// NewInProcEventBus returns a new in-memory event bus. Used when event config driver=="memory" or omitted.
func NewInProcEventBus() *WatermillEventBus {
	return NewWatermillInMemBus()
}

// NewEventBusFromConfig returns an EventBus based on config. Supported: memory (default), nats (with url).
func NewEventBusFromConfig(cfg *config.EventConfig) (EventBus, error) {
	if cfg == nil || cfg.Driver == "" || cfg.Driver == constants.EventDriverMemory {
		return NewWatermillInMemBus(), nil
	}
	switch cfg.Driver {
	case constants.EventDriverNATS:
		if cfg.URL == "" {
			return nil, utils.Errorf("NATS driver requires url")
		}
		clusterID, clientID := cfg.ClusterID, cfg.ClientID
		if clusterID == "" {
			clusterID = "flowhook"
		}
		if clientID == "" {
			clientID = "flowhook-" + watermill.NewShortUUID()
		}
		return NewWatermillNATSBus(clusterID, clientID, cfg.URL)
	default:
		return nil, utils.Errorf("unsupported event bus driver: %s", cfg.Driver)
	}
}
