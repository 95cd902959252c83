package publisher

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	jsoniter "github.com/json-iterator/go"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Publisher is the fire-and-forget event bus contract. Delivery is
// at-least-once; consumers must be idempotent.
type Publisher interface {
	Publish(ctx context.Context, event *types.Event) error
	Close() error
}

// MetadataEventName is the message metadata key carrying the full event name
const MetadataEventName = "event_name"

type eventPublisher struct {
	pubSub *gochannel.GoChannel
	log    *logger.Logger
}

// NewPublisher creates an in-process pub/sub backed publisher. Brokered
// transports plug in behind the same interface.
func NewPublisher(log *logger.Logger) Publisher {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NopLogger{},
	)
	return &eventPublisher{
		pubSub: pubSub,
		log:    log,
	}
}

// Publish marshals and publishes the event on its topic. Failures are logged
// and returned but never abort the business operation that emitted them.
func (p *eventPublisher) Publish(ctx context.Context, event *types.Event) error {
	if event == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to marshal event payload").
			WithReportableDetails(map[string]any{"event_name": event.Name}).
			Mark(ierr.ErrSystem)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set(MetadataEventName, string(event.Name))

	if err := p.pubSub.Publish(event.Name.Topic(), msg); err != nil {
		p.log.Errorw("failed to publish event",
			"event_name", event.Name,
			"entity_id", event.EntityID,
			"error", err,
		)
		return ierr.WithError(err).
			WithHint("Failed to publish event").
			Mark(ierr.ErrSystem)
	}

	p.log.Debugw("published event",
		"event_name", event.Name,
		"entity_id", event.EntityID,
	)
	return nil
}

// Subscribe returns the message stream for a topic, used by in-process
// consumers and tests
func (p *eventPublisher) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.pubSub.Subscribe(ctx, topic)
}

func (p *eventPublisher) Close() error {
	return p.pubSub.Close()
}
