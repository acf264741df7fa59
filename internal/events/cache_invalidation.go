package events

import (
	"context"
	"encoding/json"
	"time"

	segkafka "github.com/segmentio/kafka-go"

	"coursecast/internal/adapters/kafka"
	"coursecast/internal/domain/cache"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// InvalidationMessage carries one entity mutation between instances
type InvalidationMessage struct {
	Envelope
	Kind       cache.Kind        `json:"kind"`
	EntityID   string            `json:"entity_id"`
	RelatedIDs map[string]string `json:"related_ids,omitempty"`
}

// Event converts the message back into an invalidation event
func (m InvalidationMessage) Event() cache.Event {
	return cache.Event{Kind: m.Kind, EntityID: m.EntityID, RelatedIDs: m.RelatedIDs}
}

// InvalidationPublisher announces entity mutations so every instance drops stale entries
type InvalidationPublisher struct {
	producer Producer
	source   string
	now      func() time.Time
}

// NewInvalidationPublisher creates a new invalidation publisher
func NewInvalidationPublisher(producer Producer, source string) *InvalidationPublisher {
	return &InvalidationPublisher{producer: producer, source: source, now: time.Now}
}

// PublishInvalidation publishes ev keyed by entity ID
func (p *InvalidationPublisher) PublishInvalidation(ctx context.Context, ev cache.Event) error {
	if ev.EntityID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "invalidation without entity id")
	}

	msg := InvalidationMessage{
		Envelope:   NewEnvelope(TypeCacheInvalidation, p.source, p.now()),
		Kind:       ev.Kind,
		EntityID:   ev.EntityID,
		RelatedIDs: ev.RelatedIDs,
	}
	if err := p.producer.Publish(ctx, kafka.TopicCacheInvalidations, ev.EntityID, msg); err != nil {
		return errors.Wrap(err, "publish invalidation")
	}
	return nil
}

// InvalidationDispatcher applies an invalidation event; implemented by cache.Invalidator
type InvalidationDispatcher interface {
	Handle(ctx context.Context, ev cache.Event) error
}

// InvalidationHandler decodes invalidation messages and hands them to d.
// Undecodable messages are logged and acknowledged.
func InvalidationHandler(d InvalidationDispatcher, log *logger.Logger) kafka.MessageHandler {
	log = log.Component("invalidation_consumer")

	return func(ctx context.Context, msg segkafka.Message) error {
		var m InvalidationMessage
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			log.Warnw("Dropping undecodable invalidation", "offset", msg.Offset, "error", err)
			return nil
		}
		if err := d.Handle(ctx, m.Event()); err != nil {
			return errors.Wrapf(err, "invalidate %s %s", m.Kind, m.EntityID)
		}
		return nil
	}
}

// LocalLimitInvalidator drops this instance's cached limit state
type LocalLimitInvalidator interface {
	InvalidateCostLimit(ctx context.Context, ownerID string)
}

// LimitBroadcaster invalidates cost limits locally and announces them to peers.
// Peers consuming their own announcement just invalidate twice.
type LimitBroadcaster struct {
	local     LocalLimitInvalidator
	publisher *InvalidationPublisher
	log       *logger.Logger
}

// NewLimitBroadcaster creates a new limit broadcaster
func NewLimitBroadcaster(local LocalLimitInvalidator, publisher *InvalidationPublisher, log *logger.Logger) *LimitBroadcaster {
	return &LimitBroadcaster{local: local, publisher: publisher, log: log.Component("limit_broadcaster")}
}

// InvalidateCostLimit never fails; a lost announcement only delays peers until TTL expiry
func (b *LimitBroadcaster) InvalidateCostLimit(ctx context.Context, ownerID string) {
	b.local.InvalidateCostLimit(ctx, ownerID)

	if err := b.publisher.PublishInvalidation(ctx, cache.Event{Kind: cache.KindCostLimit, EntityID: ownerID}); err != nil {
		b.log.Warnw("Failed to announce limit invalidation", "owner_id", ownerID, "error", err)
	}
}
