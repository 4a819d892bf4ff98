// Package jobs delivers shipping rate change events to downstream consumers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/threadcraft/api/internal/services"
)

// PubSubRateEventPublisher publishes rate change events, ordered per rate so a
// consumer never sees a delete overtaken by an earlier upsert of the same rate.
type PubSubRateEventPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubRateEventPublisher enables message ordering on topic.
func NewPubSubRateEventPublisher(topic *pubsub.Topic) (*PubSubRateEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("jobs: pubsub topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubRateEventPublisher{topic: topic}, nil
}

// PublishRateChanged blocks until Pub/Sub acknowledges the message and returns its id.
func (p *PubSubRateEventPublisher) PublishRateChanged(ctx context.Context, event services.ShippingRateChangedEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("jobs: encode rate event %s: %w", event.EventID, err)
	}

	orderingKey := event.Key().ID()
	attrs := map[string]string{
		"eventId":         event.EventID,
		"eventType":       services.ShippingRateChangedEventType,
		"action":          string(event.Action),
		"productCategory": string(event.Category),
		"region":          event.Region.Slug(),
		"rateId":          orderingKey,
	}
	maps.DeleteFunc(attrs, func(_, v string) bool { return strings.TrimSpace(v) == "" })

	id, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	}).Get(ctx)
	if err != nil {
		// A failed ordered publish pauses the key until resumed.
		p.topic.ResumePublish(orderingKey)
		return "", fmt.Errorf("jobs: publish rate event %s: %w", event.EventID, err)
	}
	return id, nil
}

// Stop flushes buffered messages.
func (p *PubSubRateEventPublisher) Stop() { p.topic.Stop() }
