// Package notify turns domain state changes into websocket events and
// delivers them to the right topics. Delivery is best-effort: a failed
// publish is logged and never fails the calling operation.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/platform/websocket"
)

// Notifier fans events out to one or more publishers. The local hub is
// always present; a cross-instance bridge may be appended.
type Notifier struct {
	publishers []websocket.EventPublisher
	logger     zerolog.Logger
}

// NewNotifier creates a Notifier over the given publishers.
func NewNotifier(logger zerolog.Logger, publishers ...websocket.EventPublisher) *Notifier {
	return &Notifier{publishers: publishers, logger: logger}
}

// Emit publishes one event per topic to every configured publisher.
// Failures are logged per publisher and do not stop the remaining fan-out.
func (n *Notifier) Emit(ctx context.Context, eventType, entity, entityID string, topics []string, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			n.logger.Error().Err(err).Str("event", eventType).Msg("notify: failed to marshal payload")
		} else {
			data = b
		}
	}

	now := time.Now().UTC()
	for _, topic := range topics {
		event := websocket.Event{
			Type:      eventType,
			Topic:     topic,
			Entity:    entity,
			EntityID:  entityID,
			Timestamp: now,
			Data:      data,
		}
		for _, pub := range n.publishers {
			if err := pub.Publish(ctx, event); err != nil {
				n.logger.Error().
					Err(err).
					Str("event", eventType).
					Str("topic", topic).
					Msg("notify: publish failed")
			}
		}
	}
}

// OrderTopics returns the delivery topics for an order event: the owning
// department's queue plus the ordering physician's own topic.
func OrderTopics(department, orderedBy string) []string {
	topics := make([]string, 0, 2)
	if department != "" {
		topics = append(topics, websocket.DeptTopic(department))
	}
	if orderedBy != "" {
		topics = append(topics, websocket.UserTopic(orderedBy))
	}
	return topics
}

// JobTopics returns the delivery topics for an inference job event: the
// department responsible for reviewing the result plus the requesting
// user's own topic.
func JobTopics(reviewDepartment, requestedBy string) []string {
	topics := make([]string, 0, 2)
	if reviewDepartment != "" {
		topics = append(topics, websocket.DeptTopic(reviewDepartment))
	}
	if requestedBy != "" {
		topics = append(topics, websocket.UserTopic(requestedBy))
	}
	return topics
}
