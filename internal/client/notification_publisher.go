package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
)

// Bus publishes raw messages. NATSBus is the production implementation.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes requisition and emergency override events
// for consumption by the notifications service.
//
// Subject convention: <prefix>.<event_type>, e.g.
// notifications.procurement.requisition_approval_required
//
// All publish operations are non-fatal. Errors are logged and never returned,
// so a notification outage never blocks an approval.
type NotificationPublisher struct {
	bus    Bus
	prefix string
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to the bus.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil bus disables publishing.
func NewNotificationPublisher(bus Bus, prefix string, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{bus: bus, prefix: strings.TrimSuffix(prefix, "."), log: log}
}

// Subject returns the subject an event type is published on.
func (p *NotificationPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return fmt.Sprintf("%s.%s", p.prefix, eventType)
}

// PublishEvent publishes an approval workflow event.
func (p *NotificationPublisher) PublishEvent(ctx context.Context, eventType, resourceType, resourceID, actorID string, recipients []string, payload map[string]any) {
	if p == nil || p.bus == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IsActionable: actionable(eventType),
		Severity:     severity(eventType),
		Category:     "procurement_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := p.Subject(eventType)
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("resource_id", resourceID).
			Msg("notification: failed to publish event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("resource_id", resourceID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

func actionable(eventType string) bool {
	switch eventType {
	case "requisition_approval_required", "emergency_override_granted":
		return true
	}
	return false
}

func severity(eventType string) string {
	if strings.HasPrefix(eventType, "emergency_override") {
		return "warning"
	}
	return "info"
}
