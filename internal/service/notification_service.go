package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-assigner/internal/config"
	"github.com/spec-kit/ticket-assigner/internal/domain"
	"github.com/spec-kit/ticket-assigner/internal/events"
)

const deliveryTimeout = 2 * time.Second

// Broadcaster pushes messages to connected real-time clients.
type Broadcaster interface {
	SendToUser(userID int64, message any) int
	SendToGroup(group string, message any) int
}

// Publisher sends raw payloads to a pub/sub channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// AssignmentMessage is the real-time representation of an assignment.
type AssignmentMessage struct {
	Type      events.EventType `json:"type"`
	EventID   string           `json:"event_id"`
	TicketID  int64            `json:"ticket_id"`
	AgentID   int64            `json:"agent_id"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventNotifier implements Notifier by publishing ticket_assigned events on
// the dispatcher.
type EventNotifier struct {
	dispatcher events.Dispatcher
}

// NewEventNotifier creates the notifier.
func NewEventNotifier(dispatcher events.Dispatcher) *EventNotifier {
	return &EventNotifier{dispatcher: dispatcher}
}

// NotifyAssigned publishes the assignment. Handler errors are returned so the
// caller can log them.
func (n *EventNotifier) NotifyAssigned(ctx context.Context, assignment domain.Assignment) error {
	if n.dispatcher == nil {
		return nil
	}
	return n.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketAssigned,
		TicketID:  assignment.TicketID,
		Actor:     events.ActorScheduler,
		Timestamp: assignment.AssignedAt,
		Payload: events.TicketAssignedPayload{
			TicketID: assignment.TicketID,
			AgentID:  assignment.AgentID,
		},
	})
}

// NotificationService delivers domain events to real-time clients and to
// the Redis channel other service instances listen on.
type NotificationService struct {
	dispatcher events.Dispatcher
	hub        Broadcaster
	publisher  Publisher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NotificationDependencies bundles collaborators. Hub and Publisher are
// optional.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Hub        Broadcaster
	Publisher  Publisher
	Logger     *zap.Logger
	Config     config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		publisher:  deps.Publisher,
		logger:     logger,
		cfg:        deps.Config,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
}

// Sinks names the configured delivery targets.
func (n *NotificationService) Sinks() []string {
	var sinks []string
	if n.hub != nil {
		sinks = append(sinks, "realtime")
	}
	if n.publisher != nil && strings.TrimSpace(n.cfg.RedisChannel) != "" {
		sinks = append(sinks, "redis:"+strings.TrimSpace(n.cfg.RedisChannel))
	}
	return sinks
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return fmt.Errorf("ticket_assigned: unexpected payload %T", event.Payload)
	}
	n.logger.Debug("TicketAssigned",
		zap.String("event_id", event.ID),
		zap.Int64("ticket_id", payload.TicketID),
		zap.Int64("agent_id", payload.AgentID))

	msg := AssignmentMessage{
		Type:      event.Type,
		EventID:   event.ID,
		TicketID:  payload.TicketID,
		AgentID:   payload.AgentID,
		Timestamp: event.Timestamp,
	}
	n.sendRealtime(msg)
	return n.publishRedis(ctx, msg)
}

func (n *NotificationService) sendRealtime(msg AssignmentMessage) {
	if n.hub == nil {
		return
	}
	delivered := n.hub.SendToUser(msg.AgentID, msg)
	if group := strings.TrimSpace(n.cfg.AgentsGroup); group != "" {
		delivered += n.hub.SendToGroup(group, msg)
	}
	n.logger.Debug("realtime assignment delivered",
		zap.Int64("ticket_id", msg.TicketID),
		zap.Int("connections", delivered))
}

func (n *NotificationService) publishRedis(ctx context.Context, msg AssignmentMessage) error {
	channel := strings.TrimSpace(n.cfg.RedisChannel)
	if n.publisher == nil || channel == "" {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode assignment message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := n.publisher.Publish(ctx, channel, body); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}
