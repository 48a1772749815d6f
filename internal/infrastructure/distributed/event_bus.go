package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pixelfleet/internal/core/domain"
)

// EventType identifies a fleet lifecycle event.
type EventType string

const (
	EventUnitOnline  EventType = "unit.online"
	EventUnitOffline EventType = "unit.offline"
	EventUnitClaimed EventType = "unit.claimed"
)

// Event is one fleet lifecycle event as published on the bus.
type Event struct {
	Type       EventType     `json:"type"`
	InstanceID string        `json:"instance_id"`
	Timestamp  time.Time     `json:"timestamp"`
	UnitID     domain.UnitID `json:"unit_id"`
	Address    string        `json:"address,omitempty"`
	Port       int           `json:"port,omitempty"`
	Clients    int           `json:"clients"`
}

// EventBus mirrors fleet lifecycle events to a Redis channel so that
// dashboards or sibling matchmakers can observe the fleet. Publish
// failures are logged and swallowed; the unit table is authoritative
// and never depends on the bus.
type EventBus struct {
	client     *redis.Client
	channel    string
	instanceID string
	log        *zap.SugaredLogger
	pubsub     *redis.PubSub
}

// NewEventBus creates an event bus publishing on the given channel.
func NewEventBus(client *redis.Client, channel, instanceID string, log *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		log:        log,
	}
}

func (eb *EventBus) publish(ctx context.Context, event *Event) {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		eb.log.Warnw("failed to marshal fleet event", "type", event.Type, "error", err)
		return
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		eb.log.Warnw("failed to publish fleet event", "type", event.Type, "error", err)
		return
	}

	eb.log.Debugw("published fleet event",
		"type", event.Type,
		"unit_id", event.UnitID,
	)
}

// UnitOnline publishes a unit registration event.
func (eb *EventBus) UnitOnline(ctx context.Context, unit domain.CapacityUnit) {
	eb.publish(ctx, &Event{
		Type:    EventUnitOnline,
		UnitID:  unit.ID,
		Address: unit.Address,
		Port:    unit.Port,
		Clients: unit.NumConnectedClients,
	})
}

// UnitOffline publishes a unit departure event.
func (eb *EventBus) UnitOffline(ctx context.Context, unit domain.CapacityUnit) {
	eb.publish(ctx, &Event{
		Type:    EventUnitOffline,
		UnitID:  unit.ID,
		Address: unit.Address,
		Port:    unit.Port,
	})
}

// UnitClaimed publishes a placement event.
func (eb *EventBus) UnitClaimed(ctx context.Context, unit domain.CapacityUnit) {
	eb.publish(ctx, &Event{
		Type:    EventUnitClaimed,
		UnitID:  unit.ID,
		Address: unit.Address,
		Port:    unit.Port,
		Clients: unit.NumConnectedClients,
	})
}

// Subscribe consumes events published by other instances, calling
// handler for each. It blocks until ctx is cancelled.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.log.Warnw("failed to unmarshal fleet event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.log.Warnw("error handling fleet event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Close closes the event bus.
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
