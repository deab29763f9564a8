// Package publisher forwards tracking events to a message broker so other
// subsystems (notifications, reporting) can consume them.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleettrack/internal/track"
	"fleettrack/internal/wsproto"
)

const (
	exchangeName = "tracking.events"
	queueName    = "tracking_alerts"
)

// AMQPEventPublisher pushes events onto a durable fanout exchange.
type AMQPEventPublisher struct {
	ch *amqp.Channel
}

func NewAMQPEventPublisher(conn *amqp.Connection) (*AMQPEventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	return &AMQPEventPublisher{ch: ch}, nil
}

type eventMessage struct {
	Kind       string `json:"kind"`
	TenantID   string `json:"tenant_id"`
	VehicleID  string `json:"vehicle_id"`
	ShipmentID string `json:"shipment_id,omitempty"`
	GeofenceID uint   `json:"geofence_id,omitempty"`
	ZoneID     uint   `json:"zone_id,omitempty"`
	DistanceM  int    `json:"distance_m,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Message    string `json:"message,omitempty"`
	At         string `json:"at"`
}

func (p *AMQPEventPublisher) PublishEvent(ctx context.Context, ev track.Event) error {
	body, err := json.Marshal(eventMessage{
		Kind:       ev.Kind,
		TenantID:   ev.TenantID,
		VehicleID:  ev.VehicleID,
		ShipmentID: ev.ShipmentID,
		GeofenceID: ev.GeofenceID,
		ZoneID:     ev.ZoneID,
		DistanceM:  ev.DistanceM,
		Severity:   ev.Severity,
		Message:    ev.Message,
		At:         wsproto.FormatTime(ev.At),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.ch.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *AMQPEventPublisher) Close() error {
	return p.ch.Close()
}
