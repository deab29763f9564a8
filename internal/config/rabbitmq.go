package config

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NewRabbitMQ connects the event broker. Returns nil when no RABBITMQ_URL
// is configured; broker fan-out is then disabled.
func NewRabbitMQ(s *Settings) (*amqp.Connection, error) {
	if s.RabbitMQURL == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(s.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}
