// Package rabbit publishes session lifecycle events to a RabbitMQ topic exchange.
package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"quizroom-service/internal/app"
)

const (
	SessionStartRoutingKey = "session.start"
	SessionEndRoutingKey   = "session.end"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements app.LifecycleSink.
type Publisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch channel
}

// Dial connects to url and declares exchange as a durable topic exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{conn: conn, exchange: exchange, ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, event app.LifecycleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.At,
		MessageId:    event.Code + ":" + string(event.Status),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Status, err)
	}
	return nil
}

// RoutingKey maps a lifecycle event to its topic.
func RoutingKey(event app.LifecycleEvent) string {
	if event.Status == app.StatusCompleted {
		return SessionEndRoutingKey
	}
	return SessionStartRoutingKey
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.ch.Close()
	if p.conn == nil {
		return chErr
	}
	return p.conn.Close()
}
