package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"boxoffice/internal/logger"
	"boxoffice/internal/models"
)

type AMQPConfig struct {
	URL string `envconfig:"URL"`
	// Exchange is used when a publisher has no target of its own.
	Exchange string `envconfig:"EXCHANGE" default:"boxoffice.domain_events"`
}

func (c AMQPConfig) Enabled() bool { return c.URL != "" }

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes domain events to durable topic exchanges, one per
// publisher target, keyed by the event's routing key.
type AMQPSink struct {
	conn     *amqp.Connection
	exchange string

	mu       sync.Mutex
	ch       amqpChannel
	declared map[string]bool
}

func NewAMQPSink(cfg AMQPConfig) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return newAMQPSink(conn, ch, cfg.Exchange), nil
}

func newAMQPSink(conn *amqp.Connection, ch amqpChannel, exchange string) *AMQPSink {
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange, declared: map[string]bool{}}
}

func (s *AMQPSink) Publish(ctx context.Context, target string, ev models.DomainEvent) error {
	exchange := target
	if exchange == "" {
		exchange = s.exchange
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	// amqp channels are not safe for concurrent publishing.
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.declared[exchange] {
		if err := s.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		s.declared[exchange] = true
	}

	key := ev.EventType.Subject()
	err = s.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Timestamp:    ev.CreatedAt.UTC(),
		Type:         string(ev.EventType),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", key, exchange, err)
	}

	logger.WithContext(ctx).Debug("Published domain event", "exchange", exchange, "routing_key", key, "seq", ev.Seq)
	return nil
}

func (s *AMQPSink) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
