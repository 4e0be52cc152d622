// Package messaging forwards domain events to message brokers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"

	"boxoffice/internal/logger"
	"boxoffice/internal/models"
)

type NATSConfig struct {
	URL       string `envconfig:"URL"`
	ClusterID string `envconfig:"CLUSTER_ID" default:"test-cluster"`
	ClientID  string `envconfig:"CLIENT_ID" default:"boxoffice"`
}

func (c NATSConfig) Enabled() bool { return c.URL != "" }

// streamConn is the part of stan.Conn the sink uses.
type streamConn interface {
	Publish(subject string, data []byte) error
	Close() error
}

// NATSSink publishes each domain event to NATS Streaming. The subject is the
// event's routing key, prefixed by the publisher target when one is set.
type NATSSink struct {
	conn streamConn
}

func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	// Several workers share the cluster; client ids must be unique.
	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])

	conn, err := stan.Connect(cfg.ClusterID, clientID, stan.NatsURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}

	logger.Get().Info("Connected to NATS Streaming", "url", cfg.URL, "cluster", cfg.ClusterID, "client", clientID)
	return &NATSSink{conn: conn}, nil
}

func Subject(target string, t models.DomainEventType) string {
	target = strings.Trim(target, ".")
	if target == "" {
		return t.Subject()
	}
	return target + "." + t.Subject()
}

// Publish blocks until the streaming server acknowledges the message.
func (s *NATSSink) Publish(ctx context.Context, target string, ev models.DomainEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	subject := Subject(target, ev.EventType)
	if err := s.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}

	logger.WithContext(ctx).Debug("Published domain event", "subject", subject, "seq", ev.Seq)
	return nil
}

func (s *NATSSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
