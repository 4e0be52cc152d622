package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/models"
)

type fakeStream struct {
	subjects []string
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakeStream) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	declared []string
	sent     []published
	err      error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name+"/"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func event(t models.DomainEventType) models.DomainEvent {
	return models.DomainEvent{
		ID:        uuid.New(),
		Seq:       7,
		EventType: t,
		MainTable: models.TableOrders,
		MainID:    uuid.New(),
		Payload:   json.RawMessage(`{"order_id":"x"}`),
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "order.completed", Subject("", models.DomainEventOrderCompleted))
	assert.Equal(t, "acme.order.refund", Subject("acme.", models.DomainEventOrderRefund))
}

func TestNATSSinkPublish(t *testing.T) {
	conn := &fakeStream{}
	sink := &NATSSink{conn: conn}
	ev := event(models.DomainEventOrderCompleted)

	require.NoError(t, sink.Publish(context.Background(), "boxoffice", ev))
	require.Equal(t, []string{"boxoffice.order.completed"}, conn.subjects)

	var decoded models.DomainEvent
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.JSONEq(t, `{"order_id":"x"}`, string(decoded.Payload))

	conn.err = errors.New("nats: timeout")
	assert.ErrorContains(t, sink.Publish(context.Background(), "", ev), "order.completed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Publish(ctx, "", ev), context.Canceled)

	require.NoError(t, sink.Close())
	assert.True(t, conn.closed)
}

func TestAMQPSinkDeclaresEachExchangeOnce(t *testing.T) {
	ch := &fakeChannel{}
	sink := newAMQPSink(nil, ch, "boxoffice.domain_events")
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, "", event(models.DomainEventOrderCompleted)))
	require.NoError(t, sink.Publish(ctx, "", event(models.DomainEventCodeCreated)))
	require.NoError(t, sink.Publish(ctx, "partner", event(models.DomainEventHoldCreated)))

	assert.Equal(t, []string{"boxoffice.domain_events/topic", "partner/topic"}, ch.declared)
	require.Len(t, ch.sent, 3)
	assert.Equal(t, "order.completed", ch.sent[0].key)
	assert.Equal(t, "code.created", ch.sent[1].key)
	assert.Equal(t, "partner", ch.sent[2].exchange)
	assert.Equal(t, amqp.Persistent, ch.sent[0].msg.DeliveryMode)
	assert.Equal(t, "application/json", ch.sent[0].msg.ContentType)
	assert.Equal(t, string(models.DomainEventOrderCompleted), ch.sent[0].msg.Type)

	ch.err = errors.New("channel closed")
	assert.Error(t, sink.Publish(ctx, "", event(models.DomainEventOrderRefund)))
}
