package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/lease"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/repository/memstore"
	"boxoffice/internal/validation"
)

func TestMain(m *testing.M) {
	logger.InitWithWriter("ERROR", "json", io.Discard)
	os.Exit(m.Run())
}

type recordingSink struct {
	mu      sync.Mutex
	targets []string
	events  []models.DomainEvent
	failOn  map[uuid.UUID]bool
}

func (s *recordingSink) Publish(ctx context.Context, target string, ev models.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[ev.ID] {
		return errors.New("sink unavailable")
	}
	s.targets = append(s.targets, target)
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) seqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, ev := range s.events {
		out = append(out, ev.Seq)
	}
	return out
}

type env struct {
	t     *testing.T
	ctx   context.Context
	repos *repository.Repositories
	clock *clockwork.FakeClock
	sink  *recordingSink
	p     *Publisher
	org   uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:     t,
		ctx:   context.Background(),
		repos: memstore.New().Repositories(),
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		sink:  &recordingSink{failOn: map[uuid.UUID]bool{}},
		org:   uuid.New(),
	}
	e.p = New(e.repos, e.clock, "worker-a", map[models.PublisherAdapter]Sink{models.PublisherAdapterWebhook: e.sink},
		Options{LeaseTTL: time.Minute, BatchSize: 10})
	return e
}

func (e *env) emit(t models.DomainEventType, org *uuid.UUID) models.DomainEvent {
	e.t.Helper()
	ev := &models.DomainEvent{
		EventType:      t,
		MainTable:      models.TableOrders,
		MainID:         uuid.New(),
		OrganizationID: org,
		Payload:        json.RawMessage(`{}`),
		CreatedAt:      e.clock.Now(),
	}
	require.NoError(e.t, e.repos.DomainEvents.CreateDomainEvent(e.ctx, ev))
	return *ev
}

func (e *env) publisher(mods ...func(*validation.PublisherAttributes)) *models.DomainEventPublisher {
	e.t.Helper()
	attrs := validation.PublisherAttributes{
		EventTypes:           []models.DomainEventType{models.DomainEventOrderCompleted, models.DomainEventOrderRefund},
		Adapter:              models.PublisherAdapterWebhook,
		Target:               "https://hooks.example.com/orders",
		ImportHistoricEvents: true,
	}
	for _, m := range mods {
		m(&attrs)
	}
	pub, err := e.p.Create(e.ctx, attrs)
	require.NoError(e.t, err)
	return pub
}

func (e *env) stored(id uuid.UUID) *models.DomainEventPublisher {
	e.t.Helper()
	pub, err := e.repos.Publishers.GetPublisher(e.ctx, id)
	require.NoError(e.t, err)
	require.NotNil(e.t, pub)
	return pub
}

func TestPublishPendingSendsMatchingEventsInOrder(t *testing.T) {
	e := newEnv(t)
	other := uuid.New()
	pub := e.publisher(func(a *validation.PublisherAttributes) { a.OrganizationID = &e.org })

	e.emit(models.DomainEventOrderCompleted, &e.org)
	e.emit(models.DomainEventCodeCreated, &e.org)
	e.emit(models.DomainEventOrderCompleted, &other)
	e.emit(models.DomainEventOrderRefund, nil)
	e.emit(models.DomainEventOrderRefund, &e.org)

	stats, err := e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Published)
	assert.Equal(t, 3, stats.Filtered)
	assert.Equal(t, []int64{1, 5}, e.sink.seqs())
	assert.Equal(t, "https://hooks.example.com/orders", e.sink.targets[0])

	stored := e.stored(pub.ID)
	require.NotNil(t, stored.LastDomainEventSeq)
	assert.Equal(t, int64(5), *stored.LastDomainEventSeq)
	assert.Nil(t, stored.LeaseHolder, "lease is released after the batch")
	assert.Greater(t, stored.Version, pub.Version, "lease and cursor writes bump the version")

	stats, err = e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Published)
	assert.Len(t, e.sink.events, 2)
}

func TestPublishPendingSkipsHistoricEvents(t *testing.T) {
	e := newEnv(t)
	e.emit(models.DomainEventOrderCompleted, nil)
	e.clock.Advance(time.Second)
	e.publisher(func(a *validation.PublisherAttributes) { a.ImportHistoricEvents = false })
	e.clock.Advance(time.Second)
	e.emit(models.DomainEventOrderCompleted, nil)

	stats, err := e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, []int64{2}, e.sink.seqs())
}

func TestPublishPendingStopsAtAFailedSend(t *testing.T) {
	e := newEnv(t)
	pub := e.publisher()
	e.emit(models.DomainEventOrderCompleted, nil)
	bad := e.emit(models.DomainEventOrderCompleted, nil)
	e.emit(models.DomainEventOrderCompleted, nil)
	e.sink.failOn[bad.ID] = true

	stats, err := e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int64(1), *e.stored(pub.ID).LastDomainEventSeq)

	// The failed event was un-claimed and goes out on the next pass.
	delete(e.sink.failOn, bad.ID)
	stats, err = e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Published)
	assert.Equal(t, []int64{1, 2, 3}, e.sink.seqs())
	assert.Equal(t, int64(3), *e.stored(pub.ID).LastDomainEventSeq)
}

func TestPublishPendingNeverResendsClaimedEvents(t *testing.T) {
	e := newEnv(t)
	pub := e.publisher()
	ev := e.emit(models.DomainEventOrderCompleted, nil)

	// Another worker sent it but died before moving the cursor.
	claimed, err := e.repos.Publishers.ClaimForPublishing(e.ctx, pub.ID, ev.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	stats, err := e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.Empty(t, e.sink.events)
	assert.Equal(t, int64(1), *e.stored(pub.ID).LastDomainEventSeq)
}

func TestPublishPendingSkipsLeasedPublishers(t *testing.T) {
	e := newEnv(t)
	pub := e.publisher()
	e.emit(models.DomainEventOrderCompleted, nil)

	other := lease.NewManager(e.repos.Publishers, e.clock, "worker-b")
	_, err := other.Acquire(e.ctx, pub.ID, time.Minute)
	require.NoError(t, err)

	stats, err := e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Busy)
	assert.Empty(t, e.sink.events)

	// worker-b vanished; its lease runs out.
	e.clock.Advance(time.Minute)
	stats, err = e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
}

func TestPublishPendingIgnoresAdaptersWithoutSink(t *testing.T) {
	e := newEnv(t)
	pub := e.publisher(func(a *validation.PublisherAttributes) {
		a.Adapter = models.PublisherAdapterAMQP
		a.Target = ""
	})
	e.emit(models.DomainEventOrderCompleted, nil)

	stats, err := e.p.PublishPending(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Published)
	assert.Nil(t, e.stored(pub.ID).LastDomainEventSeq)
}

func TestCreateValidatesAttributes(t *testing.T) {
	e := newEnv(t)
	_, err := e.p.Create(e.ctx, validation.PublisherAttributes{Adapter: models.PublisherAdapterWebhook})
	verrs, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verrs.Fields, "event_types")
	assert.Contains(t, verrs.Fields, "target")

	pubs, err := e.repos.Publishers.ListPublishers(e.ctx)
	require.NoError(t, err)
	assert.Empty(t, pubs)
}

func TestWebhookSink(t *testing.T) {
	var got models.DomainEvent
	var header http.Header
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	sink := NewWebhookSink(time.Second)
	ev := models.DomainEvent{ID: uuid.New(), Seq: 9, EventType: models.DomainEventOrderCancelled, Payload: json.RawMessage(`{"reason":"expired"}`)}

	require.NoError(t, sink.Publish(context.Background(), srv.URL, ev))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "OrderCancelled", header.Get("X-Domain-Event-Type"))

	status = http.StatusBadGateway
	assert.ErrorContains(t, sink.Publish(context.Background(), srv.URL, ev), "502")
	assert.Error(t, sink.Publish(context.Background(), "", ev))
}
