package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/inventory"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/publisher"
	"boxoffice/internal/repository"
	"boxoffice/internal/repository/memstore"
	"boxoffice/internal/service"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.InitWithWriter("ERROR", "json", io.Discard)
	os.Exit(m.Run())
}

type env struct {
	t      *testing.T
	ctx    context.Context
	repos  *repository.Repositories
	clock  *clockwork.FakeClock
	acct   *inventory.Accountant
	server *Server
}

func newEnv(t *testing.T, checks map[string]Checker) *env {
	t.Helper()
	repos := memstore.New().Repositories()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	acct := inventory.NewAccountant(repos, clock)
	pub := publisher.New(repos, clock, "test", map[models.PublisherAdapter]publisher.Sink{}, publisher.Options{})
	server := NewServer(Deps{
		Services:       service.NewServices(repos, nil, clock, service.DefaultOptions()),
		Inventory:      acct,
		Publisher:      pub,
		Publishers:     repos.Publishers,
		Checks:         checks,
		RequestTimeout: time.Second,
	})
	return &env{t: t, ctx: context.Background(), repos: repos, clock: clock, acct: acct, server: server}
}

func (e *env) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func (e *env) ticketType(capacity int64) *models.TicketType {
	e.t.Helper()
	tt := &models.TicketType{ID: uuid.New(), EventID: uuid.New(), Name: "GA", Status: models.TicketTypeStatusPublished, Capacity: capacity}
	require.NoError(e.t, e.repos.TicketTypes.CreateTicketType(e.ctx, tt))
	return tt
}

func TestHealth(t *testing.T) {
	e := newEnv(t, map[string]Checker{
		"database": func(context.Context) error { return nil },
	})
	w := e.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"boxoffice","components":{"database":{"status":"healthy"}}}`, w.Body.String())

	e = newEnv(t, map[string]Checker{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	w = e.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestInventoryReport(t *testing.T) {
	e := newEnv(t, nil)
	tt := e.ticketType(10)
	item := &models.OrderItem{ID: uuid.New(), OrderID: uuid.New(), ItemType: models.OrderItemTypeTickets, TicketTypeID: &tt.ID}
	require.NoError(t, e.acct.Reserve(e.ctx, item, nil, 4, e.clock.Now().Add(time.Minute)))

	w := e.do(http.MethodGet, "/ops/ticket-types/"+tt.ID.String()+"/inventory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report inventory.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, int64(4), report.Counts.Reserved)
	assert.Equal(t, int64(6), report.Unallocated)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/ops/ticket-types/"+uuid.NewString()+"/inventory", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/ops/ticket-types/nope/inventory", nil).Code)
}

func TestRedeemTicket(t *testing.T) {
	e := newEnv(t, nil)
	tt := e.ticketType(2)
	item := &models.OrderItem{ID: uuid.New(), OrderID: uuid.New(), ItemType: models.OrderItemTypeTickets, TicketTypeID: &tt.ID}
	require.NoError(t, e.repos.Orders.CreateOrderItem(e.ctx, item))
	require.NoError(t, e.acct.Reserve(e.ctx, item, nil, 1, e.clock.Now().Add(time.Minute)))
	units, err := e.repos.Inventory.ListTicketInstances(e.ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	path := "/ops/ticket-instances/" + units[0].ID.String() + "/redeem"

	// Reserved but unpaid.
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, path, nil).Code)

	_, err = e.repos.Inventory.MarkPurchased(e.ctx, item.OrderID, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodPost, path, nil).Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodPost, "/ops/ticket-instances/"+uuid.NewString()+"/redeem", nil).Code)
}

func TestExpireCarts(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodPost, "/ops/carts/expire", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"expired":0}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/ops/carts/expire?limit=0", nil).Code)
}

func TestPublishers(t *testing.T) {
	e := newEnv(t, nil)

	w := e.do(http.MethodGet, "/ops/publishers", nil)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = e.do(http.MethodPost, "/ops/publishers", map[string]any{
		"adapter":     "Webhook",
		"event_types": []string{"OrderCompleted"},
		"target":      "https://hooks.example.com/orders",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created models.DomainEventPublisher
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.PublisherAdapterWebhook, created.Adapter)

	w = e.do(http.MethodPost, "/ops/publishers", map[string]any{"adapter": "Webhook"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "event_types")

	w = e.do(http.MethodGet, "/ops/publishers", nil)
	var listed []models.DomainEventPublisher
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	// No sink is wired for webhooks here, so the pass sends nothing.
	w = e.do(http.MethodPost, "/ops/publishers/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"published":0,"claimed":0,"filtered":0,"failed":0,"busy":0}`, w.Body.String())
}
