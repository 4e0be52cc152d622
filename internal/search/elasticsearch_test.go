package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/models"
)

type fakeES struct {
	mu       sync.Mutex
	indices  map[string]bool
	docs     map[string][]byte
	requests []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	body, _ := io.ReadAll(r.Body)
	switch {
	case r.Method == http.MethodHead:
		if !f.indices[r.URL.Path[1:]] {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && len(r.URL.Path) > 1 && !strings.Contains(r.URL.Path, "/_doc/"):
		f.indices[r.URL.Path[1:]] = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case strings.Contains(r.URL.Path, "/_doc/"):
		f.docs[r.URL.Path] = body
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case r.URL.Path == "/_cluster/health":
		_, _ = w.Write([]byte(`{"status":"yellow"}`))
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unexpected"}`))
	}
}

func newSink(t *testing.T) (*AuditSink, *fakeES) {
	t.Helper()
	fake := &fakeES{indices: map[string]bool{}, docs: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sink, err := NewAuditSink(Config{URL: srv.URL, Index: "audit", MaxRetries: 0})
	require.NoError(t, err)
	return sink, fake
}

func TestAuditSinkIndexesEventsById(t *testing.T) {
	sink, fake := newSink(t)
	ctx := context.Background()
	ev := models.DomainEvent{
		ID:        uuid.New(),
		Seq:       3,
		EventType: models.DomainEventOrderRefund,
		MainTable: models.TableOrders,
		MainID:    uuid.New(),
		Payload:   json.RawMessage(`{"amount_in_cents":4150}`),
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, sink.Publish(ctx, "", ev))
	require.NoError(t, sink.Publish(ctx, "", ev))

	assert.True(t, fake.indices["audit"])
	require.Len(t, fake.docs, 1)
	var stored models.DomainEvent
	require.NoError(t, json.Unmarshal(fake.docs["/audit/_doc/"+ev.ID.String()], &stored))
	assert.Equal(t, int64(3), stored.Seq)
	assert.Equal(t, models.DomainEventOrderRefund, stored.EventType)

	// The index is checked once per sink.
	heads := 0
	for _, r := range fake.requests {
		if r == "HEAD /audit" {
			heads++
		}
	}
	assert.Equal(t, 1, heads)
}

func TestAuditSinkTargetOverridesIndex(t *testing.T) {
	sink, fake := newSink(t)
	ev := models.DomainEvent{ID: uuid.New(), EventType: models.DomainEventCodeCreated, MainTable: models.TableCodes}

	require.NoError(t, sink.Publish(context.Background(), "partner-audit", ev))
	assert.True(t, fake.indices["partner-audit"])
	assert.False(t, fake.indices["audit"])
}

func TestAuditSinkHealthCheck(t *testing.T) {
	sink, _ := newSink(t)
	assert.NoError(t, sink.HealthCheck(context.Background()))
}
