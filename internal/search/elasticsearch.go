// Package search keeps an Elasticsearch audit index of domain events.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"boxoffice/internal/logger"
	"boxoffice/internal/models"
)

type Config struct {
	URL        string `envconfig:"URL"`
	Username   string `envconfig:"USERNAME"`
	Password   string `envconfig:"PASSWORD"`
	Index      string `envconfig:"INDEX" default:"boxoffice-domain-events"`
	MaxRetries int    `envconfig:"MAX_RETRIES" default:"3"`
}

func (c Config) Enabled() bool { return c.URL != "" }

// AuditSink indexes each domain event under its id, so a resend after a
// partial failure overwrites instead of duplicating.
type AuditSink struct {
	client *elasticsearch.Client
	index  string

	mu      sync.Mutex
	ensured map[string]bool
}

func NewAuditSink(cfg Config) (*AuditSink, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	return &AuditSink{client: es, index: cfg.Index, ensured: map[string]bool{}}, nil
}

var indexMapping = map[string]any{
	"settings": map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
	"mappings": map[string]any{
		"properties": map[string]any{
			"id":              map[string]any{"type": "keyword"},
			"seq":             map[string]any{"type": "long"},
			"event_type":      map[string]any{"type": "keyword"},
			"main_table":      map[string]any{"type": "keyword"},
			"main_id":         map[string]any{"type": "keyword"},
			"organization_id": map[string]any{"type": "keyword"},
			"payload":         map[string]any{"type": "object", "enabled": false},
			"created_at":      map[string]any{"type": "date"},
		},
	},
}

func (s *AuditSink) ensureIndex(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[index] {
		return nil
	}

	res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		body, err := json.Marshal(indexMapping)
		if err != nil {
			return fmt.Errorf("failed to marshal mapping: %w", err)
		}
		createRes, err := esapi.IndicesCreateRequest{Index: index, Body: bytes.NewReader(body)}.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		defer createRes.Body.Close()
		// Another worker may have won the race to create it.
		if createRes.IsError() && createRes.StatusCode != http.StatusBadRequest {
			return fmt.Errorf("failed to create index: %s", createRes.String())
		}
		logger.WithContext(ctx).Info("Created Elasticsearch index", "index", index)
	} else if res.IsError() {
		return fmt.Errorf("failed to check index existence: %s", res.String())
	}

	s.ensured[index] = true
	return nil
}

func (s *AuditSink) Publish(ctx context.Context, target string, ev models.DomainEvent) error {
	index := target
	if index == "" {
		index = s.index
	}
	if err := s.ensureIndex(ctx, index); err != nil {
		return err
	}

	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal domain event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: ev.ID.String(),
		Body:       bytes.NewReader(doc),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("failed to index domain event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}
	return nil
}

func (s *AuditSink) HealthCheck(ctx context.Context) error {
	req := esapi.ClusterHealthRequest{
		WaitForStatus: "yellow",
		Timeout:       10 * time.Second,
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("health check error: %s", res.String())
	}
	return nil
}
