package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

type DomainEventRepository struct {
	db *database.DB
}

func NewDomainEventRepository(db *database.DB) *DomainEventRepository {
	return &DomainEventRepository{db: db}
}

func (r *DomainEventRepository) CreateDomainEvent(ctx context.Context, ev *models.DomainEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	query := `
		INSERT INTO domain_events (id, event_type, main_table, main_id, organization_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query,
		ev.ID, ev.EventType, ev.MainTable, ev.MainID, ev.OrganizationID, []byte(payload), ev.CreatedAt).Scan(&ev.Seq)
	if err != nil {
		return fmt.Errorf("failed to create domain event: %w", err)
	}
	return nil
}

func (r *DomainEventRepository) ListDomainEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]models.DomainEvent, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT id, seq, event_type, main_table, main_id, organization_id, payload, created_at
		FROM domain_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain events: %w", err)
	}
	defer rows.Close()

	var events []models.DomainEvent
	for rows.Next() {
		var ev models.DomainEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.EventType, &ev.MainTable, &ev.MainID,
			&ev.OrganizationID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan domain event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}
