package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"boxoffice/internal/database"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/lease"
	"boxoffice/internal/models"
)

// PublisherRepository stores domain event publishers. The lease lives in
// lease_holder and blocked_until; a Free lease is NULL and the zero time.
type PublisherRepository struct {
	db *database.DB
}

func NewPublisherRepository(db *database.DB) *PublisherRepository {
	return &PublisherRepository{db: db}
}

const publisherColumns = `id, organization_id, event_types, adapter, target, import_historic_events,
	last_domain_event_seq, lease_holder, blocked_until, version, created_at, updated_at`

func scanPublisher(s rowScanner) (*models.DomainEventPublisher, error) {
	var p models.DomainEventPublisher
	var types []string
	err := s.Scan(&p.ID, &p.OrganizationID, pq.Array(&types), &p.Adapter, &p.Target, &p.ImportHistoricEvents,
		&p.LastDomainEventSeq, &p.LeaseHolder, &p.BlockedUntil, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, t := range types {
		et := models.DomainEventType(t)
		if !et.Valid() {
			return nil, fmt.Errorf("unknown domain event type %q", t)
		}
		p.EventTypes = append(p.EventTypes, et)
	}
	return &p, nil
}

func (r *PublisherRepository) CreatePublisher(ctx context.Context, p *models.DomainEventPublisher) error {
	types := make([]string, len(p.EventTypes))
	for i, t := range p.EventTypes {
		types[i] = string(t)
	}

	query := `
		INSERT INTO domain_event_publishers (` + publisherColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		p.ID, p.OrganizationID, pq.Array(types), p.Adapter, p.Target, p.ImportHistoricEvents,
		p.LastDomainEventSeq, p.LeaseHolder, p.BlockedUntil, p.Version, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	return nil
}

func (r *PublisherRepository) GetPublisher(ctx context.Context, id uuid.UUID) (*models.DomainEventPublisher, error) {
	p, err := scanPublisher(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+publisherColumns+` FROM domain_event_publishers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get publisher: %w", err)
	}
	return p, nil
}

func (r *PublisherRepository) ListPublishers(ctx context.Context) ([]models.DomainEventPublisher, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+publisherColumns+` FROM domain_event_publishers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list publishers: %w", err)
	}
	defer rows.Close()

	var publishers []models.DomainEventPublisher
	for rows.Next() {
		p, err := scanPublisher(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publisher: %w", err)
		}
		publishers = append(publishers, *p)
	}
	return publishers, rows.Err()
}

func (r *PublisherRepository) AcquireLease(ctx context.Context, id uuid.UUID, next lease.Lease, now time.Time) (bool, error) {
	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE domain_event_publishers
		SET lease_holder = $2, blocked_until = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND blocked_until <= $4`, id, next.Holder, next.Expiry, now))
	if err != nil {
		return false, fmt.Errorf("failed to acquire publisher lease: %w", err)
	}
	return n == 1, nil
}

func (r *PublisherRepository) SwapLease(ctx context.Context, id uuid.UUID, observed, next lease.Lease) (bool, error) {
	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE domain_event_publishers
		SET lease_holder = NULLIF($4, ''), blocked_until = $5, version = version + 1
		WHERE id = $1 AND COALESCE(lease_holder, '') = $2 AND blocked_until = $3`,
		id, observed.Holder, observed.Expiry, next.Holder, next.Expiry))
	if err != nil {
		return false, fmt.Errorf("failed to swap publisher lease: %w", err)
	}
	return n == 1, nil
}

func (r *PublisherRepository) ClaimForPublishing(ctx context.Context, publisherID, eventID uuid.UUID) (bool, error) {
	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO domain_event_published (domain_event_publisher_id, domain_event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, publisherID, eventID))
	if err != nil {
		return false, fmt.Errorf("failed to claim domain event: %w", err)
	}
	return n == 1, nil
}

func (r *PublisherRepository) UnclaimForPublishing(ctx context.Context, publisherID, eventID uuid.UUID) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		DELETE FROM domain_event_published
		WHERE domain_event_publisher_id = $1 AND domain_event_id = $2`, publisherID, eventID)
	if err != nil {
		return fmt.Errorf("failed to unclaim domain event: %w", err)
	}
	return nil
}

func (r *PublisherRepository) UpdateLastDomainEventSeq(ctx context.Context, id uuid.UUID, seq int64, now time.Time) (int64, error) {
	var stored int64
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		UPDATE domain_event_publishers
		SET last_domain_event_seq = GREATEST(COALESCE(last_domain_event_seq, 0), $2),
			version = version + 1, updated_at = $3
		WHERE id = $1
		RETURNING last_domain_event_seq`, id, seq, now).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperrors.NotFound("publisher", id)
		}
		return 0, fmt.Errorf("failed to update publisher cursor: %w", err)
	}
	return stored, nil
}
