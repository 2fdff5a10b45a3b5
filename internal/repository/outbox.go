package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/linkpulse/linkpulse/internal/model"
)

// DefaultRetention is how long processed events are kept before purging.
const DefaultRetention = 7 * 24 * time.Hour

// OutboxRepository is the durable holding area for unprocessed click events.
//
// Producers append concurrently; the aggregation worker is the single logical
// reader. ClaimBatch is a plain read with no row locks, so claim-then-mark is
// not transactional: a crash between the two replays events on the next run
// (accepted at-least-once behavior, see the worker).
type OutboxRepository struct {
	repo *Repository
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(repo *Repository) *OutboxRepository {
	return &OutboxRepository{repo: repo}
}

// Insert appends one click event to the outbox.
func (r *OutboxRepository) Insert(ctx context.Context, event *model.ClickEvent) error {
	query := `
		INSERT INTO click_events (
			id, link_id, user_id, country, source, device_type,
			user_agent, occurred_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.repo.pool.Exec(ctx, query,
		event.ID,
		event.LinkID,
		event.UserID,
		nullableString(event.Country),
		nullableString(event.Source),
		nullableString(event.DeviceType),
		nullableString(event.UserAgent),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert click event: %w", err)
	}
	return nil
}

// ClaimBatch returns up to limit unprocessed events, oldest first.
// It does not lock or mutate the rows; callers must MarkProcessed afterward.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, limit int) ([]*model.ClickEvent, error) {
	query := `
		SELECT id, link_id, user_id,
		       COALESCE(country, ''), COALESCE(source, ''), COALESCE(device_type, ''),
		       COALESCE(user_agent, ''), occurred_at
		FROM click_events
		WHERE processed_at IS NULL
		ORDER BY occurred_at
		LIMIT $1
	`

	rows, err := r.repo.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var events []*model.ClickEvent
	for rows.Next() {
		event := &model.ClickEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.LinkID,
			&event.UserID,
			&event.Country,
			&event.Source,
			&event.DeviceType,
			&event.UserAgent,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan click event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate click events: %w", err)
	}

	return events, nil
}

// MarkProcessed stamps the given event ids as aggregated.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE click_events SET processed_at = NOW() WHERE id = ANY($1)`

	if _, err := r.repo.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// PendingCount returns the current unprocessed backlog size.
func (r *OutboxRepository) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.repo.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM click_events WHERE processed_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return count, nil
}

// PurgeProcessed deletes processed events older than the retention window.
// This bounds storage growth; it is a background concern, not part of the
// aggregation path.
func (r *OutboxRepository) PurgeProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := time.Now().Add(-retention)

	tag, err := r.repo.pool.Exec(ctx,
		`DELETE FROM click_events WHERE processed_at IS NOT NULL AND processed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// nullableString returns nil for empty strings.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
