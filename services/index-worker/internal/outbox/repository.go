package outbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/ingredient-search/libs/db"
	otelx "github.com/md-rashed-zaman/ingredient-search/libs/otel"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes an event inside the caller's domain transaction. This is the
// write-path contract: the aggregate row and its outbox event commit or roll
// back together.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	id := evt.ID
	if id == "" {
		id = uuid.NewString()
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (id, tenant_id, event_type, aggregate_type, aggregate_id, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, id, evt.TenantID, evt.EventType, evt.AggregateType, evt.AggregateID, evt.Payload, traceparent, tracestate)
	return err
}

// FetchPending claims up to limit unprocessed events, oldest first with ties
// broken by id. The SKIP LOCKED row locks act as a lease: a second relay
// instance polling concurrently claims a disjoint set, and producer inserts
// are never blocked.
func (r *Repository) FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text, tenant_id, event_type, aggregate_type, aggregate_id, payload, created_at, processed_at, traceparent, tracestate, attempts
		FROM outbox_event
		WHERE processed_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.TenantID, &evt.EventType, &evt.AggregateType, &evt.AggregateID, &evt.Payload, &evt.CreatedAt, &evt.ProcessedAt, &evt.Traceparent, &evt.Tracestate, &evt.Attempts); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// MarkProcessed stamps the watermark for exactly the given ids. The guard on
// processed_at keeps the null -> non-null transition one-way even if two
// instances race on the same id.
func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_event
		SET processed_at = now()
		WHERE id = ANY($1::uuid[]) AND processed_at IS NULL
	`, ids)
	return err
}

// MarkFailed bumps the attempt counter for events that failed dispatch. The
// rows stay pending and are retried on the next cycle.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_event
		SET attempts = attempts + 1
		WHERE id = ANY($1::uuid[])
	`, ids)
	return err
}
