package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// MoveToDeadLetter copies events into dead_letter_event so they can be
// inspected and replayed by tooling. Callers stamp the originals processed in
// the same transaction, which removes them from the relay path without
// breaking the one-way processed_at transition.
func (r *Repository) MoveToDeadLetter(ctx context.Context, tx pgx.Tx, dead []DeadLetter) error {
	for _, dl := range dead {
		evt := dl.Event
		_, err := tx.Exec(ctx, `
			INSERT INTO dead_letter_event (event_id, tenant_id, event_type, aggregate_type, aggregate_id, payload, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO NOTHING
		`, evt.ID, evt.TenantID, evt.EventType, evt.AggregateType, evt.AggregateID, evt.Payload, dl.Reason)
		if err != nil {
			return err
		}
	}
	return nil
}
