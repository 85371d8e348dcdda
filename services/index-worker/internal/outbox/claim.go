package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Claim is one relay cycle's view of the outbox: a transaction holding SKIP
// LOCKED row locks on the fetched events. The locks are released by Finish
// (commit) or Abort (rollback); an aborted claim leaves every event pending.
type Claim struct {
	repo   *Repository
	tx     pgx.Tx
	events []Event
}

// ClaimPending opens a transaction and leases a batch of pending events.
func (r *Repository) ClaimPending(ctx context.Context, limit int) (*Claim, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	events, err := r.FetchPending(ctx, tx, limit)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &Claim{repo: r, tx: tx, events: events}, nil
}

func (c *Claim) Events() []Event {
	return c.events
}

// Finish records the cycle outcome atomically: dead-lettered events are
// copied out, processed and dead-lettered ids get their watermark stamped,
// failed ids get an attempt bump, and the whole batch commits as one unit. On
// error the transaction rolls back and nothing is marked.
func (c *Claim) Finish(ctx context.Context, processed []string, failed []string, dead []DeadLetter) error {
	defer func() { _ = c.tx.Rollback(ctx) }()

	if err := c.repo.MoveToDeadLetter(ctx, c.tx, dead); err != nil {
		return err
	}
	done := append([]string(nil), processed...)
	for _, dl := range dead {
		done = append(done, dl.Event.ID)
	}
	if err := c.repo.MarkProcessed(ctx, c.tx, done); err != nil {
		return err
	}
	if err := c.repo.MarkFailed(ctx, c.tx, failed); err != nil {
		return err
	}
	return c.tx.Commit(ctx)
}

// Abort releases the lease without marking anything.
func (c *Claim) Abort(ctx context.Context) {
	_ = c.tx.Rollback(ctx)
}
