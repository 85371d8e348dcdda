// Package relay moves committed outbox events into the search index. Each
// polling cycle is independent and re-entrant: the processed_at watermark in
// the outbox is the only progress state, so a crashed cycle is simply retried
// from the same position and idempotent upserts absorb the replay.
package relay

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	otelx "github.com/md-rashed-zaman/ingredient-search/libs/otel"
	"github.com/md-rashed-zaman/ingredient-search/services/index-worker/internal/outbox"
)

// Claim is a leased batch of pending events. Finish commits the outcome
// atomically; Abort releases the lease with nothing marked.
type Claim interface {
	Events() []outbox.Event
	Finish(ctx context.Context, processed []string, failed []string, dead []outbox.DeadLetter) error
	Abort(ctx context.Context)
}

// Store is the outbox surface the worker polls.
type Store interface {
	ClaimPending(ctx context.Context, limit int) (Claim, error)
}

// Applier is the index surface the worker writes to.
type Applier interface {
	Upsert(ctx context.Context, index string, docID string, payload []byte) error
	Refresh(ctx context.Context, indices []string) error
}

type Worker struct {
	store       Store
	applier     Applier
	routes      map[string]string // event_type -> index name
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
	maxAttempts int

	// Single-flight guard: RunOnce can be triggered from the ticker loop and
	// from tooling; a cycle that outlives its tick must not overlap the next.
	running atomic.Bool
}

type Config struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	MaxAttempts int
}

func NewWorker(store Store, applier Applier, routes map[string]string, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 25
	}
	return &Worker{
		store:       store,
		applier:     applier,
		routes:      routes,
		logger:      logger,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("relay cycle failed", "err", err)
			}
		}
	}
}

// RunOnce executes one relay cycle: claim a batch, apply each event to the
// index, refresh, then advance the watermark for exactly the events that were
// definitively applied. A store or refresh failure aborts the cycle with
// nothing marked; the next tick retries from the same watermark.
func (w *Worker) RunOnce(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Debug("relay cycle still in flight, skipping tick")
		return nil
	}
	defer w.running.Store(false)

	claim, err := w.store.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return err
	}
	events := claim.Events()
	if len(events) == 0 {
		return claim.Finish(ctx, nil, nil, nil)
	}

	outcome := w.dispatch(ctx, events)

	if len(outcome.touched) > 0 {
		if err := w.applier.Refresh(ctx, outcome.touched); err != nil {
			claim.Abort(ctx)
			return err
		}
	}

	if err := claim.Finish(ctx, outcome.processed, outcome.failed, outcome.dead); err != nil {
		return err
	}
	w.logger.Info("relay cycle complete",
		"fetched", len(events),
		"processed", len(outcome.processed),
		"failed", len(outcome.failed),
		"dead_lettered", len(outcome.dead),
	)
	return nil
}

type cycleOutcome struct {
	processed []string
	failed    []string
	dead      []outbox.DeadLetter
	touched   []string
}

// dispatch applies a batch. Events for the same document are applied
// sequentially in created_at order so the index always converges to the
// newest payload; distinct documents are applied concurrently under a
// semaphore. When an event fails, the rest of its document group is left
// untouched and pending, otherwise a retried older event could overwrite a
// newer one.
func (w *Worker) dispatch(ctx context.Context, events []outbox.Event) cycleOutcome {
	var out cycleOutcome

	type group struct {
		index  string
		events []outbox.Event
	}
	groups := make(map[string]*group)
	var order []string
	touched := make(map[string]bool)

	for _, evt := range events {
		index, known := w.routes[evt.EventType]
		if !known {
			out.dead = append(out.dead, outbox.DeadLetter{Event: evt, Reason: "unknown event type"})
			continue
		}
		if evt.Attempts >= w.maxAttempts {
			out.dead = append(out.dead, outbox.DeadLetter{Event: evt, Reason: "max attempts exceeded"})
			continue
		}
		key := index + "/" + evt.AggregateID
		g, ok := groups[key]
		if !ok {
			g = &group{index: index}
			groups[key] = g
			order = append(order, key)
		}
		g.events = append(g.events, evt)
		touched[index] = true
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, w.concurrency)
	)
	for _, key := range order {
		g := groups[key]
		wg.Add(1)
		sem <- struct{}{}
		go func(g *group) {
			defer wg.Done()
			defer func() { <-sem }()
			for _, evt := range g.events {
				evtCtx := otelx.ContextWithTraceContext(ctx, evt.Traceparent, evt.Tracestate)
				if err := w.applier.Upsert(evtCtx, g.index, evt.AggregateID, evt.Payload); err != nil {
					w.logger.Error("event apply failed",
						"event_id", evt.ID,
						"event_type", evt.EventType,
						"aggregate_id", evt.AggregateID,
						"attempts", evt.Attempts+1,
						"err", err,
					)
					mu.Lock()
					out.failed = append(out.failed, evt.ID)
					mu.Unlock()
					return
				}
				mu.Lock()
				out.processed = append(out.processed, evt.ID)
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	for index := range touched {
		out.touched = append(out.touched, index)
	}
	sort.Strings(out.touched)
	return out
}
