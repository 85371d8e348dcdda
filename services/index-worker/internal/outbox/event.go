package outbox

import "time"

const (
	EventIngredientUpserted = "ingredient.upserted"
	EventRecipeUpserted     = "recipe.upserted"
)

// Event is the change notification the domain write path inserts in the same
// transaction as the aggregate row. Payload is a full snapshot of the
// aggregate, not a diff, and AggregateID doubles as the search document id, so
// replaying an event converges to the same index state.
type Event struct {
	ID            string
	TenantID      string
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	Traceparent   string
	Tracestate    string
	Attempts      int
}

// DeadLetter is an event routed out of the relay path together with the
// reason it could not be applied.
type DeadLetter struct {
	Event  Event
	Reason string
}
