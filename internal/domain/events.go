package domain

import "context"

// Event types published on the signal bus after a committed ledger update.
const (
	EventBondCreated      = "bond_created"
	EventBondWithdrawn    = "bond_withdrawn"
	EventBondEarlyExited  = "bond_early_exited"
	EventBondListed       = "bond_listed"
	EventListingCancelled = "listing_cancelled"
	EventPriceUpdated     = "price_updated"
	EventBondSold         = "bond_sold"

	// EventBondMatured is a notification from the maturity tracker, not a
	// ledger mutation: the position stays active until its holder withdraws.
	EventBondMatured = "bond_matured"
)

// Event is a ledger lifecycle notification.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	PositionID uint64         `json:"position_id"`
	Actor      Principal      `json:"actor,omitempty"`
	Height     uint64         `json:"height"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventPublisher delivers events to subscribers. Engines tolerate a nil
// publisher; publish failures never roll back a committed update.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e Event) error
}
