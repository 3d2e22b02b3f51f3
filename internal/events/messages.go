package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventOp names what happened to a transaction.
type EventOp string

const (
	OpUpdated EventOp = "updated"
	OpDeleted EventOp = "deleted"
)

// TransactionEvent is the lightweight notification published after a
// mutation succeeds remotely. It carries ids only; the mirror re-fetches
// whatever it needs from the API.
type TransactionEvent struct {
	Op         EventOp   `json:"op"`
	ID         string    `json:"id"`
	BudgetID   string    `json:"budgetId"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewTransactionEvent stamps an event with the current time.
func NewTransactionEvent(op EventOp, id, budgetID string) *TransactionEvent {
	return &TransactionEvent{
		Op:         op,
		ID:         id,
		BudgetID:   budgetID,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate rejects events a consumer could not act on.
func (e *TransactionEvent) Validate() error {
	if e.Op != OpUpdated && e.Op != OpDeleted {
		return fmt.Errorf("unknown event op %q", e.Op)
	}
	if e.ID == "" {
		return fmt.Errorf("event has no transaction id")
	}
	return nil
}

// ToJSON converts the event to JSON bytes.
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes and validates an event payload.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var e TransactionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
