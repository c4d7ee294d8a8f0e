package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds published on the ledger event exchange.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionUpdated = "transaction.updated"
	EventTagsCreated        = "tags.created"
)

// LedgerEvent is a lightweight mutation notice. Consumers hold only ids and
// refetch the full records from storage, so a stale body can never overwrite
// newer data.
type LedgerEvent struct {
	Kind          string    `json:"kind"`
	AccountID     string    `json:"account_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	TagLabels     []string  `json:"tag_labels,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionEvent(kind, accountID, transactionID string) *LedgerEvent {
	return &LedgerEvent{
		Kind:          kind,
		AccountID:     accountID,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

func NewTagsEvent(labels []string) *LedgerEvent {
	return &LedgerEvent{
		Kind:      EventTagsCreated,
		TagLabels: labels,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON creates an event from JSON bytes.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var event LedgerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
