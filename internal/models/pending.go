package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of remote mutation held in the retry queue
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// PendingOperation is a remote mutation that failed and waits for replay
type PendingOperation struct {
	ID            string          `json:"id"`
	Table         Table           `json:"table"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	RetryCount    int             `json:"retry_count"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

func (p PendingOperation) Key() string { return p.ID }

// DeletePayload identifies the rows a queued delete removes.
// Field is empty for delete-by-id.
type DeletePayload struct {
	ID    string `json:"id,omitempty"`
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
	// ReaderID completes the composite key of recording locks
	ReaderID string `json:"reader_id,omitempty"`
}
