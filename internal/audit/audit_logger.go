// Package audit provides a structured, best-effort audit trail of transfer
// attempts. It is observability plumbing, not the ledger of record: L (the
// relational store) is always the source of truth.
package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is one audited occurrence in the life of a transfer attempt.
type Event struct {
	Timestamp      time.Time       `json:"timestamp"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	FromWalletID   string          `json:"from_wallet_id,omitempty"`
	ToWalletID     string          `json:"to_wallet_id,omitempty"`
	Amount         string          `json:"amount,omitempty"`
	Status         string          `json:"status"`
	Details        any             `json:"details,omitempty"`
}

// Logger emits Events as single-line JSON, matching the teacher's
// log-as-structured-record convention.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (l *Logger) LogTransferAttempt(idempotencyKey, fromWalletID, toWalletID string, amount decimal.Decimal) {
	l.log(Event{
		Timestamp:      time.Now(),
		EventType:      "TRANSFER_ATTEMPT",
		IdempotencyKey: idempotencyKey,
		FromWalletID:   fromWalletID,
		ToWalletID:     toWalletID,
		Amount:         amount.StringFixed(4),
		Status:         "PENDING",
	})
}

func (l *Logger) LogTransferSuccess(transactionID uuid.UUID, idempotencyKey string, amount decimal.Decimal) {
	l.log(Event{
		Timestamp:      time.Now(),
		EventType:      "TRANSFER_SUCCESS",
		IdempotencyKey: idempotencyKey,
		Amount:         amount.StringFixed(4),
		Status:         "SUCCESS",
		Details:        map[string]string{"transaction_id": transactionID.String()},
	})
}

func (l *Logger) LogTransferFailure(idempotencyKey string, err error) {
	l.log(Event{
		Timestamp:      time.Now(),
		EventType:      "TRANSFER_FAILURE",
		IdempotencyKey: idempotencyKey,
		Status:         "FAILED",
		Details:        map[string]string{"error": err.Error()},
	})
}

func (l *Logger) LogDegraded(component, reason string) {
	l.log(Event{
		Timestamp: time.Now(),
		EventType: "DEGRADED",
		Status:    "DEGRADED",
		Details:   map[string]string{"component": component, "reason": reason},
	})
}

func (l *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
