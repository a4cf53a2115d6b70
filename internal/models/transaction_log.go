package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the terminal tri-state of a logged transfer attempt.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Metadata is the structured key/value bag attached to a TransactionLog.
// Conventionally carries requestedAt, completedAt/failedAt, and the
// post-trade balances on SUCCESS. Writers must merge into this map, never
// replace it, so that earlier keys survive later status transitions.
type Metadata map[string]any

// TransactionLog is one attempted transfer. Once a key maps to a row, that
// row is the only row that key will ever map to: idempotencyKey is unique
// and logs are never deleted.
type TransactionLog struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	FromWalletID   uuid.UUID       `json:"fromWalletId" db:"from_wallet_id"`
	ToWalletID     uuid.UUID       `json:"toWalletId" db:"to_wallet_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Status         Status          `json:"status" db:"status"`
	IdempotencyKey string          `json:"idempotencyKey" db:"idempotency_key"`
	ErrorMessage   string          `json:"errorMessage,omitempty" db:"error_message"`
	Metadata       Metadata        `json:"metadata" db:"metadata"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// TransferRequest is the inbound body of POST /api/v1/transfer.
type TransferRequest struct {
	FromWalletID   string `json:"fromWalletId" validate:"required"`
	ToWalletID     string `json:"toWalletId" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required,max=255"`
}

// TransferResult is what the coordinator hands back to the HTTP layer,
// whether this attempt just executed the transfer or replayed a prior one.
type TransferResult struct {
	Success       bool            `json:"success"`
	TransactionID uuid.UUID       `json:"transactionId"`
	Message       string          `json:"message"`
	FromBalance   decimal.Decimal `json:"fromBalance"`
	ToBalance     decimal.Decimal `json:"toBalance"`
	FromCache     bool            `json:"-"`
}

// transferResultWire mirrors TransferResult but carries the balances as
// strings, so MarshalJSON below can force StringFixed(4) instead of
// shopspring's zero-trimming default. Both this type and Unmarshal
// round-trip through it so cached results replay with the same precision
// they were stored with.
type transferResultWire struct {
	Success       bool      `json:"success"`
	TransactionID uuid.UUID `json:"transactionId"`
	Message       string    `json:"message"`
	FromBalance   string    `json:"fromBalance"`
	ToBalance     string    `json:"toBalance"`
}

func (r TransferResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(transferResultWire{
		Success:       r.Success,
		TransactionID: r.TransactionID,
		Message:       r.Message,
		FromBalance:   r.FromBalance.StringFixed(4),
		ToBalance:     r.ToBalance.StringFixed(4),
	})
}

func (r *TransferResult) UnmarshalJSON(data []byte) error {
	var wire transferResultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	r.Success = wire.Success
	r.TransactionID = wire.TransactionID
	r.Message = wire.Message
	if wire.FromBalance != "" {
		r.FromBalance, _ = decimal.NewFromString(wire.FromBalance)
	}
	if wire.ToBalance != "" {
		r.ToBalance, _ = decimal.NewFromString(wire.ToBalance)
	}
	return nil
}
