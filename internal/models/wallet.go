package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the authoritative balance record for one owner.
//
// Balance is fixed-point at 4 fractional digits; Version is incremented on
// every balance mutation. The transfer executor serializes mutations with a
// row lock, and its balance update also requires the row to still carry the
// version it read.
type Wallet struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OwnerID   string          `json:"ownerId" db:"owner_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int64           `json:"version" db:"version"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}
