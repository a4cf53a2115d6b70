package services

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/domainerrors"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/models"
)

// canonicalWalletID matches the 8-4-4-4-12 hex form (case-insensitive),
// i.e. the textual form of a 128-bit identifier.
var canonicalWalletID = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// minTransferAmount is the smallest amount this ledger will move: one unit
// at 4 fractional digits.
var minTransferAmount = decimal.New(1, -4)

// TransferValidator is a pure function over the request body: no I/O, fails
// fast, categorizes every rejection before anything touches C or L.
type TransferValidator struct{}

func NewTransferValidator() *TransferValidator {
	return &TransferValidator{}
}

// Validate checks structural and semantic validity of a transfer request.
// It never rounds amount; the decimal it returns is parsed at full
// precision for the executor to use verbatim.
func (v *TransferValidator) Validate(req models.TransferRequest) (decimal.Decimal, *domainerrors.DomainError) {
	if strings.TrimSpace(req.FromWalletID) == "" ||
		strings.TrimSpace(req.ToWalletID) == "" ||
		strings.TrimSpace(req.Amount) == "" ||
		strings.TrimSpace(req.IdempotencyKey) == "" {
		return decimal.Zero, domainerrors.New(domainerrors.KindInvalidRequest, "fromWalletId, toWalletId, amount, and idempotencyKey are all required")
	}

	if len(req.IdempotencyKey) > 255 {
		return decimal.Zero, domainerrors.New(domainerrors.KindInvalidRequest, "idempotencyKey must not exceed 255 octets")
	}

	if !canonicalWalletID.MatchString(req.FromWalletID) || !canonicalWalletID.MatchString(req.ToWalletID) {
		return decimal.Zero, domainerrors.New(domainerrors.KindInvalidWalletID, "wallet ids must be canonical 8-4-4-4-12 hex identifiers")
	}

	if strings.EqualFold(req.FromWalletID, req.ToWalletID) {
		return decimal.Zero, domainerrors.New(domainerrors.KindSameWalletTransfer, "fromWalletId and toWalletId must differ")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return decimal.Zero, domainerrors.New(domainerrors.KindInvalidAmount, "amount is not a valid decimal value")
	}

	if amount.Sign() <= 0 {
		return decimal.Zero, domainerrors.New(domainerrors.KindInvalidAmount, "amount must be positive")
	}

	if amount.LessThan(minTransferAmount) {
		return decimal.Zero, domainerrors.New(domainerrors.KindAmountTooSmall, "amount must be at least 0.0001")
	}

	return amount, nil
}
