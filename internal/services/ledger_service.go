package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/audit"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/domainerrors"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/models"
)

// TransferExecutor performs the atomic debit/credit at the heart of the
// ledger: insert PENDING, lock both wallets in a fixed order, validate,
// mutate, finalize. The ordered-lock rule is expressed here as a pure
// function of the two wallet ids, not as statement order, so it survives
// refactors: orderWalletIDs always resolves the same pair the same way
// regardless of which one is logically "from".
type TransferExecutor struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewTransferExecutor(db *sql.DB) *TransferExecutor {
	return &TransferExecutor{db: db, audit: audit.NewLogger()}
}

// InsertPending persists the PENDING log in its own committed statement,
// ahead of the transfer transaction. This is the chosen resolution of
// Design Note 9 (Open Question 1): a row inserted inside the transaction
// that later rolls back would vanish, leaving no row for the Failure
// Recorder to mark FAILED. A unique-constraint violation here is tier 3's
// authoritative duplicate signal.
func (t *TransferExecutor) InsertPending(ctx context.Context, fromID, toID uuid.UUID, amount decimal.Decimal, idempotencyKey string) (*models.TransactionLog, *domainerrors.DomainError) {
	id := uuid.New()
	now := time.Now().UTC()
	metadata := models.Metadata{"requestedAt": now.Format(time.RFC3339Nano)}
	metadataJSON, _ := json.Marshal(metadata)

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO transaction_logs (id, from_wallet_id, to_wallet_id, amount, status, idempotency_key, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, id, fromID, toID, amount, models.StatusPending, idempotencyKey, metadataJSON, now)

	if err != nil {
		if IsDuplicateKeyViolation(err) {
			return nil, domainerrors.New(domainerrors.KindDuplicateRequest, "idempotencyKey has already been used")
		}
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to record transfer attempt: "+err.Error())
	}

	return &models.TransactionLog{
		ID: id, FromWalletID: fromID, ToWalletID: toID, Amount: amount,
		Status: models.StatusPending, IdempotencyKey: idempotencyKey, Metadata: metadata,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// Execute runs steps 2-9 of the transfer: lock both wallet rows in
// ascending lexicographic order of id, resolve logical roles, validate
// balance, mutate, and finalize the PENDING row to SUCCESS — all inside a
// single READ COMMITTED transaction.
func (t *TransferExecutor) Execute(ctx context.Context, pending *models.TransactionLog) (*models.TransferResult, *domainerrors.DomainError) {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to begin transfer transaction: "+err.Error())
	}
	defer tx.Rollback()

	lowerID, higherID := orderWalletIDs(pending.FromWalletID, pending.ToWalletID)

	lowerWallet, err := t.lockWallet(ctx, tx, lowerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.New(domainerrors.KindWalletNotFound, fmt.Sprintf("wallet %s not found", lowerID))
		}
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to lock wallet: "+err.Error())
	}

	higherWallet, err := t.lockWallet(ctx, tx, higherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.New(domainerrors.KindWalletNotFound, fmt.Sprintf("wallet %s not found", higherID))
		}
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to lock wallet: "+err.Error())
	}

	fromWallet, toWallet := lowerWallet, higherWallet
	if fromWallet.ID != pending.FromWalletID {
		fromWallet, toWallet = toWallet, fromWallet
	}

	if fromWallet.Balance.LessThan(pending.Amount) {
		return nil, domainerrors.New(domainerrors.KindInsufficientBalance,
			fmt.Sprintf("available balance %s is less than requested amount %s", fromWallet.Balance.StringFixed(4), pending.Amount.StringFixed(4)))
	}

	newFromBalance := fromWallet.Balance.Sub(pending.Amount).Round(4)
	newToBalance := toWallet.Balance.Add(pending.Amount).Round(4)

	if err := t.applyBalance(ctx, tx, fromWallet.ID, newFromBalance, fromWallet.Version); err != nil {
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to debit source wallet: "+err.Error())
	}
	if err := t.applyBalance(ctx, tx, toWallet.ID, newToBalance, toWallet.Version); err != nil {
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to credit destination wallet: "+err.Error())
	}

	completedAt := time.Now().UTC()
	metadata := mergeMetadata(pending.Metadata, models.Metadata{
		"completedAt":      completedAt.Format(time.RFC3339Nano),
		"fromBalanceAfter": newFromBalance.StringFixed(4),
		"toBalanceAfter":   newToBalance.StringFixed(4),
	})
	metadataJSON, _ := json.Marshal(metadata)

	if _, err := tx.ExecContext(ctx, `
		UPDATE transaction_logs SET status = $1, metadata = $2, updated_at = $3 WHERE id = $4
	`, models.StatusSuccess, metadataJSON, completedAt, pending.ID); err != nil {
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to finalize transfer log: "+err.Error())
	}

	if err := tx.Commit(); err != nil {
		return nil, domainerrors.New(domainerrors.KindInternalError, "failed to commit transfer: "+err.Error())
	}

	t.audit.LogTransferSuccess(pending.ID, pending.IdempotencyKey, pending.Amount)

	return &models.TransferResult{
		Success:       true,
		TransactionID: pending.ID,
		Message:       "Transfer completed successfully",
		FromBalance:   newFromBalance,
		ToBalance:     newToBalance,
	}, nil
}

func (t *TransferExecutor) lockWallet(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, balance, version, created_at, updated_at
		FROM wallets WHERE id = $1 FOR UPDATE
	`, id).Scan(&w.ID, &w.OwnerID, &w.Balance, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *TransferExecutor) applyBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance decimal.Decimal, version int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4
	`, newBalance.StringFixed(4), time.Now().UTC(), id, version)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("version conflict updating wallet %s", id)
	}
	return nil
}

// orderWalletIDs is the ordered-lock discipline as a pure function: given
// any two wallet ids, it always returns the same (lower, higher) pair
// regardless of which one is logically the source or destination. Two
// concurrent transfers between the same pair, in opposite directions,
// always attempt to lock in the same order and therefore never deadlock.
func orderWalletIDs(a, b uuid.UUID) (lower, higher uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}

func mergeMetadata(base models.Metadata, additions models.Metadata) models.Metadata {
	merged := models.Metadata{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range additions {
		merged[k] = v
	}
	return merged
}

func extractPostTradeBalances(metadata models.Metadata) (decimal.Decimal, decimal.Decimal) {
	from, _ := decimal.NewFromString(fmt.Sprintf("%v", metadata["fromBalanceAfter"]))
	to, _ := decimal.NewFromString(fmt.Sprintf("%v", metadata["toBalanceAfter"]))
	return from, to
}
