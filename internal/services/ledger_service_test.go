package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/domainerrors"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/models"
)

func TestOrderWalletIDs(t *testing.T) {
	a := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	b := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	lower, higher := orderWalletIDs(a, b)
	assert.Equal(t, a, lower)
	assert.Equal(t, b, higher)

	lower, higher = orderWalletIDs(b, a)
	assert.Equal(t, a, lower)
	assert.Equal(t, b, higher)
}

func TestMergeMetadata(t *testing.T) {
	base := models.Metadata{"requestedAt": "t0", "keep": "me"}
	merged := mergeMetadata(base, models.Metadata{"completedAt": "t1", "keep": "overwritten"})

	assert.Equal(t, "t0", merged["requestedAt"])
	assert.Equal(t, "t1", merged["completedAt"])
	assert.Equal(t, "overwritten", merged["keep"])
	// base is untouched
	assert.Equal(t, "me", base["keep"])
}

func TestTransferExecutor_Execute(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	executor := NewTransferExecutor(db)

	fromID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	toID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	pendingID := uuid.New()
	now := time.Now()

	t.Run("successful transfer debits lower locked wallet first", func(t *testing.T) {
		pending := &models.TransactionLog{
			ID: pendingID, FromWalletID: fromID, ToWalletID: toID,
			Amount: decimal.RequireFromString("100.0000"), Status: models.StatusPending,
			IdempotencyKey: "key-1", Metadata: models.Metadata{"requestedAt": now.Format(time.RFC3339Nano)},
		}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, owner_id, balance, version, created_at, updated_at\s+FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(fromID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "balance", "version", "created_at", "updated_at"}).
				AddRow(fromID, "owner-a", "500.0000", int64(1), now, now))
		mock.ExpectQuery(`SELECT id, owner_id, balance, version, created_at, updated_at\s+FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(toID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "balance", "version", "created_at", "updated_at"}).
				AddRow(toID, "owner-b", "50.0000", int64(1), now, now))

		mock.ExpectExec(`UPDATE wallets SET balance = \$1, version = version \+ 1, updated_at = \$2 WHERE id = \$3 AND version = \$4`).
			WithArgs("400.0000", sqlmock.AnyArg(), fromID, int64(1)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE wallets SET balance = \$1, version = version \+ 1, updated_at = \$2 WHERE id = \$3 AND version = \$4`).
			WithArgs("150.0000", sqlmock.AnyArg(), toID, int64(1)).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(`UPDATE transaction_logs SET status = \$1, metadata = \$2, updated_at = \$3 WHERE id = \$4`).
			WithArgs(models.StatusSuccess, sqlmock.AnyArg(), sqlmock.AnyArg(), pendingID).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		result, derr := executor.Execute(context.Background(), pending)
		assert.Nil(t, derr)
		assert.True(t, result.Success)
		assert.Equal(t, "400.0000", result.FromBalance.StringFixed(4))
		assert.Equal(t, "150.0000", result.ToBalance.StringFixed(4))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rolls back without mutating", func(t *testing.T) {
		pending := &models.TransactionLog{
			ID: uuid.New(), FromWalletID: fromID, ToWalletID: toID,
			Amount: decimal.RequireFromString("1000.0000"), Status: models.StatusPending,
		}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, owner_id, balance, version, created_at, updated_at\s+FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(fromID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "balance", "version", "created_at", "updated_at"}).
				AddRow(fromID, "owner-a", "400.0000", int64(2), now, now))
		mock.ExpectQuery(`SELECT id, owner_id, balance, version, created_at, updated_at\s+FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(toID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "balance", "version", "created_at", "updated_at"}).
				AddRow(toID, "owner-b", "150.0000", int64(2), now, now))
		mock.ExpectRollback()

		_, derr := executor.Execute(context.Background(), pending)
		assert.NotNil(t, derr)
		assert.Equal(t, domainerrors.KindInsufficientBalance, derr.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing wallet surfaces WALLET_NOT_FOUND", func(t *testing.T) {
		pending := &models.TransactionLog{
			ID: uuid.New(), FromWalletID: fromID, ToWalletID: toID,
			Amount: decimal.RequireFromString("10.0000"), Status: models.StatusPending,
		}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, owner_id, balance, version, created_at, updated_at\s+FROM wallets WHERE id = \$1 FOR UPDATE`).
			WithArgs(fromID).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, derr := executor.Execute(context.Background(), pending)
		assert.NotNil(t, derr)
		assert.Equal(t, domainerrors.KindWalletNotFound, derr.Kind)
	})
}

func TestTransferExecutor_InsertPending_DuplicateKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	executor := NewTransferExecutor(db)
	fromID, toID := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO transaction_logs").
		WillReturnError(&pq.Error{Code: "23505"})

	_, derr := executor.InsertPending(context.Background(), fromID, toID, decimal.RequireFromString("1.0000"), "dup-key")
	assert.NotNil(t, derr)
	assert.Equal(t, domainerrors.KindDuplicateRequest, derr.Kind)
}
