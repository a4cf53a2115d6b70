package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/models"
)

func testConfig() IdempotencyConfig {
	return IdempotencyConfig{
		KeyPrefix:     "wallet:",
		CacheTTL:      time.Hour,
		LeaseTTL:      time.Second,
		RetryAttempts: 3,
		RetryInterval: time.Millisecond,
	}
}

func TestIdempotencyCoordinator_Lookup(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, mock := redismock.NewClientMock()
	c := NewIdempotencyCoordinator(db, redisClient, testConfig())

	t.Run("cache hit", func(t *testing.T) {
		cached := `{"success":true,"transactionId":"11111111-1111-1111-1111-111111111111","message":"Transfer completed successfully","fromBalance":"90.0000","toBalance":"110.0000"}`
		mock.ExpectGet("wallet:idempotency:key-1").SetVal(cached)

		result := c.Lookup(context.Background(), "key-1")
		assert.NotNil(t, result)
		assert.True(t, result.FromCache)
		assert.True(t, result.Success)
	})

	t.Run("cache miss", func(t *testing.T) {
		mock.ExpectGet("wallet:idempotency:key-2").SetErr(redis.Nil)

		result := c.Lookup(context.Background(), "key-2")
		assert.Nil(t, result)
	})

	t.Run("cache error is treated as a miss", func(t *testing.T) {
		mock.ExpectGet("wallet:idempotency:key-3").SetErr(assertableErr("connection refused"))

		result := c.Lookup(context.Background(), "key-3")
		assert.Nil(t, result)
	})
}

func TestIdempotencyCoordinator_AcquireLease(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	t.Run("acquires on first attempt", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		c := NewIdempotencyCoordinator(db, redisClient, testConfig())

		mock.ExpectSetNX("wallet:lock:key-1", stringMatcherAny{}, time.Second).SetVal(true)

		held, fellBack, ferr := c.AcquireLease(context.Background(), "key-1")
		assert.True(t, held)
		assert.Nil(t, fellBack)
		assert.Nil(t, ferr)
	})

	t.Run("fails open on redis error", func(t *testing.T) {
		redisClient, mock := redismock.NewClientMock()
		c := NewIdempotencyCoordinator(db, redisClient, testConfig())

		mock.ExpectSetNX("wallet:lock:key-2", stringMatcherAny{}, time.Second).SetErr(assertableErr("timeout"))

		held, fellBack, ferr := c.AcquireLease(context.Background(), "key-2")
		assert.True(t, held)
		assert.Nil(t, fellBack)
		assert.Nil(t, ferr)
	})

	t.Run("no cache configured always proceeds", func(t *testing.T) {
		c := NewIdempotencyCoordinator(db, nil, testConfig())

		held, fellBack, ferr := c.AcquireLease(context.Background(), "key-3")
		assert.True(t, held)
		assert.Nil(t, fellBack)
		assert.Nil(t, ferr)
	})

	t.Run("retry budget exhausted falls back to a terminal ledger log", func(t *testing.T) {
		mdb, dbMock, err := sqlmock.New()
		assert.NoError(t, err)
		defer mdb.Close()

		redisClient, mock := redismock.NewClientMock()
		cfg := testConfig()
		cfg.RetryAttempts = 2
		c := NewIdempotencyCoordinator(mdb, redisClient, cfg)

		txID := "33333333-3333-3333-3333-333333333333"
		fromID := "11111111-1111-1111-1111-111111111111"
		toID := "22222222-2222-2222-2222-222222222222"
		metadata, _ := json.Marshal(models.Metadata{"fromBalanceAfter": "90.0000", "toBalanceAfter": "110.0000"})

		mock.ExpectSetNX("wallet:lock:key-4", stringMatcherAny{}, cfg.LeaseTTL).SetVal(false)
		mock.ExpectSetNX("wallet:lock:key-4", stringMatcherAny{}, cfg.LeaseTTL).SetVal(false)

		dbMock.ExpectQuery(`SELECT id, from_wallet_id, to_wallet_id, amount, status, idempotency_key`).
			WithArgs("key-4").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "from_wallet_id", "to_wallet_id", "amount", "status", "idempotency_key",
				"error_message", "metadata", "created_at", "updated_at",
			}).AddRow(txID, fromID, toID, "10.0000", models.StatusSuccess, "key-4", "", metadata, time.Now(), time.Now()))

		mock.ExpectSet("wallet:idempotency:key-4", mockAnyBytes{}, cfg.CacheTTL).SetVal("OK")

		held, fellBack, ferr := c.AcquireLease(context.Background(), "key-4")
		assert.False(t, held)
		assert.Nil(t, ferr)
		assert.NotNil(t, fellBack)
		assert.True(t, fellBack.Success)
		assert.Contains(t, fellBack.Message, "already processed")
	})
}

func TestIdempotencyCoordinator_ReleaseLease(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, mock := redismock.NewClientMock()
	c := NewIdempotencyCoordinator(db, redisClient, testConfig())

	mock.ExpectDel("wallet:lock:key-1").SetVal(1)
	c.ReleaseLease(context.Background(), "key-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateKeyViolation(t *testing.T) {
	assert.False(t, IsDuplicateKeyViolation(nil))
	assert.False(t, IsDuplicateKeyViolation(assertableErr("boom")))
}

// assertableErr is a minimal error for exercising failure paths without
// depending on a specific driver error type.
type assertableErr string

func (e assertableErr) Error() string { return string(e) }

// stringMatcherAny satisfies redismock's argument matching for the
// current-timestamp lease value written by AcquireLease.
type stringMatcherAny struct{}

func (stringMatcherAny) Match(_ interface{}) bool { return true }

// mockAnyBytes matches any serialized JSON payload written to the cache.
type mockAnyBytes struct{}

func (mockAnyBytes) Match(_ interface{}) bool { return true }
