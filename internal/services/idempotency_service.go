package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/audit"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/domainerrors"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/models"
)

// IdempotencyConfig tunes the three-tier protocol. Defaults match spec: a
// 24h result-cache TTL, a 30s lease TTL, and a ~5s bounded retry budget.
type IdempotencyConfig struct {
	KeyPrefix     string
	CacheTTL      time.Duration
	LeaseTTL      time.Duration
	RetryAttempts int
	RetryInterval time.Duration
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		KeyPrefix:     "wallet:",
		CacheTTL:      24 * time.Hour,
		LeaseTTL:      30 * time.Second,
		RetryAttempts: 50,
		RetryInterval: 100 * time.Millisecond,
	}
}

// IdempotencyCoordinator orchestrates the dedup check and the mutex lease
// lifecycle around each transfer attempt: result cache (tier 1), distributed
// lease (tier 2), durable uniqueness in L (tier 3, enforced by the executor
// and observed here on the lease-loss fallback path and in ResolveDuplicate).
type IdempotencyCoordinator struct {
	db    *sql.DB
	cache *redis.Client
	cfg   IdempotencyConfig
	audit *audit.Logger
}

func NewIdempotencyCoordinator(db *sql.DB, cache *redis.Client, cfg IdempotencyConfig) *IdempotencyCoordinator {
	return &IdempotencyCoordinator{db: db, cache: cache, cfg: cfg, audit: audit.NewLogger()}
}

func (c *IdempotencyCoordinator) resultKey(idempotencyKey string) string {
	return fmt.Sprintf("%sidempotency:%s", c.cfg.KeyPrefix, idempotencyKey)
}

func (c *IdempotencyCoordinator) lockKey(idempotencyKey string) string {
	return fmt.Sprintf("%slock:%s", c.cfg.KeyPrefix, idempotencyKey)
}

// Lookup implements tier 1: a cache hit returns a replay-equivalent result
// annotated as served from cache. On cache error it returns nil — a miss —
// since L remains authoritative in degraded mode.
func (c *IdempotencyCoordinator) Lookup(ctx context.Context, idempotencyKey string) *models.TransferResult {
	if c.cache == nil {
		return nil
	}

	raw, err := c.cache.Get(ctx, c.resultKey(idempotencyKey)).Result()
	if err != nil {
		if err != redis.Nil {
			c.audit.LogDegraded("cache", "GET failed: "+err.Error())
		}
		return nil
	}

	var result models.TransferResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil
	}
	result.FromCache = true
	return &result
}

// Store implements cache population: on a completed transfer, the final
// response is written with the configured TTL. Failure is logged, not
// propagated — the cache is an optimization, never the source of truth.
func (c *IdempotencyCoordinator) Store(ctx context.Context, idempotencyKey string, result models.TransferResult) {
	if c.cache == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	if err := c.cache.Set(ctx, c.resultKey(idempotencyKey), data, c.cfg.CacheTTL).Err(); err != nil {
		c.audit.LogDegraded("cache", "SET failed: "+err.Error())
	}
}

// AcquireLease implements tier 2: bounded-retry acquisition of a
// short-lived mutex lease. It fails open on cache errors — proceeding as if
// the lease were held, relying on tiers 1 and 3 for correctness — and falls
// back to a direct ledger lookup when the retry budget is exhausted because
// another holder genuinely has the lease.
//
// Returns (held, fellBack, ferr): held is true if this caller may proceed
// into the executor; fellBack is non-nil if a terminal log was found via
// the tier-3 fallback and should be returned directly.
func (c *IdempotencyCoordinator) AcquireLease(ctx context.Context, idempotencyKey string) (held bool, fellBack *models.TransferResult, ferr *domainerrors.DomainError) {
	if c.cache == nil {
		return true, nil, nil
	}

	key := c.lockKey(idempotencyKey)
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		acquired, err := c.cache.SetNX(ctx, key, time.Now().Format(time.RFC3339Nano), c.cfg.LeaseTTL).Result()
		if err != nil {
			c.audit.LogDegraded("cache", "lease SETNX failed, failing open: "+err.Error())
			return true, nil, nil
		}
		if acquired {
			return true, nil, nil
		}

		select {
		case <-ctx.Done():
			return false, nil, domainerrors.New(domainerrors.KindConcurrentProcessing, "request cancelled while awaiting lease")
		case <-time.After(c.cfg.RetryInterval):
		}
	}

	// Retry budget exhausted without a cache error: another holder is
	// genuinely processing this key. Fall back to L directly.
	result, err := c.lookupLedger(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, errStillPending) {
			return false, nil, domainerrors.New(domainerrors.KindConcurrentProcessing, "Transfer is being processed")
		}
		return false, nil, domainerrors.New(domainerrors.KindConcurrentProcessing, "another request is already processing this idempotency key")
	}

	c.Store(ctx, idempotencyKey, *result)
	return false, result, nil
}

// LogAttempt records the audit trail entry for a transfer attempt before it
// enters the dedup/lease pipeline.
func (c *IdempotencyCoordinator) LogAttempt(idempotencyKey, fromWalletID, toWalletID string, amount decimal.Decimal) {
	c.audit.LogTransferAttempt(idempotencyKey, fromWalletID, toWalletID, amount)
}

// ReleaseLease is best-effort on every exit path; the TTL is the backstop
// if this call is lost (process crash, network partition).
func (c *IdempotencyCoordinator) ReleaseLease(ctx context.Context, idempotencyKey string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, c.lockKey(idempotencyKey)).Err(); err != nil {
		c.audit.LogDegraded("cache", "lease DEL failed, relying on TTL: "+err.Error())
	}
}

// lookupLedger is tier 3's fallback read path: a direct query by
// idempotencyKey, used when the lease is held by someone else or the
// PENDING insert hit the unique constraint. If the log
// is terminal (SUCCESS or FAILED), its result is reconstructed; a PENDING
// row means the other holder is still inside the transaction.
func (c *IdempotencyCoordinator) lookupLedger(ctx context.Context, idempotencyKey string) (*models.TransferResult, error) {
	entry, err := c.fetchLogByKey(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case models.StatusSuccess:
		fromBalance, toBalance := extractPostTradeBalances(entry.Metadata)
		return &models.TransferResult{
			Success:       true,
			TransactionID: entry.ID,
			Message:       "Transfer already processed (idempotent request)",
			FromBalance:   fromBalance,
			ToBalance:     toBalance,
		}, nil
	case models.StatusFailed:
		return &models.TransferResult{
			Success:       false,
			TransactionID: entry.ID,
			Message:       "Transfer previously failed",
		}, nil
	default:
		return nil, errStillPending
	}
}

// errStillPending distinguishes "found a log, but it's PENDING" from "no
// log exists at all" so callers can surface the documented in-flight
// message instead of a generic duplicate/contention one.
var errStillPending = errors.New("transfer is still pending")

// ResolveDuplicate handles the tier-3 unique-constraint violation raised by
// InsertPending: another request already owns this idempotencyKey. If that
// request has reached a terminal state, its result is reconstructed and
// backfilled into C so the next replay is a cache hit. If it is still
// PENDING, this is a genuine concurrent race and the caller must report
// DUPLICATE_REQUEST.
func (c *IdempotencyCoordinator) ResolveDuplicate(ctx context.Context, idempotencyKey string) (*models.TransferResult, *domainerrors.DomainError) {
	result, err := c.lookupLedger(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, errStillPending) {
			return nil, domainerrors.New(domainerrors.KindDuplicateRequest, "Transfer is being processed")
		}
		return nil, domainerrors.New(domainerrors.KindDuplicateRequest, "idempotencyKey has already been used")
	}

	c.Store(ctx, idempotencyKey, *result)
	return result, nil
}

func (c *IdempotencyCoordinator) fetchLogByKey(ctx context.Context, idempotencyKey string) (*models.TransactionLog, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, from_wallet_id, to_wallet_id, amount, status, idempotency_key,
		       COALESCE(error_message, ''), metadata, created_at, updated_at
		FROM transaction_logs
		WHERE idempotency_key = $1
	`, idempotencyKey)

	var entry models.TransactionLog
	var metadataRaw []byte
	if err := row.Scan(&entry.ID, &entry.FromWalletID, &entry.ToWalletID, &entry.Amount, &entry.Status,
		&entry.IdempotencyKey, &entry.ErrorMessage, &metadataRaw, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}

	entry.Metadata = models.Metadata{}
	_ = json.Unmarshal(metadataRaw, &entry.Metadata)
	return &entry, nil
}

// IsDuplicateKeyViolation reports whether err is a unique-constraint
// violation on transaction_logs.idempotency_key — tier 3's authoritative
// duplicate signal.
func IsDuplicateKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

