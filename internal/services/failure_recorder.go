package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/audit"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/domainerrors"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/models"
)

// maxErrorMessageLen bounds errorMessage to fit the TEXT column comfortably.
const maxErrorMessageLen = 2000

// FailureRecorder marks an attempted-but-failed transfer without touching
// wallet balances. It runs on T's error path, except for DUPLICATE_REQUEST
// (tier 3), which already corresponds to a prior log and must not be
// overwritten. Its own failures are logged, never propagated — a failed
// FAILED-write leaves the row PENDING, and later requests with the same key
// are answered "Transfer is being processed".
type FailureRecorder struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewFailureRecorder(db *sql.DB) *FailureRecorder {
	return &FailureRecorder{db: db, audit: audit.NewLogger()}
}

func (f *FailureRecorder) RecordFailure(ctx context.Context, idempotencyKey string, cause error) {
	if de, ok := domainerrors.As(cause); ok && de.Kind == domainerrors.KindDuplicateRequest {
		// A duplicate-request outcome already corresponds to someone else's
		// log; there is nothing pending here for this call to overwrite.
		return
	}

	message := cause.Error()
	if len(message) > maxErrorMessageLen {
		message = message[:maxErrorMessageLen]
	}

	var existingRaw []byte
	err := f.db.QueryRowContext(ctx, `
		SELECT metadata FROM transaction_logs WHERE idempotency_key = $1 AND status = $2
	`, idempotencyKey, models.StatusPending).Scan(&existingRaw)
	if err != nil {
		f.audit.LogDegraded("failure_recorder", "could not load pending log for "+idempotencyKey+": "+err.Error())
		return
	}

	existing := models.Metadata{}
	_ = json.Unmarshal(existingRaw, &existing)
	merged := mergeMetadata(existing, models.Metadata{"failedAt": time.Now().UTC().Format(time.RFC3339Nano)})
	metadataJSON, _ := json.Marshal(merged)

	_, err = f.db.ExecContext(ctx, `
		UPDATE transaction_logs
		SET status = $1, error_message = $2, metadata = $3, updated_at = $4
		WHERE idempotency_key = $5 AND status = $6
	`, models.StatusFailed, message, metadataJSON, time.Now().UTC(), idempotencyKey, models.StatusPending)

	if err != nil {
		f.audit.LogDegraded("failure_recorder", "could not mark "+idempotencyKey+" FAILED: "+err.Error())
		return
	}

	f.audit.LogTransferFailure(idempotencyKey, cause)
}
