package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/domainerrors"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/models"
)

// WalletService orchestrates the transfer pipeline end to end and serves the
// query surface. It holds no state of its own beyond its collaborators:
// V (validator), I (coordinator), T (executor), and F (failure recorder).
type WalletService struct {
	db          *sql.DB
	structural  *ValidationHelper
	validator   *TransferValidator
	coordinator *IdempotencyCoordinator
	executor    *TransferExecutor
	failures    *FailureRecorder
}

func NewWalletService(db *sql.DB, cache *redis.Client, cfg IdempotencyConfig) *WalletService {
	return &WalletService{
		db:          db,
		structural:  NewValidationHelper(),
		validator:   NewTransferValidator(),
		coordinator: NewIdempotencyCoordinator(db, cache, cfg),
		executor:    NewTransferExecutor(db),
		failures:    NewFailureRecorder(db),
	}
}

// Transfer implements POST /api/v1/transfer: V -> I(cache) -> I(lock) ->
// I(ledger lookup, on lease loss) -> T -> I(cache store) -> I(lock release),
// with F on T's error path.
func (s *WalletService) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := s.structural.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "validation failed", http.StatusBadRequest, err)
		return
	}

	amount, verr := s.validator.Validate(req)
	if verr != nil {
		respondDomainError(w, verr)
		return
	}

	ctx := r.Context()

	s.coordinator.LogAttempt(req.IdempotencyKey, req.FromWalletID, req.ToWalletID, amount)

	if cached := s.coordinator.Lookup(ctx, req.IdempotencyKey); cached != nil {
		cached.Message = cached.Message + " (from cache)"
		respondResult(w, http.StatusOK, cached)
		return
	}

	held, fellBack, lerr := s.coordinator.AcquireLease(ctx, req.IdempotencyKey)
	if lerr != nil {
		respondDomainError(w, lerr)
		return
	}
	if !held {
		respondResult(w, http.StatusOK, fellBack)
		return
	}
	defer s.coordinator.ReleaseLease(ctx, req.IdempotencyKey)

	fromID, _ := uuid.Parse(req.FromWalletID)
	toID, _ := uuid.Parse(req.ToWalletID)

	pending, perr := s.executor.InsertPending(ctx, fromID, toID, amount, req.IdempotencyKey)
	if perr != nil {
		if perr.Kind == domainerrors.KindDuplicateRequest {
			if result, derr := s.coordinator.ResolveDuplicate(ctx, req.IdempotencyKey); derr == nil {
				respondResult(w, http.StatusOK, result)
				return
			}
		}
		respondDomainError(w, perr)
		return
	}

	result, eerr := s.executor.Execute(ctx, pending)
	if eerr != nil {
		s.failures.RecordFailure(ctx, req.IdempotencyKey, eerr)
		respondDomainError(w, eerr)
		return
	}

	s.coordinator.Store(ctx, req.IdempotencyKey, *result)
	respondResult(w, http.StatusOK, result)
}

// GetBalance implements GET /api/v1/wallet/{id}/balance. This query path
// reads directly from L with no caching: a balance must always reflect the
// latest committed state, which the cached transfer response does not
// guarantee for wallets other than the two party to that one transfer.
func (s *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "wallet id must be a canonical UUID", http.StatusBadRequest, nil)
		return
	}

	var wallet models.Wallet
	row := s.db.QueryRowContext(r.Context(), `
		SELECT id, owner_id, balance, version, created_at, updated_at FROM wallets WHERE id = $1
	`, id)
	if err := row.Scan(&wallet.ID, &wallet.OwnerID, &wallet.Balance, &wallet.Version, &wallet.CreatedAt, &wallet.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "wallet not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "failed to load wallet", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"walletId": wallet.ID,
		"balance":  wallet.Balance.StringFixed(4),
		"version":  wallet.Version,
	})
}

// GetHistory implements GET /api/v1/wallet/{id}/transactions: the 100 most
// recent transaction_logs rows where the wallet appears as either party,
// newest first. It is a read against L, independent of the idempotency cache.
func (s *WalletService) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "wallet id must be a canonical UUID", http.StatusBadRequest, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(), `
		SELECT id, from_wallet_id, to_wallet_id, amount, status, idempotency_key,
		       COALESCE(error_message, ''), metadata, created_at, updated_at
		FROM transaction_logs
		WHERE from_wallet_id = $1 OR to_wallet_id = $1
		ORDER BY created_at DESC
		LIMIT 100
	`, id)
	if err != nil {
		SendErrorResponse(w, "failed to load transaction history", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	logs := make([]models.TransactionLog, 0)
	for rows.Next() {
		var l models.TransactionLog
		var metadataRaw []byte
		if err := rows.Scan(&l.ID, &l.FromWalletID, &l.ToWalletID, &l.Amount, &l.Status,
			&l.IdempotencyKey, &l.ErrorMessage, &metadataRaw, &l.CreatedAt, &l.UpdatedAt); err != nil {
			SendErrorResponse(w, "failed to read transaction history", http.StatusInternalServerError, nil)
			return
		}
		l.Metadata = models.Metadata{}
		_ = json.Unmarshal(metadataRaw, &l.Metadata)
		logs = append(logs, l)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"walletId": id, "transactions": logs})
}

func respondResult(w http.ResponseWriter, status int, result *models.TransferResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

func respondDomainError(w http.ResponseWriter, derr *domainerrors.DomainError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(derr.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{Error: derr.Message, Details: map[string]string{"kind": string(derr.Kind)}})
}
