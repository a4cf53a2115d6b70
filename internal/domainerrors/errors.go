// Package domainerrors defines the tagged error results returned by the
// validator, the idempotency coordinator, and the transfer executor. None of
// these packages raise transport-level errors directly; the HTTP layer is
// the only place a Kind is mapped to a status code.
package domainerrors

import "net/http"

// Kind categorizes a failed transfer attempt.
type Kind string

const (
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindInvalidAmount        Kind = "INVALID_AMOUNT"
	KindAmountTooSmall       Kind = "AMOUNT_TOO_SMALL"
	KindInvalidWalletID      Kind = "INVALID_WALLET_ID"
	KindSameWalletTransfer   Kind = "SAME_WALLET_TRANSFER"
	KindInsufficientBalance  Kind = "INSUFFICIENT_BALANCE"
	KindWalletNotFound       Kind = "WALLET_NOT_FOUND"
	KindDuplicateRequest     Kind = "DUPLICATE_REQUEST"
	KindConcurrentProcessing Kind = "CONCURRENT_PROCESSING"
	KindValidationError      Kind = "VALIDATION_ERROR"
	KindTransferFailed       Kind = "TRANSFER_FAILED"
	KindInternalError        Kind = "INTERNAL_ERROR"
)

var statusByKind = map[Kind]int{
	KindInvalidRequest:       http.StatusBadRequest,
	KindInvalidAmount:        http.StatusBadRequest,
	KindAmountTooSmall:       http.StatusBadRequest,
	KindInvalidWalletID:      http.StatusBadRequest,
	KindSameWalletTransfer:   http.StatusBadRequest,
	KindInsufficientBalance:  http.StatusBadRequest,
	KindWalletNotFound:       http.StatusNotFound,
	KindDuplicateRequest:     http.StatusConflict,
	KindConcurrentProcessing: http.StatusConflict,
	KindValidationError:      http.StatusBadRequest,
	KindTransferFailed:       http.StatusInternalServerError,
	KindInternalError:        http.StatusInternalServerError,
}

// DomainError is the sum-type error result threaded through the transfer
// pipeline. It carries everything the HTTP adapter needs to respond, and
// nothing it doesn't.
type DomainError struct {
	Kind    Kind
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// HTTPStatus returns the status code this Kind maps to. Unknown kinds map
// to 500, matching the TRANSFER_FAILED/INTERNAL_ERROR catch-all.
func (e *DomainError) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// As attempts to recover a *DomainError from a plain error, for call sites
// that receive an error interface (e.g. from a function signature shared
// with non-domain callers).
func As(err error) (*DomainError, bool) {
	de, ok := err.(*DomainError)
	return de, ok
}
