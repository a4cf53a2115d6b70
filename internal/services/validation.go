package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/domainerrors"
)

// ErrorResponse is the transport shape for every non-2xx response the
// service sends, structural or domain.
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Field/kind details
}

// ValidationHelper runs the tag-driven structural checks on a
// TransferRequest ahead of TransferValidator's semantic ones — required
// fields, string lengths — the checks that don't need a decimal or a UUID
// parser to evaluate.
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper builds the structural validator used ahead of the
// domain-specific one.
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct checks s against its `validate` tags.
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse writes a transport-level error. When validationErr is
// non-nil, the details carry the same "kind" convention respondDomainError
// uses, so structural and semantic validation failures look identical on the
// wire; with a nil validationErr the response has no details.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = map[string]string{"kind": string(domainerrors.KindValidationError)}
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}
