package payauth

import (
	"errors"
	"fmt"
)

// AuthError is a caller-facing error with a stable machine-readable code.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes surfaced at the API boundary.
const (
	ErrCodeInvalidAPIKey      = "invalid_api_key"
	ErrCodeMissingFields      = "missing_fields"
	ErrCodeUserExists         = "user_exists"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeProjectMissing     = "project_missing"
	ErrCodeUnauthorized       = "unauthorized"
)

// NewAuthError creates an AuthError with the given code and message.
func NewAuthError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// Store-level sentinels. These mark invariant edges, not race outcomes;
// race outcomes are reported as ConsumeOutcome values instead.
var (
	// ErrDuplicateRecipient is returned when a create would index a recipient
	// address that already points at a non-terminal challenge. Fresh-keypair
	// generation makes this practically unreachable, but it is checked, not
	// assumed.
	ErrDuplicateRecipient = errors.New("recipient already watched by a pending challenge")
)
