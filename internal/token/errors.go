package token

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAccount indicates there is no credential record for the account.
	ErrNoAccount = errors.New("no account")
	// ErrReauthorizationRequired indicates the interactive flow must run again.
	ErrReauthorizationRequired = errors.New("reauthorization required")
	// ErrTransient indicates a retryable failure; nothing was persisted.
	ErrTransient = errors.New("transient error")
	// ErrNetwork indicates a transport-level failure or timeout.
	ErrNetwork = errors.New("network error")
	// ErrInvalidGrant indicates the refresh token or code was rejected.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrProtocol indicates a malformed or unexpected server response.
	ErrProtocol = errors.New("protocol error")
	// ErrStateMismatch indicates a redirect that does not belong to the login attempt.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrStorage indicates the credential store failed; the operation was not committed.
	ErrStorage = errors.New("storage error")
	// ErrUnsupportedFlow indicates a flow type the engine cannot drive.
	ErrUnsupportedFlow = errors.New("unsupported flow type")
	// ErrCancelled indicates the login attempt was abandoned before the exchange.
	ErrCancelled = errors.New("login cancelled")
	// ErrUnauthorized indicates a protected resource rejected the bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// OAuthError is an RFC 6749 error response.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	StatusCode  int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("oauth error %s (status %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("oauth error %s: %s (status %d)", e.Code, e.Description, e.StatusCode)
}

// Is maps provider error codes onto the sentinel taxonomy.
func (e *OAuthError) Is(target error) bool {
	switch target {
	case ErrInvalidGrant:
		return e.Code == "invalid_grant" || e.Code == "invalid_token"
	case ErrProtocol:
		return e.Code != "invalid_grant" && e.Code != "invalid_token"
	}
	return false
}

// Retryable reports whether a caller may retry the operation as is.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrNetwork)
}
