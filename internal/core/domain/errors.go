package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a client-engine error with a structured error
// code. Codes are stable across releases so callers can match on them.
type DomainError struct {
	Code    string // Error code (e.g., "CM-CONN-5030")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Connection Errors (CONN)
// ============================================================================

var (
	// ErrConnection indicates the underlying transport could not be
	// established or re-established. Reconciliation retries with backoff;
	// the operation that triggered it fails.
	ErrConnection = NewDomainError("CM-CONN-5030", "connection unavailable")

	// ErrClientClosed indicates the client was disposed; subsequent
	// operations fail fast.
	ErrClientClosed = NewDomainError("CM-CONN-4100", "client is closed")
)

// ============================================================================
// Request Errors (REQ)
// ============================================================================

var (
	// ErrRequest indicates the server rejected a command. Never retried
	// silently; surfaced to the caller of the mutating call.
	ErrRequest = NewDomainError("CM-REQ-4000", "request rejected by server")

	// ErrBadSubscription indicates an invalid subscription target or mode,
	// caught client-side before any command is sent.
	ErrBadSubscription = NewDomainError("CM-REQ-4001", "invalid subscription")

	// ErrNoRoute indicates no node could be resolved for the request.
	ErrNoRoute = NewDomainError("CM-REQ-4040", "no route to any node")
)

// ============================================================================
// Dispatch Errors (DISP)
// ============================================================================

var (
	// ErrCallback indicates an application callback panicked during
	// dispatch. Isolated per callback; never propagated to the transport
	// or to other callbacks.
	ErrCallback = NewDomainError("CM-DISP-5000", "subscriber callback failed")
)

// ============================================================================
// Timeout Errors (TIME)
// ============================================================================

var (
	// ErrTimeout indicates a request did not complete within its
	// deadline. Distinct from rejection so callers can tell "rejected"
	// from "no answer yet". The command is not retried automatically.
	ErrTimeout = NewDomainError("CM-TIME-4080", "request timed out")
)

// ============================================================================
// Feature Errors (FEAT)
// ============================================================================

var (
	// ErrUnsupportedFeature indicates the connected server version lacks
	// the requested capability (e.g., sharded pub/sub). Surfaced before
	// any command is attempted.
	ErrUnsupportedFeature = NewDomainError("CM-FEAT-4050", "feature not supported by server")
)
