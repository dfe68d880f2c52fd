package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an error as retry-able.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	Message    string // human-friendly message surfaced to callers
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retry-able with a caller-facing message.
func NewTransientError(err error, message string) error {
	return &TransientError{Err: err, Message: message}
}

// PermanentError marks an error as not worth retrying.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as non-retry-able with a caller-facing message.
func NewPermanentError(err error, message string) error {
	return &PermanentError{Err: err, Message: message}
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	if isNetworkError(err) {
		return true
	}
	if code := extractHTTPStatusCode(err); code > 0 {
		return isTransientHTTPStatus(code)
	}
	if isSyscallError(err) {
		return true
	}

	// Default to permanent to avoid retrying business failures.
	return false
}

// IsPermanent reports whether an error must not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	return !IsTransient(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isSyscallError(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// extractHTTPStatusCode pulls an HTTP status code out of wrapped errors when
// the producer recorded one.
func extractHTTPStatusCode(err error) int {
	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.StatusCode > 0 {
		return transientErr.StatusCode
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.StatusCode > 0 {
		return permanentErr.StatusCode
	}
	return 0
}

func isTransientHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// ClassifyHTTPStatus wraps err as transient or permanent based on the HTTP
// status code returned by an upstream service.
func ClassifyHTTPStatus(code int, err error) error {
	if err == nil {
		return nil
	}
	if isTransientHTTPStatus(code) {
		return &TransientError{Err: err, StatusCode: code,
			Message: fmt.Sprintf("upstream returned %d, will retry: %v", code, err)}
	}
	return &PermanentError{Err: err, StatusCode: code,
		Message: fmt.Sprintf("upstream returned %d: %v", code, err)}
}

// ClassifyMessage inspects an opaque error string for well-known transient
// signatures (used when an SDK flattens the original error).
func ClassifyMessage(err error) error {
	if err == nil {
		return nil
	}
	lower := strings.ToLower(err.Error())
	transientPatterns := []string{
		"rate limit", "429", "500", "502", "503", "504",
		"connection refused", "connection reset", "broken pipe",
		"timeout", "deadline exceeded", "temporarily unavailable",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(lower, pattern) {
			return NewTransientError(err, "")
		}
	}
	permanentPatterns := []string{
		"401", "unauthorized", "403", "forbidden",
		"404", "not found", "400", "bad request", "invalid",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lower, pattern) {
			return NewPermanentError(err, "")
		}
	}
	return err
}
