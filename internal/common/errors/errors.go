// Package errors provides the error taxonomy that decides whether a caller
// retries, skips, or aborts when an external collaborator fails.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Transient failures on an external call: retried on the next natural
	// trigger (next event, next sweep tick), never fatal.
	ErrCodePlatformUnavailable ErrorCode = "PLATFORM_UNAVAILABLE"
	ErrCodePlatformRateLimited ErrorCode = "PLATFORM_RATE_LIMITED"
	ErrCodeStoreUnavailable    ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeCacheUnavailable    ErrorCode = "CACHE_UNAVAILABLE"

	// The desired end state already holds; logged as a warning, treated as
	// a successful no-op.
	ErrCodeGuildNotFound  ErrorCode = "GUILD_NOT_FOUND"
	ErrCodeMemberNotFound ErrorCode = "MEMBER_NOT_FOUND"
	ErrCodeMarkerNotFound ErrorCode = "MARKER_NOT_FOUND"

	// Persistence failure mid-sweep: the item is skipped, the batch goes on.
	ErrCodeStatusUpdateFailed ErrorCode = "STATUS_UPDATE_FAILED"

	// Missing required credential or unusable configuration: fatal.
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Command handler failure: converted into a user-visible generic reply.
	ErrCodeCommandFailed ErrorCode = "COMMAND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// NewPlatformUnavailableError creates a retryable platform error.
func NewPlatformUnavailableError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePlatformUnavailable,
		Message:   "Community platform call failed",
		Details:   fmt.Sprintf("op: %s, error: %v", op, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewPlatformRateLimitedError creates a retryable rate-limit error.
func NewPlatformRateLimitedError(op string) *StandardError {
	return &StandardError{
		Code:      ErrCodePlatformRateLimited,
		Message:   "Community platform rate limited the request",
		Details:   fmt.Sprintf("op: %s", op),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError creates a retryable record store error.
func NewStoreUnavailableError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Record store call failed",
		Details:   fmt.Sprintf("op: %s, error: %v", op, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewCacheUnavailableError creates a retryable cache error.
func NewCacheUnavailableError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Cache call failed",
		Details:   fmt.Sprintf("op: %s, error: %v", op, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewGuildNotFoundError creates a non-retryable no-op error.
func NewGuildNotFoundError(guildID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeGuildNotFound,
		Message:   "Guild no longer exists on the platform",
		Details:   fmt.Sprintf("guildId: %s", guildID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMemberNotFoundError creates a non-retryable no-op error.
func NewMemberNotFoundError(guildID, userID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMemberNotFound,
		Message:   "Member no longer exists in the guild",
		Details:   fmt.Sprintf("guildId: %s, userId: %s", guildID, userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMarkerNotFoundError creates a non-retryable no-op error.
func NewMarkerNotFoundError(guildID, markerID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMarkerNotFound,
		Message:   "Access marker no longer exists in the guild",
		Details:   fmt.Sprintf("guildId: %s, markerId: %s", guildID, markerID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStatusUpdateFailedError creates a skip-this-item persistence error.
func NewStatusUpdateFailedError(subscriptionID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStatusUpdateFailed,
		Message:   "Subscription status update failed",
		Details:   fmt.Sprintf("subscriptionId: %s, error: %v", subscriptionID, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewConfigInvalidError creates a fatal configuration error.
func NewConfigInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigInvalid,
		Message:   "Invalid configuration",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCommandFailedError wraps a command handler failure.
func NewCommandFailedError(command string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCommandFailed,
		Message:   fmt.Sprintf("Command '%s' handler failed", command),
		Details:   fmt.Sprintf("error: %v", err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// IsRetryable reports whether err should be retried on the next trigger.
// Unknown errors are treated as retryable transient failures.
func IsRetryable(err error) bool {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Retryable
	}
	return true
}

// IsNotFound reports whether err means the desired end state already holds
// (guild, member or marker gone on the platform side).
func IsNotFound(err error) bool {
	var std *StandardError
	if !errors.As(err, &std) {
		return false
	}
	switch std.Code {
	case ErrCodeGuildNotFound, ErrCodeMemberNotFound, ErrCodeMarkerNotFound:
		return true
	}
	return false
}

// CodeOf returns the taxonomy code of err, or "UNKNOWN" for untyped errors.
func CodeOf(err error) ErrorCode {
	var std *StandardError
	if errors.As(err, &std) {
		return std.Code
	}
	return "UNKNOWN"
}
