/*
errors.go - Centralized error types for the economy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and the API wrap or map these; callers match with errors.Is.

ERROR CATEGORIES:
  1. NotFound            - task, reward, counter or identity missing
  2. InvalidArgument     - non-positive points, malformed day bucket, bad input
  3. InsufficientPoints  - a redemption cannot be funded
  4. AlreadyRedeemed     - reward was redeemed before
  5. ConcurrencyConflict - lost update or double lock detected by the store
  6. TaskLocked          - reopening a task that was spent on a reward

USAGE:
  if errors.Is(err, economy.ErrInsufficientPoints) {
      var ip *economy.InsufficientPointsError
      if errors.As(err, &ip) { ... ip.Shortfall ... }
  }

SEE ALSO:
  - redeem.go: Returns InsufficientPoints / AlreadyRedeemed
  - counter.go: Returns InvalidArgument / NotFound
  - api/handlers.go: HTTP status mapping (statusFor)
*/
package economy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrAlreadyRedeemed     = errors.New("reward already redeemed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrTaskLocked is returned when a locked task would be reopened.
	ErrTaskLocked = errors.New("task is locked by a redemption")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the kind and id of the missing entity.
type NotFoundError struct {
	Kind string // "task", "reward", "counter_task", "identity", "subtask"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidArgumentError names the offending field.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// InsufficientPointsError provides details about a redemption shortfall.
type InsufficientPointsError struct {
	RewardID  RewardID
	Cost      int
	Available int
	Shortfall int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points for reward %s: cost %d, available %d, shortfall %d",
		e.RewardID, e.Cost, e.Available, e.Shortfall)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// ConflictError describes what the store found when a write lost a race.
type ConflictError struct {
	Op     string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict in %s: %s", e.Op, e.Detail)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// NotFoundf builds a NotFoundError. Stores use it so callers see one shape.
func NotFoundf(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrTaskLocked)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Error codes used on the wire. FromCode is the inverse of Code.
const (
	CodeNotFound            = "not_found"
	CodeInvalidArgument     = "invalid_argument"
	CodeInsufficientPoints  = "insufficient_points"
	CodeAlreadyRedeemed     = "already_redeemed"
	CodeConcurrencyConflict = "concurrency_conflict"
	CodeTaskLocked          = "task_locked"
	CodeInternal            = "internal"
)

// Code returns the wire code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrInsufficientPoints):
		return CodeInsufficientPoints
	case errors.Is(err, ErrAlreadyRedeemed):
		return CodeAlreadyRedeemed
	case errors.Is(err, ErrConcurrencyConflict):
		return CodeConcurrencyConflict
	case errors.Is(err, ErrTaskLocked):
		return CodeTaskLocked
	default:
		return CodeInternal
	}
}

// FromCode returns the sentinel for a wire code, or nil for unknown codes.
func FromCode(code string) error {
	switch code {
	case CodeNotFound:
		return ErrNotFound
	case CodeInvalidArgument:
		return ErrInvalidArgument
	case CodeInsufficientPoints:
		return ErrInsufficientPoints
	case CodeAlreadyRedeemed:
		return ErrAlreadyRedeemed
	case CodeConcurrencyConflict:
		return ErrConcurrencyConflict
	case CodeTaskLocked:
		return ErrTaskLocked
	default:
		return nil
	}
}
