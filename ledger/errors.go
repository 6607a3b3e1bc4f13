/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; structured errors carry the
  detail a human needs to correct the input.

ERROR CATEGORIES:
  1. Write-gate errors - Invariant violations that block a trip write
  2. Ownership errors  - Missing or foreign records (uniform NotFound)
  3. Contention errors - Transaction conflicts the caller should retry

SEE ALSO:
  - continuity.go: Raises range and continuity errors
  - cascade.go: Raises NotFound and Retryable
  - service.go: Raises serial/time/fuel gate errors
*/
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidOdometerRange is returned when EndKm <= StartKm. Always
	// fatal to the write, never retried.
	ErrInvalidOdometerRange = errors.New("invalid odometer range: end must exceed start")

	// ErrContinuityViolation is returned when a trip's start odometer is
	// behind the previous trip's end odometer. Fatal to the write.
	ErrContinuityViolation = errors.New("odometer continuity violation")

	// ErrInvalidTimeRange is returned when EndTime precedes StartTime.
	ErrInvalidTimeRange = errors.New("invalid time range: end before start")

	// ErrInvalidFuelQuantity is returned when a refueling trip carries a
	// zero or negative fuel quantity.
	ErrInvalidFuelQuantity = errors.New("fuel quantity must be positive")

	// ErrSerialImmutable is returned when an update tries to change an
	// assigned serial number.
	ErrSerialImmutable = errors.New("serial number is immutable")

	// ErrNotFound is returned when a trip does not exist or is not owned
	// by the caller. The two cases are deliberately indistinguishable so
	// existence of other owners' records never leaks.
	ErrNotFound = errors.New("trip not found")

	// ErrRetryable is returned when a cascade transaction hit storage
	// contention. The caller is expected to retry the whole Apply.
	ErrRetryable = errors.New("transaction conflict, retry")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidOdometerRangeError reports an end reading at or behind the start.
type InvalidOdometerRangeError struct {
	StartKm int64
	EndKm   int64
}

func (e *InvalidOdometerRangeError) Error() string {
	return fmt.Sprintf("invalid odometer range: end %d km must exceed start %d km", e.EndKm, e.StartKm)
}

func (e *InvalidOdometerRangeError) Unwrap() error { return ErrInvalidOdometerRange }

// ContinuityViolationError reports a backward odometer jump versus the prior
// trip. It carries the conflicting trip's identity for user display.
type ContinuityViolationError struct {
	PrevSerial  string
	PrevEndKm   int64
	PrevEndTime time.Time
	StartKm     int64
	Gap         int64 // negative
}

func (e *ContinuityViolationError) Error() string {
	return fmt.Sprintf("start odometer %d km is behind trip %s ending at %d km (%s)",
		e.StartKm, e.PrevSerial, e.PrevEndKm, e.PrevEndTime.Format(time.RFC3339))
}

func (e *ContinuityViolationError) Unwrap() error { return ErrContinuityViolation }

// =============================================================================
// GAP WARNING - Advisory, never blocks a write
// =============================================================================

// GapWarning reports an odometer gap above the configured tolerance. The
// write proceeds; the condition is surfaced to the caller and the log
// channel as an advisory.
type GapWarning struct {
	PrevSerial string
	PrevEndKm  int64
	StartKm    int64
	Gap        int64
}

func (w *GapWarning) Message() string {
	return fmt.Sprintf("odometer gap of %d km since trip %s", w.Gap, w.PrevSerial)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// IsNotFound returns true if the error indicates a missing (or foreign) trip.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidOdometerRange) ||
		errors.Is(err, ErrContinuityViolation) ||
		errors.Is(err, ErrInvalidTimeRange) ||
		errors.Is(err, ErrInvalidFuelQuantity) ||
		errors.Is(err, ErrSerialImmutable)
}
