/*
continuity.go - Odometer continuity gate for trip writes

PURPOSE:
  Every insert or update of a trip's odometer or time fields passes
  through this validator before commit. It enforces the two hard
  invariants (end beyond start, no backward odometer jump against the
  previous trip) and emits an advisory warning for suspiciously large
  gaps.

GAP POLICY:
  gap = candidate.StartKm - previous.EndKm
    gap < 0          -> ContinuityViolationError, write rejected
    0 <= gap <= tol  -> accepted silently (tol defaults to 50 km)
    gap > tol        -> accepted with a GapWarning, never blocking

  The first trip of a partition has no previous trip and is always
  accepted, subject to the range check.

SIDE EFFECTS:
  None beyond accept/reject and the warning. The validator never
  mutates other rows; it is a single-row read-then-decide operation and
  may run inside the same transaction as the write it gates.

SEE ALSO:
  - service.go: Calls Check before every trip commit
  - errors.go: Error and warning types
*/
package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// CONTINUITY VALIDATOR
// =============================================================================

// ContinuityValidator gates trip writes on odometer continuity.
type ContinuityValidator struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

// NewContinuityValidator creates a validator over the given store.
// A nil logger disables warning logging.
func NewContinuityValidator(store Store, cfg Config, log *zap.Logger) *ContinuityValidator {
	if log == nil {
		log = zap.NewNop()
	}
	return &ContinuityValidator{store: store, cfg: cfg.withDefaults(), log: log}
}

// Check validates a candidate trip state (new or modified) against the
// ledger. On acceptance it returns a nil error and, for gaps above the
// tolerance, a non-nil GapWarning. The candidate itself is excluded from
// the previous-trip lookup so updates don't collide with their own row.
func (v *ContinuityValidator) Check(ctx context.Context, candidate Trip) (*GapWarning, error) {
	if candidate.EndKm <= candidate.StartKm {
		return nil, &InvalidOdometerRangeError{StartKm: candidate.StartKm, EndKm: candidate.EndKm}
	}
	if candidate.EndTime.Before(candidate.StartTime) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidTimeRange,
			candidate.EndTime.Format("2006-01-02 15:04"), candidate.StartTime.Format("2006-01-02 15:04"))
	}

	prev, err := v.store.PreviousTrip(ctx, candidate.VehicleID, candidate.CreatedBy, candidate.StartTime, candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("continuity lookup failed: %w", err)
	}
	if prev == nil {
		// First trip of the partition.
		return nil, nil
	}

	gap := candidate.StartKm - prev.EndKm
	switch {
	case gap < 0:
		return nil, &ContinuityViolationError{
			PrevSerial:  prev.SerialNumber,
			PrevEndKm:   prev.EndKm,
			PrevEndTime: prev.EndTime,
			StartKm:     candidate.StartKm,
			Gap:         gap,
		}
	case gap > v.cfg.ContinuityToleranceKm:
		w := &GapWarning{
			PrevSerial: prev.SerialNumber,
			PrevEndKm:  prev.EndKm,
			StartKm:    candidate.StartKm,
			Gap:        gap,
		}
		v.log.Warn("odometer gap above tolerance",
			zap.String("vehicle_id", string(candidate.VehicleID)),
			zap.String("prev_serial", prev.SerialNumber),
			zap.Int64("gap_km", gap),
			zap.Int64("tolerance_km", v.cfg.ContinuityToleranceKm),
		)
		return w, nil
	default:
		return nil, nil
	}
}
