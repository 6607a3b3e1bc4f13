/*
cascade.go - Retroactive odometer correction engine

PURPOSE:
  Handles a retroactive change to a trip's end odometer ("the odometer
  photo was misread") such that every later trip sharing the same
  odometer continuum stays internally consistent - atomically, with one
  correction record per affected row.

OPERATIONS:
  Preview: read-only projection of what Apply would do. Performs zero
           writes and returns an empty result for missing or foreign
           trips (no error, so existence of other owners' records
           never leaks).
  Apply:   one all-or-nothing transaction. Shifts the target's EndKm,
           then both odometer readings of every later non-deleted trip
           by the same delta, recomputing tank-to-tank mileage for
           refueling trips along the way.

AUDIT:
  The target always gets an "end_km" record - even when delta is zero,
  because the record captures intent, not just effect. Every shifted
  trip gets an "odometer_cascade" record with before/after range text.

ORDER AND IDEMPOTENCE:
  Later trips are processed in (StartTime, ID) order, so the result is
  deterministic for a given input. Re-applying the same final end
  odometer after a successful Apply sees delta zero and is a no-op on
  everything but the audit trail.

CONTENTION:
  The transaction spans many rows. Stores map their contention failures
  to ErrRetryable; callers retry the whole Apply.

SEE ALSO:
  - mileage.go: Recompute invoked per shifted refueling trip
  - store.go: WithTx contract
*/
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// ProjectedShift is one row of a cascade preview.
type ProjectedShift struct {
	SerialNumber     string
	CurrentStartKm   int64
	ProjectedStartKm int64
}

// ShiftedTrip summarizes one trip affected by an Apply.
type ShiftedTrip struct {
	TripID       TripID
	SerialNumber string
	OldStartKm   int64
	NewStartKm   int64
	OldEndKm     int64
	NewEndKm     int64
}

// =============================================================================
// CASCADE CORRECTION ENGINE
// =============================================================================

// CascadeEngine applies retroactive end-odometer corrections.
type CascadeEngine struct {
	store TxStore
	cfg   Config
	log   *zap.Logger
}

// NewCascadeEngine creates an engine over the given transactional store.
func NewCascadeEngine(store TxStore, cfg Config, log *zap.Logger) *CascadeEngine {
	if log == nil {
		log = zap.NewNop()
	}
	return &CascadeEngine{store: store, cfg: cfg.withDefaults(), log: log}
}

// Preview computes, without writing, the start odometer each later trip
// would get if Apply ran with the same arguments. The result is bounded by
// Config.PreviewLimit. Missing or foreign trips yield an empty result and
// no error.
func (e *CascadeEngine) Preview(ctx context.Context, actor ActorID, tripID TripID, newEndKm int64) ([]ProjectedShift, error) {
	trip, err := e.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("load trip: %w", err)
	}
	if trip == nil || trip.CreatedBy != actor {
		return []ProjectedShift{}, nil
	}

	delta := newEndKm - trip.EndKm
	later, err := e.store.TripsAfter(ctx, trip.VehicleID, actor, trip.StartTime, trip.ID, e.cfg.PreviewLimit)
	if err != nil {
		return nil, fmt.Errorf("load later trips: %w", err)
	}

	shifts := make([]ProjectedShift, len(later))
	for i, t := range later {
		shifts[i] = ProjectedShift{
			SerialNumber:     t.SerialNumber,
			CurrentStartKm:   t.StartKm,
			ProjectedStartKm: t.StartKm + delta,
		}
	}
	return shifts, nil
}

// Apply executes the correction as a single all-or-nothing transaction:
// either every row changes and every correction record is written, or
// nothing changes. Returns a summary per affected trip, target first.
func (e *CascadeEngine) Apply(ctx context.Context, actor ActorID, tripID TripID, newEndKm int64, reason string) ([]ShiftedTrip, error) {
	var affected []ShiftedTrip

	err := e.store.WithTx(ctx, func(s Store) error {
		trip, err := s.GetTrip(ctx, tripID)
		if err != nil {
			return fmt.Errorf("load trip: %w", err)
		}
		if trip == nil || trip.CreatedBy != actor {
			return ErrNotFound
		}
		if newEndKm <= trip.StartKm {
			return &InvalidOdometerRangeError{StartKm: trip.StartKm, EndKm: newEndKm}
		}

		delta := newEndKm - trip.EndKm
		now := time.Now().UTC()
		mileage := NewMileageCalculator(s)

		// Target trip: update end odometer and re-derive its own mileage.
		oldEndKm := trip.EndKm
		trip.EndKm = newEndKm
		trip.UpdatedAt = now
		if trip.RefuelingDone {
			m, err := mileage.Compute(ctx, *trip)
			if err != nil {
				return err
			}
			trip.CalculatedMileage = m
		}
		if err := s.UpdateTrip(ctx, *trip); err != nil {
			return fmt.Errorf("update target trip: %w", err)
		}

		// One record per correction operation, even when delta is zero:
		// it captures intent, not just effect.
		if err := s.AppendCorrection(ctx, CorrectionRecord{
			ID:                     uuid.NewString(),
			TripID:                 trip.ID,
			Field:                  FieldEndKm,
			OldValue:               strconv.FormatInt(oldEndKm, 10),
			NewValue:               strconv.FormatInt(newEndKm, 10),
			Reason:                 reason,
			AffectsSubsequentTrips: delta != 0,
			CorrectedBy:            actor,
			CorrectedAt:            now,
		}); err != nil {
			return fmt.Errorf("append correction: %w", err)
		}

		affected = append(affected, ShiftedTrip{
			TripID:       trip.ID,
			SerialNumber: trip.SerialNumber,
			OldStartKm:   trip.StartKm,
			NewStartKm:   trip.StartKm,
			OldEndKm:     oldEndKm,
			NewEndKm:     newEndKm,
		})

		if delta == 0 {
			return nil
		}

		later, err := s.TripsAfter(ctx, trip.VehicleID, actor, trip.StartTime, trip.ID, 0)
		if err != nil {
			return fmt.Errorf("load later trips: %w", err)
		}

		// Ascending time order matters: when a refueling trip's mileage is
		// recomputed, its previous refueling trip has already been shifted.
		for _, t := range later {
			oldStart, oldEnd := t.StartKm, t.EndKm
			t.StartKm += delta
			t.EndKm += delta
			t.UpdatedAt = now
			if t.RefuelingDone {
				m, err := mileage.Compute(ctx, t)
				if err != nil {
					return err
				}
				t.CalculatedMileage = m
			}
			if err := s.UpdateTrip(ctx, t); err != nil {
				return fmt.Errorf("shift trip %s: %w", t.SerialNumber, err)
			}

			if err := s.AppendCorrection(ctx, CorrectionRecord{
				ID:                     uuid.NewString(),
				TripID:                 t.ID,
				Field:                  FieldOdometerCascade,
				OldValue:               formatKmRange(oldStart, oldEnd),
				NewValue:               formatKmRange(t.StartKm, t.EndKm),
				Reason:                 reason,
				AffectsSubsequentTrips: true,
				CorrectedBy:            actor,
				CorrectedAt:            now,
			}); err != nil {
				return fmt.Errorf("append cascade correction: %w", err)
			}

			affected = append(affected, ShiftedTrip{
				TripID:       t.ID,
				SerialNumber: t.SerialNumber,
				OldStartKm:   oldStart,
				NewStartKm:   t.StartKm,
				OldEndKm:     oldEnd,
				NewEndKm:     t.EndKm,
			})
		}

		e.log.Info("odometer cascade applied",
			zap.String("trip_id", string(trip.ID)),
			zap.Int64("delta_km", delta),
			zap.Int("shifted_trips", len(later)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func formatKmRange(start, end int64) string {
	return fmt.Sprintf("%d-%d", start, end)
}
