/*
deletion.go - Deletion guard for refueling trips

PURPOSE:
  A refueling trip is the mileage baseline for every later trip up to
  the next refueling event. Hard-deleting it would make those trips'
  tank-to-tank mileage unrecoverable. The guard intercepts every delete
  request: ordinary trips are removed physically, refueling trips with
  dependents are converted to a reversible soft delete.

RESULT STATUS:
  The delete reports a distinct status (Deleted vs SoftDeleted) rather
  than a bare success, so callers can tell that the row still exists.

SCOPE:
  This is the only path that sets DeletedAt automatically. Dependents
  are counted within the trip's own (vehicle, owner) partition.

SEE ALSO:
  - mileage.go: Why refueling trips anchor later mileage
  - store.go: CountDependents contract
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// DELETE RESULT
// =============================================================================

// DeleteStatus reports what a delete request actually did.
type DeleteStatus string

const (
	// StatusDeleted means the row was physically removed.
	StatusDeleted DeleteStatus = "deleted"

	// StatusSoftDeleted means the row persists with DeletedAt set and is
	// excluded from all future continuity and mileage computations.
	StatusSoftDeleted DeleteStatus = "soft_deleted"
)

// SoftDeleteReason is recorded on trips the guard soft-deletes.
const SoftDeleteReason = "has dependent non-refueling trips"

// =============================================================================
// DELETION GUARD
// =============================================================================

// DeletionGuard routes trip deletions, substituting a soft delete when
// later trips depend on the target for their mileage baseline.
type DeletionGuard struct {
	store TxStore
	log   *zap.Logger
}

// NewDeletionGuard creates a guard over the given store.
func NewDeletionGuard(store TxStore, log *zap.Logger) *DeletionGuard {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeletionGuard{store: store, log: log}
}

// Delete removes the trip if nothing depends on it, otherwise soft-deletes
// it. The dependent count and the delete run in one transaction so a trip
// inserted concurrently cannot slip between them. Missing or foreign trips
// report ErrNotFound.
func (g *DeletionGuard) Delete(ctx context.Context, actor ActorID, tripID TripID) (DeleteStatus, error) {
	var status DeleteStatus

	err := g.store.WithTx(ctx, func(store Store) error {
		trip, err := store.GetTrip(ctx, tripID)
		if err != nil {
			return fmt.Errorf("load trip: %w", err)
		}
		if trip == nil || trip.CreatedBy != actor {
			return ErrNotFound
		}

		if trip.RefuelingDone {
			dependents, err := store.CountDependents(ctx, trip.VehicleID, trip.CreatedBy, trip.EndTime)
			if err != nil {
				return fmt.Errorf("count dependents: %w", err)
			}
			if dependents > 0 {
				now := time.Now().UTC()
				trip.DeletedAt = &now
				trip.DeletionReason = SoftDeleteReason
				trip.UpdatedAt = now
				if err := store.UpdateTrip(ctx, *trip); err != nil {
					return fmt.Errorf("soft delete trip: %w", err)
				}
				g.log.Info("refueling trip soft-deleted",
					zap.String("trip_id", string(tripID)),
					zap.Int("dependents", dependents),
				)
				status = StatusSoftDeleted
				return nil
			}
		}

		if err := store.HardDeleteTrip(ctx, tripID); err != nil {
			return fmt.Errorf("delete trip: %w", err)
		}
		status = StatusDeleted
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}
