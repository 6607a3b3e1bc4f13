/*
store.go - Persistence interface for trips and correction records

PURPOSE:
  Defines the interface between the ledger engine and the database. The
  engine never talks SQL; it expresses the handful of partition-scoped
  queries the validators and the cascade need, and the store implements
  them. Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Trip persistence plus the ordered lookups the engine needs
  TxStore: Store with atomic multi-row transactions (WithTx)

PARTITIONING:
  Every query that walks the ledger is scoped to one (vehicle, owner)
  pair. The store must never return rows from another partition for
  these calls; the engine relies on that for both correctness and
  ownership enforcement.

ORDERING CONTRACT:
  "Later" and "previous" are defined over non-deleted trips only.
  TripsAfter orders by (StartTime, ID) so that trips sharing a start
  time are processed in a stable, caller-independent order.

ATOMICITY:
  The cascade engine updates many rows and writes one correction record
  per row. It runs inside WithTx: either everything commits or nothing
  does. Implementations map their contention failures to ErrRetryable.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - cascade.go: The only multi-row writer
  - continuity.go, mileage.go: Single-row read-then-decide users
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Trip and correction persistence
// =============================================================================

// Store handles persistence of trips and correction records.
//
// Correction records are APPEND-ONLY: no update, no delete. Trips are
// mutable (normal edits, cascade shifts, soft-delete markers) but are
// only ever hard-deleted through the deletion guard.
type Store interface {
	// InsertTrip persists a new trip.
	InsertTrip(ctx context.Context, t Trip) error

	// UpdateTrip overwrites an existing trip by ID.
	UpdateTrip(ctx context.Context, t Trip) error

	// GetTrip returns a trip by ID, including soft-deleted rows.
	// Returns (nil, nil) when no row exists.
	GetTrip(ctx context.Context, id TripID) (*Trip, error)

	// HardDeleteTrip physically removes a trip row.
	HardDeleteTrip(ctx context.Context, id TripID) error

	// ListTrips returns all trips of a partition ordered by
	// (StartTime, ID). Soft-deleted rows are included only when
	// includeDeleted is set.
	ListTrips(ctx context.Context, vehicleID VehicleID, owner ActorID, includeDeleted bool) ([]Trip, error)

	// PreviousTrip returns the most recent non-deleted trip of the
	// partition whose EndTime precedes before, excluding excludeID.
	// Returns (nil, nil) when the candidate would be the first trip.
	PreviousTrip(ctx context.Context, vehicleID VehicleID, owner ActorID, before time.Time, excludeID TripID) (*Trip, error)

	// PreviousRefueling returns the most recent non-deleted refueling
	// trip of the partition whose EndTime is strictly before before,
	// excluding excludeID. Returns (nil, nil) when none exists.
	PreviousRefueling(ctx context.Context, vehicleID VehicleID, owner ActorID, before time.Time, excludeID TripID) (*Trip, error)

	// TripsAfter returns the non-deleted trips of the partition strictly
	// after the (afterStart, afterID) position in (StartTime, ID) order.
	// limit <= 0 means no limit.
	TripsAfter(ctx context.Context, vehicleID VehicleID, owner ActorID, afterStart time.Time, afterID TripID, limit int) ([]Trip, error)

	// CountDependents returns the number of non-deleted, non-refueling
	// trips of the partition whose StartTime is after the given time.
	// The deletion guard uses this to detect mileage-chain dependents.
	CountDependents(ctx context.Context, vehicleID VehicleID, owner ActorID, after time.Time) (int, error)

	// NextSerial returns the next unused serial number for an owner.
	NextSerial(ctx context.Context, owner ActorID) (string, error)

	// AppendCorrection persists a correction record. Append-only.
	AppendCorrection(ctx context.Context, rec CorrectionRecord) error

	// CorrectionsForTrip returns the correction history of a trip in
	// the order it was written.
	CorrectionsForTrip(ctx context.Context, id TripID) ([]CorrectionRecord, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic multi-row operations
// =============================================================================

// TxStore wraps Store with transaction support. The cascade engine requires
// it: the read of later trips and their subsequent update must observe one
// consistent snapshot even under concurrent writers.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
