/*
Package ledger provides the trip odometer ledger engine.

PURPOSE:
  This package keeps a vehicle's sequence of trips internally consistent.
  Odometer readings must never run backwards across time-ordered trips,
  fuel efficiency is derived with the tank-to-tank method, and retroactive
  odometer corrections propagate forward through the sequence while every
  change is recorded in an auditable correction history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Trip: The atomic ledger entry (odometer pair, time pair, refueling data)
  - CorrectionRecord: Immutable audit entry created by correction operations
  - Config: Named business constants (continuity tolerance, preview bound)
  - Trip/Vehicle/Actor IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Partitioning: All invariants hold per (VehicleID, CreatedBy) pair;
     no operation ever reaches across vehicles or owners.
  2. Precision: FuelQuantity and CalculatedMileage use decimal.Decimal
     to avoid floating-point drift in audit text and derived values.
  3. Derived values: CalculatedMileage is never set by a caller, only by
     the mileage calculator.
  4. Soft deletion: A non-nil DeletedAt removes a trip from all continuity
     and mileage computations without losing the row.

SEE ALSO:
  - continuity.go: Odometer continuity gate for inserts/updates
  - mileage.go: Tank-to-tank fuel efficiency
  - cascade.go: Retroactive correction engine with audit trail
  - deletion.go: Soft-delete guard for refueling trips
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TripID string
type VehicleID string
type ActorID string

// =============================================================================
// TRIP - Atomic ledger entry
// =============================================================================

// Trip is one entry of a vehicle's odometer ledger.
//
// INVARIANTS (per vehicle/owner partition, non-deleted trips only):
//  1. EndKm > StartKm on every trip.
//  2. For consecutive trips A then B in time order, B.StartKm >= A.EndKm.
//  3. CalculatedMileage is present iff RefuelingDone and a valid
//     distance/fuel pair exists.
type Trip struct {
	ID        TripID
	VehicleID VehicleID

	// SerialNumber is a human-readable sequence label, unique per owner.
	// Immutable once assigned.
	SerialNumber string

	// Odometer readings in kilometers.
	StartKm int64
	EndKm   int64

	StartTime time.Time
	EndTime   time.Time

	// RefuelingDone marks this trip as a full-tank refueling event.
	RefuelingDone bool

	// FuelQuantity is liters added at the refueling stop. Present only
	// when RefuelingDone.
	FuelQuantity *decimal.Decimal

	// CalculatedMileage is km/L, derived by the mileage calculator.
	// Never set directly by a caller.
	CalculatedMileage *decimal.Decimal

	// Soft-delete markers. A non-nil DeletedAt excludes the trip from
	// ordering, continuity and mileage computations.
	DeletedAt      *time.Time
	DeletionReason string

	// CreatedBy is the owning actor; the ownership boundary for every
	// operation on this trip.
	CreatedBy ActorID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deleted reports whether the trip is soft-deleted.
func (t *Trip) Deleted() bool { return t.DeletedAt != nil }

// Distance returns EndKm - StartKm.
func (t *Trip) Distance() int64 { return t.EndKm - t.StartKm }

// =============================================================================
// CORRECTION RECORD - Immutable audit entry
// =============================================================================

// Field names used in correction records.
const (
	FieldEndKm           = "end_km"
	FieldOdometerCascade = "odometer_cascade"
)

// CorrectionRecord is one immutable audit entry. It is created exactly once
// per affected trip per correction operation and never updated or deleted by
// application logic. Many records may reference the same trip over its
// lifetime, forming a full edit history.
//
// OldValue/NewValue are plain text regardless of underlying type: integers
// with default decimal rendering, odometer ranges as "{start}-{end}".
type CorrectionRecord struct {
	ID       string
	TripID   TripID
	Field    string
	OldValue string
	NewValue string
	Reason   string

	// AffectsSubsequentTrips is true on records written for trips shifted
	// by a cascade, and on the target record of a cascade with nonzero delta.
	AffectsSubsequentTrips bool

	CorrectedBy ActorID
	CorrectedAt time.Time
}

// =============================================================================
// CONFIG - Named business constants
// =============================================================================

const (
	// DefaultContinuityToleranceKm is the largest odometer gap between two
	// consecutive trips that is considered normal unlogged driving. Larger
	// gaps are accepted with a warning.
	DefaultContinuityToleranceKm = 50

	// DefaultPreviewLimit bounds the number of later trips a cascade
	// preview will project.
	DefaultPreviewLimit = 500
)

// Config carries the overridable business constants of the ledger.
type Config struct {
	// ContinuityToleranceKm is the warning threshold for odometer gaps.
	ContinuityToleranceKm int64

	// PreviewLimit bounds cascade preview result size.
	PreviewLimit int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ContinuityToleranceKm: DefaultContinuityToleranceKm,
		PreviewLimit:          DefaultPreviewLimit,
	}
}

func (c Config) withDefaults() Config {
	if c.ContinuityToleranceKm == 0 {
		c.ContinuityToleranceKm = DefaultContinuityToleranceKm
	}
	if c.PreviewLimit == 0 {
		c.PreviewLimit = DefaultPreviewLimit
	}
	return c
}
