/*
service.go - Trip write surface over the validators

PURPOSE:
  The CRUD surface of the application calls into this service instead
  of writing trips directly. Every commit runs inside one store
  transaction: continuity check, mileage derivation for refueling
  trips, serial assignment, then the row write. This is the explicit
  "trigger": the validation that a database trigger would fire
  implicitly happens here as a plain call before commit.

OWNERSHIP:
  Reads and writes are scoped to the caller. A trip that exists but
  belongs to someone else reports ErrNotFound, indistinguishable from
  a trip that never existed.

SEE ALSO:
  - continuity.go: The gate every write passes through
  - mileage.go: Derivation for refueling commits
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// TRIP INPUT
// =============================================================================

// TripInput is the caller-supplied state for a trip insert or update.
// CalculatedMileage is absent on purpose: it is derived, never accepted.
type TripInput struct {
	VehicleID     VehicleID
	SerialNumber  string // optional on create; immutable once assigned
	StartKm       int64
	EndKm         int64
	StartTime     time.Time
	EndTime       time.Time
	RefuelingDone bool
	FuelQuantity  *decimal.Decimal
}

// =============================================================================
// TRIP SERVICE
// =============================================================================

// TripService fronts trip inserts and updates with the continuity gate and
// mileage derivation, each commit inside a single transaction.
type TripService struct {
	store TxStore
	cfg   Config
	log   *zap.Logger
}

// NewTripService creates a service over the given transactional store.
func NewTripService(store TxStore, cfg Config, log *zap.Logger) *TripService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TripService{store: store, cfg: cfg.withDefaults(), log: log}
}

// Create validates and persists a new trip. Returns the persisted trip and
// any continuity gap warning.
func (s *TripService) Create(ctx context.Context, actor ActorID, in TripInput) (*Trip, *GapWarning, error) {
	if err := validateFuel(in); err != nil {
		return nil, nil, err
	}

	var (
		created Trip
		warning *GapWarning
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		serial := in.SerialNumber
		if serial == "" {
			var err error
			serial, err = tx.NextSerial(ctx, actor)
			if err != nil {
				return fmt.Errorf("assign serial: %w", err)
			}
		}

		now := time.Now().UTC()
		trip := Trip{
			ID:            TripID(uuid.NewString()),
			VehicleID:     in.VehicleID,
			SerialNumber:  serial,
			StartKm:       in.StartKm,
			EndKm:         in.EndKm,
			StartTime:     in.StartTime,
			EndTime:       in.EndTime,
			RefuelingDone: in.RefuelingDone,
			FuelQuantity:  in.FuelQuantity,
			CreatedBy:     actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		w, err := NewContinuityValidator(tx, s.cfg, s.log).Check(ctx, trip)
		if err != nil {
			return err
		}
		warning = w

		if trip.RefuelingDone {
			m, err := NewMileageCalculator(tx).Compute(ctx, trip)
			if err != nil {
				return err
			}
			trip.CalculatedMileage = m
		}

		if err := tx.InsertTrip(ctx, trip); err != nil {
			return fmt.Errorf("insert trip: %w", err)
		}
		created = trip
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &created, warning, nil
}

// Update validates and persists a normal edit to an existing trip. Serial
// numbers are immutable; soft-deleted trips are not editable. Mileage is
// re-derived on every update since odometer, time or fuel fields may have
// changed.
func (s *TripService) Update(ctx context.Context, actor ActorID, id TripID, in TripInput) (*Trip, *GapWarning, error) {
	if err := validateFuel(in); err != nil {
		return nil, nil, err
	}

	var (
		updated Trip
		warning *GapWarning
	)
	err := s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetTrip(ctx, id)
		if err != nil {
			return fmt.Errorf("load trip: %w", err)
		}
		if existing == nil || existing.CreatedBy != actor || existing.Deleted() {
			return ErrNotFound
		}
		if in.SerialNumber != "" && in.SerialNumber != existing.SerialNumber {
			return ErrSerialImmutable
		}

		trip := *existing
		trip.VehicleID = in.VehicleID
		trip.StartKm = in.StartKm
		trip.EndKm = in.EndKm
		trip.StartTime = in.StartTime
		trip.EndTime = in.EndTime
		trip.RefuelingDone = in.RefuelingDone
		trip.FuelQuantity = in.FuelQuantity
		trip.CalculatedMileage = nil
		trip.UpdatedAt = time.Now().UTC()

		w, err := NewContinuityValidator(tx, s.cfg, s.log).Check(ctx, trip)
		if err != nil {
			return err
		}
		warning = w

		if trip.RefuelingDone {
			m, err := NewMileageCalculator(tx).Compute(ctx, trip)
			if err != nil {
				return err
			}
			trip.CalculatedMileage = m
		}

		if err := tx.UpdateTrip(ctx, trip); err != nil {
			return fmt.Errorf("update trip: %w", err)
		}
		updated = trip
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &updated, warning, nil
}

// Get returns a trip by ID, scoped to the caller. Soft-deleted trips remain
// retrievable by ID.
func (s *TripService) Get(ctx context.Context, actor ActorID, id TripID) (*Trip, error) {
	trip, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	if trip == nil || trip.CreatedBy != actor {
		return nil, ErrNotFound
	}
	return trip, nil
}

// List returns the caller's trips for a vehicle in (StartTime, ID) order.
func (s *TripService) List(ctx context.Context, actor ActorID, vehicleID VehicleID, includeDeleted bool) ([]Trip, error) {
	return s.store.ListTrips(ctx, vehicleID, actor, includeDeleted)
}

// Corrections returns the audit history of a trip, scoped to the caller.
func (s *TripService) Corrections(ctx context.Context, actor ActorID, id TripID) ([]CorrectionRecord, error) {
	trip, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	if trip == nil || trip.CreatedBy != actor {
		return nil, ErrNotFound
	}
	return s.store.CorrectionsForTrip(ctx, id)
}

func validateFuel(in TripInput) error {
	if in.FuelQuantity != nil && !in.FuelQuantity.IsPositive() {
		return fmt.Errorf("%w: got %s L", ErrInvalidFuelQuantity, in.FuelQuantity.String())
	}
	if in.FuelQuantity != nil && !in.RefuelingDone {
		return fmt.Errorf("%w: fuel quantity requires the refueling flag", ErrInvalidFuelQuantity)
	}
	return nil
}
