/*
mileage.go - Tank-to-tank fuel efficiency

PURPOSE:
  Derives CalculatedMileage for refueling trips. The tank-to-tank method
  measures true consumption between two full-tank events: the distance
  from the previous refueling trip's end odometer to this trip's end
  odometer, divided by the fuel added now. Non-refueling trips in
  between contribute distance through the odometer, not through their
  own rows.

FALLBACK:
  The first refueling event in a vehicle's history has no previous tank
  to measure from, so it falls back to its own trip distance.

DIVISION GUARD:
  A zero, negative or missing fuel quantity leaves the mileage nil.
  Never divide by zero.

SEE ALSO:
  - cascade.go: Recomputes mileage for every shifted refueling trip
  - service.go: Derives mileage on refueling trip commits
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MILEAGE CALCULATOR
// =============================================================================

// MileageCalculator derives km/L for refueling trips.
type MileageCalculator struct {
	store Store
}

// NewMileageCalculator creates a calculator over the given store.
func NewMileageCalculator(store Store) *MileageCalculator {
	return &MileageCalculator{store: store}
}

// Compute returns the tank-to-tank mileage for the given trip, or nil when
// no valid value exists (not a refueling trip, or unusable fuel quantity).
// It never modifies the reference trip used for comparison; the result is
// written back only to the current trip, by the caller.
func (c *MileageCalculator) Compute(ctx context.Context, trip Trip) (*decimal.Decimal, error) {
	if !trip.RefuelingDone {
		return nil, nil
	}
	if trip.FuelQuantity == nil || !trip.FuelQuantity.IsPositive() {
		return nil, nil
	}

	prev, err := c.store.PreviousRefueling(ctx, trip.VehicleID, trip.CreatedBy, trip.EndTime, trip.ID)
	if err != nil {
		return nil, fmt.Errorf("previous refueling lookup failed: %w", err)
	}

	var distance int64
	if prev != nil {
		distance = trip.EndKm - prev.EndKm
	} else {
		// First refueling event in the vehicle's history.
		distance = trip.EndKm - trip.StartKm
	}
	if distance <= 0 {
		return nil, nil
	}

	mileage := decimal.NewFromInt(distance).Div(*trip.FuelQuantity)
	return &mileage, nil
}
