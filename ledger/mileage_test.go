package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwright/trip-ledger/ledger"
)

// =============================================================================
// DERIVABILITY TESTS - When mileage must stay absent
// =============================================================================

func TestMileage_NonRefuelingTrip_NoValue(t *testing.T) {
	mem := newMem()
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), mkTrip("t-1", "T-00001", 100, 200, 0))

	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMileage_MissingFuel_NoValue(t *testing.T) {
	// A refueling trip without a fuel quantity has no derivable mileage.

	mem := newMem()
	calc := ledger.NewMileageCalculator(mem)

	trip := mkTrip("t-1", "T-00001", 100, 200, 0)
	trip.RefuelingDone = true

	m, err := calc.Compute(context.Background(), trip)

	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMileage_ZeroFuel_NoValue(t *testing.T) {
	mem := newMem()
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), refuelTrip("t-1", "T-00001", 100, 200, 0, "0"))

	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMileage_NonPositiveDistance_NoValue(t *testing.T) {
	// GIVEN: A previous refueling that ended ahead of this trip's end reading
	// THEN: No mileage rather than a negative value

	mem := newMem()
	seed(t, mem, refuelTrip("t-1", "T-00001", 100, 1500, 0, "50"))
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), refuelTrip("t-2", "T-00002", 1400, 1450, 2, "30"))

	require.NoError(t, err)
	assert.Nil(t, m)
}

// =============================================================================
// TANK-TO-TANK TESTS
// =============================================================================

func TestMileage_FirstRefueling_UsesOwnDistance(t *testing.T) {
	// GIVEN: No earlier refueling event on the vehicle
	// WHEN: A refueling trip covers 400 km on 40 L
	// THEN: Mileage falls back to the trip's own distance: 10 km/L

	mem := newMem()
	seed(t, mem, mkTrip("t-0", "T-00000", 0, 100, -4)) // non-refueling history
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), refuelTrip("t-1", "T-00001", 100, 500, 0, "40"))

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.Equal(decimal.RequireFromString("10")), "got %s", m)
}

func TestMileage_TankToTank_DistanceSincePreviousRefueling(t *testing.T) {
	// GIVEN: Previous refueling ended at 1000 km
	// WHEN: The current refueling ends at 1500 km on 100 L
	// THEN: Mileage is (1500-1000)/100 = 5 km/L, regardless of the
	//       current trip's own length

	mem := newMem()
	seed(t, mem,
		refuelTrip("t-1", "T-00001", 900, 1000, 0, "60"),
		mkTrip("t-2", "T-00002", 1000, 1300, 2),
		mkTrip("t-3", "T-00003", 1300, 1450, 4),
	)
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), refuelTrip("t-4", "T-00004", 1450, 1500, 6, "100"))

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.Equal(decimal.RequireFromString("5")), "got %s", m)
}

func TestMileage_FractionalResult_Exact(t *testing.T) {
	// 500 km on 30 L; decimal division, not float.

	mem := newMem()
	seed(t, mem, refuelTrip("t-1", "T-00001", 500, 1000, 0, "40"))
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), refuelTrip("t-2", "T-00002", 1400, 1500, 2, "30"))

	require.NoError(t, err)
	require.NotNil(t, m)
	expected := decimal.NewFromInt(500).Div(decimal.NewFromInt(30))
	assert.True(t, m.Equal(expected), "got %s, want %s", m, expected)
}

func TestMileage_SoftDeletedRefueling_NotAnAnchor(t *testing.T) {
	// GIVEN: The nearest refueling event is soft-deleted
	// THEN: The one before it anchors the tank-to-tank distance

	mem := newMem()
	anchor := refuelTrip("t-1", "T-00001", 900, 1000, 0, "50")
	ghost := refuelTrip("t-2", "T-00002", 1000, 1200, 2, "20")
	now := at(3)
	ghost.DeletedAt = &now
	seed(t, mem, anchor, ghost)
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), refuelTrip("t-3", "T-00003", 1200, 1500, 4, "100"))

	require.NoError(t, err)
	require.NotNil(t, m)
	// (1500 - 1000) / 100
	assert.True(t, m.Equal(decimal.RequireFromString("5")), "got %s", m)
}

func TestMileage_OtherVehicleRefueling_Ignored(t *testing.T) {
	mem := newMem()
	other := refuelTrip("t-1", "T-00001", 100, 9000, 0, "10")
	other.VehicleID = "veh-2"
	seed(t, mem, other)
	calc := ledger.NewMileageCalculator(mem)

	m, err := calc.Compute(context.Background(), refuelTrip("t-2", "T-00002", 100, 500, 2, "40"))

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.Equal(decimal.RequireFromString("10")), "got %s", m)
}
