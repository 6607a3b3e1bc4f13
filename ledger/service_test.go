package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwright/trip-ledger/ledger"
)

func newService(store ledger.TxStore) *ledger.TripService {
	return ledger.NewTripService(store, ledger.DefaultConfig(), nil)
}

func tripInput(startKm, endKm int64, startHour int) ledger.TripInput {
	return ledger.TripInput{
		VehicleID: "veh-1",
		StartKm:   startKm,
		EndKm:     endKm,
		StartTime: at(startHour),
		EndTime:   at(startHour + 1),
	}
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestService_Create_AssignsSequentialSerials(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	first, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)
	assert.Equal(t, "T-00001", first.SerialNumber)

	second, _, err := svc.Create(ctx, "alex", tripInput(200, 300, 2))
	require.NoError(t, err)
	assert.Equal(t, "T-00002", second.SerialNumber)

	// Serials are per owner, not global.
	other, _, err := svc.Create(ctx, "sam", tripInput(500, 600, 0))
	require.NoError(t, err)
	assert.Equal(t, "T-00001", other.SerialNumber)
}

func TestService_Create_CallerSerialKept(t *testing.T) {
	mem := newMem()
	svc := newService(mem)

	in := tripInput(100, 200, 0)
	in.SerialNumber = "IMPORT-7"

	trip, _, err := svc.Create(context.Background(), "alex", in)
	require.NoError(t, err)
	assert.Equal(t, "IMPORT-7", trip.SerialNumber)
}

func TestService_Create_RefuelingDerivesMileage(t *testing.T) {
	mem := newMem()
	svc := newService(mem)

	in := tripInput(100, 500, 0)
	in.RefuelingDone = true
	in.FuelQuantity = liters("40")

	trip, _, err := svc.Create(context.Background(), "alex", in)

	require.NoError(t, err)
	require.NotNil(t, trip.CalculatedMileage)
	assert.True(t, trip.CalculatedMileage.Equal(decimal.RequireFromString("10")))
}

func TestService_Create_GapWarningDoesNotBlock(t *testing.T) {
	// GIVEN: A 100 km gap since the last trip
	// WHEN: The trip is created
	// THEN: The write succeeds and the warning rides along

	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	trip, warning, err := svc.Create(ctx, "alex", tripInput(300, 400, 2))
	require.NoError(t, err)
	require.NotNil(t, warning)
	assert.Equal(t, int64(100), warning.Gap)

	stored, err := svc.Get(ctx, "alex", trip.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), stored.StartKm)
}

func TestService_Create_ContinuityViolation_NothingPersisted(t *testing.T) {
	// A rejected write must leave no trace, including the serial draw.

	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	_, _, err = svc.Create(ctx, "alex", tripInput(150, 250, 2))
	require.ErrorIs(t, err, ledger.ErrContinuityViolation)

	trips, err := svc.List(ctx, "alex", "veh-1", true)
	require.NoError(t, err)
	assert.Len(t, trips, 1)

	next, _, err := svc.Create(ctx, "alex", tripInput(200, 300, 4))
	require.NoError(t, err)
	assert.Equal(t, "T-00002", next.SerialNumber, "rolled-back serial draw should not leave a hole")
}

func TestService_Create_NegativeFuel_Rejected(t *testing.T) {
	mem := newMem()
	svc := newService(mem)

	in := tripInput(100, 200, 0)
	in.RefuelingDone = true
	in.FuelQuantity = liters("-3")

	_, _, err := svc.Create(context.Background(), "alex", in)
	assert.ErrorIs(t, err, ledger.ErrInvalidFuelQuantity)
}

func TestService_Create_FuelWithoutRefuelingFlag_Rejected(t *testing.T) {
	mem := newMem()
	svc := newService(mem)

	in := tripInput(100, 200, 0)
	in.FuelQuantity = liters("30")

	_, _, err := svc.Create(context.Background(), "alex", in)
	assert.ErrorIs(t, err, ledger.ErrInvalidFuelQuantity)
}

// =============================================================================
// UPDATE TESTS
// =============================================================================

func TestService_Update_SerialImmutable(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	trip, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	in := tripInput(100, 200, 0)
	in.SerialNumber = "T-09999"

	_, _, err = svc.Update(ctx, "alex", trip.ID, in)
	assert.ErrorIs(t, err, ledger.ErrSerialImmutable)
}

func TestService_Update_RederivesMileage(t *testing.T) {
	// GIVEN: A refueling trip stored with a derived mileage
	// WHEN: Its fuel quantity is edited
	// THEN: The stored mileage follows the edit

	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	in := tripInput(100, 500, 0)
	in.RefuelingDone = true
	in.FuelQuantity = liters("40")
	trip, _, err := svc.Create(ctx, "alex", in)
	require.NoError(t, err)

	in.FuelQuantity = liters("50")
	updated, _, err := svc.Update(ctx, "alex", trip.ID, in)
	require.NoError(t, err)
	require.NotNil(t, updated.CalculatedMileage)
	assert.True(t, updated.CalculatedMileage.Equal(decimal.RequireFromString("8")))
}

func TestService_Update_ClearingRefuelingFlag_ClearsMileage(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	in := tripInput(100, 500, 0)
	in.RefuelingDone = true
	in.FuelQuantity = liters("40")
	trip, _, err := svc.Create(ctx, "alex", in)
	require.NoError(t, err)

	plain := tripInput(100, 500, 0)
	updated, _, err := svc.Update(ctx, "alex", trip.ID, plain)
	require.NoError(t, err)
	assert.Nil(t, updated.CalculatedMileage)
}

func TestService_Update_SoftDeletedTrip_NotFound(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	trip, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	stored, err := mem.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	now := at(3)
	stored.DeletedAt = &now
	require.NoError(t, mem.UpdateTrip(ctx, *stored))

	_, _, err = svc.Update(ctx, "alex", trip.ID, tripInput(100, 250, 0))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestService_Update_ForeignTrip_NotFound(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	trip, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	_, _, err = svc.Update(ctx, "sam", trip.ID, tripInput(100, 250, 0))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// READ TESTS
// =============================================================================

func TestService_Get_ForeignTrip_NotFound(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	trip, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	_, err = svc.Get(ctx, "sam", trip.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestService_List_ChronologicalOrder(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	// Insert out of order; listing sorts by start time.
	_, _, err := svc.Create(ctx, "alex", tripInput(200, 300, 4))
	require.NoError(t, err)
	_, _, err = svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	trips, err := svc.List(ctx, "alex", "veh-1", false)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, int64(100), trips[0].StartKm)
	assert.Equal(t, int64(200), trips[1].StartKm)
}

func TestService_Corrections_ForeignTrip_NotFound(t *testing.T) {
	mem := newMem()
	svc := newService(mem)
	ctx := context.Background()

	trip, _, err := svc.Create(ctx, "alex", tripInput(100, 200, 0))
	require.NoError(t, err)

	_, err = svc.Corrections(ctx, "sam", trip.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
