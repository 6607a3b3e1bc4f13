package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fleetwright/trip-ledger/ledger"
	memstore "github.com/fleetwright/trip-ledger/ledger/store"
)

// =============================================================================
// TEST FIXTURES - Shared across the package tests
// =============================================================================

var baseTime = time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)

// at returns baseTime shifted by the given number of hours.
func at(hours int) time.Time {
	return baseTime.Add(time.Duration(hours) * time.Hour)
}

func liters(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// mkTrip builds a persisted-shape trip. Start/end times are hour offsets
// from baseTime; each trip spans one hour.
func mkTrip(id, serial string, startKm, endKm int64, startHour int) ledger.Trip {
	return ledger.Trip{
		ID:           ledger.TripID(id),
		VehicleID:    "veh-1",
		SerialNumber: serial,
		StartKm:      startKm,
		EndKm:        endKm,
		StartTime:    at(startHour),
		EndTime:      at(startHour + 1),
		CreatedBy:    "alex",
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}
}

func refuelTrip(id, serial string, startKm, endKm int64, startHour int, fuel string) ledger.Trip {
	t := mkTrip(id, serial, startKm, endKm, startHour)
	t.RefuelingDone = true
	t.FuelQuantity = liters(fuel)
	return t
}

func seed(t *testing.T, store ledger.Store, trips ...ledger.Trip) {
	t.Helper()
	for _, trip := range trips {
		require.NoError(t, store.InsertTrip(context.Background(), trip))
	}
}

func newMem() *memstore.TxMemory {
	return memstore.NewTxMemory()
}
