// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetwright/trip-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	trips       map[ledger.TripID]ledger.Trip
	corrections map[ledger.TripID][]ledger.CorrectionRecord
	serials     map[ledger.ActorID]int
}

func NewMemory() *Memory {
	return &Memory{
		trips:       make(map[ledger.TripID]ledger.Trip),
		corrections: make(map[ledger.TripID][]ledger.CorrectionRecord),
		serials:     make(map[ledger.ActorID]int),
	}
}

func (m *Memory) InsertTrip(_ context.Context, t ledger.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(t)
}

func (m *Memory) UpdateTrip(_ context.Context, t ledger.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(t)
}

func (m *Memory) GetTrip(_ context.Context, id ledger.TripID) (*ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) HardDeleteTrip(_ context.Context, id ledger.TripID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.trips, id)
	return nil
}

func (m *Memory) ListTrips(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, includeDeleted bool) ([]ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(vehicleID, owner, includeDeleted), nil
}

func (m *Memory) PreviousTrip(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previousTripLocked(vehicleID, owner, before, excludeID), nil
}

func (m *Memory) PreviousRefueling(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previousRefuelingLocked(vehicleID, owner, before, excludeID), nil
}

func (m *Memory) TripsAfter(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, afterStart time.Time, afterID ledger.TripID, limit int) ([]ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tripsAfterLocked(vehicleID, owner, afterStart, afterID, limit), nil
}

func (m *Memory) CountDependents(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, after time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countDependentsLocked(vehicleID, owner, after), nil
}

func (m *Memory) NextSerial(_ context.Context, owner ledger.ActorID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSerialLocked(owner), nil
}

func (m *Memory) AppendCorrection(_ context.Context, rec ledger.CorrectionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCorrectionLocked(rec)
	return nil
}

func (m *Memory) CorrectionsForTrip(_ context.Context, id ledger.TripID) ([]ledger.CorrectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]ledger.CorrectionRecord, len(m.corrections[id]))
	copy(recs, m.corrections[id])
	return recs, nil
}

// =============================================================================
// LOCKED INTERNALS (shared with the transactional view)
// =============================================================================

func (m *Memory) insertLocked(t ledger.Trip) error {
	if _, exists := m.trips[t.ID]; exists {
		return fmt.Errorf("trip %s already exists", t.ID)
	}
	m.trips[t.ID] = t
	return nil
}

func (m *Memory) updateLocked(t ledger.Trip) error {
	if _, exists := m.trips[t.ID]; !exists {
		return fmt.Errorf("trip %s does not exist", t.ID)
	}
	m.trips[t.ID] = t
	return nil
}

func (m *Memory) getLocked(id ledger.TripID) *ledger.Trip {
	t, ok := m.trips[id]
	if !ok {
		return nil
	}
	return &t
}

func (m *Memory) listLocked(vehicleID ledger.VehicleID, owner ledger.ActorID, includeDeleted bool) []ledger.Trip {
	var trips []ledger.Trip
	for _, t := range m.trips {
		if t.VehicleID != vehicleID || t.CreatedBy != owner {
			continue
		}
		if t.Deleted() && !includeDeleted {
			continue
		}
		trips = append(trips, t)
	}
	sortByStartThenID(trips)
	return trips
}

func (m *Memory) previousTripLocked(vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) *ledger.Trip {
	var prev *ledger.Trip
	for id, t := range m.trips {
		if t.VehicleID != vehicleID || t.CreatedBy != owner || t.Deleted() || id == excludeID {
			continue
		}
		if !t.EndTime.Before(before) {
			continue
		}
		if prev == nil || t.EndTime.After(prev.EndTime) {
			tt := t
			prev = &tt
		}
	}
	return prev
}

func (m *Memory) previousRefuelingLocked(vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) *ledger.Trip {
	var prev *ledger.Trip
	for id, t := range m.trips {
		if t.VehicleID != vehicleID || t.CreatedBy != owner || t.Deleted() || id == excludeID {
			continue
		}
		if !t.RefuelingDone || !t.EndTime.Before(before) {
			continue
		}
		if prev == nil || t.EndTime.After(prev.EndTime) {
			tt := t
			prev = &tt
		}
	}
	return prev
}

func (m *Memory) tripsAfterLocked(vehicleID ledger.VehicleID, owner ledger.ActorID, afterStart time.Time, afterID ledger.TripID, limit int) []ledger.Trip {
	var trips []ledger.Trip
	for _, t := range m.trips {
		if t.VehicleID != vehicleID || t.CreatedBy != owner || t.Deleted() {
			continue
		}
		// Strictly after the (StartTime, ID) position.
		if t.StartTime.Before(afterStart) {
			continue
		}
		if t.StartTime.Equal(afterStart) && t.ID <= afterID {
			continue
		}
		trips = append(trips, t)
	}
	sortByStartThenID(trips)
	if limit > 0 && len(trips) > limit {
		trips = trips[:limit]
	}
	return trips
}

func (m *Memory) countDependentsLocked(vehicleID ledger.VehicleID, owner ledger.ActorID, after time.Time) int {
	count := 0
	for _, t := range m.trips {
		if t.VehicleID != vehicleID || t.CreatedBy != owner || t.Deleted() || t.RefuelingDone {
			continue
		}
		if t.StartTime.After(after) {
			count++
		}
	}
	return count
}

func (m *Memory) nextSerialLocked(owner ledger.ActorID) string {
	m.serials[owner]++
	return fmt.Sprintf("T-%05d", m.serials[owner])
}

func (m *Memory) appendCorrectionLocked(rec ledger.CorrectionRecord) {
	m.corrections[rec.TripID] = append(m.corrections[rec.TripID], rec)
}

func sortByStartThenID(trips []ledger.Trip) {
	sort.Slice(trips, func(i, j int) bool {
		if !trips[i].StartTime.Equal(trips[j].StartTime) {
			return trips[i].StartTime.Before(trips[j].StartTime)
		}
		return trips[i].ID < trips[j].ID
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	tripsCopy := make(map[ledger.TripID]ledger.Trip, len(tm.trips))
	for k, v := range tm.trips {
		tripsCopy[k] = v
	}
	corrCopy := make(map[ledger.TripID][]ledger.CorrectionRecord, len(tm.corrections))
	for k, v := range tm.corrections {
		corrCopy[k] = append([]ledger.CorrectionRecord{}, v...)
	}
	serialsCopy := make(map[ledger.ActorID]int, len(tm.serials))
	for k, v := range tm.serials {
		serialsCopy[k] = v
	}
	return memorySnapshot{trips: tripsCopy, corrections: corrCopy, serials: serialsCopy}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.trips = s.trips
	tm.corrections = s.corrections
	tm.serials = s.serials
}

type memorySnapshot struct {
	trips       map[ledger.TripID]ledger.Trip
	corrections map[ledger.TripID][]ledger.CorrectionRecord
	serials     map[ledger.ActorID]int
}

// txMemoryView routes Store calls to the parent's locked internals while
// WithTx holds the lock.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertTrip(_ context.Context, t ledger.Trip) error {
	return tv.parent.insertLocked(t)
}

func (tv *txMemoryView) UpdateTrip(_ context.Context, t ledger.Trip) error {
	return tv.parent.updateLocked(t)
}

func (tv *txMemoryView) GetTrip(_ context.Context, id ledger.TripID) (*ledger.Trip, error) {
	return tv.parent.getLocked(id), nil
}

func (tv *txMemoryView) HardDeleteTrip(_ context.Context, id ledger.TripID) error {
	delete(tv.parent.trips, id)
	return nil
}

func (tv *txMemoryView) ListTrips(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, includeDeleted bool) ([]ledger.Trip, error) {
	return tv.parent.listLocked(vehicleID, owner, includeDeleted), nil
}

func (tv *txMemoryView) PreviousTrip(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	return tv.parent.previousTripLocked(vehicleID, owner, before, excludeID), nil
}

func (tv *txMemoryView) PreviousRefueling(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	return tv.parent.previousRefuelingLocked(vehicleID, owner, before, excludeID), nil
}

func (tv *txMemoryView) TripsAfter(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, afterStart time.Time, afterID ledger.TripID, limit int) ([]ledger.Trip, error) {
	return tv.parent.tripsAfterLocked(vehicleID, owner, afterStart, afterID, limit), nil
}

func (tv *txMemoryView) CountDependents(_ context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, after time.Time) (int, error) {
	return tv.parent.countDependentsLocked(vehicleID, owner, after), nil
}

func (tv *txMemoryView) NextSerial(_ context.Context, owner ledger.ActorID) (string, error) {
	return tv.parent.nextSerialLocked(owner), nil
}

func (tv *txMemoryView) AppendCorrection(_ context.Context, rec ledger.CorrectionRecord) error {
	tv.parent.appendCorrectionLocked(rec)
	return nil
}

func (tv *txMemoryView) CorrectionsForTrip(_ context.Context, id ledger.TripID) ([]ledger.CorrectionRecord, error) {
	recs := make([]ledger.CorrectionRecord, len(tv.parent.corrections[id]))
	copy(recs, tv.parent.corrections[id])
	return recs, nil
}
