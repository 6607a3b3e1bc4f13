/*
Package sqlite provides a SQLite-backed implementation of the ledger storage
interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  trips:       The odometer ledger, one row per trip, soft-delete markers
  corrections: Append-only audit trail of correction operations
  serials:     Per-owner serial number counters

INDEXES:
  idx_trips_partition_start: (StartTime, ID) ordered walks (cascade hot path)
  idx_trips_partition_end:   Previous-trip lookups for continuity/mileage
  idx_trips_owner_serial:    Serial uniqueness per owner

APPEND-ONLY ENFORCEMENT:
  The corrections table has no UPDATE or DELETE statements anywhere in
  this package. Trips are mutable, but hard deletion goes through
  exactly one statement, reached only via the deletion guard.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within the process, and WAL mode
  for crash recovery and reader/writer separation. Lock contention
  reported by SQLite (SQLITE_BUSY) is mapped to ledger.ErrRetryable so
  the cascade engine's callers know to retry the whole operation.

USAGE:
  store, err := sqlite.New("./data/trips.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewTripService(store, ledger.DefaultConfig(), logger)

SEE ALSO:
  - ledger/store.go: Interface definitions and ordering contract
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fleetwright/trip-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite is single-writer anyway, and ":memory:"
	// databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Trips (the odometer ledger)
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		start_km INTEGER NOT NULL,
		end_km INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		refueling_done BOOLEAN NOT NULL DEFAULT 0,
		fuel_quantity TEXT,
		calculated_mileage TEXT,
		deleted_at TEXT,
		deletion_reason TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Serial numbers are unique per owner and immutable once assigned
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trips_owner_serial
		ON trips(created_by, serial_number);

	-- Ordered partition walks: cascade, listing (hot path)
	CREATE INDEX IF NOT EXISTS idx_trips_partition_start
		ON trips(vehicle_id, created_by, start_time, id);

	-- Previous-trip lookups for continuity and tank-to-tank mileage
	CREATE INDEX IF NOT EXISTS idx_trips_partition_end
		ON trips(vehicle_id, created_by, end_time)
		WHERE deleted_at IS NULL;

	-- Correction records (append-only audit trail)
	CREATE TABLE IF NOT EXISTS corrections (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		field_name TEXT NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		reason TEXT,
		affects_subsequent BOOLEAN NOT NULL DEFAULT 0,
		corrected_by TEXT NOT NULL,
		corrected_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_corrections_trip
		ON corrections(trip_id);

	-- Per-owner serial counters
	CREATE TABLE IF NOT EXISTS serials (
		owner TEXT PRIMARY KEY,
		next INTEGER NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier abstracts *sql.DB and *sql.Tx so every statement can run either
// standalone or inside WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRIP STORE (ledger.Store interface)
// =============================================================================

const tripColumns = `id, vehicle_id, serial_number, start_km, end_km, start_time, end_time,
	refueling_done, fuel_quantity, calculated_mileage, deleted_at, deletion_reason,
	created_by, created_at, updated_at`

func (s *Store) InsertTrip(ctx context.Context, t ledger.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTrip(ctx, s.db, t)
}

func (s *Store) insertTrip(ctx context.Context, q querier, t ledger.Trip) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		t.ID,
		t.VehicleID,
		t.SerialNumber,
		t.StartKm,
		t.EndKm,
		t.StartTime.UTC().Format(time.RFC3339),
		t.EndTime.UTC().Format(time.RFC3339),
		t.RefuelingDone,
		nullDecimal(t.FuelQuantity),
		nullDecimal(t.CalculatedMileage),
		nullTime(t.DeletedAt),
		nullString(t.DeletionReason),
		t.CreatedBy,
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", mapBusy(err))
	}
	return nil
}

func (s *Store) UpdateTrip(ctx context.Context, t ledger.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTrip(ctx, s.db, t)
}

func (s *Store) updateTrip(ctx context.Context, q querier, t ledger.Trip) error {
	query := `
		UPDATE trips SET
			vehicle_id = ?, serial_number = ?, start_km = ?, end_km = ?,
			start_time = ?, end_time = ?, refueling_done = ?, fuel_quantity = ?,
			calculated_mileage = ?, deleted_at = ?, deletion_reason = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := q.ExecContext(ctx, query,
		t.VehicleID,
		t.SerialNumber,
		t.StartKm,
		t.EndKm,
		t.StartTime.UTC().Format(time.RFC3339),
		t.EndTime.UTC().Format(time.RFC3339),
		t.RefuelingDone,
		nullDecimal(t.FuelQuantity),
		nullDecimal(t.CalculatedMileage),
		nullTime(t.DeletedAt),
		nullString(t.DeletionReason),
		t.UpdatedAt.UTC().Format(time.RFC3339),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trip: %w", mapBusy(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trip %s does not exist", t.ID)
	}
	return nil
}

func (s *Store) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTrip(ctx, s.db, id)
}

func (s *Store) getTrip(ctx context.Context, q querier, id ledger.TripID) (*ledger.Trip, error) {
	trips, err := s.queryTrips(ctx, q, `SELECT `+tripColumns+` FROM trips WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, nil
	}
	return &trips[0], nil
}

func (s *Store) HardDeleteTrip(ctx context.Context, id ledger.TripID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hardDeleteTrip(ctx, s.db, id)
}

func (s *Store) hardDeleteTrip(ctx context.Context, q querier, id ledger.TripID) error {
	_, err := q.ExecContext(ctx, "DELETE FROM trips WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete trip: %w", mapBusy(err))
	}
	return nil
}

func (s *Store) ListTrips(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, includeDeleted bool) ([]ledger.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTrips(ctx, s.db, vehicleID, owner, includeDeleted)
}

func (s *Store) listTrips(ctx context.Context, q querier, vehicleID ledger.VehicleID, owner ledger.ActorID, includeDeleted bool) ([]ledger.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE vehicle_id = ? AND created_by = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY start_time ASC, id ASC`

	return s.queryTrips(ctx, q, query, vehicleID, owner)
}

func (s *Store) PreviousTrip(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previousTrip(ctx, s.db, vehicleID, owner, before, excludeID)
}

func (s *Store) previousTrip(ctx context.Context, q querier, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	query := `
		SELECT ` + tripColumns + ` FROM trips
		WHERE vehicle_id = ? AND created_by = ? AND deleted_at IS NULL
		  AND end_time < ? AND id != ?
		ORDER BY end_time DESC, id DESC
		LIMIT 1
	`

	trips, err := s.queryTrips(ctx, q, query, vehicleID, owner, before.UTC().Format(time.RFC3339), excludeID)
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, nil
	}
	return &trips[0], nil
}

func (s *Store) PreviousRefueling(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previousRefueling(ctx, s.db, vehicleID, owner, before, excludeID)
}

func (s *Store) previousRefueling(ctx context.Context, q querier, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	query := `
		SELECT ` + tripColumns + ` FROM trips
		WHERE vehicle_id = ? AND created_by = ? AND deleted_at IS NULL
		  AND refueling_done = 1 AND end_time < ? AND id != ?
		ORDER BY end_time DESC, id DESC
		LIMIT 1
	`

	trips, err := s.queryTrips(ctx, q, query, vehicleID, owner, before.UTC().Format(time.RFC3339), excludeID)
	if err != nil {
		return nil, err
	}
	if len(trips) == 0 {
		return nil, nil
	}
	return &trips[0], nil
}

func (s *Store) TripsAfter(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, afterStart time.Time, afterID ledger.TripID, limit int) ([]ledger.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tripsAfter(ctx, s.db, vehicleID, owner, afterStart, afterID, limit)
}

func (s *Store) tripsAfter(ctx context.Context, q querier, vehicleID ledger.VehicleID, owner ledger.ActorID, afterStart time.Time, afterID ledger.TripID, limit int) ([]ledger.Trip, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unbounded
	}

	query := `
		SELECT ` + tripColumns + ` FROM trips
		WHERE vehicle_id = ? AND created_by = ? AND deleted_at IS NULL
		  AND (start_time > ? OR (start_time = ? AND id > ?))
		ORDER BY start_time ASC, id ASC
		LIMIT ?
	`

	start := afterStart.UTC().Format(time.RFC3339)
	return s.queryTrips(ctx, q, query, vehicleID, owner, start, start, afterID, limit)
}

func (s *Store) CountDependents(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, after time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countDependents(ctx, s.db, vehicleID, owner, after)
}

func (s *Store) countDependents(ctx context.Context, q querier, vehicleID ledger.VehicleID, owner ledger.ActorID, after time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM trips
		WHERE vehicle_id = ? AND created_by = ? AND deleted_at IS NULL
		  AND refueling_done = 0 AND start_time > ?
	`

	var count int
	err := q.QueryRowContext(ctx, query, vehicleID, owner, after.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dependents: %w", mapBusy(err))
	}
	return count, nil
}

func (s *Store) NextSerial(ctx context.Context, owner ledger.ActorID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSerial(ctx, s.db, owner)
}

func (s *Store) nextSerial(ctx context.Context, q querier, owner ledger.ActorID) (string, error) {
	var next int
	err := q.QueryRowContext(ctx, "SELECT next FROM serials WHERE owner = ?", owner).Scan(&next)
	switch {
	case err == sql.ErrNoRows:
		next = 1
		if _, err := q.ExecContext(ctx, "INSERT INTO serials (owner, next) VALUES (?, 2)", owner); err != nil {
			return "", fmt.Errorf("failed to init serial counter: %w", mapBusy(err))
		}
	case err != nil:
		return "", fmt.Errorf("failed to read serial counter: %w", mapBusy(err))
	default:
		if _, err := q.ExecContext(ctx, "UPDATE serials SET next = next + 1 WHERE owner = ?", owner); err != nil {
			return "", fmt.Errorf("failed to advance serial counter: %w", mapBusy(err))
		}
	}
	return fmt.Sprintf("T-%05d", next), nil
}

func (s *Store) AppendCorrection(ctx context.Context, rec ledger.CorrectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCorrection(ctx, s.db, rec)
}

func (s *Store) appendCorrection(ctx context.Context, q querier, rec ledger.CorrectionRecord) error {
	query := `
		INSERT INTO corrections
		(id, trip_id, field_name, old_value, new_value, reason, affects_subsequent, corrected_by, corrected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		rec.ID,
		rec.TripID,
		rec.Field,
		rec.OldValue,
		rec.NewValue,
		rec.Reason,
		rec.AffectsSubsequentTrips,
		rec.CorrectedBy,
		rec.CorrectedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append correction: %w", mapBusy(err))
	}
	return nil
}

func (s *Store) CorrectionsForTrip(ctx context.Context, id ledger.TripID) ([]ledger.CorrectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.correctionsForTrip(ctx, s.db, id)
}

func (s *Store) correctionsForTrip(ctx context.Context, q querier, id ledger.TripID) ([]ledger.CorrectionRecord, error) {
	query := `
		SELECT id, trip_id, field_name, old_value, new_value, reason,
		       affects_subsequent, corrected_by, corrected_at
		FROM corrections
		WHERE trip_id = ?
		ORDER BY rowid ASC
	`

	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", mapBusy(err))
	}
	defer rows.Close()

	var records []ledger.CorrectionRecord
	for rows.Next() {
		var (
			rec         ledger.CorrectionRecord
			reason      sql.NullString
			correctedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.TripID, &rec.Field, &rec.OldValue, &rec.NewValue,
			&reason, &rec.AffectsSubsequentTrips, &rec.CorrectedBy, &correctedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		rec.Reason = reason.String
		rec.CorrectedAt, _ = time.Parse(time.RFC3339, correctedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) queryTrips(ctx context.Context, q querier, query string, args ...any) ([]ledger.Trip, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", mapBusy(err))
	}
	defer rows.Close()

	var trips []ledger.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func scanTrip(rows *sql.Rows) (ledger.Trip, error) {
	var (
		t              ledger.Trip
		startTime      string
		endTime        string
		fuelQuantity   sql.NullString
		mileage        sql.NullString
		deletedAt      sql.NullString
		deletionReason sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := rows.Scan(
		&t.ID, &t.VehicleID, &t.SerialNumber, &t.StartKm, &t.EndKm,
		&startTime, &endTime, &t.RefuelingDone, &fuelQuantity, &mileage,
		&deletedAt, &deletionReason, &t.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan trip: %w", err)
	}

	t.StartTime, _ = time.Parse(time.RFC3339, startTime)
	t.EndTime, _ = time.Parse(time.RFC3339, endTime)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	t.FuelQuantity = parseDecimal(fuelQuantity)
	t.CalculatedMileage = parseDecimal(mileage)
	if deletedAt.Valid {
		d, _ := time.Parse(time.RFC3339, deletedAt.String)
		t.DeletedAt = &d
	}
	t.DeletionReason = deletionReason.String

	return t, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. Contention
// failures surface as ledger.ErrRetryable.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapBusy(err))
	}
	defer sqlTx.Rollback()

	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapBusy(err))
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) InsertTrip(ctx context.Context, t ledger.Trip) error {
	return ts.parent.insertTrip(ctx, ts.tx, t)
}

func (ts *txStore) UpdateTrip(ctx context.Context, t ledger.Trip) error {
	return ts.parent.updateTrip(ctx, ts.tx, t)
}

func (ts *txStore) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	return ts.parent.getTrip(ctx, ts.tx, id)
}

func (ts *txStore) HardDeleteTrip(ctx context.Context, id ledger.TripID) error {
	return ts.parent.hardDeleteTrip(ctx, ts.tx, id)
}

func (ts *txStore) ListTrips(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, includeDeleted bool) ([]ledger.Trip, error) {
	return ts.parent.listTrips(ctx, ts.tx, vehicleID, owner, includeDeleted)
}

func (ts *txStore) PreviousTrip(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	return ts.parent.previousTrip(ctx, ts.tx, vehicleID, owner, before, excludeID)
}

func (ts *txStore) PreviousRefueling(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, before time.Time, excludeID ledger.TripID) (*ledger.Trip, error) {
	return ts.parent.previousRefueling(ctx, ts.tx, vehicleID, owner, before, excludeID)
}

func (ts *txStore) TripsAfter(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, afterStart time.Time, afterID ledger.TripID, limit int) ([]ledger.Trip, error) {
	return ts.parent.tripsAfter(ctx, ts.tx, vehicleID, owner, afterStart, afterID, limit)
}

func (ts *txStore) CountDependents(ctx context.Context, vehicleID ledger.VehicleID, owner ledger.ActorID, after time.Time) (int, error) {
	return ts.parent.countDependents(ctx, ts.tx, vehicleID, owner, after)
}

func (ts *txStore) NextSerial(ctx context.Context, owner ledger.ActorID) (string, error) {
	return ts.parent.nextSerial(ctx, ts.tx, owner)
}

func (ts *txStore) AppendCorrection(ctx context.Context, rec ledger.CorrectionRecord) error {
	return ts.parent.appendCorrection(ctx, ts.tx, rec)
}

func (ts *txStore) CorrectionsForTrip(ctx context.Context, id ledger.TripID) ([]ledger.CorrectionRecord, error) {
	return ts.parent.correctionsForTrip(ctx, ts.tx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

// mapBusy maps SQLite lock contention to the retryable error class.
func mapBusy(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", ledger.ErrRetryable, err)
	}
	return err
}
