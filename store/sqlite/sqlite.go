/*
Package sqlite provides a SQLite-backed FlightRepository and LayoutSink.

PURPOSE:
  Holds the flight data a loading session is built from (flight header,
  load unit manifest, slot table with pinned assignments) and stores the
  layouts produced by the exact optimizer. In production, the same schema
  applies to PostgreSQL with minor dialect differences.

INTERFACES IMPLEMENTED:
  loadplan.FlightRepository: FindFlight / Units / Slots
  loadplan.LayoutSink:       SaveLayout

KEY TABLES:
  flights:             Flight header (code, optional target CG)
  uld_manifest:        Load units per flight
  positions:           Slots per flight, including pinned assignments
  optimization_layout: Unit->slot rows written per optimization job

WEIGHTS:
  Weights are stored as exact decimal TEXT (shopspring/decimal) so a value
  read back is the value written. Coordinates stay REAL.

ORDERING:
  Units and slots are returned in insertion order. The heuristic and the
  exact model iterate slots in that order, so a reload yields the same
  layouts.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of database/sql.

USAGE:
  store, err := sqlite.New("./data/loadplan.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  session := loadplan.NewSession(store, optimizer, loadplan.WithLayoutSink(store))

SEE ALSO:
  - loadplan/repository.go: Interface definitions
  - loadplan/store/memory.go: In-memory implementation for testing
  - factory/: Snapshot documents used for seeding
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/load-engine/loadplan"
)

// ErrLayoutNotFound is returned by Layout when no rows exist for a job id.
var ErrLayoutNotFound = errors.New("layout not found")

// Store implements loadplan.FlightRepository and loadplan.LayoutSink.
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
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

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
	CREATE TABLE IF NOT EXISTS flights (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		target_cg TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS uld_manifest (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		flight_id INTEGER NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
		uld_id TEXT NOT NULL,
		weight TEXT NOT NULL,
		volume TEXT NOT NULL DEFAULT '0',
		priority INTEGER NOT NULL DEFAULT 0,
		uld_type TEXT NOT NULL DEFAULT '',
		UNIQUE (flight_id, uld_id)
	);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		flight_id INTEGER NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
		position_id TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		max_weight TEXT NOT NULL,
		assigned_uld TEXT,
		fixed INTEGER NOT NULL DEFAULT 0,
		UNIQUE (flight_id, position_id)
	);

	CREATE TABLE IF NOT EXISTS optimization_layout (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		flight_id INTEGER NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
		job_id TEXT NOT NULL,
		uld_id TEXT NOT NULL,
		position_id TEXT NOT NULL,
		weight TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path: manifest and slot table by flight
	CREATE INDEX IF NOT EXISTS idx_uld_manifest_flight
		ON uld_manifest(flight_id);
	CREATE INDEX IF NOT EXISTS idx_positions_flight
		ON positions(flight_id);

	-- Layout lookups by job and by flight
	CREATE INDEX IF NOT EXISTS idx_optimization_layout_job
		ON optimization_layout(job_id);
	CREATE INDEX IF NOT EXISTS idx_optimization_layout_flight
		ON optimization_layout(flight_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// FLIGHT REPOSITORY (loadplan.FlightRepository interface)
// =============================================================================

// FindFlight resolves a flight code. The code is matched exactly; callers
// normalize it first.
func (s *Store) FindFlight(ctx context.Context, code string) (loadplan.Flight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		f      loadplan.Flight
		target sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, code, target_cg FROM flights WHERE code = ?", code,
	).Scan(&f.ID, &f.Code, &target)
	if errors.Is(err, sql.ErrNoRows) {
		return loadplan.Flight{}, fmt.Errorf("%w: %s", loadplan.ErrFlightNotFound, code)
	}
	if err != nil {
		return loadplan.Flight{}, fmt.Errorf("failed to query flight: %w", err)
	}

	if target.Valid {
		v, err := parseDecimal(target.String)
		if err != nil {
			return loadplan.Flight{}, fmt.Errorf("flight %s: target_cg: %w", code, err)
		}
		f.TargetCG = &v
	}
	return f, nil
}

// Units returns the load unit manifest of a flight.
func (s *Store) Units(ctx context.Context, flightID loadplan.FlightID) ([]loadplan.LoadUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT uld_id, weight, volume, priority, uld_type
		FROM uld_manifest
		WHERE flight_id = ?
		ORDER BY id ASC
	`, flightID)
	if err != nil {
		return nil, fmt.Errorf("failed to query manifest: %w", err)
	}
	defer rows.Close()

	var units []loadplan.LoadUnit
	for rows.Next() {
		var (
			u              loadplan.LoadUnit
			weight, volume string
			uldType        string
		)
		if err := rows.Scan(&u.ID, &weight, &volume, &u.Priority, &uldType); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		if u.Weight, err = parseDecimal(weight); err != nil {
			return nil, fmt.Errorf("unit %s: weight: %w", u.ID, err)
		}
		if u.Volume, err = parseDecimal(volume); err != nil {
			return nil, fmt.Errorf("unit %s: volume: %w", u.ID, err)
		}
		u.Type = loadplan.UnitType(uldType)
		units = append(units, u)
	}
	return units, rows.Err()
}

// Slots returns the slot table of a flight. CurrentWeight is left zero; the
// State derives it from the assignments.
func (s *Store) Slots(ctx context.Context, flightID loadplan.FlightID) ([]loadplan.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, x, y, max_weight, assigned_uld, fixed
		FROM positions
		WHERE flight_id = ?
		ORDER BY id ASC
	`, flightID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var slots []loadplan.Slot
	for rows.Next() {
		var (
			sl        loadplan.Slot
			maxWeight string
			assigned  sql.NullString
		)
		if err := rows.Scan(&sl.ID, &sl.X, &sl.Y, &maxWeight, &assigned, &sl.Fixed); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if sl.MaxWeight, err = parseDecimal(maxWeight); err != nil {
			return nil, fmt.Errorf("position %s: max_weight: %w", sl.ID, err)
		}
		sl.AssignedUnit = loadplan.UnitID(assigned.String)
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

// =============================================================================
// FLIGHT WRITES
// =============================================================================

// SaveFlight stores a snapshot under its flight code, replacing any manifest
// and slot table already stored for that code. The flight keeps its id when
// it already exists. Returns the stored flight.
func (s *Store) SaveFlight(ctx context.Context, snap loadplan.Snapshot) (loadplan.Flight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return loadplan.Flight{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	flight, err := s.saveFlightTx(ctx, tx, snap)
	if err != nil {
		return loadplan.Flight{}, err
	}
	if err := tx.Commit(); err != nil {
		return loadplan.Flight{}, fmt.Errorf("failed to commit flight %s: %w", snap.Flight.Code, err)
	}
	return flight, nil
}

// Seed stores every snapshot whose flight code is not present yet and
// returns the codes it inserted. Flights already stored are left alone.
func (s *Store) Seed(ctx context.Context, snaps []loadplan.Snapshot) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted []string
	for _, snap := range snaps {
		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM flights WHERE code = ?", snap.Flight.Code,
		).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to check flight %s: %w", snap.Flight.Code, err)
		}
		if n > 0 {
			continue
		}
		if _, err := s.saveFlightTx(ctx, tx, snap); err != nil {
			return nil, err
		}
		inserted = append(inserted, snap.Flight.Code)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit seed: %w", err)
	}
	return inserted, nil
}

func (s *Store) saveFlightTx(ctx context.Context, tx *sql.Tx, snap loadplan.Snapshot) (loadplan.Flight, error) {
	flight := snap.Flight
	if strings.TrimSpace(flight.Code) == "" {
		return loadplan.Flight{}, errors.New("flight code is required")
	}

	var target sql.NullString
	if flight.TargetCG != nil {
		target = sql.NullString{String: formatDecimal(*flight.TargetCG), Valid: true}
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO flights (code, target_cg, created_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET target_cg = excluded.target_cg
		RETURNING id
	`, flight.Code, target, time.Now().UTC().Format(time.RFC3339)).Scan(&flight.ID)
	if err != nil {
		return loadplan.Flight{}, fmt.Errorf("failed to save flight %s: %w", flight.Code, err)
	}

	for _, table := range []string{"uld_manifest", "positions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE flight_id = ?", flight.ID); err != nil {
			return loadplan.Flight{}, fmt.Errorf("failed to clear %s for %s: %w", table, flight.Code, err)
		}
	}

	for _, u := range snap.Units {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO uld_manifest (flight_id, uld_id, weight, volume, priority, uld_type)
			VALUES (?, ?, ?, ?, ?, ?)
		`, flight.ID, u.ID, formatDecimal(u.Weight), formatDecimal(u.Volume), u.Priority, string(u.Type))
		if err != nil {
			if isUniqueConstraintError(err) {
				return loadplan.Flight{}, fmt.Errorf("flight %s: duplicate unit %s", flight.Code, u.ID)
			}
			return loadplan.Flight{}, fmt.Errorf("failed to insert unit %s: %w", u.ID, err)
		}
	}

	for _, sl := range snap.Slots {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (flight_id, position_id, x, y, max_weight, assigned_uld, fixed)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, flight.ID, sl.ID, sl.X, sl.Y, formatDecimal(sl.MaxWeight), nullString(string(sl.AssignedUnit)), sl.Fixed)
		if err != nil {
			if isUniqueConstraintError(err) {
				return loadplan.Flight{}, fmt.Errorf("flight %s: duplicate slot %s", flight.Code, sl.ID)
			}
			return loadplan.Flight{}, fmt.Errorf("failed to insert slot %s: %w", sl.ID, err)
		}
	}

	return flight, nil
}

// =============================================================================
// LAYOUT SINK (loadplan.LayoutSink interface)
// =============================================================================

// SaveLayout writes all rows of one optimization job atomically.
func (s *Store) SaveLayout(ctx context.Context, flightID loadplan.FlightID, jobID string, items []loadplan.LayoutItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, it := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO optimization_layout (flight_id, job_id, uld_id, position_id, weight, x, y, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, flightID, jobID, it.UnitID, it.SlotID, formatDecimal(it.Weight), it.X, it.Y, now)
		if err != nil {
			return fmt.Errorf("failed to insert layout row %s/%s: %w", it.UnitID, it.SlotID, err)
		}
	}

	return tx.Commit()
}

// Layout returns the flight and rows stored for an optimization job.
func (s *Store) Layout(ctx context.Context, jobID string) (loadplan.FlightID, []loadplan.LayoutItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT flight_id, uld_id, position_id, weight, x, y
		FROM optimization_layout
		WHERE job_id = ?
		ORDER BY id ASC
	`, jobID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query layout: %w", err)
	}
	defer rows.Close()

	var (
		flightID loadplan.FlightID
		items    []loadplan.LayoutItem
	)
	for rows.Next() {
		var (
			it     loadplan.LayoutItem
			weight string
		)
		if err := rows.Scan(&flightID, &it.UnitID, &it.SlotID, &weight, &it.X, &it.Y); err != nil {
			return 0, nil, fmt.Errorf("failed to scan layout row: %w", err)
		}
		if it.Weight, err = parseDecimal(weight); err != nil {
			return 0, nil, fmt.Errorf("layout row %s: weight: %w", it.UnitID, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}
	if len(items) == 0 {
		return 0, nil, fmt.Errorf("%w: %s", ErrLayoutNotFound, jobID)
	}
	return flightID, items, nil
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

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseDecimal(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
