// Package store manages the SQLite database holding vehicles and reminders.
// It is the single source of truth: the timer registry is a derived cache
// rebuilt from here after every restart.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"carminder/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS vehicles (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    name            TEXT    NOT NULL,
    current_mileage INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reminders (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    vehicle_id        INTEGER NOT NULL REFERENCES vehicles(id) ON DELETE CASCADE,
    title             TEXT    NOT NULL,
    kind              TEXT    NOT NULL,
    target_date       TEXT    NOT NULL DEFAULT '',
    target_mileage    INTEGER,
    period_months     INTEGER,
    completed         INTEGER NOT NULL DEFAULT 0,
    completed_at      TEXT    NOT NULL DEFAULT '',
    completed_mileage INTEGER,
    created_at        TEXT    NOT NULL DEFAULT '',
    notify_days       TEXT    NOT NULL DEFAULT '',
    notify_km_before  INTEGER NOT NULL DEFAULT 500,
    note              TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reminders_vehicle ON reminders (vehicle_id, completed);
CREATE INDEX IF NOT EXISTS idx_reminders_active  ON reminders (completed);
`

// Store is the SQLite-backed repository for vehicles and reminders.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- vehicles ----------------------------------------------------------------

// UpsertVehicle inserts the vehicle when its ID is zero, otherwise updates the
// existing row. The ID field is set after insert.
func (s *Store) UpsertVehicle(ctx context.Context, v *model.Vehicle) error {
	if v.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO vehicles (name, current_mileage) VALUES (?, ?)`,
			v.Name, v.CurrentMileage)
		if err != nil {
			return fmt.Errorf("inserting vehicle %q: %w", v.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading vehicle id: %w", err)
		}
		v.ID = id
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE vehicles SET name = ?, current_mileage = ? WHERE id = ?`,
		v.Name, v.CurrentMileage, v.ID)
	if err != nil {
		return fmt.Errorf("updating vehicle %d: %w", v.ID, err)
	}
	return nil
}

// GetVehicle returns the vehicle with the given ID, or (nil, nil) if absent.
func (s *Store) GetVehicle(ctx context.Context, id int64) (*model.Vehicle, error) {
	var v model.Vehicle
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, current_mileage FROM vehicles WHERE id = ?`, id).
		Scan(&v.ID, &v.Name, &v.CurrentMileage)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading vehicle %d: %w", id, err)
	}
	return &v, nil
}

// ListVehicles returns every vehicle ordered by ID.
func (s *Store) ListVehicles(ctx context.Context) ([]*model.Vehicle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, current_mileage FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing vehicles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vehicles []*model.Vehicle
	for rows.Next() {
		var v model.Vehicle
		if err := rows.Scan(&v.ID, &v.Name, &v.CurrentMileage); err != nil {
			return nil, fmt.Errorf("scanning vehicle row: %w", err)
		}
		vehicles = append(vehicles, &v)
	}
	return vehicles, rows.Err()
}

// CurrentMileage returns the vehicle's odometer reading.
func (s *Store) CurrentMileage(ctx context.Context, vehicleID int64) (int, error) {
	var km int
	err := s.db.QueryRowContext(ctx,
		`SELECT current_mileage FROM vehicles WHERE id = ?`, vehicleID).Scan(&km)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("vehicle %d not found", vehicleID)
	}
	if err != nil {
		return 0, fmt.Errorf("reading mileage for vehicle %d: %w", vehicleID, err)
	}
	return km, nil
}

// SetMileage records a new odometer reading for the vehicle.
func (s *Store) SetMileage(ctx context.Context, vehicleID int64, km int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vehicles SET current_mileage = ? WHERE id = ?`, km, vehicleID)
	if err != nil {
		return fmt.Errorf("updating mileage for vehicle %d: %w", vehicleID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("vehicle %d not found", vehicleID)
	}
	return nil
}

// --- reminders ---------------------------------------------------------------

const reminderColumns = `
	id, vehicle_id, title, kind, target_date, target_mileage, period_months,
	completed, completed_at, completed_mileage, created_at, notify_days,
	notify_km_before, note`

// Insert stores a new reminder and sets its ID.
func (s *Store) Insert(ctx context.Context, r *model.Reminder) error {
	const q = `
		INSERT INTO reminders
		    (vehicle_id, title, kind, target_date, target_mileage, period_months,
		     completed, completed_at, completed_mileage, created_at, notify_days,
		     notify_km_before, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, q,
		r.VehicleID,
		r.Title,
		r.Kind.String(),
		formatTimePtr(r.TargetDate),
		nullInt(r.TargetMileage),
		nullInt(r.PeriodMonths),
		r.Completed,
		formatTimePtr(r.CompletedAt),
		nullInt(r.CompletedMileage),
		formatTime(r.CreatedAt),
		model.FormatLeadDays(r.NotifyDaysBefore),
		r.NotifyKmBefore,
		r.Note,
	)
	if err != nil {
		return fmt.Errorf("inserting reminder %q: %w", r.Title, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading reminder id: %w", err)
	}
	r.ID = id
	return nil
}

// Update rewrites every mutable field of the reminder.
func (s *Store) Update(ctx context.Context, r *model.Reminder) error {
	const q = `
		UPDATE reminders SET
		    vehicle_id = ?, title = ?, kind = ?, target_date = ?,
		    target_mileage = ?, period_months = ?, completed = ?,
		    completed_at = ?, completed_mileage = ?, notify_days = ?,
		    notify_km_before = ?, note = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, q,
		r.VehicleID,
		r.Title,
		r.Kind.String(),
		formatTimePtr(r.TargetDate),
		nullInt(r.TargetMileage),
		nullInt(r.PeriodMonths),
		r.Completed,
		formatTimePtr(r.CompletedAt),
		nullInt(r.CompletedMileage),
		model.FormatLeadDays(r.NotifyDaysBefore),
		r.NotifyKmBefore,
		r.Note,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating reminder %d: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reminder %d not found", r.ID)
	}
	return nil
}

// Delete removes the reminder with the given ID. Deleting a missing reminder
// is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting reminder %d: %w", id, err)
	}
	return nil
}

// Get returns the reminder with the given ID, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id int64) (*model.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	return scanReminder(row)
}

// ListActive returns the non-completed reminders for one vehicle, soonest
// target date first.
func (s *Store) ListActive(ctx context.Context, vehicleID int64) ([]*model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE vehicle_id = ? AND completed = 0
		 ORDER BY target_date ASC, id ASC`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("listing active reminders for vehicle %d: %w", vehicleID, err)
	}
	return collectReminders(rows)
}

// ListAllActive returns every non-completed reminder across all vehicles.
// The recovery pass uses this to rebuild the timer registry.
func (s *Store) ListAllActive(ctx context.Context) ([]*model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE completed = 0
		 ORDER BY vehicle_id ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing active reminders: %w", err)
	}
	return collectReminders(rows)
}

// ListCompleted returns the completed reminders for one vehicle, most recently
// completed first.
func (s *Store) ListCompleted(ctx context.Context, vehicleID int64) ([]*model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE vehicle_id = ? AND completed = 1
		 ORDER BY completed_at DESC, id DESC`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("listing completed reminders for vehicle %d: %w", vehicleID, err)
	}
	return collectReminders(rows)
}

// MarkCompleted sets the terminal completion state. The completed-at fields
// are written only on the open→completed transition; a second call is a no-op.
func (s *Store) MarkCompleted(ctx context.Context, id int64, at time.Time, mileage int) error {
	const q = `
		UPDATE reminders
		SET completed = 1, completed_at = ?, completed_mileage = ?
		WHERE id = ? AND completed = 0`
	if _, err := s.db.ExecContext(ctx, q, formatTime(at), mileage, id); err != nil {
		return fmt.Errorf("completing reminder %d: %w", id, err)
	}
	return nil
}

// Postpone moves the reminder's target date.
func (s *Store) Postpone(ctx context.Context, id int64, newDate time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET target_date = ? WHERE id = ?`, formatTime(newDate), id)
	if err != nil {
		return fmt.Errorf("postponing reminder %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reminder %d not found", id)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanReminder can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(sc scanner) (*model.Reminder, error) {
	var (
		r                         model.Reminder
		kind                      string
		targetDate, completedAt   string
		createdAt, notifyDays     string
		targetKm, periodM, compKm sql.NullInt64
	)

	err := sc.Scan(
		&r.ID,
		&r.VehicleID,
		&r.Title,
		&kind,
		&targetDate,
		&targetKm,
		&periodM,
		&r.Completed,
		&completedAt,
		&compKm,
		&createdAt,
		&notifyDays,
		&r.NotifyKmBefore,
		&r.Note,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reminder row: %w", err)
	}

	r.Kind, err = model.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}
	r.TargetDate, err = parseTimePtr(targetDate)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: bad target date: %w", r.ID, err)
	}
	r.CompletedAt, err = parseTimePtr(completedAt)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: bad completed date: %w", r.ID, err)
	}
	r.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: bad created date: %w", r.ID, err)
	}
	r.TargetMileage = intPtr(targetKm)
	r.PeriodMonths = intPtr(periodM)
	r.CompletedMileage = intPtr(compKm)
	r.NotifyDaysBefore, err = model.ParseLeadDays(notifyDays)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", r.ID, err)
	}

	return &r, nil
}

func collectReminders(rows *sql.Rows) ([]*model.Reminder, error) {
	defer func() { _ = rows.Close() }()

	var reminders []*model.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s string) (*time.Time, error) {
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return nil, nil
	}
	local := t.Local()
	return &local, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
