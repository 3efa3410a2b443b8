package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"netinventory/internal/domain"
)

// Repository implements repository.Store using SQLite
type Repository struct {
	db *sql.DB
}

// New opens (and creates if needed) the database at dbPath and migrates the
// schema. ":memory:" gives a private in-memory database.
func New(dbPath string) (*Repository, error) {
	memory := dbPath == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	if !memory {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	dsn := dbPath + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: a single database
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

// addedColumns are columns missing from databases created by the earlier
// Flask-based registry, which only had ip..site.
var addedColumns = []struct{ name, def string }{
	{"missed_scans", "INTEGER NOT NULL DEFAULT 0"},
	{"notes", "TEXT"},
	{"created_at", "TEXT"},
	{"updated_at", "TEXT"},
}

func (r *Repository) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ip TEXT NOT NULL,
			hostname TEXT,
			status TEXT NOT NULL,
			last_seen TEXT,
			device_group TEXT,
			open_ports TEXT,
			site TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS device_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			timestamp TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT
		)`,
	}
	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	for _, col := range addedColumns {
		if err := r.addColumnIfNotExists("devices", col.name, col.def); err != nil {
			return err
		}
	}

	if err := r.collapseDuplicateKeys(); err != nil {
		return err
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_ip_site ON devices(ip, site)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices(last_seen)`,
		`CREATE INDEX IF NOT EXISTS idx_history_device ON device_history(device_id, id)`,
	}
	for _, stmt := range indexes {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// collapseDuplicateKeys merges rows sharing (ip, site) before the unique
// index exists. The legacy registry's plain insert allowed such rows. The
// newest row (highest id) survives and inherits the others' history.
func (r *Repository) collapseDuplicateKeys() error {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_devices_ip_site'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`UPDATE device_history SET device_id = (
			SELECT MAX(keep.id) FROM devices d
			JOIN devices keep ON keep.ip = d.ip AND keep.site IS d.site
			WHERE d.id = device_history.device_id)
		WHERE device_id IN (
			SELECT d.id FROM devices d WHERE EXISTS (
				SELECT 1 FROM devices o WHERE o.ip = d.ip AND o.site IS d.site AND o.id > d.id))`,
		`DELETE FROM devices WHERE EXISTS (
			SELECT 1 FROM devices o
			WHERE o.ip = devices.ip AND o.site IS devices.site AND o.id > devices.id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: collapse duplicate devices: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repository) addColumnIfNotExists(table, column, definition string) error {
	rows, err := r.db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if _, err := r.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDevice(ctx context.Context, q queryer, where string, args ...any) (*domain.Device, error) {
	var row deviceRow
	err := q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE `+where, args...).
		Scan(row.scanArgs()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return row.toDomain()
}

// GetDevice retrieves a device by its natural key
func (r *Repository) GetDevice(ctx context.Context, key domain.DeviceKey) (*domain.Device, error) {
	return getDevice(ctx, r.db, `ip = ? AND site = ?`, key.Address, key.Site)
}

// GetDeviceByID retrieves a device by its store ID
func (r *Repository) GetDeviceByID(ctx context.Context, id int64) (*domain.Device, error) {
	return getDevice(ctx, r.db, `id = ?`, id)
}

// ListDevices returns devices most recently seen first
func (r *Repository) ListDevices(ctx context.Context, filter domain.DeviceFilter) ([]*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	var args []any
	if filter.Site != "" {
		query += ` WHERE site = ?`
		args = append(args, filter.Site)
	}
	query += ` ORDER BY last_seen DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := []*domain.Device{}
	for rows.Next() {
		var row deviceRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		dev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

// History returns a device's entries in chronological order
func (r *Repository) History(ctx context.Context, deviceID int64) ([]domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM device_history
		WHERE device_id = ? ORDER BY id ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var row historyRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

// CreateDevice inserts a device and its first history entry in one transaction
func (r *Repository) CreateDevice(ctx context.Context, dev *domain.Device, entry *domain.HistoryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := append([]interface{}{dev.Address, dev.Site, formatTime(dev.CreatedAt)}, deviceWriteArgs(dev)...)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO devices (ip, site, created_at, hostname, status, device_group,
			open_ports, last_seen, missed_scans, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", dev.Key(), domain.ErrConflict)
		}
		return fmt.Errorf("failed to insert device: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read device id: %w", err)
	}

	if entry != nil {
		entry.DeviceID = id
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	dev.ID = id
	return nil
}

// UpdateDevice overwrites an existing device and appends entry if non-nil
func (r *Repository) UpdateDevice(ctx context.Context, dev *domain.Device, entry *domain.HistoryEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	args := append(deviceWriteArgs(dev), dev.ID)
	res, err := tx.ExecContext(ctx, `
		UPDATE devices SET hostname = ?, status = ?, device_group = ?, open_ports = ?,
			last_seen = ?, missed_scans = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("device %d: %w", dev.ID, domain.ErrNotFound)
	}

	if entry != nil {
		entry.DeviceID = dev.ID
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry *domain.HistoryEntry) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO device_history (device_id, timestamp, status, message)
		VALUES (?, ?, ?, ?)
	`, entry.DeviceID, formatTime(entry.Timestamp), string(entry.Status), entry.Message)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// DeleteDevice removes a device and its history
func (r *Repository) DeleteDevice(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_history WHERE device_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("device %d: %w", id, domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the database
func (r *Repository) Close() error {
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
