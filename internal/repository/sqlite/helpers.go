package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"netinventory/internal/domain"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ============================================================================
// Time Helpers
// ============================================================================

// timeLayout is fixed width so that ORDER BY on the text column is
// chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// legacyTimeLayouts are accepted when reading rows written by older tools
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // Python isoformat(), no zone
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// nullToTime parses an optional timestamp column; NULL yields the zero time
func nullToTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

// nullToStatus reads a status column. Legacy rows may hold NULL, which
// reads as Down until the next sighting.
func nullToStatus(ns sql.NullString) (domain.Status, error) {
	if !ns.Valid || ns.String == "" {
		return domain.StatusDown, nil
	}
	return domain.ParseStatus(ns.String)
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a new column to the devices table:
// 1. Add field to deviceRow struct (below)
// 2. Update scanArgs() - APPEND to end to match column order
// 3. Update deviceColumns constant - APPEND to end
// 4. Update toDomain() to map new field to domain.Device
// 5. Update deviceWriteArgs() if column should be writable
// 6. Add the column to addedColumns in sqlite.go
// 7. Update relevant tests
//
// CRITICAL: Column order must match between:
// - deviceColumns constant
// - scanArgs() return slice
// - All SELECT queries using deviceColumns

// ============================================================================
// Device Row Scanner
// ============================================================================

// deviceRow holds all columns from a device query for scanning. Columns that
// predate this tool's schema are nullable.
type deviceRow struct {
	ID          int64
	Address     string
	Site        sql.NullString
	Hostname    sql.NullString
	Status      sql.NullString
	DeviceGroup sql.NullString
	OpenPorts   sql.NullString
	LastSeen    sql.NullString
	MissedScans int
	Notes       sql.NullString
	CreatedAt   sql.NullString
	UpdatedAt   sql.NullString
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match deviceColumns order exactly
func (r *deviceRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,          // 1
		&r.Address,     // 2
		&r.Site,        // 3
		&r.Hostname,    // 4
		&r.Status,      // 5
		&r.DeviceGroup, // 6
		&r.OpenPorts,   // 7
		&r.LastSeen,    // 8
		&r.MissedScans, // 9
		&r.Notes,       // 10
		&r.CreatedAt,   // 11
		&r.UpdatedAt,   // 12
	}
}

// toDomain converts the scanned row to a domain.Device
func (r *deviceRow) toDomain() (*domain.Device, error) {
	status, err := nullToStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("device %d: %w", r.ID, err)
	}
	ports, err := domain.ParsePorts(nullToString(r.OpenPorts))
	if err != nil {
		return nil, fmt.Errorf("device %d open_ports: %w", r.ID, err)
	}

	dev := &domain.Device{
		ID:          r.ID,
		Address:     r.Address,
		Site:        nullToString(r.Site),
		Hostname:    nullToString(r.Hostname),
		Status:      status,
		DeviceGroup: domain.DeviceGroup(nullToString(r.DeviceGroup)),
		OpenPorts:   domain.NormalizePorts(ports),
		MissedScans: r.MissedScans,
		Notes:       nullToString(r.Notes),
	}
	if dev.DeviceGroup == "" {
		dev.DeviceGroup = domain.GroupUnknown
	}

	if dev.LastSeen, err = nullToTime(r.LastSeen); err != nil {
		return nil, fmt.Errorf("device %d last_seen: %w", r.ID, err)
	}
	if dev.CreatedAt, err = nullToTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("device %d created_at: %w", r.ID, err)
	}
	if dev.UpdatedAt, err = nullToTime(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("device %d updated_at: %w", r.ID, err)
	}
	return dev, nil
}

// deviceColumns returns the SELECT column list for device queries
const deviceColumns = `id, ip, site, hostname, status, device_group, open_ports,
	last_seen, missed_scans, notes, created_at, updated_at`

// ============================================================================
// History Row Scanner
// ============================================================================

type historyRow struct {
	ID        int64
	DeviceID  int64
	Timestamp sql.NullString
	Status    sql.NullString
	Message   sql.NullString
}

func (r *historyRow) scanArgs() []interface{} {
	return []interface{}{&r.ID, &r.DeviceID, &r.Timestamp, &r.Status, &r.Message}
}

func (r *historyRow) toDomain() (domain.HistoryEntry, error) {
	ts, err := nullToTime(r.Timestamp)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("history %d: %w", r.ID, err)
	}
	status, err := nullToStatus(r.Status)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("history %d: %w", r.ID, err)
	}
	return domain.HistoryEntry{
		ID:        r.ID,
		DeviceID:  r.DeviceID,
		Timestamp: ts,
		Status:    status,
		Message:   nullToString(r.Message),
	}, nil
}

const historyColumns = `id, device_id, timestamp, status, message`

// ============================================================================
// Device Write Helpers
// ============================================================================

// deviceWriteArgs prepares arguments for device INSERT/UPDATE
// Returns: hostname, status, device_group, open_ports, last_seen,
//          missed_scans, notes, updated_at
func deviceWriteArgs(dev *domain.Device) []interface{} {
	return []interface{}{
		stringToNull(dev.Hostname),
		string(dev.Status),
		string(dev.DeviceGroup),
		domain.JoinPorts(dev.OpenPorts),
		formatTime(dev.LastSeen),
		dev.MissedScans,
		stringToNull(dev.Notes),
		formatTime(dev.UpdatedAt),
	}
}
