package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lora-node/lora-node-pro/internal/models"
)

// ========== Reading Methods ==========

// CreateReading inserts a reading and fills in its assigned ID. Rows
// get monotonically increasing IDs so oldest-first ordering is just an
// ORDER BY id.
func (s *SQLiteStore) CreateReading(ctx context.Context, reading *models.Reading) error {
	if reading.DeviceID == "" {
		return fmt.Errorf("%w: empty device ID", ErrInvalidData)
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}

	values, err := json.Marshal(reading.SensorValues)
	if err != nil {
		return fmt.Errorf("%w: marshal sensor values: %v", ErrInvalidData, err)
	}

	query := `
        INSERT INTO sensor_data (device_id, timestamp, location, sensor_values, transmitted)
        VALUES (?, ?, ?, ?, 0)`

	res, err := s.getDB().ExecContext(ctx, query,
		reading.DeviceID, reading.Timestamp, reading.Location, string(values))
	if err != nil {
		return err
	}

	reading.ID, err = res.LastInsertId()
	return err
}

// GetReading gets a reading by ID
func (s *SQLiteStore) GetReading(ctx context.Context, id int64) (*models.Reading, error) {
	query := `
        SELECT id, device_id, timestamp, location, sensor_values, transmitted, transmitted_at
        FROM sensor_data
        WHERE id = ?`

	row := s.getDB().QueryRowContext(ctx, query, id)
	reading, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return reading, err
}

// ListUnsentReadings returns up to limit untransmitted readings,
// oldest first.
func (s *SQLiteStore) ListUnsentReadings(ctx context.Context, limit int) ([]*models.Reading, error) {
	query := `
        SELECT id, device_id, timestamp, location, sensor_values, transmitted, transmitted_at
        FROM sensor_data
        WHERE transmitted = 0
        ORDER BY id ASC
        LIMIT ?`

	rows, err := s.getDB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReadings(rows)
}

// ListReadings returns readings matching the filters plus the total
// matching count.
func (s *SQLiteStore) ListReadings(ctx context.Context, filters ReadingFilters, limit, offset int) ([]*models.Reading, int64, error) {
	where, args := buildReadingWhere(filters)

	var total int64
	countQuery := "SELECT COUNT(*) FROM sensor_data" + where
	if err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, device_id, timestamp, location, sensor_values, transmitted, transmitted_at
        FROM sensor_data` + where + `
        ORDER BY id ASC
        LIMIT ? OFFSET ?`

	rows, err := s.getDB().QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	readings, err := collectReadings(rows)
	return readings, total, err
}

func buildReadingWhere(filters ReadingFilters) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filters.DeviceID != "" {
		clauses = append(clauses, "device_id = ?")
		args = append(args, filters.DeviceID)
	}
	if filters.StartTime != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *filters.StartTime)
	}
	if filters.EndTime != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *filters.EndTime)
	}
	if filters.Unsent {
		clauses = append(clauses, "transmitted = 0")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// MarkReadingsTransmitted flags the given rows as sent. Already-sent
// rows are left untouched.
func (s *SQLiteStore) MarkReadingsTransmitted(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
        UPDATE sensor_data
        SET transmitted = 1, transmitted_at = ?
        WHERE transmitted = 0 AND id IN (%s)`, placeholders)

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.getDB().ExecContext(ctx, query, args...)
	return err
}

// DeleteTransmittedBefore removes transmitted readings older than
// cutoff. Untransmitted rows are never deleted here.
func (s *SQLiteStore) DeleteTransmittedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
        DELETE FROM sensor_data
        WHERE transmitted = 1 AND timestamp < ?`

	res, err := s.getDB().ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountReadings returns total and unsent row counts.
func (s *SQLiteStore) CountReadings(ctx context.Context) (int64, int64, error) {
	var total, unsent int64
	query := `
        SELECT COUNT(*), COALESCE(SUM(CASE WHEN transmitted = 0 THEN 1 ELSE 0 END), 0)
        FROM sensor_data`

	if err := s.getDB().QueryRowContext(ctx, query).Scan(&total, &unsent); err != nil {
		return 0, 0, err
	}
	return total, unsent, nil
}

// ReadingTimeBounds returns the oldest and newest reading timestamps,
// nil when the table is empty.
func (s *SQLiteStore) ReadingTimeBounds(ctx context.Context) (*time.Time, *time.Time, error) {
	var oldest, newest sql.NullTime
	query := `SELECT MIN(timestamp), MAX(timestamp) FROM sensor_data`

	if err := s.getDB().QueryRowContext(ctx, query).Scan(&oldest, &newest); err != nil {
		return nil, nil, err
	}

	var o, n *time.Time
	if oldest.Valid {
		o = &oldest.Time
	}
	if newest.Valid {
		n = &newest.Time
	}
	return o, n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*models.Reading, error) {
	reading := &models.Reading{}
	var values string
	var transmittedAt sql.NullTime

	err := row.Scan(
		&reading.ID, &reading.DeviceID, &reading.Timestamp, &reading.Location,
		&values, &reading.Transmitted, &transmittedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(values), &reading.SensorValues); err != nil {
		return nil, fmt.Errorf("%w: sensor values for reading %d: %v", ErrInvalidData, reading.ID, err)
	}
	if transmittedAt.Valid {
		reading.TransmittedAt = &transmittedAt.Time
	}
	return reading, nil
}

func collectReadings(rows *sql.Rows) ([]*models.Reading, error) {
	var readings []*models.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}
