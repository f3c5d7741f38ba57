package storage

import (
	"context"
	"time"

	"github.com/lora-node/lora-node-pro/internal/models"
)

// ========== Transmission Log Methods ==========

// CreateTransmissionLogs inserts a batch of log entries in one
// transaction. The write-buffer flush calls this with everything
// accumulated since the previous flush.
func (s *SQLiteStore) CreateTransmissionLogs(ctx context.Context, entries []*models.TransmissionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	st := tx.(*SQLiteStore)
	query := `
        INSERT INTO transmission_log (timestamp, device_id, payload_size, success, error, retry_count)
        VALUES (?, ?, ?, ?, ?, ?)`

	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		if _, err := st.getDB().ExecContext(ctx, query,
			e.Timestamp, e.DeviceID, e.PayloadSize, e.Success, e.Error, e.RetryCount); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListTransmissionLogs returns log entries newest first plus the total
// count.
func (s *SQLiteStore) ListTransmissionLogs(ctx context.Context, limit, offset int) ([]*models.TransmissionLogEntry, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM transmission_log`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, timestamp, device_id, payload_size, success, error, retry_count
        FROM transmission_log
        ORDER BY id DESC
        LIMIT ? OFFSET ?`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*models.TransmissionLogEntry
	for rows.Next() {
		e := &models.TransmissionLogEntry{}
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.DeviceID, &e.PayloadSize,
			&e.Success, &e.Error, &e.RetryCount); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// CountFailedTransmissions counts log entries with success = false.
func (s *SQLiteStore) CountFailedTransmissions(ctx context.Context) (int64, error) {
	var failed int64
	err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transmission_log WHERE success = 0`).Scan(&failed)
	return failed, err
}

// DeleteTransmissionLogsBefore removes log entries older than cutoff.
func (s *SQLiteStore) DeleteTransmissionLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.getDB().ExecContext(ctx,
		`DELETE FROM transmission_log WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
