package storage

import (
	"context"
	"errors"
	"time"

	"github.com/lora-node/lora-node-pro/internal/models"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Reading methods
	CreateReading(ctx context.Context, reading *models.Reading) error
	GetReading(ctx context.Context, id int64) (*models.Reading, error)
	ListUnsentReadings(ctx context.Context, limit int) ([]*models.Reading, error)
	ListReadings(ctx context.Context, filters ReadingFilters, limit, offset int) ([]*models.Reading, int64, error)
	MarkReadingsTransmitted(ctx context.Context, ids []int64, at time.Time) error
	DeleteTransmittedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountReadings(ctx context.Context) (total, unsent int64, err error)
	ReadingTimeBounds(ctx context.Context) (oldest, newest *time.Time, err error)

	// Transmission log methods
	CreateTransmissionLogs(ctx context.Context, entries []*models.TransmissionLogEntry) error
	ListTransmissionLogs(ctx context.Context, limit, offset int) ([]*models.TransmissionLogEntry, int64, error)
	CountFailedTransmissions(ctx context.Context) (int64, error)
	DeleteTransmissionLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// StorageBytes reports the size of the backing database file
	StorageBytes() (int64, error)

	// Close the store
	Close() error
}

// ReadingFilters represents filters for reading queries
type ReadingFilters struct {
	DeviceID  string
	StartTime *time.Time
	EndTime   *time.Time
	Unsent    bool
}
