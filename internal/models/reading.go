package models

import (
	"time"
)

// Reading is a single sensor measurement held by the durable queue.
// IDs are assigned by storage (monotonic rowids); ID zero means
// "not yet persisted".
type Reading struct {
	ID            int64              `json:"id" db:"id"`
	DeviceID      string             `json:"deviceId" db:"device_id"`
	Timestamp     time.Time          `json:"timestamp" db:"timestamp"`
	Location      string             `json:"location,omitempty" db:"location"`
	SensorValues  map[string]float64 `json:"sensorValues" db:"data_json"`
	Transmitted   bool               `json:"transmitted" db:"transmitted"`
	TransmittedAt *time.Time         `json:"transmittedAt,omitempty" db:"transmitted_at"`
}

// WirePayload is the compact JSON form sent over the radio link.
// Field names are shortened to keep frames under the 255-byte limit.
type WirePayload struct {
	DeviceID  string             `json:"id"`
	Timestamp int64              `json:"ts"`
	Location  string             `json:"loc,omitempty"`
	Values    map[string]float64 `json:"v"`
}

// Wire converts a reading to its over-the-air representation.
func (r *Reading) Wire() WirePayload {
	return WirePayload{
		DeviceID:  r.DeviceID,
		Timestamp: r.Timestamp.Unix(),
		Location:  truncate(r.Location, 10),
		Values:    r.SensorValues,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// TransmissionLogEntry records the outcome of one physical send.
type TransmissionLogEntry struct {
	ID          int64     `json:"id" db:"id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	DeviceID    string    `json:"deviceId" db:"device_id"`
	PayloadSize int       `json:"payloadSize" db:"payload_size"`
	Success     bool      `json:"success" db:"success"`
	Error       string    `json:"error,omitempty" db:"error_message"`
	RetryCount  int       `json:"retryCount" db:"retry_count"`
}

// QueueStats is the snapshot returned by DurableQueue.Stats.
type QueueStats struct {
	TotalReadings       int64      `json:"totalReadings"`
	UnsentReadings      int64      `json:"unsentReadings"`
	FailedTransmissions int64      `json:"failedTransmissions"`
	StorageBytes        int64      `json:"storageBytes"`
	OldestReading       *time.Time `json:"oldestReading,omitempty"`
	NewestReading       *time.Time `json:"newestReading,omitempty"`
	LastFlush           *time.Time `json:"lastFlush,omitempty"`
	LastCleanup         *time.Time `json:"lastCleanup,omitempty"`
}

// LinkState is the connectivity state owned by the link manager.
type LinkState int

const (
	LinkOffline LinkState = iota
	LinkOnline
	LinkSyncing
)

func (s LinkState) String() string {
	switch s {
	case LinkOffline:
		return "offline"
	case LinkOnline:
		return "online"
	case LinkSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// MarshalText makes LinkState render as its name in JSON responses.
func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
