package buffer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lora-node/lora-node-pro/internal/models"
	"github.com/lora-node/lora-node-pro/internal/storage"
)

func newTestQueue(t *testing.T, path string) (*DurableQueue, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, Options{}), store
}

func reading(deviceID string, ts time.Time) *models.Reading {
	return &models.Reading{
		DeviceID:     deviceID,
		Timestamp:    ts,
		SensorValues: map[string]float64{"temp": 20.1},
	}
}

func TestAppendIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	q := New(store, Options{})

	r := reading("node-0001", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err := q.Append(ctx, r); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if r.ID == 0 {
		t.Fatal("Append() did not assign an ID")
	}

	// Simulate a crash right after Append: close without Stop/Flush.
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store2, err := storage.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store2.Close()
	q2 := New(store2, Options{})

	unsent, err := q2.PeekUnsent(ctx, 10)
	if err != nil {
		t.Fatalf("PeekUnsent() error = %v", err)
	}
	if len(unsent) != 1 || unsent[0].ID != r.ID {
		t.Fatalf("reading did not survive reopen: %v", unsent)
	}
}

func TestPeekOrderAndMark(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 4; i++ {
		r := reading("node-0001", base.Add(time.Duration(i)*time.Minute))
		if err := q.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		ids = append(ids, r.ID)
	}

	unsent, err := q.PeekUnsent(ctx, 10)
	if err != nil {
		t.Fatalf("PeekUnsent() error = %v", err)
	}
	for i := 1; i < len(unsent); i++ {
		if unsent[i].ID <= unsent[i-1].ID {
			t.Fatalf("PeekUnsent() not oldest-first: %v then %v", unsent[i-1].ID, unsent[i].ID)
		}
	}

	// Peek does not consume.
	again, err := q.PeekUnsent(ctx, 10)
	if err != nil {
		t.Fatalf("PeekUnsent() error = %v", err)
	}
	if len(again) != 4 {
		t.Fatalf("PeekUnsent() consumed rows: %d left", len(again))
	}

	if err := q.MarkTransmitted(ctx, ids[:3]); err != nil {
		t.Fatalf("MarkTransmitted() error = %v", err)
	}
	unsent, err = q.PeekUnsent(ctx, 10)
	if err != nil {
		t.Fatalf("PeekUnsent() error = %v", err)
	}
	if len(unsent) != 1 || unsent[0].ID != ids[3] {
		t.Fatalf("after mark: %v", unsent)
	}
}

func TestPurgeNeverDropsUnsent(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	sent := reading("node-0001", old)
	unsent := reading("node-0001", old)
	for _, r := range []*models.Reading{sent, unsent} {
		if err := q.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := q.MarkTransmitted(ctx, []int64{sent.ID}); err != nil {
		t.Fatalf("MarkTransmitted() error = %v", err)
	}

	deleted, err := q.PurgeOlderThan(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	left, err := q.PeekUnsent(ctx, 10)
	if err != nil {
		t.Fatalf("PeekUnsent() error = %v", err)
	}
	if len(left) != 1 || left[0].ID != unsent.ID {
		t.Fatalf("unsent reading lost to purge: %v", left)
	}
}

func TestLogTransmissionFlush(t *testing.T) {
	q, store := newTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	q.LogTransmission(&models.TransmissionLogEntry{
		DeviceID: "node-0001", PayloadSize: 100, Success: true,
	})
	q.LogTransmission(&models.TransmissionLogEntry{
		DeviceID: "node-0001", PayloadSize: 90, Success: false, Error: "TX timed out",
	})

	// Buffered, not yet on disk.
	if _, total, err := store.ListTransmissionLogs(ctx, 10, 0); err != nil || total != 0 {
		t.Fatalf("pre-flush: total = %d, err = %v", total, err)
	}

	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if _, total, err := store.ListTransmissionLogs(ctx, 10, 0); err != nil || total != 2 {
		t.Fatalf("post-flush: total = %d, err = %v", total, err)
	}

	// Second flush with nothing buffered is a no-op.
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("empty Flush() error = %v", err)
	}
}

func TestStopFlushesBufferedLogs(t *testing.T) {
	q, store := newTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))

	q.LogTransmission(&models.TransmissionLogEntry{
		DeviceID: "node-0001", PayloadSize: 42, Success: true,
	})
	if err := q.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, total, err := store.ListTransmissionLogs(context.Background(), 10, 0); err != nil || total != 1 {
		t.Fatalf("after Stop: total = %d, err = %v", total, err)
	}
}

func TestStats(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r0 := reading("node-0001", t0)
	r1 := reading("node-0001", t0.Add(time.Hour))
	for _, r := range []*models.Reading{r0, r1} {
		if err := q.Append(ctx, r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := q.MarkTransmitted(ctx, []int64{r0.ID}); err != nil {
		t.Fatalf("MarkTransmitted() error = %v", err)
	}
	q.LogTransmission(&models.TransmissionLogEntry{DeviceID: "node-0001", Success: false, Error: "x"})
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalReadings != 2 || stats.UnsentReadings != 1 {
		t.Errorf("readings = (%d, %d), want (2, 1)", stats.TotalReadings, stats.UnsentReadings)
	}
	if stats.FailedTransmissions != 1 {
		t.Errorf("failed = %d, want 1", stats.FailedTransmissions)
	}
	if stats.StorageBytes <= 0 {
		t.Error("storage size not reported")
	}
	if stats.OldestReading == nil || !stats.OldestReading.Equal(t0) {
		t.Errorf("oldest = %v, want %v", stats.OldestReading, t0)
	}
	if stats.LastFlush == nil {
		t.Error("last flush not recorded")
	}
}

func TestExportRange(t *testing.T) {
	q, _ := newTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := q.Append(ctx, reading("node-0001", base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	out, err := q.Export(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("Export() returned %d readings, want 3", len(out))
	}
}
