// Package buffer implements the crash-durable reading queue on top of
// the SQLite store. Readings are written through to disk before Append
// returns; only the transmission log rides an in-memory write buffer
// that the background flush timer drains.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lora-node/lora-node-pro/internal/models"
	"github.com/lora-node/lora-node-pro/internal/storage"
)

const (
	// DefaultFlushInterval drains the transmission-log write buffer.
	DefaultFlushInterval = 30 * time.Second

	// DefaultCleanupInterval runs retention against transmitted rows.
	DefaultCleanupInterval = 1 * time.Hour

	// DefaultRetention keeps transmitted readings and log entries for
	// 30 days before cleanup removes them.
	DefaultRetention = 30 * 24 * time.Hour
)

// Options tune the queue's background timers.
type Options struct {
	FlushInterval   time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
}

func (o *Options) applyDefaults() {
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
}

// DurableQueue is safe for concurrent use. The ingest path, the sync
// loop and the API all share one instance.
type DurableQueue struct {
	store storage.Store
	opts  Options

	mu          sync.Mutex
	pendingLogs []*models.TransmissionLogEntry
	lastFlush   *time.Time
	lastCleanup *time.Time

	stopOnce sync.Once
	stopped  chan struct{}
}

// New wraps a store in a queue. Call Start to run the background
// timers and Stop on shutdown to flush what they have not.
func New(store storage.Store, opts Options) *DurableQueue {
	opts.applyDefaults()
	return &DurableQueue{
		store:   store,
		opts:    opts,
		stopped: make(chan struct{}),
	}
}

// Append persists the reading before returning. On success the
// reading carries its assigned ID and survives an immediate crash.
func (q *DurableQueue) Append(ctx context.Context, r *models.Reading) error {
	return q.store.CreateReading(ctx, r)
}

// PeekUnsent returns up to limit untransmitted readings, oldest
// first. The rows stay queued until MarkTransmitted.
func (q *DurableQueue) PeekUnsent(ctx context.Context, limit int) ([]*models.Reading, error) {
	return q.store.ListUnsentReadings(ctx, limit)
}

// MarkTransmitted flags the given readings as sent.
func (q *DurableQueue) MarkTransmitted(ctx context.Context, ids []int64) error {
	return q.store.MarkReadingsTransmitted(ctx, ids, time.Now().UTC())
}

// PurgeOlderThan removes transmitted readings and log entries older
// than age. Untransmitted readings are never purged.
func (q *DurableQueue) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)

	deleted, err := q.store.DeleteTransmittedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logsDeleted, err := q.store.DeleteTransmissionLogsBefore(ctx, cutoff)
	if err != nil {
		return deleted, err
	}

	if deleted+logsDeleted > 0 {
		log.Info().
			Int64("readings", deleted).
			Int64("log_entries", logsDeleted).
			Time("cutoff", cutoff).
			Msg("cleanup purged rows")
	}
	return deleted, nil
}

// Export returns readings in [start, end] for the diagnostics API.
func (q *DurableQueue) Export(ctx context.Context, start, end time.Time) ([]*models.Reading, error) {
	readings, _, err := q.store.ListReadings(ctx, storage.ReadingFilters{
		StartTime: &start,
		EndTime:   &end,
	}, 10000, 0)
	return readings, err
}

// Transmissions pages through the persisted transmission log, newest
// first.
func (q *DurableQueue) Transmissions(ctx context.Context, limit, offset int) ([]*models.TransmissionLogEntry, int64, error) {
	return q.store.ListTransmissionLogs(ctx, limit, offset)
}

// LogTransmission buffers a log entry in memory. Entries reach disk on
// the next flush tick or on Stop; up to one flush interval of entries
// is lost on a crash.
func (q *DurableQueue) LogTransmission(entry *models.TransmissionLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	q.mu.Lock()
	q.pendingLogs = append(q.pendingLogs, entry)
	q.mu.Unlock()
}

// Flush writes all buffered transmission-log entries to the store.
func (q *DurableQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	pending := q.pendingLogs
	q.pendingLogs = nil
	q.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	if err := q.store.CreateTransmissionLogs(ctx, pending); err != nil {
		// Put them back so the next tick retries.
		q.mu.Lock()
		q.pendingLogs = append(pending, q.pendingLogs...)
		q.mu.Unlock()
		return err
	}

	now := time.Now().UTC()
	q.mu.Lock()
	q.lastFlush = &now
	q.mu.Unlock()

	log.Debug().Int("entries", len(pending)).Msg("transmission log flushed")
	return nil
}

// Stats assembles a point-in-time snapshot of the queue.
func (q *DurableQueue) Stats(ctx context.Context) (*models.QueueStats, error) {
	total, unsent, err := q.store.CountReadings(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := q.store.CountFailedTransmissions(ctx)
	if err != nil {
		return nil, err
	}
	oldest, newest, err := q.store.ReadingTimeBounds(ctx)
	if err != nil {
		return nil, err
	}
	size, err := q.store.StorageBytes()
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	lastFlush, lastCleanup := q.lastFlush, q.lastCleanup
	q.mu.Unlock()

	return &models.QueueStats{
		TotalReadings:       total,
		UnsentReadings:      unsent,
		FailedTransmissions: failed,
		StorageBytes:        size,
		OldestReading:       oldest,
		NewestReading:       newest,
		LastFlush:           lastFlush,
		LastCleanup:         lastCleanup,
	}, nil
}

// Start runs the flush and cleanup timers until the context is
// canceled. It blocks, so run it in its own goroutine.
func (q *DurableQueue) Start(ctx context.Context) error {
	flush := time.NewTicker(q.opts.FlushInterval)
	defer flush.Stop()
	cleanup := time.NewTicker(q.opts.CleanupInterval)
	defer cleanup.Stop()

	log.Info().
		Dur("flush_interval", q.opts.FlushInterval).
		Dur("cleanup_interval", q.opts.CleanupInterval).
		Dur("retention", q.opts.Retention).
		Msg("durable queue started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.stopped:
			return nil

		case <-flush.C:
			if err := q.Flush(context.Background()); err != nil {
				log.Error().Err(err).Msg("transmission log flush failed")
			}

		case <-cleanup.C:
			if _, err := q.PurgeOlderThan(context.Background(), q.opts.Retention); err != nil {
				log.Error().Err(err).Msg("cleanup failed")
				continue
			}
			now := time.Now().UTC()
			q.mu.Lock()
			q.lastCleanup = &now
			q.mu.Unlock()
		}
	}
}

// Stop halts the timers and flushes anything still buffered.
func (q *DurableQueue) Stop() error {
	q.stopOnce.Do(func() { close(q.stopped) })
	return q.Flush(context.Background())
}
