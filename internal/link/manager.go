// Package link owns the node's connectivity state machine. Readings
// always hit the durable queue first; the radio only ever works off
// persisted rows, so a dying link can never lose data.
package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lora-node/lora-node-pro/internal/frame"
	"github.com/lora-node/lora-node-pro/internal/models"
	"github.com/lora-node/lora-node-pro/internal/radio"
	"github.com/lora-node/lora-node-pro/pkg/crypto"
)

const (
	DefaultBatchSize        = 10
	DefaultSyncInterval     = 15 * time.Second
	DefaultReconnectBackoff = 30 * time.Second
)

// Radio is the transmit surface the manager needs from the driver.
type Radio interface {
	Reset() error
	Configure(cfg radio.Config) error
	SendPayload(payload []byte) (bool, error)
}

// Queue is the durable-queue surface the manager needs.
type Queue interface {
	Append(ctx context.Context, r *models.Reading) error
	PeekUnsent(ctx context.Context, limit int) ([]*models.Reading, error)
	MarkTransmitted(ctx context.Context, ids []int64) error
	LogTransmission(entry *models.TransmissionLogEntry)
}

// Config holds the manager's addressing and pacing knobs.
type Config struct {
	Radio radio.Config

	DestAddr    uint16
	DestFreqMHz int
	SrcAddr     uint16
	SrcFreqMHz  int

	BatchSize        int
	SyncInterval     time.Duration
	ReconnectBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
}

// Manager moves readings from the durable queue over the radio.
// State transitions: Offline -Connect-> Online -backlog-> Syncing
// -drained-> Online; any send failure demotes straight to Offline.
type Manager struct {
	radio  Radio
	queue  Queue
	cipher *crypto.CipherBox
	cfg    Config

	mu    sync.Mutex
	state models.LinkState
}

// New builds a manager in the Offline state.
func New(r Radio, q Queue, cipher *crypto.CipherBox, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{radio: r, queue: q, cipher: cipher, cfg: cfg, state: models.LinkOffline}
}

// State returns the current link state.
func (m *Manager) State() models.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s models.LinkState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		log.Info().Stringer("from", prev).Stringer("to", s).Msg("link state changed")
	}
}

// Connect resets and configures the radio. Success promotes the link
// to Online; failure leaves it Offline.
func (m *Manager) Connect() error {
	if err := m.radio.Reset(); err != nil {
		m.setState(models.LinkOffline)
		return fmt.Errorf("radio reset: %w", err)
	}
	if err := m.radio.Configure(m.cfg.Radio); err != nil {
		m.setState(models.LinkOffline)
		return fmt.Errorf("radio configure: %w", err)
	}
	m.setState(models.LinkOnline)
	return nil
}

// Ingest persists the reading, then attempts an immediate transmit if
// the link is Online. Radio trouble demotes the link and leaves the
// reading queued; the only error Ingest ever returns is a storage one.
func (m *Manager) Ingest(ctx context.Context, r *models.Reading) error {
	if err := m.queue.Append(ctx, r); err != nil {
		return fmt.Errorf("persist reading: %w", err)
	}

	if m.State() != models.LinkOnline {
		return nil
	}

	switch m.sendReading(r) {
	case sendOK:
		if err := m.queue.MarkTransmitted(ctx, []int64{r.ID}); err != nil {
			log.Error().Err(err).Int64("id", r.ID).Msg("mark transmitted failed")
		}
	case sendRadioFailure:
		m.setState(models.LinkOffline)
	case sendUnencodable:
		// The reading can never leave this node; the link is fine.
	}
	return nil
}

// Run drives the reconnect and sync loops until the context is
// canceled. It blocks, so run it in its own goroutine.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch m.State() {
		case models.LinkOffline:
			if err := m.Connect(); err != nil {
				log.Warn().Err(err).Dur("retry_in", m.cfg.ReconnectBackoff).Msg("reconnect failed")
				if !sleepCtx(ctx, m.cfg.ReconnectBackoff) {
					return ctx.Err()
				}
			}

		default:
			m.syncPass(ctx)
			if m.State() == models.LinkOnline {
				if !sleepCtx(ctx, m.cfg.SyncInterval) {
					return ctx.Err()
				}
			}
		}
	}
}

// syncPass drains one batch of backlog. It stops on the first send
// failure, marks everything that made it out, and demotes the link if
// anything failed.
func (m *Manager) syncPass(ctx context.Context) {
	backlog, err := m.queue.PeekUnsent(ctx, m.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("peek backlog failed")
		return
	}
	if len(backlog) == 0 {
		m.setState(models.LinkOnline)
		return
	}

	m.setState(models.LinkSyncing)

	var sent []int64
	radioFailed := false
	for _, r := range backlog {
		switch m.sendReading(r) {
		case sendOK:
			sent = append(sent, r.ID)
		case sendUnencodable:
			// A reading that can never be framed must not block the
			// ones behind it. It stays queued and visible in stats.
			continue
		case sendRadioFailure:
			radioFailed = true
		}
		if radioFailed {
			break
		}
	}

	if len(sent) > 0 {
		if err := m.queue.MarkTransmitted(ctx, sent); err != nil {
			log.Error().Err(err).Ints64("ids", sent).Msg("mark batch failed")
		}
	}

	if radioFailed {
		m.setState(models.LinkOffline)
		return
	}
	log.Debug().Int("count", len(sent)).Msg("backlog batch synced")
	m.setState(models.LinkOnline)
}

// sendResult classifies one transmission attempt. Only a radio-level
// failure says anything about the link.
type sendResult int

const (
	sendOK sendResult = iota
	sendRadioFailure
	sendUnencodable
)

// sendReading encrypts, frames and transmits one reading, recording
// the outcome in the transmission log.
func (m *Manager) sendReading(r *models.Reading) sendResult {
	payload, err := m.buildFrame(r)
	if err != nil {
		log.Error().Err(err).Int64("id", r.ID).Msg("frame build failed")
		m.queue.LogTransmission(&models.TransmissionLogEntry{
			DeviceID: r.DeviceID, Success: false, Error: err.Error(),
		})
		return sendUnencodable
	}

	ok, err := m.radio.SendPayload(payload)
	entry := &models.TransmissionLogEntry{
		DeviceID:    r.DeviceID,
		PayloadSize: len(payload),
		Success:     ok && err == nil,
	}
	switch {
	case err != nil:
		entry.Error = err.Error()
	case !ok:
		entry.Error = "TX timed out"
	}
	m.queue.LogTransmission(entry)

	if err != nil {
		log.Error().Err(err).Int64("id", r.ID).Msg("transmit failed")
		return sendRadioFailure
	}
	if !ok {
		log.Warn().Int64("id", r.ID).Msg("transmit timed out")
		return sendRadioFailure
	}
	return sendOK
}

// buildFrame serializes the reading's wire form, encrypts it, wraps
// it with the encrypted-payload marker and prepends the address
// header.
func (m *Manager) buildFrame(r *models.Reading) ([]byte, error) {
	wire, err := json.Marshal(r.Wire())
	if err != nil {
		return nil, fmt.Errorf("marshal reading: %w", err)
	}

	token, err := m.cipher.Encrypt(string(wire))
	if err != nil {
		return nil, fmt.Errorf("encrypt reading: %w", err)
	}

	return frame.Encode(m.cfg.DestAddr, m.cfg.DestFreqMHz,
		m.cfg.SrcAddr, m.cfg.SrcFreqMHz,
		[]byte(crypto.WrapPayload(token)))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
