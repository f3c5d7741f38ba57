// Package gateway runs the receiving end of the link: it listens on
// the radio, decodes and decrypts each frame and republishes the
// reading on NATS for downstream consumers.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lora-node/lora-node-pro/internal/frame"
	"github.com/lora-node/lora-node-pro/internal/models"
	"github.com/lora-node/lora-node-pro/internal/radio"
	"github.com/lora-node/lora-node-pro/pkg/crypto"
)

// Receiver is the listen surface the bridge needs from the driver.
type Receiver interface {
	ReceivePayload(timeout time.Duration) (*radio.RxPacket, error)
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event is the message published for every received reading.
type Event struct {
	EventID    string             `json:"eventId"`
	ReceivedAt time.Time          `json:"receivedAt"`
	SrcAddr    uint16             `json:"srcAddr"`
	RSSI       int                `json:"rssi"`
	SNR        int                `json:"snr"`
	Reading    models.WirePayload `json:"reading"`
}

// Bridge moves frames from the radio onto NATS.
type Bridge struct {
	radio     Receiver
	nc        Publisher
	cipher    *crypto.CipherBox
	addr      uint16
	subject   string
	rxTimeout time.Duration
}

// New builds a bridge. addr is this gateway's own link address; frames
// addressed elsewhere (broadcast 0xFFFF excepted) are dropped.
func New(r Receiver, nc Publisher, cipher *crypto.CipherBox, addr uint16, subjectPrefix string, rxTimeout time.Duration) *Bridge {
	if rxTimeout <= 0 {
		rxTimeout = 5 * time.Second
	}
	return &Bridge{
		radio:     r,
		nc:        nc,
		cipher:    cipher,
		addr:      addr,
		subject:   subjectPrefix,
		rxTimeout: rxTimeout,
	}
}

// Connect dials NATS with reconnect handling suited to a field
// deployment.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect NATS %q: %w", url, err)
	}
	return nc, nil
}

// Start listens until the context is canceled. Malformed or
// undecryptable frames are logged and skipped, never fatal.
func (b *Bridge) Start(ctx context.Context) error {
	log.Info().Str("subject", b.subject).Uint16("addr", b.addr).Msg("gateway bridge started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pkt, err := b.radio.ReceivePayload(b.rxTimeout)
		if err != nil {
			// Back off on every error; a non-hardware one (for example
			// an unconfigured radio) would otherwise spin this loop.
			log.Error().Err(err).Msg("radio receive failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if pkt == nil {
			// Listen window expired with nothing on the air.
			continue
		}

		b.handlePacket(pkt)
	}
}

func (b *Bridge) handlePacket(pkt *radio.RxPacket) {
	f, err := frame.Decode(pkt.Payload)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(pkt.Payload)).Msg("undecodable frame")
		return
	}

	if f.DestAddr != b.addr && f.DestAddr != 0xFFFF {
		log.Debug().Uint16("dest", f.DestAddr).Msg("frame for another station")
		return
	}

	plaintext, err := b.decryptPayload(string(f.Payload))
	if err != nil {
		log.Warn().Err(err).Uint16("src", f.SrcAddr).Msg("payload decrypt failed")
		return
	}

	var reading models.WirePayload
	if err := json.Unmarshal([]byte(plaintext), &reading); err != nil {
		log.Warn().Err(err).Uint16("src", f.SrcAddr).Msg("unparseable reading")
		return
	}

	event := Event{
		EventID:    uuid.New().String(),
		ReceivedAt: time.Now().UTC(),
		SrcAddr:    f.SrcAddr,
		RSSI:       pkt.RSSI,
		SNR:        pkt.SNR,
		Reading:    reading,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", b.subject, reading.DeviceID)
	if err := b.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("NATS publish failed")
		return
	}

	log.Info().
		Str("device_id", reading.DeviceID).
		Uint16("src", f.SrcAddr).
		Int("rssi", pkt.RSSI).
		Int("snr", pkt.SNR).
		Msg("reading forwarded")
}

// decryptPayload handles both marked-encrypted and legacy plaintext
// payloads.
func (b *Bridge) decryptPayload(payload string) (string, error) {
	token, encrypted := crypto.UnwrapPayload(payload)
	if !encrypted {
		return payload, nil
	}
	return b.cipher.Decrypt(token)
}
