package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lora-node/lora-node-pro/internal/frame"
	"github.com/lora-node/lora-node-pro/internal/models"
	"github.com/lora-node/lora-node-pro/internal/radio"
	"github.com/lora-node/lora-node-pro/pkg/crypto"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func testCipher(t *testing.T) *crypto.CipherBox {
	t.Helper()
	c, err := crypto.New(bytes.Repeat([]byte{0x42}, crypto.KeySize))
	if err != nil {
		t.Fatalf("crypto.New() error = %v", err)
	}
	return c
}

func encryptedFrame(t *testing.T, cipher *crypto.CipherBox, destAddr uint16) []byte {
	t.Helper()

	wire := models.WirePayload{
		DeviceID:  "node-0001",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix(),
		Values:    map[string]float64{"temp": 23.5},
	}
	plaintext, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	token, err := cipher.Encrypt(string(plaintext))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	data, err := frame.Encode(destAddr, 915, 0x0001, 915, []byte(crypto.WrapPayload(token)))
	if err != nil {
		t.Fatalf("frame.Encode() error = %v", err)
	}
	return data
}

func TestHandlePacketPublishes(t *testing.T) {
	cipher := testCipher(t)
	pub := &fakePublisher{}
	b := New(nil, pub, cipher, 0x0000, "lora.readings", time.Second)

	b.handlePacket(&radio.RxPacket{
		Payload: encryptedFrame(t, cipher, 0x0000),
		RSSI:    -72,
		SNR:     6,
	})

	if len(pub.payloads) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.payloads))
	}
	if pub.subjects[0] != "lora.readings.node-0001" {
		t.Errorf("subject = %q", pub.subjects[0])
	}

	var event Event
	if err := json.Unmarshal(pub.payloads[0], &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Reading.DeviceID != "node-0001" || event.Reading.Values["temp"] != 23.5 {
		t.Errorf("event reading = %+v", event.Reading)
	}
	if event.RSSI != -72 || event.SNR != 6 {
		t.Errorf("link quality = %d/%d", event.RSSI, event.SNR)
	}
	if event.SrcAddr != 0x0001 {
		t.Errorf("src = %04X", event.SrcAddr)
	}
	if event.EventID == "" {
		t.Error("event ID missing")
	}
}

func TestHandlePacketDropsOtherDestinations(t *testing.T) {
	cipher := testCipher(t)
	pub := &fakePublisher{}
	b := New(nil, pub, cipher, 0x0000, "lora.readings", time.Second)

	b.handlePacket(&radio.RxPacket{Payload: encryptedFrame(t, cipher, 0x0099)})

	if len(pub.payloads) != 0 {
		t.Fatalf("published %d events for a frame addressed elsewhere", len(pub.payloads))
	}
}

func TestHandlePacketAcceptsBroadcast(t *testing.T) {
	cipher := testCipher(t)
	pub := &fakePublisher{}
	b := New(nil, pub, cipher, 0x0000, "lora.readings", time.Second)

	b.handlePacket(&radio.RxPacket{Payload: encryptedFrame(t, cipher, 0xFFFF)})

	if len(pub.payloads) != 1 {
		t.Fatalf("published %d events for broadcast, want 1", len(pub.payloads))
	}
}

func TestHandlePacketDropsGarbage(t *testing.T) {
	cipher := testCipher(t)
	pub := &fakePublisher{}
	b := New(nil, pub, cipher, 0x0000, "lora.readings", time.Second)

	// Too short for a header.
	b.handlePacket(&radio.RxPacket{Payload: []byte{0x01, 0x02}})

	// Valid header, undecryptable payload.
	data, err := frame.Encode(0x0000, 915, 0x0001, 915, []byte(crypto.EncryptedMarker+"not-base64!"))
	if err != nil {
		t.Fatalf("frame.Encode() error = %v", err)
	}
	b.handlePacket(&radio.RxPacket{Payload: data})

	if len(pub.payloads) != 0 {
		t.Fatalf("published %d events from garbage", len(pub.payloads))
	}
}

type failingReceiver struct {
	calls int
	err   error
}

func (r *failingReceiver) ReceivePayload(time.Duration) (*radio.RxPacket, error) {
	r.calls++
	return nil, r.err
}

func TestStartBacksOffOnReceiveError(t *testing.T) {
	cipher := testCipher(t)
	recv := &failingReceiver{err: radio.ErrNotConfigured}
	b := New(recv, &fakePublisher{}, cipher, 0x0000, "lora.readings", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := b.Start(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Start() error = %v, want deadline exceeded", err)
	}
	// Errors pause the loop for a second, so a 100ms run sees exactly
	// one attempt. Without the pause this would be thousands.
	if recv.calls != 1 {
		t.Errorf("receiver called %d times, want 1", recv.calls)
	}
}

func TestHandlePacketLegacyPlaintext(t *testing.T) {
	cipher := testCipher(t)
	pub := &fakePublisher{}
	b := New(nil, pub, cipher, 0x0000, "lora.readings", time.Second)

	plaintext, _ := json.Marshal(models.WirePayload{
		DeviceID: "node-0002",
		Values:   map[string]float64{"hum": 55},
	})
	data, err := frame.Encode(0x0000, 915, 0x0002, 915, plaintext)
	if err != nil {
		t.Fatalf("frame.Encode() error = %v", err)
	}
	b.handlePacket(&radio.RxPacket{Payload: data})

	if len(pub.payloads) != 1 {
		t.Fatalf("published %d events for plaintext frame, want 1", len(pub.payloads))
	}
	if pub.subjects[0] != "lora.readings.node-0002" {
		t.Errorf("subject = %q", pub.subjects[0])
	}
}
