// Package frame implements the addressed header prefixed to every
// payload on the radio link.
//
// Layout: DestAddrHi(1) | DestAddrLo(1) | DestFreqOffset(1) |
// SrcAddrHi(1) | SrcAddrLo(1) | SrcFreqOffset(1) | Payload(0-249)
//
// The frequency offset is the whole-MHz distance from the band anchor
// (850 for the high band, 410 for the low band), so a single byte
// carries a relative, not absolute, frequency.
package frame

import (
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 6

	// MaxFrameSize is the SX126x buffer limit for a single packet.
	MaxFrameSize = 255

	// MaxPayloadSize is what remains for the payload after the header.
	MaxPayloadSize = MaxFrameSize - HeaderSize
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds 255 bytes")
	ErrFrameTooShort = errors.New("frame shorter than header")
)

// Frame is the decoded wire form.
type Frame struct {
	DestAddr       uint16
	DestFreqOffset uint8
	SrcAddr        uint16
	SrcFreqOffset  uint8
	Payload        []byte
}

// FreqOffset maps a whole-MHz frequency to its one-byte band offset.
func FreqOffset(freqMHz int) uint8 {
	if freqMHz > 850 {
		return uint8(freqMHz - 850)
	}
	return uint8(freqMHz - 410)
}

// Encode builds header+payload. Frequencies are whole MHz.
func Encode(destAddr uint16, destFreqMHz int, srcAddr uint16, srcFreqMHz int, payload []byte) ([]byte, error) {
	if HeaderSize+len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrFrameTooLarge, len(payload))
	}

	data := make([]byte, HeaderSize+len(payload))
	data[0] = byte(destAddr >> 8)
	data[1] = byte(destAddr)
	data[2] = FreqOffset(destFreqMHz)
	data[3] = byte(srcAddr >> 8)
	data[4] = byte(srcAddr)
	data[5] = FreqOffset(srcFreqMHz)
	copy(data[HeaderSize:], payload)

	return data, nil
}

// Decode parses header+payload. The payload slice is copied so the
// caller may reuse the input buffer.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(data))
	}

	f := &Frame{
		DestAddr:       uint16(data[0])<<8 | uint16(data[1]),
		DestFreqOffset: data[2],
		SrcAddr:        uint16(data[3])<<8 | uint16(data[4]),
		SrcFreqOffset:  data[5],
	}

	f.Payload = make([]byte, len(data)-HeaderSize)
	copy(f.Payload, data[HeaderSize:])

	return f, nil
}
