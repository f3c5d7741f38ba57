// Package hal defines the hardware-abstraction collaborator consumed
// by the radio driver. The driver only calls these interfaces; pin and
// bus discovery happens in the concrete implementation.
package hal

// GPIO drives the reset line and samples the BUSY line.
type GPIO interface {
	// SetOutput drives an output pin high or low.
	SetOutput(pin int, level bool) error

	// ReadInput samples an input pin.
	ReadInput(pin int) (bool, error)
}

// SPI is the exclusively-owned command bus to the transceiver. One
// Transfer is one full-duplex transaction: len(rx) == len(tx).
type SPI interface {
	Transfer(tx []byte) ([]byte, error)
}
