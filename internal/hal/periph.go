package hal

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var hostInit sync.Once

// PeriphGPIO implements GPIO on top of periph.io host drivers. Pins
// are BCM numbers, resolved lazily and cached.
type PeriphGPIO struct {
	mu   sync.Mutex
	pins map[int]gpio.PinIO
}

// NewPeriphGPIO initializes the periph host and returns a GPIO backed
// by it.
func NewPeriphGPIO() (*PeriphGPIO, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("periph host init: %w", initErr)
	}
	return &PeriphGPIO{pins: make(map[int]gpio.PinIO)}, nil
}

func (g *PeriphGPIO) pin(n int) (gpio.PinIO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.pins[n]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("GPIO%d not found", n)
	}
	g.pins[n] = p
	return p, nil
}

// SetOutput drives a pin high or low.
func (g *PeriphGPIO) SetOutput(pin int, level bool) error {
	p, err := g.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level))
}

// ReadInput samples a pin.
func (g *PeriphGPIO) ReadInput(pin int) (bool, error) {
	p, err := g.pin(pin)
	if err != nil {
		return false, err
	}
	return bool(p.Read()), nil
}

// PeriphSPI implements SPI over a periph.io port, e.g. "SPI0.0" on a
// Raspberry Pi. The SX126x tops out at a conservative 1MHz here, same
// as the reference wiring.
type PeriphSPI struct {
	port spi.PortCloser
	conn spi.Conn
}

// NewPeriphSPI opens and configures the named SPI port.
func NewPeriphSPI(name string) (*PeriphSPI, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("periph host init: %w", initErr)
	}

	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open SPI port %q: %w", name, err)
	}

	conn, err := port.Connect(1*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect SPI port %q: %w", name, err)
	}

	return &PeriphSPI{port: port, conn: conn}, nil
}

// Transfer performs one full-duplex transaction.
func (s *PeriphSPI) Transfer(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	if err := s.conn.Tx(tx, rx); err != nil {
		return nil, fmt.Errorf("spi transfer: %w", err)
	}
	return rx, nil
}

// Close releases the SPI port.
func (s *PeriphSPI) Close() error {
	return s.port.Close()
}
