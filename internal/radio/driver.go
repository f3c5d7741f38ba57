// Package radio drives an SX126x LoRa transceiver over a GPIO/SPI
// hardware abstraction. All operations are serialized through one
// mutex so a command and its response are never interleaved with
// another caller's; every wait is bounded by an explicit timeout.
//
// Bus errors and busy-timeouts surface as ErrHardware and are never
// retried here. Retry policy belongs to the link manager.
package radio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lora-node/lora-node-pro/internal/hal"
)

var (
	ErrHardware      = errors.New("radio hardware error")
	ErrBusyTimeout   = fmt.Errorf("%w: busy line stuck high", ErrHardware)
	ErrInvalidConfig = errors.New("invalid radio config")
	ErrNotConfigured = errors.New("radio not configured")
	ErrPayloadSize   = errors.New("payload exceeds chip buffer")
)

const (
	// defaultBusyTimeout bounds the wait for BUSY to deassert after a
	// command.
	defaultBusyTimeout = 1 * time.Second

	busyPollInterval = 1 * time.Millisecond
	irqPollInterval  = 10 * time.Millisecond

	// txCompleteTimeout bounds the IRQ poll after SetTx.
	txCompleteTimeout = 5 * time.Second

	// Chip-side TX/RX timeout in 15.625us ticks.
	opTimeoutTicks = 0x0F4240

	maxPayloadLen = 255
)

// Pins holds the BCM pin assignment for the control lines.
type Pins struct {
	Reset int
	Busy  int
	DIO1  int
}

// RxPacket is a received payload with its link-quality measurements.
type RxPacket struct {
	Payload []byte
	RSSI    int // dBm
	SNR     int // dB
}

// Driver owns the transceiver chip state. Mode transitions follow
// Reset → Standby → Configured → {TX|RX} → Standby; TX and RX are
// transient and IRQ flags are cleared between operations.
type Driver struct {
	mu   sync.Mutex
	gpio hal.GPIO
	spi  hal.SPI
	pins Pins

	configured bool
}

// New wires a driver to its hardware collaborators. The chip is not
// touched until Reset or Configure is called.
func New(gpio hal.GPIO, spi hal.SPI, pins Pins) *Driver {
	return &Driver{gpio: gpio, spi: spi, pins: pins}
}

// Reset pulses the reset line and waits for the chip to become ready.
func (d *Driver) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reset()
}

func (d *Driver) reset() error {
	if err := d.gpio.SetOutput(d.pins.Reset, false); err != nil {
		return fmt.Errorf("%w: drive reset low: %v", ErrHardware, err)
	}
	time.Sleep(1 * time.Millisecond)
	if err := d.gpio.SetOutput(d.pins.Reset, true); err != nil {
		return fmt.Errorf("%w: drive reset high: %v", ErrHardware, err)
	}
	time.Sleep(5 * time.Millisecond)

	d.configured = false
	return d.waitBusy(defaultBusyTimeout)
}

// WaitBusy blocks until the BUSY line deasserts or the timeout
// elapses.
func (d *Driver) WaitBusy(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitBusy(timeout)
}

func (d *Driver) waitBusy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		busy, err := d.gpio.ReadInput(d.pins.Busy)
		if err != nil {
			return fmt.Errorf("%w: read busy line: %v", ErrHardware, err)
		}
		if !busy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", ErrBusyTimeout, timeout)
		}
		time.Sleep(busyPollInterval)
	}
}

// Configure resets nothing but reprograms the full radio setup. It
// must run before any TX/RX and may be re-run to reconfigure.
func (d *Driver) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.writeCommand(cmdSetStandby, standbyRC); err != nil {
		return err
	}
	if err := d.writeCommand(cmdSetPacketType, packetTypeLoRa); err != nil {
		return err
	}

	// freq_reg = freq_hz * 2^25 / 32MHz
	freqReg := uint32(uint64(cfg.FrequencyHz) << 25 / 32_000_000)
	if err := d.writeCommand(cmdSetRfFrequency,
		byte(freqReg>>24), byte(freqReg>>16), byte(freqReg>>8), byte(freqReg)); err != nil {
		return err
	}

	if err := d.writeCommand(cmdSetModulationParams,
		cfg.SpreadingFactor, cfg.bandwidthParam(), cfg.codingRateParam(), cfg.ldro()); err != nil {
		return err
	}

	if err := d.writeCommand(cmdSetPacketParams,
		byte(cfg.PreambleLength>>8), byte(cfg.PreambleLength),
		cfg.HeaderType, maxPayloadLen, cfg.crcParam(), 0x00); err != nil {
		return err
	}

	if err := d.writeCommand(cmdSetTxParams, byte(int8(cfg.TxPowerDBm)), rampTime40us); err != nil {
		return err
	}

	if err := d.writeCommand(cmdSetBufferBaseAddress, txBaseAddress, rxBaseAddress); err != nil {
		return err
	}

	if err := d.writeRegister(regLoRaSyncWordMSB, byte(cfg.SyncWord>>8)); err != nil {
		return err
	}
	if err := d.writeRegister(regLoRaSyncWordLSB, byte(cfg.SyncWord)); err != nil {
		return err
	}

	irqMask := irqTxDone | irqRxDone | irqTimeout | irqCrcError
	if err := d.writeCommand(cmdSetDioIrqParams,
		byte(irqMask>>8), byte(irqMask),
		byte(irqMask>>8), byte(irqMask), // route the same flags to DIO1
		0x00, 0x00,
		0x00, 0x00); err != nil {
		return err
	}

	d.configured = true

	log.Info().
		Uint32("frequency_hz", cfg.FrequencyHz).
		Uint8("sf", cfg.SpreadingFactor).
		Int("bw_khz", cfg.BandwidthKHz).
		Uint8("cr", cfg.CodingRate).
		Int("tx_power_dbm", cfg.TxPowerDBm).
		Msg("radio configured")

	return nil
}

// SendPayload writes the payload to the TX buffer, triggers TX and
// polls for completion. The bool reports the radio outcome; the error
// is non-nil only for bus-level failures.
func (d *Driver) SendPayload(payload []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.configured {
		return false, ErrNotConfigured
	}
	if len(payload) > maxPayloadLen {
		return false, fmt.Errorf("%w: %d bytes", ErrPayloadSize, len(payload))
	}

	if err := d.writeBuffer(txBaseAddress, payload); err != nil {
		return false, err
	}
	if err := d.writeCommand(cmdSetTx,
		byte(opTimeoutTicks>>16&0xFF), byte(opTimeoutTicks>>8&0xFF), byte(opTimeoutTicks&0xFF)); err != nil {
		return false, err
	}

	deadline := time.Now().Add(txCompleteTimeout)
	for time.Now().Before(deadline) {
		status, err := d.irqStatus()
		if err != nil {
			return false, err
		}

		switch {
		case status&irqTxDone != 0:
			if err := d.clearIrq(irqAll); err != nil {
				return false, err
			}
			log.Debug().Int("bytes", len(payload)).Msg("TX done")
			return true, nil

		case status&irqTimeout != 0:
			if err := d.clearIrq(irqAll); err != nil {
				return false, err
			}
			log.Warn().Int("bytes", len(payload)).Msg("TX timed out")
			return false, nil
		}

		time.Sleep(irqPollInterval)
	}

	// Stale flags would corrupt the next status read.
	if err := d.clearIrq(irqAll); err != nil {
		return false, err
	}
	log.Warn().Msg("TX completion poll expired")
	return false, nil
}

// ReceivePayload arms RX and polls until a packet arrives or the
// outer timeout elapses. CRC errors and chip-side timeouts re-arm
// listening; expiry returns (nil, nil).
func (d *Driver) ReceivePayload(timeout time.Duration) (*RxPacket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.configured {
		return nil, ErrNotConfigured
	}

	if err := d.armRx(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := d.irqStatus()
		if err != nil {
			return nil, err
		}

		switch {
		case status&irqRxDone != 0:
			pkt, err := d.readPacket()
			if err != nil {
				return nil, err
			}
			if err := d.clearIrq(irqAll); err != nil {
				return nil, err
			}
			return pkt, nil

		case status&(irqTimeout|irqCrcError) != 0:
			if status&irqCrcError != 0 {
				log.Debug().Msg("RX CRC error, re-arming")
			}
			if err := d.clearIrq(irqAll); err != nil {
				return nil, err
			}
			if err := d.armRx(); err != nil {
				return nil, err
			}
		}

		time.Sleep(irqPollInterval)
	}

	return nil, nil
}

func (d *Driver) armRx() error {
	return d.writeCommand(cmdSetRx,
		byte(opTimeoutTicks>>16&0xFF), byte(opTimeoutTicks>>8&0xFF), byte(opTimeoutTicks&0xFF))
}

func (d *Driver) readPacket() (*RxPacket, error) {
	status, err := d.readCommand(cmdGetPacketStatus, 3)
	if err != nil {
		return nil, err
	}
	rssi := -int(status[0]) / 2
	snr := int(int8(status[1])) / 4

	bufStatus, err := d.readCommand(cmdGetRxBufferStatus, 2)
	if err != nil {
		return nil, err
	}
	length, offset := bufStatus[0], bufStatus[1]

	payload, err := d.readBuffer(offset, int(length))
	if err != nil {
		return nil, err
	}

	log.Debug().Int("bytes", len(payload)).Int("rssi", rssi).Int("snr", snr).Msg("RX done")
	return &RxPacket{Payload: payload, RSSI: rssi, SNR: snr}, nil
}

func (d *Driver) irqStatus() (uint16, error) {
	resp, err := d.readCommand(cmdGetIrqStatus, 2)
	if err != nil {
		return 0, err
	}
	return uint16(resp[0])<<8 | uint16(resp[1]), nil
}

func (d *Driver) clearIrq(mask uint16) error {
	return d.writeCommand(cmdClearIrqStatus, byte(mask>>8), byte(mask))
}

// ---- bus primitives; every one is gated by waitBusy ----

func (d *Driver) writeCommand(cmd byte, params ...byte) error {
	if err := d.waitBusy(defaultBusyTimeout); err != nil {
		return err
	}

	tx := make([]byte, 1+len(params))
	tx[0] = cmd
	copy(tx[1:], params)

	if _, err := d.spi.Transfer(tx); err != nil {
		return fmt.Errorf("%w: command 0x%02X: %v", ErrHardware, cmd, err)
	}

	// Mode-change commands need a moment before BUSY is meaningful.
	switch cmd {
	case cmdSetSleep, cmdSetStandby, cmdSetFS, cmdSetTx, cmdSetRx:
		time.Sleep(1 * time.Millisecond)
	}
	return nil
}

// readCommand issues cmd and reads n response bytes. The transaction
// is [cmd, status, data...]; the status byte is discarded.
func (d *Driver) readCommand(cmd byte, n int) ([]byte, error) {
	if err := d.waitBusy(defaultBusyTimeout); err != nil {
		return nil, err
	}

	tx := make([]byte, 2+n)
	tx[0] = cmd
	rx, err := d.spi.Transfer(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: command 0x%02X: %v", ErrHardware, cmd, err)
	}
	return rx[2:], nil
}

func (d *Driver) writeRegister(addr uint16, data ...byte) error {
	if err := d.waitBusy(defaultBusyTimeout); err != nil {
		return err
	}

	tx := make([]byte, 3+len(data))
	tx[0] = cmdWriteRegister
	tx[1] = byte(addr >> 8)
	tx[2] = byte(addr)
	copy(tx[3:], data)

	if _, err := d.spi.Transfer(tx); err != nil {
		return fmt.Errorf("%w: write register 0x%04X: %v", ErrHardware, addr, err)
	}
	return nil
}

func (d *Driver) writeBuffer(offset byte, data []byte) error {
	if err := d.waitBusy(defaultBusyTimeout); err != nil {
		return err
	}

	tx := make([]byte, 2+len(data))
	tx[0] = cmdWriteBuffer
	tx[1] = offset
	copy(tx[2:], data)

	if _, err := d.spi.Transfer(tx); err != nil {
		return fmt.Errorf("%w: write buffer: %v", ErrHardware, err)
	}
	return nil
}

// readBuffer reads n bytes starting at offset. The transaction is
// [cmd, offset, status, data...].
func (d *Driver) readBuffer(offset byte, n int) ([]byte, error) {
	if err := d.waitBusy(defaultBusyTimeout); err != nil {
		return nil, err
	}

	tx := make([]byte, 3+n)
	tx[0] = cmdReadBuffer
	tx[1] = offset
	rx, err := d.spi.Transfer(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: read buffer: %v", ErrHardware, err)
	}

	out := make([]byte, n)
	copy(out, rx[3:])
	return out, nil
}
