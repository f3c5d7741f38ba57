package radio

import (
	"fmt"
)

// Config is the value object programmed into the chip by Configure.
// Fields are range-validated before any command is issued.
type Config struct {
	FrequencyHz     uint32 `yaml:"frequency_hz"`
	SpreadingFactor uint8  `yaml:"spreading_factor"` // 6..12
	BandwidthKHz    int    `yaml:"bandwidth_khz"`    // 125, 250, 500
	CodingRate      uint8  `yaml:"coding_rate"`      // 5..8, meaning 4/5..4/8
	TxPowerDBm      int    `yaml:"tx_power_dbm"`     // -9..22
	PreambleLength  uint16 `yaml:"preamble_length"`
	SyncWord        uint16 `yaml:"sync_word"`
	CRCEnabled      bool   `yaml:"crc_enabled"`
	HeaderType      uint8  `yaml:"header_type"` // 0 explicit, 1 implicit
}

// Validate checks every field against the chip's supported ranges.
func (c Config) Validate() error {
	if c.FrequencyHz < 150_000_000 || c.FrequencyHz > 960_000_000 {
		return fmt.Errorf("%w: frequency %d Hz outside 150-960 MHz", ErrInvalidConfig, c.FrequencyHz)
	}
	if c.SpreadingFactor < 6 || c.SpreadingFactor > 12 {
		return fmt.Errorf("%w: spreading factor %d outside 6-12", ErrInvalidConfig, c.SpreadingFactor)
	}
	switch c.BandwidthKHz {
	case 125, 250, 500:
	default:
		return fmt.Errorf("%w: bandwidth %d kHz not one of 125/250/500", ErrInvalidConfig, c.BandwidthKHz)
	}
	if c.CodingRate < 5 || c.CodingRate > 8 {
		return fmt.Errorf("%w: coding rate %d outside 5-8", ErrInvalidConfig, c.CodingRate)
	}
	if c.TxPowerDBm < -9 || c.TxPowerDBm > 22 {
		return fmt.Errorf("%w: TX power %d dBm outside -9..22", ErrInvalidConfig, c.TxPowerDBm)
	}
	if c.HeaderType > 1 {
		return fmt.Errorf("%w: header type %d not 0 (explicit) or 1 (implicit)", ErrInvalidConfig, c.HeaderType)
	}
	return nil
}

// bandwidthParam maps kHz to the SetModulationParams encoding.
func (c Config) bandwidthParam() byte {
	switch c.BandwidthKHz {
	case 250:
		return 0x05
	case 500:
		return 0x06
	default:
		return 0x04 // 125 kHz
	}
}

// codingRateParam maps 5..8 to 0x01..0x04.
func (c Config) codingRateParam() byte {
	return byte(c.CodingRate - 4)
}

// ldro is the low-data-rate-optimization flag, required for the long
// symbol times of SF11 and SF12.
func (c Config) ldro() byte {
	if c.SpreadingFactor >= 11 {
		return 0x01
	}
	return 0x00
}

func (c Config) crcParam() byte {
	if c.CRCEnabled {
		return 0x01
	}
	return 0x00
}
