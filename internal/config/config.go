package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the sensor node configuration
type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Radio    RadioConfig    `yaml:"radio"`
	Link     LinkConfig     `yaml:"link"`
	Database DatabaseConfig `yaml:"database"`
	Buffer   BufferConfig   `yaml:"buffer"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	API      APIConfig      `yaml:"api"`
	JWT      JWTConfig      `yaml:"jwt"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`

	deriveID  sync.Once
	derivedID string
}

// NodeConfig identifies this node and its sampling behavior
type NodeConfig struct {
	DeviceIDPrefix string        `yaml:"device_id_prefix"`
	DeviceID       string        `yaml:"device_id"` // empty: derive from MAC
	Location       string        `yaml:"location"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// RadioConfig holds the SX126x wiring and modulation settings
type RadioConfig struct {
	SPIPort  string `yaml:"spi_port"`
	ResetPin int    `yaml:"reset_pin"`
	BusyPin  int    `yaml:"busy_pin"`
	DIO1Pin  int    `yaml:"dio1_pin"`

	FrequencyHz     uint32 `yaml:"frequency_hz"`
	SpreadingFactor uint8  `yaml:"spreading_factor"`
	BandwidthKHz    int    `yaml:"bandwidth_khz"`
	CodingRate      uint8  `yaml:"coding_rate"`
	TxPowerDBm      int    `yaml:"tx_power_dbm"`
	PreambleLength  uint16 `yaml:"preamble_length"`
	SyncWord        uint16 `yaml:"sync_word"`
	CRCEnabled      bool   `yaml:"crc_enabled"`
}

// LinkConfig holds addressing and the sync loop pacing
type LinkConfig struct {
	DestAddr         uint16        `yaml:"dest_addr"`
	SrcAddr          uint16        `yaml:"src_addr"`
	BatchSize        int           `yaml:"batch_size"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	RxTimeout        time.Duration `yaml:"rx_timeout"`
}

// DatabaseConfig locates the SQLite file
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BufferConfig tunes the durable queue timers
type BufferConfig struct {
	FlushInterval   time.Duration `yaml:"flush_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Retention       time.Duration `yaml:"retention"`
}

// CryptoConfig locates the shared keyfile
type CryptoConfig struct {
	Keyfile string `yaml:"keyfile"`
}

// APIConfig represents the diagnostics API configuration
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// JWTConfig represents JWT configuration for the API
type JWTConfig struct {
	Secret   string        `yaml:"secret"` // empty disables auth
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// NATSConfig represents the gateway's NATS configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
	if keyfile := os.Getenv("KEYFILE"); keyfile != "" {
		c.Crypto.Keyfile = keyfile
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}
}

func (c *Config) applyDefaults() {
	if c.Node.DeviceIDPrefix == "" {
		c.Node.DeviceIDPrefix = "node"
	}
	if c.Node.SampleInterval <= 0 {
		c.Node.SampleInterval = 60 * time.Second
	}

	if c.Radio.SPIPort == "" {
		c.Radio.SPIPort = "SPI0.0"
	}
	if c.Radio.ResetPin == 0 {
		c.Radio.ResetPin = 22
	}
	if c.Radio.BusyPin == 0 {
		c.Radio.BusyPin = 23
	}
	if c.Radio.DIO1Pin == 0 {
		c.Radio.DIO1Pin = 24
	}
	if c.Radio.FrequencyHz == 0 {
		c.Radio.FrequencyHz = 915_000_000
	}
	if c.Radio.SpreadingFactor == 0 {
		c.Radio.SpreadingFactor = 7
	}
	if c.Radio.BandwidthKHz == 0 {
		c.Radio.BandwidthKHz = 125
	}
	if c.Radio.CodingRate == 0 {
		c.Radio.CodingRate = 5
	}
	if c.Radio.TxPowerDBm == 0 {
		c.Radio.TxPowerDBm = 14
	}
	if c.Radio.PreambleLength == 0 {
		c.Radio.PreambleLength = 8
	}
	if c.Radio.SyncWord == 0 {
		c.Radio.SyncWord = 0x1424
	}

	if c.Link.BatchSize <= 0 {
		c.Link.BatchSize = 10
	}
	if c.Link.SyncInterval <= 0 {
		c.Link.SyncInterval = 15 * time.Second
	}
	if c.Link.ReconnectBackoff <= 0 {
		c.Link.ReconnectBackoff = 30 * time.Second
	}
	if c.Link.RxTimeout <= 0 {
		c.Link.RxTimeout = 5 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "sensor_data.db"
	}
	if c.Buffer.FlushInterval <= 0 {
		c.Buffer.FlushInterval = 30 * time.Second
	}
	if c.Buffer.CleanupInterval <= 0 {
		c.Buffer.CleanupInterval = 1 * time.Hour
	}
	if c.Buffer.Retention <= 0 {
		c.Buffer.Retention = 30 * 24 * time.Hour
	}

	if c.Crypto.Keyfile == "" {
		c.Crypto.Keyfile = "lora.key"
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if c.JWT.TokenTTL <= 0 {
		c.JWT.TokenTTL = 24 * time.Hour
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "lora.readings"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects settings the radio or the link cannot run with.
func (c *Config) Validate() error {
	if c.Radio.FrequencyHz < 150_000_000 || c.Radio.FrequencyHz > 960_000_000 {
		return fmt.Errorf("radio frequency %d Hz outside 150-960 MHz", c.Radio.FrequencyHz)
	}
	if c.Radio.SpreadingFactor < 6 || c.Radio.SpreadingFactor > 12 {
		return fmt.Errorf("spreading factor %d outside 6-12", c.Radio.SpreadingFactor)
	}
	switch c.Radio.BandwidthKHz {
	case 125, 250, 500:
	default:
		return fmt.Errorf("bandwidth %d kHz not one of 125/250/500", c.Radio.BandwidthKHz)
	}
	if c.Link.DestAddr == c.Link.SrcAddr {
		return fmt.Errorf("dest addr %04X equals src addr", c.Link.DestAddr)
	}
	return nil
}

// DeviceID returns the configured device ID, deriving one from the
// first hardware MAC when none is set. A random UUID suffix covers
// hosts with no usable interface; it is computed once so the node's
// identity stays stable for the life of the process.
func (c *Config) DeviceID() string {
	if c.Node.DeviceID != "" {
		return c.Node.DeviceID
	}

	c.deriveID.Do(func() {
		if mac := firstHardwareAddr(); mac != "" {
			c.derivedID = fmt.Sprintf("%s-%s", c.Node.DeviceIDPrefix, mac)
			return
		}
		c.derivedID = fmt.Sprintf("%s-%s", c.Node.DeviceIDPrefix, uuid.New().String()[:8])
	})
	return c.derivedID
}

func firstHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")
	}
	return ""
}

// PrintConfigSummary prints the effective settings at startup.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== LoRa Sensor Node Configuration ===\n")
	fmt.Printf("Device: %s (%s)\n", c.DeviceID(), c.Node.Location)
	fmt.Printf("Radio: %.1f MHz, SF%d, BW%dkHz, CR4/%d, %ddBm\n",
		float64(c.Radio.FrequencyHz)/1_000_000,
		c.Radio.SpreadingFactor, c.Radio.BandwidthKHz,
		c.Radio.CodingRate, c.Radio.TxPowerDBm)
	fmt.Printf("Link: %04X -> %04X, batch %d, sync every %v\n",
		c.Link.SrcAddr, c.Link.DestAddr, c.Link.BatchSize, c.Link.SyncInterval)
	fmt.Printf("Database: %s (retention %v)\n", c.Database.Path, c.Buffer.Retention)
	if c.API.Enabled {
		fmt.Printf("API: %s:%d (auth: %v)\n", c.API.Host, c.API.Port, c.JWT.Secret != "")
	}
	fmt.Printf("======================================\n")
}
