// Package sensors produces the readings the node transmits. The mock
// source stands in for real I2C sensors on development hardware.
package sensors

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lora-node/lora-node-pro/internal/models"
)

// Source yields one set of sensor values per call.
type Source interface {
	Read() map[string]float64
}

// MockSource random-walks plausible environmental values. Keys use
// the compact names carried over the radio link.
type MockSource struct {
	rng  *rand.Rand
	temp float64
	hum  float64
	pres float64
	bat  float64
}

// NewMock seeds a mock source. The same seed reproduces the same walk.
func NewMock(seed int64) *MockSource {
	return &MockSource{
		rng:  rand.New(rand.NewSource(seed)),
		temp: 21.0,
		hum:  50.0,
		pres: 1013.0,
		bat:  4.10,
	}
}

func (s *MockSource) Read() map[string]float64 {
	s.temp = clamp(s.temp+s.rng.Float64()-0.5, -10, 45)
	s.hum = clamp(s.hum+2*(s.rng.Float64()-0.5), 5, 100)
	s.pres = clamp(s.pres+0.6*(s.rng.Float64()-0.5), 950, 1060)
	// Battery only ever drains.
	s.bat = clamp(s.bat-0.0005*s.rng.Float64(), 3.0, 4.2)

	return map[string]float64{
		"temp": round1(s.temp),
		"hum":  round1(s.hum),
		"pres": round1(s.pres),
		"bat":  round2(s.bat),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 { return float64(int(v*10+0.5)) / 10 }
func round2(v float64) float64 { return float64(int(v*100+0.5)) / 100 }

// Collector samples a source on an interval and hands each reading to
// emit. It blocks until the context is canceled.
type Collector struct {
	source   Source
	deviceID string
	location string
	interval time.Duration
}

// NewCollector builds a collector for one device.
func NewCollector(source Source, deviceID, location string, interval time.Duration) *Collector {
	return &Collector{source: source, deviceID: deviceID, location: location, interval: interval}
}

// Run emits one reading immediately, then one per interval. Emit
// errors are logged, not fatal; sampling continues.
func (c *Collector) Run(ctx context.Context, emit func(context.Context, *models.Reading) error) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log.Info().Str("device_id", c.deviceID).Dur("interval", c.interval).Msg("sensor collector started")

	for {
		r := &models.Reading{
			DeviceID:     c.deviceID,
			Timestamp:    time.Now().UTC(),
			Location:     c.location,
			SensorValues: c.source.Read(),
		}
		if err := emit(ctx, r); err != nil {
			log.Error().Err(err).Msg("reading emit failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
