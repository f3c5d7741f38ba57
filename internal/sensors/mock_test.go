package sensors

import (
	"context"
	"testing"
	"time"

	"github.com/lora-node/lora-node-pro/internal/models"
)

func TestMockSourceRanges(t *testing.T) {
	s := NewMock(1)

	for i := 0; i < 1000; i++ {
		values := s.Read()

		for _, key := range []string{"temp", "hum", "pres", "bat"} {
			if _, ok := values[key]; !ok {
				t.Fatalf("read %d missing key %q", i, key)
			}
		}
		if v := values["temp"]; v < -10 || v > 45 {
			t.Fatalf("temp %v out of range", v)
		}
		if v := values["hum"]; v < 5 || v > 100 {
			t.Fatalf("hum %v out of range", v)
		}
		if v := values["pres"]; v < 950 || v > 1060 {
			t.Fatalf("pres %v out of range", v)
		}
		if v := values["bat"]; v < 3.0 || v > 4.2 {
			t.Fatalf("bat %v out of range", v)
		}
	}
}

func TestMockSourceDeterministic(t *testing.T) {
	a, b := NewMock(7), NewMock(7)
	for i := 0; i < 10; i++ {
		va, vb := a.Read(), b.Read()
		for k := range va {
			if va[k] != vb[k] {
				t.Fatalf("read %d: %s differs (%v vs %v)", i, k, va[k], vb[k])
			}
		}
	}
}

func TestMockBatteryDrains(t *testing.T) {
	s := NewMock(3)
	first := s.Read()["bat"]
	var last float64
	for i := 0; i < 500; i++ {
		last = s.Read()["bat"]
	}
	if last > first {
		t.Errorf("battery rose from %v to %v", first, last)
	}
}

func TestCollectorEmits(t *testing.T) {
	c := NewCollector(NewMock(1), "node-0001", "greenhouse", 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var got []*models.Reading
	emit := func(_ context.Context, r *models.Reading) error {
		got = append(got, r)
		if len(got) >= 3 {
			cancel()
		}
		return nil
	}

	if err := c.Run(ctx, emit); err != context.Canceled {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(got) < 3 {
		t.Fatalf("collected %d readings, want >= 3", len(got))
	}
	r := got[0]
	if r.DeviceID != "node-0001" || r.Location != "greenhouse" {
		t.Errorf("reading = %+v", r)
	}
	if len(r.SensorValues) != 4 {
		t.Errorf("sensor values = %v", r.SensorValues)
	}
}
