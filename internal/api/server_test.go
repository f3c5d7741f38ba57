package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lora-node/lora-node-pro/internal/auth"
	"github.com/lora-node/lora-node-pro/internal/buffer"
	"github.com/lora-node/lora-node-pro/internal/config"
	"github.com/lora-node/lora-node-pro/internal/models"
	"github.com/lora-node/lora-node-pro/internal/storage"
)

type stubLink struct{ state models.LinkState }

func (s stubLink) State() models.LinkState { return s.state }

func newTestServer(t *testing.T, jwtSecret string) (*RESTServer, *buffer.DurableQueue) {
	t.Helper()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	q := buffer.New(store, buffer.Options{})

	cfg := &config.Config{}
	cfg.Node.DeviceID = "node-test"
	cfg.JWT.Secret = jwtSecret
	cfg.JWT.TokenTTL = time.Hour

	return NewRESTServer(cfg, q, stubLink{state: models.LinkOnline}), q
}

func seedReadings(t *testing.T, q *buffer.DurableQueue, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := &models.Reading{
			DeviceID:     "node-test",
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			SensorValues: map[string]float64{"temp": 20 + float64(i)},
		}
		if err := q.Append(context.Background(), r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" || body["device"] != "node-test" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleStats(t *testing.T) {
	s, q := newTestServer(t, "")
	seedReadings(t, q, 3, time.Now().UTC())

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats models.QueueStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.TotalReadings != 3 || stats.UnsentReadings != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleState(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/state", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["state"] != "online" {
		t.Errorf("state = %q, want online", body["state"])
	}
}

func TestHandleExportRange(t *testing.T) {
	s, q := newTestServer(t, "")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedReadings(t, q, 10, base)

	url := "/api/v1/readings?start=" + base.Add(2*time.Minute).Format(time.RFC3339) +
		"&end=" + base.Add(5*time.Minute).Format(time.RFC3339)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", url, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var body struct {
		Count    int               `json:"count"`
		Readings []*models.Reading `json:"readings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Count != 4 {
		t.Errorf("count = %d, want 4", body.Count)
	}
}

func TestHandleExportBadRange(t *testing.T) {
	s, _ := newTestServer(t, "")

	tests := []struct {
		name string
		url  string
	}{
		{"bad start", "/api/v1/readings?start=yesterday"},
		{"bad end", "/api/v1/readings?end=42"},
		{"inverted", "/api/v1/readings?start=2026-03-02T00:00:00Z&end=2026-03-01T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, httptest.NewRequest("GET", tt.url, nil))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	s, _ := newTestServer(t, "test-secret")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	mgr := auth.NewJWTManager(&s.config.JWT)
	token, err := mgr.GenerateToken("tester")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200: %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest("GET", "/api/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with garbage token = %d, want 401", rec.Code)
	}
}

func TestHandleTransmissions(t *testing.T) {
	s, q := newTestServer(t, "")

	q.LogTransmission(&models.TransmissionLogEntry{DeviceID: "node-test", Success: true, PayloadSize: 80})
	q.LogTransmission(&models.TransmissionLogEntry{DeviceID: "node-test", Success: false, Error: "TX timed out"})
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/transmissions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Total   int64                          `json:"total"`
		Entries []*models.TransmissionLogEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Total != 2 || len(body.Entries) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Entries[0].Success {
		t.Error("entries not newest-first")
	}
}
