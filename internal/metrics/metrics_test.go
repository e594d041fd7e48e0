package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// nil でもパニックしない
	m.ObserveTuning("zoom", time.Millisecond, nil)
	m.SetQueueDepth(3)
	m.ObserveRecording(nil)
	m.ObserveCapture("single", nil)
	m.IncCacheDerivations("photos", 1)
	m.IncCacheReuse("photos")
	m.ObserveRequest("GET", "/health", 200)
	m.SetDevices(1)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveTuning("zoom", time.Millisecond, nil)
	m.ObserveTuning("zoom", time.Millisecond, errors.New("boom"))
	m.ObserveTuning("torch", time.Millisecond, nil)

	if got := testutil.ToFloat64(m.tuningOperations.WithLabelValues("zoom", "ok")); got != 1 {
		t.Errorf("Expected 1 successful zoom, got %v", got)
	}
	if got := testutil.ToFloat64(m.tuningOperations.WithLabelValues("zoom", "error")); got != 1 {
		t.Errorf("Expected 1 failed zoom, got %v", got)
	}

	m.ObserveRequest("GET", "/api/status", 200)
	m.ObserveRequest("POST", "/api/photo", 503)
	if got := testutil.ToFloat64(m.httpErrors); got != 1 {
		t.Errorf("Expected 1 http error, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	called := false

	srv := httptest.NewServer(m.Handler(func() {
		called = true
		m.SetDevices(2)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !called {
		t.Error("Expected updateGauges to be called")
	}
	if !strings.Contains(string(body), "capturectl_devices 2") {
		t.Errorf("Expected devices gauge in output, got:\n%s", body)
	}
}
