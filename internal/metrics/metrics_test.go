package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/firmware"
	"github.com/muurk/lumen/internal/version"
)

func TestObserveStateChange(t *testing.T) {
	m := New(version.Info{Version: "1.0.0"})

	m.Observe(device.Event{Type: device.EventState, Data: device.StateChange{From: "provisioning", To: "attaching"}})
	m.Observe(device.Event{Type: device.EventState, Data: device.StateChange{From: "attaching", To: "attached"}})

	if got := testutil.ToFloat64(m.state.WithLabelValues("attached")); got != 1 {
		t.Errorf("attached gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.state.WithLabelValues("attaching")); got != 0 {
		t.Errorf("attaching gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("attaching", "attached")); got != 1 {
		t.Errorf("transition counter = %v, want 1", got)
	}
}

func TestObserveUpdateResults(t *testing.T) {
	m := New(version.Info{})

	m.Observe(device.Event{Data: firmware.Status{Phase: firmware.PhaseWriting, BytesWritten: 4096}})
	m.Observe(device.Event{Data: firmware.Status{Phase: firmware.PhaseFailed, ErrorKind: "Incomplete", BytesWritten: 800}})
	m.Observe(device.Event{Data: firmware.Status{Phase: firmware.PhaseDone, BytesWritten: 1000}})

	if got := testutil.ToFloat64(m.updates.WithLabelValues("Incomplete")); got != 1 {
		t.Errorf("Incomplete count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.updates.WithLabelValues("success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.updateBytes); got != 1000 {
		t.Errorf("bytes gauge = %v, want 1000", got)
	}
}

func TestObserveLEDAndButton(t *testing.T) {
	m := New(version.Info{})

	m.Observe(device.Event{Data: device.LEDStatus{IsOn: true, Brightness: 60}})
	m.Observe(device.Event{Data: device.ButtonEvent{Action: "erase"}})

	if testutil.ToFloat64(m.ledOn) != 1 || testutil.ToFloat64(m.ledLevel) != 60 {
		t.Error("LED gauges not updated")
	}
	if testutil.ToFloat64(m.erases) != 1 {
		t.Error("erase counter not incremented")
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(version.Info{Version: "1.2.3", Commit: "abc1234", GoVersion: "go1.24"})
	m.ObserveHTTP(http.MethodGet, "/led", http.StatusOK, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	body := rec.Body.String()
	for _, want := range []string{
		`lumen_build_info{commit="abc1234",goversion="go1.24",version="1.2.3"} 1`,
		`lumen_http_requests_total{method="GET",path="/led",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}
}
