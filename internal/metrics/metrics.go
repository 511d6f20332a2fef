// Package metrics exposes fixture state as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/firmware"
	"github.com/muurk/lumen/internal/version"
)

const namespace = "lumen"

var connectivityStates = []string{"provisioning", "attaching", "attached", "recovering"}

// Metrics holds the fixture collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	state        *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	updates      *prometheus.CounterVec
	updateBytes  prometheus.Gauge
	erases       prometheus.Counter
	ledOn        prometheus.Gauge
	ledLevel     prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors, including Go runtime and process metrics.
func New(info version.Info) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connectivity_state",
			Help:      "1 for the current connectivity state, 0 otherwise.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_transitions_total",
			Help:      "Connectivity state transitions.",
		}, []string{"from", "to"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "firmware_updates_total",
			Help:      "Finished firmware updates by result.",
		}, []string{"result"}),
		updateBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "firmware_update_bytes_written",
			Help:      "Bytes written by the current or last firmware update.",
		}),
		erases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "button_erases_total",
			Help:      "Credential erases triggered by a long press.",
		}),
		ledOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "led_on",
			Help:      "1 when the user LED state is on.",
		}),
		ledLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "led_brightness_percent",
			Help:      "User LED brightness, 0-100.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control surface requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Control surface request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Firmware build information.",
	}, []string{"version", "commit", "goversion"})
	buildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		m.state, m.transitions, m.updates, m.updateBytes, m.erases,
		m.ledOn, m.ledLevel, m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one control surface request. route must come from
// a fixed set, such as the matched mux pattern.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Observe updates collectors from one device event.
func (m *Metrics) Observe(e device.Event) {
	switch data := e.Data.(type) {
	case device.StateChange:
		if data.From != data.To {
			m.transitions.WithLabelValues(data.From, data.To).Inc()
		}
		for _, s := range connectivityStates {
			v := 0.0
			if s == data.To {
				v = 1
			}
			m.state.WithLabelValues(s).Set(v)
		}

	case device.LEDStatus:
		m.ledLevel.Set(float64(data.Brightness))
		if data.IsOn {
			m.ledOn.Set(1)
		} else {
			m.ledOn.Set(0)
		}

	case device.ButtonEvent:
		m.erases.Inc()

	case firmware.Status:
		m.updateBytes.Set(float64(data.BytesWritten))
		switch data.Phase {
		case firmware.PhaseDone:
			m.updates.WithLabelValues("success").Inc()
		case firmware.PhaseFailed:
			m.updates.WithLabelValues(data.ErrorKind).Inc()
		}
	}
}

// Run feeds events from bus into the collectors until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus *device.Bus) {
	events, stop := bus.Subscribe(64)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}
