package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/firmware"
	"github.com/muurk/lumen/internal/indicator"
	"github.com/muurk/lumen/internal/logging"
	"github.com/muurk/lumen/internal/metrics"
	"github.com/muurk/lumen/internal/wifi"
)

// Config holds the control surface settings.
type Config struct {
	Host string
	Port int
	// RequestTimeout bounds how long a handler waits for the owner loop.
	RequestTimeout time.Duration
	// CommandRate and CommandBurst limit state-changing requests per second.
	CommandRate  float64
	CommandBurst int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Port:           80,
		RequestTimeout: 5 * time.Second,
		CommandRate:    5,
		CommandBurst:   10,
	}
}

// Device is the part of the owner loop the handlers use.
type Device interface {
	Info(ctx context.Context) (device.Info, error)
	LED(ctx context.Context) (indicator.State, error)
	SetLED(ctx context.Context, change device.LEDChange) (indicator.State, error)
	Connect(ctx context.Context, ssid, passphrase string) error
	Scan(ctx context.Context) ([]wifi.Network, error)
	Events() *device.Bus
}

// Updater starts firmware updates and reports their progress.
type Updater interface {
	Start(ctx context.Context, source string) error
	Status() firmware.Status
}

// Server is the fixture's HTTP control surface.
type Server struct {
	cfg      Config
	dev      Device
	upd      Updater
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	logger   *zap.Logger

	// base outlives individual requests; updates run under it.
	base context.Context
}

// New creates a server. m may be nil, in which case /metrics is not served.
func New(cfg Config, dev Device, upd Updater, m *metrics.Metrics) *Server {
	def := DefaultConfig()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = def.CommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = def.CommandBurst
	}

	return &Server{
		cfg:     cfg,
		dev:     dev,
		upd:     upd,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(cfg.CommandRate), cfg.CommandBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control surface is unauthenticated; any origin may watch.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.Named("http"),
		base:   context.Background(),
	}
}

// Handler returns the routed and instrumented control surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /device_info", s.handleDeviceInfo)
	mux.HandleFunc("GET /scan", s.handleScan)
	mux.Handle("POST /connect", s.limit(http.HandlerFunc(s.handleConnect)))
	mux.HandleFunc("GET /led", s.handleGetLED)
	mux.Handle("POST /led", s.limit(http.HandlerFunc(s.handleSetLED)))
	mux.Handle("POST /update_firmware", s.limit(http.HandlerFunc(s.handleUpdateFirmware)))
	mux.HandleFunc("GET /update_status", s.handleUpdateStatus)
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.observe(mux)
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx ends.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.base = ctx
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Control surface listening", zap.String("addr", listener.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Shutdown timeout, forcing close", zap.Error(err))
			_ = srv.Close()
		}
		s.logger.Info("Control surface stopped")
		return nil
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes the connection through for the /events upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("connection does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, sw.status)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(r.Method, routeLabel(r), sw.status, time.Since(start))
		}
	})
}

// routeLabel returns the path of the route that served r, or "unmatched".
// The mux sets r.Pattern on the request it dispatches.
func routeLabel(r *http.Request) string {
	pattern := r.Pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		pattern = pattern[i+1:]
	}
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
