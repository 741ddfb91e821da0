// nasrelay gateway: health, status and Prometheus endpoints, envelope
// injection, and a WebSocket live feed of bus traffic.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sipeed/nasrelay/pkg/bus"
	"github.com/sipeed/nasrelay/pkg/logger"
	"github.com/sipeed/nasrelay/pkg/monitor"
)

// Options configures the gateway listener.
type Options struct {
	Addr      string // host:port
	APIKey    string
	Version   string
	Transport string // memory or redis, reported by /api/status
}

// MonitorStats is satisfied by *monitor.Monitor.
type MonitorStats interface {
	Stats() monitor.Stats
}

// Server is the HTTP gateway.
type Server struct {
	opts      Options
	bus       *bus.MessageBus
	monitor   MonitorStats
	gatherer  prometheus.Gatherer
	hub       *WSHub
	bridge    *EventBridge
	startTime time.Time
	server    *http.Server
}

// NewServer creates a gateway. mon may be nil when the monitor is disabled;
// gatherer defaults to the Prometheus default registry.
func NewServer(opts Options, mb *bus.MessageBus, mon MonitorStats, gatherer prometheus.Gatherer) *Server {
	// No configured key: generate one per process and print it once.
	if opts.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			opts.APIKey = hex.EncodeToString(raw)
			fmt.Println()
			fmt.Println("╔══════════════════════════════════════════════════════╗")
			fmt.Println("║          NASRELAY GATEWAY KEY (session token)        ║")
			fmt.Printf("║  %-52s  ║\n", opts.APIKey)
			fmt.Println("║  Set gateway.api_key or NASRELAY_GATEWAY_API_KEY     ║")
			fmt.Println("║  to make this permanent.                             ║")
			fmt.Println("╚══════════════════════════════════════════════════════╝")
			fmt.Println()
		}
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:      opts,
		bus:       mb,
		monitor:   mon,
		gatherer:  gatherer,
		startTime: time.Now(),
	}
	s.hub = NewWSHub(s)
	s.bridge = NewEventBridge(mb, s.hub)
	return s
}

// APIKey returns the effective bearer token.
func (s *Server) APIKey() string { return s.opts.APIKey }

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /api/ws", s.hub.HandleWebSocket)
	mux.HandleFunc("POST /api/inbound", s.handleInbound)
	return authMiddleware(s.opts.APIKey, mux)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.opts.Addr
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Gateway starting", map[string]interface{}{
		"addr": addr,
	})

	go s.hub.Run(ctx)
	s.bridge.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	logger.InfoC("api", "Gateway stopped")
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() map[string]interface{} {
	uptime := time.Since(s.startTime)
	st := map[string]interface{}{
		"version":        s.opts.Version,
		"transport":      s.opts.Transport,
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
		"goroutines":     runtime.NumGoroutine(),
		"ws_clients":     s.hub.ClientCount(),
	}
	if s.monitor != nil {
		st["monitor"] = s.monitor.Stats()
	} else {
		st["monitor"] = nil
	}
	return st
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
