// Package health implements the Health/Readout Endpoint (spec §4.12): a
// small JSON HTTP surface exposing process liveness, detector/alert
// aggregates, and the most recent alerts. Built directly on net/http's
// ServeMux, matching the teacher's bias toward minimal dependencies for a
// concern this small — three static GET routes do not warrant pulling in a
// full router or web framework.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/surveil/smartmoney/internal/alertstore"
	"github.com/surveil/smartmoney/internal/logger"
)

// Stats is the read-only surface the endpoint needs from the orchestrator,
// kept as a function bag rather than a concrete type dependency so health
// stays decoupled from orchestrator's internals.
type Stats struct {
	MonitoredMarkets func() int
	TotalTrades      func() int
	AlertsThisHour   func() int
}

// Server serves the health/readout HTTP surface.
type Server struct {
	addr      string
	startedAt time.Time
	stats     Stats
	alerts    *alertstore.Store
	srv       *http.Server
}

// New constructs a health Server bound to addr; call Serve to start it.
func New(addr string, stats Stats, alerts *alertstore.Store) *Server {
	return &Server{addr: addr, startedAt: time.Now(), stats: stats, alerts: alerts}
}

// Serve blocks, listening on the configured address, until the process is
// asked to shut down via Shutdown.
func (s *Server) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/alerts", s.handleAlerts)

	s.srv = &http.Server{Addr: s.addr, Handler: withCORS(mux)}
	logger.Info("health: listening on %s", s.addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptimeMs":       time.Since(s.startedAt).Milliseconds(),
		"markets":        s.stats.MonitoredMarkets(),
		"trades":         s.stats.TotalTrades(),
		"alertsThisHour": s.stats.AlertsThisHour(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.alerts.StatsSnapshot())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.alerts.Recent(50))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("health: failed to encode response: %v", err)
	}
}
