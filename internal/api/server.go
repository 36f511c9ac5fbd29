// Package api hosts the alert pipeline as an HTTP service: the inbound
// webhook that starts a run, the dashboard read API, and a websocket feed
// that pushes completed runs to connected viewers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/bialert/internal/alert"
	"github.com/mikeyg42/bialert/internal/bi"
	"github.com/mikeyg42/bialert/internal/database"
)

// Runner executes one orchestration.
type Runner interface {
	Run(ctx context.Context, ref alert.Ref) (alert.Outcome, error)
}

// Dashboard serves the audit read queries. Nil disables those routes.
type Dashboard interface {
	RecentAlerts(ctx context.Context, limit int) ([]database.AlertRecord, error)
	AlertStats(ctx context.Context, days int) (database.Stats, error)
}

// Server is the hosted-service HTTP front end.
type Server struct {
	httpServer *http.Server
	runner     Runner
	dashboard  Dashboard
	hub        *Hub
	logger     *zap.Logger
}

// NewServer wires routes and the websocket hub.
func NewServer(addr string, runner Runner, dashboard Dashboard) *Server {
	s := &Server{
		runner:    runner,
		dashboard: dashboard,
		hub:       NewHub(),
		logger:    zap.L().Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/api/alerts/recent", s.handleRecent)
	mux.HandleFunc("/api/alerts/stats", s.handleStats)
	mux.HandleFunc("/ws", s.hub.HandleWS)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // a run may block for the export wait
	}
	return s
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("alert service listening", zap.String("addr", s.httpServer.Addr))
	go s.hub.Run()
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type webhookRequest struct {
	Camera      string `json:"camera"`
	Timestamp   string `json:"timestamp"`
	AlertHandle string `json:"alert_handle"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	if req.Camera == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "camera field is required"})
		return
	}

	ref := alert.Ref{
		Camera:    req.Camera,
		Timestamp: req.Timestamp,
		Handle:    req.AlertHandle,
	}
	if ref.Handle == "" {
		ref.Handle = bi.SentinelHandle
	}
	if ref.Timestamp == "" {
		ref.Timestamp = time.Now().Format("3:04:05 PM")
	}

	out, err := s.runner.Run(r.Context(), ref)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	s.hub.Broadcast(RunEvent{
		Camera:    out.Ref.Camera,
		Timestamp: out.Ref.Timestamp,
		Rejected:  out.Rejected,
		GifURL:    out.GifURL,
		JpegCount: len(out.JpegURLs),
	})

	if out.Rejected {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ignored",
			"confidence": out.Confidence,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"gif_url":   out.GifURL,
		"jpeg_urls": out.JpegURLs,
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.dashboard == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence disabled"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.dashboard.RecentAlerts(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.dashboard == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "persistence disabled"})
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	stats, err := s.dashboard.AlertStats(r.Context(), days)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
