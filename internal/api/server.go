package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auctionwatch/internal/model"
	"auctionwatch/internal/scheduler"
	"auctionwatch/internal/stats"
)

// FeedItems and FeedCommodities name the two polling feeds everywhere a
// handler has to address one.
const (
	FeedItems       = "items"
	FeedCommodities = "commodities"
)

// EventReader is the slice of the event log the API consumes.
type EventReader interface {
	Recent(limit int) []model.SalesEvent
	Version() uint64
}

// Server is the read-only HTTP surface over the tracker's state. It only
// consumes snapshots of the log and stats cache; it never blocks producers.
type Server struct {
	sched  *scheduler.Scheduler
	events EventReader
	stats  *stats.Cache
}

// NewServer wires the route layer to the tracker internals.
func NewServer(sched *scheduler.Scheduler, events EventReader, statsCache *stats.Cache) *Server {
	return &Server{sched: sched, events: events, stats: statsCache}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/sales", s.handleSales)
		r.Get("/stats/{hours}", s.handleStats)
		r.Get("/status", s.handleStatus)
		r.Get("/snapshot", s.handleSnapshot)
		r.Post("/refresh/{feed}", s.handleRefresh)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.events.Version(),
		"events":  s.events.Recent(limit),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours, err := strconv.Atoi(chi.URLParam(r, "hours"))
	if err != nil || hours <= 0 {
		writeError(w, http.StatusBadRequest, "hours must be a positive integer")
		return
	}
	live := r.URL.Query().Get("live") == "true"
	writeJSON(w, http.StatusOK, s.stats.Get(hours, live))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.sched.CurrentSnapshot(FeedItems)
	if snap == nil {
		writeError(w, http.StatusNotFound, "no snapshot fetched yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	feed := chi.URLParam(r, "feed")
	if err := s.sched.TriggerPoll(feed); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"feed": feed, "status": "scheduled"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
