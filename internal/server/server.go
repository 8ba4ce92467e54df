// Package server exposes the checker process over HTTP: reload signals,
// manual check runs, the timer table and metrics.
package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ArCaneSec/watcher/internal/config"
	"github.com/ArCaneSec/watcher/internal/jobs"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Scheduler interface {
	Reload()
	RunAllOnce(ctx context.Context) (int, error)
	Jobs() map[uint]jobs.JobInfo
}

type Server struct {
	scheduler Scheduler
	gatherer  prometheus.Gatherer
}

func New(scheduler Scheduler, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{scheduler: scheduler, gatherer: gatherer}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.index)
	r.Get("/healthz", s.health)
	r.Post("/reload", s.reload)
	r.Post("/check-all", s.checkAll)
	r.Get("/jobs", s.listJobs)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	JSONEncode(w, http.StatusOK, map[string]any{
		"service":           "watcher-checker",
		"version":           config.Version,
		"status":            "running",
		"scheduled_targets": len(s.scheduler.Jobs()),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	JSONEncode(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Reload()
	JSONEncode(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Schedules reloaded",
	})
}

func (s *Server) checkAll(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := s.scheduler.RunAllOnce(context.Background()); err != nil {
			log.Error("Manual check run failed.", "err", err)
		}
	}()
	JSONEncode(w, http.StatusAccepted, "Check of all enabled targets started.")
}

type jobView struct {
	TargetID        uint      `json:"target_id"`
	IntervalSeconds int       `json:"interval_seconds"`
	NextRun         time.Time `json:"next_run"`
	Running         bool      `json:"running"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	current := s.scheduler.Jobs()

	views := make([]jobView, 0, len(current))
	for id, info := range current {
		views = append(views, jobView{
			TargetID:        id,
			IntervalSeconds: int(info.Interval / time.Second),
			NextRun:         info.NextRun,
			Running:         info.Running,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].TargetID < views[j].TargetID })

	JSONEncode(w, http.StatusOK, views)
}
