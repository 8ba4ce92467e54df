// Package routes serves the administrative and query API of the web process.
package routes

import (
	"context"
	"net/http"
	"sync"

	"github.com/ArCaneSec/watcher/internal/reload"
	"github.com/ArCaneSec/watcher/internal/store"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	store    store.Store
	notifier reload.Notifier
	wg       sync.WaitGroup
}

func New(s store.Store, notifier reload.Notifier) *Server {
	if notifier == nil {
		notifier = reload.Nop{}
	}
	return &Server{store: s, notifier: notifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.index)
	r.Get("/healthz", s.health)

	r.Route("/targets", func(r chi.Router) {
		r.Get("/", s.listTargets)
		r.Post("/", s.createTarget)

		r.Route("/{id:[0-9]+}", func(r chi.Router) {
			r.Get("/", s.getTarget)
			r.Patch("/", s.updateTarget)
			r.Delete("/", s.deleteTarget)
			r.Get("/checks", s.listChecks)
			r.Get("/checks/latest", s.latestCheck)
		})
	})

	r.Route("/checks", func(r chi.Router) {
		r.Get("/changes", s.listChanges)
		r.Get("/{id:[0-9]+}", s.getCheck)
		r.Get("/{id:[0-9]+}/body", s.checkBody)
	})

	return r
}

// Wait blocks until pending reload notifications are done.
func (s *Server) Wait() {
	s.wg.Wait()
}

// notifyReload tells the checker to reconcile. Failures are only logged.
func (s *Server) notifyReload() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), reload.NotifyTimeout)
		defer cancel()

		if err := s.notifier.NotifyReload(ctx); err != nil {
			log.Warn("Couldn't notify checker to reload schedules.", "err", err)
			return
		}
		log.Debug("Checker notified to reload schedules.")
	}()
}
