package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ArCaneSec/watcher/internal/config"
	"github.com/ArCaneSec/watcher/internal/models"
	"github.com/ArCaneSec/watcher/internal/server"
	"github.com/ArCaneSec/watcher/internal/store"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
)

var (
	errInvalidData   = errors.New("invalid data.")
	errInvalidID     = errors.New("invalid id.")
	errNoFields      = errors.New("no fields to update.")
	errTargetMissing = errors.New("target not found.")
	errCheckMissing  = errors.New("check not found.")
	errNoChecks      = errors.New("no checks for target.")
	errNoBody        = errors.New("check has no stored content.")
	errInternal      = errors.New("internal error.")
)

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	server.JSONEncode(w, http.StatusOK, map[string]string{
		"service": "watcher-web",
		"version": config.Version,
		"status":  "running",
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	server.JSONEncode(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	var filter store.TargetFilter
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			server.JSONEncode(w, http.StatusBadRequest, errors.New("enabled must be true or false."))
			return
		}
		filter.Enabled = &enabled
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	targets, err := s.store.ListTargets(ctx, filter)
	if err != nil {
		s.internalError(w, "list targets", err)
		return
	}
	server.JSONEncode(w, http.StatusOK, targets)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	target, err := s.store.GetTarget(ctx, id)
	if err != nil {
		s.storeError(w, "get target", err, errTargetMissing)
		return
	}
	server.JSONEncode(w, http.StatusOK, target)
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var in models.TargetInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		server.JSONEncode(w, http.StatusBadRequest, errInvalidData)
		return
	}

	if errs := in.Validate(); len(errs) != 0 {
		server.JSONEncode(w, http.StatusBadRequest, errs)
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	target := in.Target()
	if err := s.store.CreateTarget(ctx, &target); err != nil {
		s.storeError(w, "create target", err, errTargetMissing)
		return
	}

	log.Info("Target created.", "target_id", target.ID, "url", target.URL)
	s.notifyReload()
	server.JSONEncode(w, http.StatusCreated, target)
}

func (s *Server) updateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	var patch models.TargetPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		server.JSONEncode(w, http.StatusBadRequest, errInvalidData)
		return
	}
	if patch.Empty() {
		server.JSONEncode(w, http.StatusBadRequest, errNoFields)
		return
	}
	if errs := patch.Validate(); len(errs) != 0 {
		server.JSONEncode(w, http.StatusBadRequest, errs)
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	target, err := s.store.UpdateTarget(ctx, id, patch)
	if err != nil {
		s.storeError(w, "update target", err, errTargetMissing)
		return
	}

	log.Info("Target updated.", "target_id", target.ID)
	s.notifyReload()
	server.JSONEncode(w, http.StatusOK, target)
}

func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	if err := s.store.DeleteTarget(ctx, id); err != nil {
		s.storeError(w, "delete target", err, errTargetMissing)
		return
	}

	log.Info("Target deleted.", "target_id", id)
	s.notifyReload()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	limit, ok := queryInt(w, r, "limit", store.DefaultChecksLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	if _, err := s.store.GetTarget(ctx, id); err != nil {
		s.storeError(w, "get target", err, errTargetMissing)
		return
	}

	checks, err := s.store.ListChecks(ctx, id, limit, offset)
	if err != nil {
		s.internalError(w, "list checks", err)
		return
	}
	server.JSONEncode(w, http.StatusOK, checks)
}

func (s *Server) latestCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	if _, err := s.store.GetTarget(ctx, id); err != nil {
		s.storeError(w, "get target", err, errTargetMissing)
		return
	}

	check, err := s.store.LatestCheck(ctx, id)
	if err != nil {
		s.storeError(w, "latest check", err, errNoChecks)
		return
	}
	server.JSONEncode(w, http.StatusOK, check)
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", store.DefaultChangesLimit)
	if !ok {
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	checks, err := s.store.ListChanges(ctx, limit)
	if err != nil {
		s.internalError(w, "list changes", err)
		return
	}
	server.JSONEncode(w, http.StatusOK, checks)
}

func (s *Server) getCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	check, err := s.store.GetCheck(ctx, id)
	if err != nil {
		s.storeError(w, "get check", err, errCheckMissing)
		return
	}
	server.JSONEncode(w, http.StatusOK, check)
}

func (s *Server) checkBody(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	ctx, cancel := server.QueryContext(r)
	defer cancel()

	check, err := s.store.GetCheck(ctx, id)
	if err != nil {
		s.storeError(w, "get check", err, errCheckMissing)
		return
	}
	if check.ContentBody == nil {
		server.JSONEncode(w, http.StatusNotFound, errNoBody)
		return
	}

	contentType := "text/plain; charset=utf-8"
	if check.ContentType != nil && *check.ContentType != "" {
		contentType = *check.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(*check.ContentBody))
}

func parseID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		server.JSONEncode(w, http.StatusBadRequest, errInvalidID)
		return 0, false
	}
	return uint(id), true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		server.JSONEncode(w, http.StatusBadRequest, errors.New(key+" must be a non-negative integer."))
		return 0, false
	}
	return v, true
}

// storeError maps store sentinels to responses; missing is the 404 message.
func (s *Server) storeError(w http.ResponseWriter, op string, err error, missing error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		server.JSONEncode(w, http.StatusNotFound, missing)
	case errors.Is(err, store.ErrDuplicateURL):
		server.JSONEncode(w, http.StatusBadRequest, err)
	default:
		s.internalError(w, op, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	log.Error("Store operation failed.", "op", op, "err", err)
	server.JSONEncode(w, http.StatusInternalServerError, errInternal)
}
