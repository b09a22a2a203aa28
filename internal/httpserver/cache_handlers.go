package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/neocache/pkg/cachekey"
	"github.com/wisbric/neocache/pkg/cachemanager"
)

// RegisterCacheRoutes mounts the get/set/delete/exists/batch cache
// operations under /api/v1/cache/{namespace}.
func (s *Server) RegisterCacheRoutes() {
	s.Router.Route("/api/v1/cache/{namespace}", func(r chi.Router) {
		r.Get("/_get_many", s.handleGetMany)
		r.Post("/_get_many", s.handleGetMany)
		r.Post("/_set_many", s.handleSetMany)
		r.Post("/_warm", s.handleWarm)
		r.Delete("/", s.handleFlushNamespace)

		r.Get("/{key}", s.handleGet)
		r.Put("/{key}", s.handleSet)
		r.Delete("/{key}", s.handleDelete)
		r.Head("/{key}", s.handleExists)
	})
}

func (s *Server) manager(w http.ResponseWriter, r *http.Request) (*cachemanager.Manager, bool) {
	ns := chi.URLParam(r, "namespace")
	tenantID := r.URL.Query().Get("tenant_id")
	m, err := s.Managers.Manager(r.Context(), ns, tenantID)
	if err != nil {
		RespondCacheErr(w, err)
		return nil, false
	}
	return m, true
}

type cacheEntryResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	var value any
	if !m.Get(r.Context(), key, &value) {
		RespondError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}
	Respond(w, http.StatusOK, cacheEntryResponse{Key: key, Value: value})
}

type setRequest struct {
	Value     any      `json:"value" validate:"required"`
	TTLSec    int64    `json:"ttl_seconds"`
	Priority  int      `json:"priority"`
	DependsOn []string `json:"depends_on"`
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	var req setRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	opts := cachemanager.SetOptions{
		TTL:       cachekey.TTL(req.TTLSec),
		Priority:  cachekey.Priority(req.Priority),
		DependsOn: req.DependsOn,
	}
	if !m.Set(r.Context(), key, req.Value, opts) {
		RespondError(w, http.StatusInternalServerError, "set_failed", "could not store value")
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if !m.Delete(r.Context(), key) {
		RespondError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	if !m.Exists(r.Context(), key) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type getManyRequest struct {
	Keys []string `json:"keys" validate:"required,min=1"`
}

func (s *Server) handleGetMany(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}

	var keys []string
	if r.Method == http.MethodGet {
		keys = r.URL.Query()["key"]
	} else {
		var req getManyRequest
		if !DecodeAndValidate(w, r, &req) {
			return
		}
		keys = req.Keys
	}

	raw := m.GetMany(r.Context(), keys)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = string(v)
	}
	Respond(w, http.StatusOK, out)
}

type setManyRequest struct {
	Values map[string]any `json:"values" validate:"required,min=1"`
	TTLSec int64          `json:"ttl_seconds"`
}

func (s *Server) handleSetMany(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}

	var req setManyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	opts := cachemanager.SetOptions{TTL: cachekey.TTL(req.TTLSec)}
	if !m.SetMany(r.Context(), req.Values, opts) {
		RespondError(w, http.StatusInternalServerError, "set_failed", "could not store one or more values")
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

type warmEntryRequest struct {
	Key      string `json:"key" validate:"required"`
	Value    any    `json:"value" validate:"required"`
	TTLSec   int64  `json:"ttl_seconds"`
	Priority int    `json:"priority"`
}

type warmRequest struct {
	Entries         []warmEntryRequest `json:"entries" validate:"required,min=1"`
	BatchSize       int                `json:"batch_size"`
	ReplaceExisting bool               `json:"replace_existing"`
}

// handleWarm proactively populates a namespace from an explicit list of
// entries. The key-factory/value-factory form of cachemanager.Warm has no
// HTTP counterpart: a factory is code, not JSON.
func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	m, ok := s.manager(w, r)
	if !ok {
		return
	}

	var req warmRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	entries := make([]cachemanager.WarmEntry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = cachemanager.WarmEntry{
			Key:      e.Key,
			Value:    e.Value,
			TTL:      cachekey.TTL(e.TTLSec),
			Priority: cachekey.Priority(e.Priority),
		}
	}

	result := m.Warm(r.Context(), cachemanager.WarmOptions{
		Entries:         entries,
		BatchSize:       req.BatchSize,
		ReplaceExisting: req.ReplaceExisting,
	})
	Respond(w, http.StatusOK, result)
}

func (s *Server) handleFlushNamespace(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	n, err := s.Deps.Invalidator.InvalidateNamespace(r.Context(), ns)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "invalidate_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]any{"keys_removed": n})
}
