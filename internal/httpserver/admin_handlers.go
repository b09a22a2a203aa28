package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/neocache/pkg/cachekey"
	"github.com/wisbric/neocache/pkg/controlplane"
	"github.com/wisbric/neocache/pkg/tokenvalidator"
)

// RegisterAdminRoutes mounts invalidation, dependency, scheduling, trigger,
// node-registry, namespace-policy, token-validation, and detailed health
// endpoints under /api/v1.
func (s *Server) RegisterAdminRoutes() {
	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleDetailedHealth)

		r.Route("/invalidate", func(r chi.Router) {
			r.Post("/key", s.handleInvalidateKey)
			r.Post("/keys", s.handleInvalidateKeys)
			r.Post("/pattern", s.handleInvalidatePattern)
			r.Post("/cascade", s.handleInvalidateCascade)
			r.Get("/stats", s.handleInvalidationStats)
		})

		r.Route("/dependencies", func(r chi.Router) {
			r.Post("/", s.handleAddDependency)
			r.Delete("/", s.handleRemoveDependency)
			r.Get("/{parent}", s.handleListDependencies)
		})

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", s.handleCreateSchedule)
			r.Get("/", s.handleListSchedules)
			r.Delete("/{id}", s.handleCancelSchedule)
		})

		r.Route("/triggers", func(r chi.Router) {
			r.Post("/", s.handleCreateTrigger)
			r.Delete("/{id}", s.handleDeleteTrigger)
			r.Post("/{id}/pause", s.handlePauseTrigger)
			r.Post("/{id}/resume", s.handleResumeTrigger)
		})
		r.Post("/events/{eventType}", s.handleFireEvent)
		r.Get("/events/metrics", s.handleEventPublisherMetrics)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", s.handleListNodes)
			r.Post("/", s.handleRegisterNode)
			r.Delete("/{id}", s.handleUnregisterNode)
			r.Get("/{id}/ping", s.handlePingNode)
			r.Get("/{id}/history", s.handleNodeHistory)
		})

		r.Route("/namespaces", func(r chi.Router) {
			r.Get("/", s.handleListNamespacePolicies)
			r.Put("/{namespace}", s.handleUpsertNamespacePolicy)
			r.Get("/{namespace}", s.handleGetNamespacePolicy)
			r.Delete("/{namespace}", s.handleDeleteNamespacePolicy)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/validate", s.handleValidateToken)
			r.Post("/refresh", s.handleRefreshToken)
			r.Post("/revoke", s.handleRevokeToken)
		})
	})
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "health checker is not configured")
		return
	}
	report := s.Health.Check(r.Context())
	status := http.StatusOK
	switch report.Overall {
	case "UNHEALTHY":
		status = http.StatusServiceUnavailable
	case "DEGRADED":
		status = http.StatusOK
	}
	Respond(w, status, report)
}

// --- invalidation ---

type invalidateKeyRequest struct {
	FullKey string `json:"full_key" validate:"required"`
}

func (s *Server) handleInvalidateKey(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req invalidateKeyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	removed, err := s.Deps.Invalidator.InvalidateKey(r.Context(), req.FullKey)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "invalidate_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]bool{"removed": removed})
}

type invalidateKeysRequest struct {
	FullKeys []string `json:"full_keys" validate:"required,min=1"`
}

func (s *Server) handleInvalidateKeys(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req invalidateKeysRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.Deps.Invalidator.InvalidateKeys(r.Context(), req.FullKeys)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "invalidate_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]int{"removed": n})
}

type invalidatePatternRequest struct {
	Pattern       string `json:"pattern" validate:"required"`
	PatternType   string `json:"pattern_type" validate:"required,oneof=EXACT PREFIX SUFFIX WILDCARD REGEX"`
	CaseSensitive bool   `json:"case_sensitive"`
	Namespace     string `json:"namespace" validate:"required"`
}

func (s *Server) handleInvalidatePattern(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req invalidatePatternRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	pattern, err := cachekey.NewPattern(req.Pattern, cachekey.PatternType(req.PatternType), req.CaseSensitive)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	}
	n, err := s.Deps.Invalidator.InvalidatePattern(r.Context(), pattern, req.Namespace)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "invalidate_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleInvalidateCascade(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req invalidateKeyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	n, err := s.Deps.Invalidator.InvalidateWithDependencies(r.Context(), req.FullKey)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "invalidate_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleInvalidationStats(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	Respond(w, http.StatusOK, s.Deps.Invalidator.GetStats())
}

// --- dependencies ---

type dependencyRequest struct {
	Parent    string `json:"parent" validate:"required"`
	Dependent string `json:"dependent" validate:"required"`
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req dependencyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := s.Deps.Invalidator.AddDependency(r.Context(), req.Parent, req.Dependent); err != nil {
		RespondError(w, http.StatusInternalServerError, "dependency_failed", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req dependencyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := s.Deps.Invalidator.RemoveDependency(req.Parent, req.Dependent); err != nil {
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	parent := chi.URLParam(r, "parent")
	Respond(w, http.StatusOK, map[string]any{"dependents": s.Deps.Invalidator.GetDependencies(parent)})
}

// --- schedules ---

type createScheduleRequest struct {
	DelaySeconds    int64  `json:"delay_seconds" validate:"required,gt=0"`
	Reason          string `json:"reason"`
	Pattern         string `json:"pattern" validate:"required"`
	PatternType     string `json:"pattern_type" validate:"required,oneof=EXACT PREFIX SUFFIX WILDCARD REGEX"`
	Namespace       string `json:"namespace" validate:"required"`
	Recurring       bool   `json:"recurring"`
	IntervalSeconds int64  `json:"interval_seconds"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req createScheduleRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	pattern, err := cachekey.NewPattern(req.Pattern, cachekey.PatternType(req.PatternType), false)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	}
	id := s.Deps.Invalidator.ScheduleInvalidation(
		time.Duration(req.DelaySeconds)*time.Second,
		req.Reason,
		pattern,
		req.Namespace,
		req.Recurring,
		time.Duration(req.IntervalSeconds)*time.Second,
	)
	Respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	Respond(w, http.StatusOK, s.Deps.Invalidator.ListScheduled())
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Deps.Invalidator.CancelScheduled(id); err != nil {
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

// --- event triggers ---

type createTriggerRequest struct {
	EventType   string         `json:"event_type" validate:"required"`
	Pattern     string         `json:"pattern" validate:"required"`
	PatternType string         `json:"pattern_type" validate:"required,oneof=EXACT PREFIX SUFFIX WILDCARD REGEX"`
	Namespace   string         `json:"namespace" validate:"required"`
	Conditions  map[string]any `json:"conditions"`
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	var req createTriggerRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	pattern, err := cachekey.NewPattern(req.Pattern, cachekey.PatternType(req.PatternType), false)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
		return
	}
	id := s.Deps.Invalidator.RegisterEventTrigger(req.EventType, pattern, req.Namespace, req.Conditions)
	Respond(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Deps.Invalidator.UnregisterEventTrigger(id); err != nil {
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handlePauseTrigger(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Deps.Invalidator.PauseTrigger(id); err != nil {
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleResumeTrigger(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.Deps.Invalidator.ResumeTrigger(id); err != nil {
		RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

type fireEventRequest struct {
	Data map[string]any `json:"data"`
}

func (s *Server) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Invalidator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "invalidation is not configured")
		return
	}
	eventType := chi.URLParam(r, "eventType")
	var req fireEventRequest
	if r.ContentLength != 0 {
		if !DecodeAndValidate(w, r, &req) {
			return
		}
	}
	n, err := s.Deps.Invalidator.TriggerEventInvalidation(r.Context(), eventType, req.Data)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "trigger_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleEventPublisherMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Deps.EventPublisher == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "event publishing is not configured")
		return
	}
	Respond(w, http.StatusOK, s.Deps.EventPublisher.GetMetrics())
}

// --- node registry ---

type registerNodeRequest struct {
	ID      string `json:"id" validate:"required"`
	Address string `json:"address" validate:"required"`
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Distributor == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "distribution is not configured")
		return
	}
	Respond(w, http.StatusOK, s.Deps.Distributor.GetActiveNodes())
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Distributor == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "distribution is not configured")
		return
	}
	var req registerNodeRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	s.Deps.Distributor.RegisterNode(req.ID, req.Address)
	if s.Deps.ControlPlane != nil {
		if err := s.Deps.ControlPlane.RecordNodeEvent(r.Context(), controlplane.NodeEvent{
			NodeID: req.ID, Address: req.Address, Status: "ACTIVE",
		}); err != nil {
			s.Logger.Warn("recording node join event", "node_id", req.ID, "error", err)
		}
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleUnregisterNode(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Distributor == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "distribution is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	s.Deps.Distributor.UnregisterNode(id)
	if s.Deps.ControlPlane != nil {
		if err := s.Deps.ControlPlane.RecordNodeEvent(r.Context(), controlplane.NodeEvent{
			NodeID: id, Status: "INACTIVE",
		}); err != nil {
			s.Logger.Warn("recording node leave event", "node_id", id, "error", err)
		}
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleNodeHistory(w http.ResponseWriter, r *http.Request) {
	if s.Deps.ControlPlane == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "control plane is not configured")
		return
	}
	id := chi.URLParam(r, "id")
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	history, err := s.Deps.ControlPlane.ListNodeHistory(r.Context(), id, params.PageSize)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, history)
}

func (s *Server) handlePingNode(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Distributor == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "distribution is not configured")
		return
	}
	ok := s.Deps.Distributor.PingNode(chi.URLParam(r, "id"))
	Respond(w, http.StatusOK, map[string]bool{"reachable": ok})
}

// --- namespace policies ---

type namespacePolicyRequest struct {
	TenantID       string `json:"tenant_id"`
	EvictionPolicy string `json:"eviction_policy" validate:"required,oneof=LRU LFU FIFO TTL PRIORITY HYBRID"`
	DefaultTTLSec  int64  `json:"default_ttl_seconds"`
	MaxEntries     int64  `json:"max_entries"`
}

func (s *Server) handleListNamespacePolicies(w http.ResponseWriter, r *http.Request) {
	if s.Deps.ControlPlane == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "control plane is not configured")
		return
	}
	policies, err := s.Deps.ControlPlane.ListNamespacePolicies(r.Context())
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, policies)
}

func (s *Server) handleUpsertNamespacePolicy(w http.ResponseWriter, r *http.Request) {
	if s.Deps.ControlPlane == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "control plane is not configured")
		return
	}
	ns := chi.URLParam(r, "namespace")
	var req namespacePolicyRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	policy := controlplane.NamespacePolicy{
		Name:           ns,
		TenantID:       req.TenantID,
		EvictionPolicy: req.EvictionPolicy,
		DefaultTTL:     time.Duration(req.DefaultTTLSec) * time.Second,
		MaxEntries:     req.MaxEntries,
	}
	if err := s.Deps.ControlPlane.UpsertNamespacePolicy(r.Context(), policy); err != nil {
		RespondError(w, http.StatusInternalServerError, "upsert_failed", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

func (s *Server) handleGetNamespacePolicy(w http.ResponseWriter, r *http.Request) {
	if s.Deps.ControlPlane == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "control plane is not configured")
		return
	}
	ns := chi.URLParam(r, "namespace")
	policy, err := s.Deps.ControlPlane.GetNamespacePolicy(r.Context(), ns)
	if err != nil {
		if err == controlplane.ErrNamespaceNotFound {
			RespondError(w, http.StatusNotFound, "not_found", "no policy for this namespace")
			return
		}
		RespondError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, policy)
}

func (s *Server) handleDeleteNamespacePolicy(w http.ResponseWriter, r *http.Request) {
	if s.Deps.ControlPlane == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "control plane is not configured")
		return
	}
	ns := chi.URLParam(r, "namespace")
	if err := s.Deps.ControlPlane.DeleteNamespacePolicy(r.Context(), ns); err != nil {
		RespondError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}

// --- token validation ---

type validateTokenRequest struct {
	Token    string `json:"token" validate:"required"`
	Realm    string `json:"realm" validate:"required"`
	Strategy string `json:"strategy"`
	Critical bool   `json:"critical"`
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Validator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "token validation is not configured")
		return
	}
	var req validateTokenRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.Deps.Validator.ValidateToken(r.Context(), req.Token, tokenvalidator.ValidateOptions{
		Realm:    req.Realm,
		Critical: req.Critical,
		Strategy: tokenvalidator.Strategy(req.Strategy),
	})
	if err != nil {
		RespondError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}
	Respond(w, http.StatusOK, result)
}

type refreshTokenRequest struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
	Realm        string `json:"realm" validate:"required"`
	Force        bool   `json:"force"`
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Validator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "token validation is not configured")
		return
	}
	var req refreshTokenRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	result, err := s.Deps.Validator.RefreshIfNeeded(r.Context(), req.AccessToken, req.RefreshToken, req.Realm, req.Force)
	if err != nil {
		RespondError(w, http.StatusUnauthorized, "refresh_failed", err.Error())
		return
	}
	Respond(w, http.StatusOK, result)
}

type revokeTokenRequest struct {
	Token               string `json:"token" validate:"required"`
	Realm               string `json:"realm" validate:"required"`
	LogoutRefreshToken  string `json:"logout_refresh_token"`
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if s.Deps.Validator == nil {
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "token validation is not configured")
		return
	}
	var req revokeTokenRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := s.Deps.Validator.RevokeToken(r.Context(), req.Token, req.Realm, req.LogoutRefreshToken); err != nil {
		RespondError(w, http.StatusInternalServerError, "revoke_failed", err.Error())
		return
	}
	Respond(w, http.StatusNoContent, nil)
}
