package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wisbric/neocache/internal/config"
	"github.com/wisbric/neocache/pkg/cachekey"
	"github.com/wisbric/neocache/pkg/cachemanager"
	"github.com/wisbric/neocache/pkg/controlplane"
	"github.com/wisbric/neocache/pkg/distributor"
	"github.com/wisbric/neocache/pkg/invalidator"
	"github.com/wisbric/neocache/pkg/repository"
	"github.com/wisbric/neocache/pkg/serializer"
)

// ManagerRegistry lazily builds and caches a cachemanager.Manager per
// namespace identity, since cachemanager.New binds one Manager to exactly
// one namespace. A namespace's policy is read from the control plane on
// first use; if none is persisted yet, the configured defaults apply and
// nothing is written back until an operator explicitly sets a policy.
type ManagerRegistry struct {
	repo        repository.Repository
	serializer  serializer.Serializer
	invalidator *invalidator.Invalidator
	distributor *distributor.Distributor
	store       *controlplane.Store
	cfg         *config.Config
	logger      *slog.Logger

	mu       sync.Mutex
	managers map[string]*cachemanager.Manager
}

// NewManagerRegistry constructs a ManagerRegistry.
func NewManagerRegistry(
	repo repository.Repository,
	ser serializer.Serializer,
	inv *invalidator.Invalidator,
	dist *distributor.Distributor,
	store *controlplane.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *ManagerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManagerRegistry{
		repo:        repo,
		serializer:  ser,
		invalidator: inv,
		distributor: dist,
		store:       store,
		cfg:         cfg,
		logger:      logger,
		managers:    make(map[string]*cachemanager.Manager),
	}
}

// Manager returns the Manager bound to (name, tenantID), building and
// caching it on first use.
func (r *ManagerRegistry) Manager(ctx context.Context, name, tenantID string) (*cachemanager.Manager, error) {
	ns, err := cachekey.NewNamespace(name, tenantID)
	if err != nil {
		return nil, fmt.Errorf("manager registry: %w", err)
	}
	identity := ns.Identity()

	r.mu.Lock()
	if m, ok := r.managers[identity]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	ns = r.applyPolicy(ctx, ns)

	m := cachemanager.New(ns, r.repo, r.serializer, r.invalidator, r.distributor, r.logger)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.managers[identity]; ok {
		return existing, nil
	}
	r.managers[identity] = m
	return m, nil
}

// applyPolicy overlays a persisted control-plane policy onto ns, falling
// back to the configured defaults when none is stored or the control
// plane is unavailable.
func (r *ManagerRegistry) applyPolicy(ctx context.Context, ns cachekey.Namespace) cachekey.Namespace {
	ns.DefaultTTL = int64(r.cfg.DefaultTTL.Seconds())
	ns.MaxEntries = r.cfg.DefaultMaxEntries
	ns.EvictionPolicy = cachekey.EvictionPolicy(r.cfg.DefaultEvictionPolicy)
	if !ns.EvictionPolicy.IsValid() {
		ns.EvictionPolicy = cachekey.EvictionLRU
	}

	if r.store == nil {
		return ns
	}
	policy, err := r.store.GetNamespacePolicy(ctx, ns.Name)
	if err != nil {
		if err != controlplane.ErrNamespaceNotFound {
			r.logger.Warn("manager registry: loading namespace policy", "namespace", ns.Name, "error", err)
		}
		return ns
	}

	ns.DefaultTTL = int64(policy.DefaultTTL.Seconds())
	ns.MaxEntries = policy.MaxEntries
	if p := cachekey.EvictionPolicy(policy.EvictionPolicy); p.IsValid() {
		ns.EvictionPolicy = p
	}
	return ns
}

// Invalidate drops the cached Manager for (name, tenantID), forcing the
// next Manager call to re-read its control-plane policy.
func (r *ManagerRegistry) Invalidate(name, tenantID string) {
	ns, err := cachekey.NewNamespace(name, tenantID)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managers, ns.Identity())
}
