package httpserver

import (
	"context"
	"time"

	"github.com/wisbric/neocache/pkg/cachekey"
	"github.com/wisbric/neocache/pkg/controlplane"
	"github.com/wisbric/neocache/pkg/distributor"
	"github.com/wisbric/neocache/pkg/eventpublisher"
	"github.com/wisbric/neocache/pkg/invalidator"
	"github.com/wisbric/neocache/pkg/tokenvalidator"
)

// InvalidatorAPI is the slice of pkg/invalidator.Invalidator the HTTP layer
// drives directly.
type InvalidatorAPI interface {
	InvalidateKey(ctx context.Context, fullKey string) (bool, error)
	InvalidateKeys(ctx context.Context, fullKeys []string) (int, error)
	InvalidatePattern(ctx context.Context, pattern cachekey.Pattern, namespace string) (int, error)
	InvalidateNamespace(ctx context.Context, namespace string) (int, error)
	InvalidateWithDependencies(ctx context.Context, fullKey string) (int, error)
	AddDependency(ctx context.Context, parentFullKey, dependentFullKey string) error
	RemoveDependency(parentFullKey, dependentFullKey string) error
	GetDependencies(parentFullKey string) []string
	ScheduleInvalidation(delay time.Duration, reason string, pattern cachekey.Pattern, namespace string, recurring bool, interval time.Duration) string
	CancelScheduled(id string) error
	ListScheduled() []invalidator.ScheduledInvalidation
	RegisterEventTrigger(eventType string, pattern cachekey.Pattern, namespace string, conditions map[string]any) string
	UnregisterEventTrigger(id string) error
	PauseTrigger(id string) error
	ResumeTrigger(id string) error
	TriggerEventInvalidation(ctx context.Context, eventType string, eventData map[string]any) (int, error)
	GetStats() invalidator.Stats
}

// DistributorAPI is the slice of pkg/distributor.Distributor the HTTP layer
// drives directly.
type DistributorAPI interface {
	RegisterNode(id, address string)
	UnregisterNode(id string)
	GetActiveNodes() []distributor.NodeRecord
	PingNode(id string) bool
	GetPreferredNodes(key, namespace, op string) []string
	RouteOperation(key, namespace, op string) (string, error)
}

// ValidatorAPI is the slice of pkg/tokenvalidator.Validator the HTTP layer
// drives directly.
type ValidatorAPI interface {
	ValidateToken(ctx context.Context, token string, opts tokenvalidator.ValidateOptions) (tokenvalidator.ValidationResult, error)
	RefreshIfNeeded(ctx context.Context, accessToken, refreshToken, realm string, forceRefresh bool) (tokenvalidator.RefreshResult, error)
	RevokeToken(ctx context.Context, token, realm, logoutRefreshToken string) error
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
}

// ControlPlaneAPI is the slice of pkg/controlplane.Store the HTTP layer
// drives directly.
type ControlPlaneAPI interface {
	UpsertNamespacePolicy(ctx context.Context, p controlplane.NamespacePolicy) error
	GetNamespacePolicy(ctx context.Context, name string) (controlplane.NamespacePolicy, error)
	ListNamespacePolicies(ctx context.Context) ([]controlplane.NamespacePolicy, error)
	DeleteNamespacePolicy(ctx context.Context, name string) error
	RecordNodeEvent(ctx context.Context, ev controlplane.NodeEvent) error
	ListNodeHistory(ctx context.Context, nodeID string, limit int) ([]controlplane.NodeEvent, error)
}

// EventPublisherAPI is the slice of pkg/eventpublisher.Publisher the HTTP
// layer drives directly.
type EventPublisherAPI interface {
	GetMetrics() eventpublisher.Metrics
}
