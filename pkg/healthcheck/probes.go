package healthcheck

import (
	"context"
	"fmt"

	"github.com/wisbric/neocache/pkg/repository"
	"github.com/wisbric/neocache/pkg/serializer"
)

// syntheticProbeKey is the reserved key read by RepositoryProbe when the
// backend exposes no cheaper ping primitive.
const syntheticProbeKey = "__healthcheck__:probe"

// RepositoryProbe checks a repository.Repository: it uses ping if
// available, else falls back to a read of a reserved synthetic key.
type RepositoryProbe struct {
	name string
	repo repository.Repository
}

// NewRepositoryProbe constructs a RepositoryProbe.
func NewRepositoryProbe(name string, repo repository.Repository) *RepositoryProbe {
	return &RepositoryProbe{name: name, repo: repo}
}

func (p *RepositoryProbe) Name() string { return p.name }

func (p *RepositoryProbe) Check(ctx context.Context) Result {
	if err := p.repo.Ping(ctx); err != nil {
		if _, _, readErr := p.repo.Get(ctx, syntheticProbeKey); readErr != nil {
			return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("ping failed (%v) and fallback read failed (%v)", err, readErr)}
		}
		return Result{Status: StatusDegraded, Message: fmt.Sprintf("ping unavailable, fallback read succeeded: %v", err)}
	}
	return Result{Status: StatusHealthy, Message: "ping ok"}
}

// Pinger is satisfied by any durable backend that can confirm reachability
// with a single round trip, such as controlplane.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerProbe checks a Pinger such as the control-plane database pool.
type PingerProbe struct {
	name   string
	pinger Pinger
}

// NewPingerProbe constructs a PingerProbe.
func NewPingerProbe(name string, pinger Pinger) *PingerProbe {
	return &PingerProbe{name: name, pinger: pinger}
}

func (p *PingerProbe) Name() string { return p.name }

func (p *PingerProbe) Check(ctx context.Context) Result {
	if err := p.pinger.Ping(ctx); err != nil {
		return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return Result{Status: StatusHealthy, Message: "ping ok"}
}

// SerializerProbe round-trips a small fixed value through a
// serializer.Serializer.
type SerializerProbe struct {
	name string
	ser  serializer.Serializer
}

// NewSerializerProbe constructs a SerializerProbe.
func NewSerializerProbe(name string, ser serializer.Serializer) *SerializerProbe {
	return &SerializerProbe{name: name, ser: ser}
}

func (p *SerializerProbe) Name() string { return p.name }

func (p *SerializerProbe) Check(ctx context.Context) Result {
	probe := map[string]any{"healthcheck": true}
	raw, err := p.ser.Serialize(probe, nil)
	if err != nil {
		return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("serialize failed: %v", err)}
	}

	var out map[string]any
	if err := p.ser.Deserialize(raw, nil, &out); err != nil {
		return Result{Status: StatusUnhealthy, Message: fmt.Sprintf("deserialize failed: %v", err)}
	}
	return Result{Status: StatusHealthy, Message: "round trip ok"}
}
