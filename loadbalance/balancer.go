// Package loadbalance chooses which peer receives a request when several
// peers announce the same service.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless services, equal-capacity peers
//   - WeightedRandom:  Heterogeneous peers (different capacity)
//   - ConsistentHash:  Stateful services requiring key affinity
package loadbalance

import (
	"errors"

	"github.com/naveego/live-go/registry"
)

// ErrNoInstances is returned when there is no peer to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// The caller invokes Pick() before each request to select a target peer.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every call, must be goroutine-safe.
	Pick(instances []registry.PeerInstance) (*registry.PeerInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name, or nil.
func New(name string) Balancer {
	switch name {
	case "RoundRobin", "round_robin", "":
		return &RoundRobinBalancer{}
	case "WeightedRandom", "weighted_random":
		return &WeightedRandomBalancer{}
	default:
		return nil
	}
}
