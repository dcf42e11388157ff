// Package registry maps service names to the connection ids of the peers that
// currently serve them.
//
// On a relay-based transport a peer has no network address of its own: it is
// reached through its connection id. A peer that handles "Echo.*" requests
// announces itself under the service name "Echo", and callers discover the
// ids to address their requests to.
package registry

import (
	"context"
	"time"
)

// PeerInstance is one peer offering a service.
type PeerInstance struct {
	Address string `json:"address"` // Relay-assigned connection id
	Weight  int    `json:"weight"`  // Weight for load balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	// Register announces instance under service. The entry disappears on its own
	// when the owner stops renewing it for ttl.
	Register(ctx context.Context, service string, instance PeerInstance, ttl time.Duration) error
	Deregister(ctx context.Context, service string, address string) error
	Discover(ctx context.Context, service string) ([]PeerInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, service string) <-chan []PeerInstance
}

const keyPrefix = "/live-rpc/"

func servicePrefix(service string) string {
	return keyPrefix + service + "/"
}

func instanceKey(service, address string) string {
	return servicePrefix(service) + address
}
