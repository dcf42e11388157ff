package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/naveego/live-go/loadbalance"
	"github.com/naveego/live-go/message"
	"github.com/naveego/live-go/registry"
)

// Announce publishes this client's connection id as a peer serving service.
// The entry lapses after ttl unless the registry keeps it alive.
func (c *Client) Announce(ctx context.Context, reg registry.Registry, service string, weight int, ttl time.Duration) error {
	id := c.ID()
	if id == "" {
		return errors.New("client: announce before the connection has an id")
	}
	err := reg.Register(ctx, service, registry.PeerInstance{Address: id, Weight: weight}, ttl)
	if err != nil {
		return fmt.Errorf("announce %s: %w", service, err)
	}
	return nil
}

// Withdraw removes this client's announcement for service.
func (c *Client) Withdraw(ctx context.Context, reg registry.Registry, service string) error {
	if err := reg.Deregister(ctx, service, c.ID()); err != nil {
		return fmt.Errorf("withdraw %s: %w", service, err)
	}
	return nil
}

// ServiceClient calls a service by name instead of by peer address: each call
// discovers the peers currently announcing the service and picks one.
type ServiceClient struct {
	client   *Client
	registry registry.Registry
	balancer loadbalance.Balancer
	service  string

	mu      sync.Mutex
	ring    *loadbalance.ConsistentHashBalancer
	ringKey string // Addresses the ring was built from
}

// NewServiceClient returns a caller for service. A nil balancer means round robin.
func NewServiceClient(c *Client, reg registry.Registry, bal loadbalance.Balancer, service string) *ServiceClient {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	return &ServiceClient{
		client:   c,
		registry: reg,
		balancer: bal,
		service:  service,
		ring:     loadbalance.NewConsistentHashBalancer(),
	}
}

// Call invokes "{service}.{op}" on a peer chosen by the balancer.
func (s *ServiceClient) Call(ctx context.Context, op string, param any) (json.RawMessage, error) {
	instances, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	inst, err := s.balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("pick %s peer: %w", s.service, err)
	}
	return s.client.Call(ctx, inst.Address, s.method(op), param)
}

// CallWithKey invokes "{service}.{op}" on the peer that owns key on a
// consistent-hash ring, so calls sharing a key reach the same peer while the
// set of peers is stable.
func (s *ServiceClient) CallWithKey(ctx context.Context, key, op string, param any) (json.RawMessage, error) {
	instances, err := s.discover(ctx)
	if err != nil {
		return nil, err
	}
	inst, err := s.pickKey(instances, key)
	if err != nil {
		return nil, fmt.Errorf("pick %s peer for %q: %w", s.service, key, err)
	}
	return s.client.Call(ctx, inst.Address, s.method(op), param)
}

func (s *ServiceClient) discover(ctx context.Context) ([]registry.PeerInstance, error) {
	instances, err := s.registry.Discover(ctx, s.service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", s.service, err)
	}
	return instances, nil
}

// pickKey rebuilds the ring only when the discovered peers changed.
func (s *ServiceClient) pickKey(instances []registry.PeerInstance, key string) (*registry.PeerInstance, error) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Address
	}
	ringKey := strings.Join(addrs, ",")

	s.mu.Lock()
	defer s.mu.Unlock()
	if ringKey != s.ringKey {
		s.ring.Reset(instances)
		s.ringKey = ringKey
	}
	return s.ring.Pick(key)
}

func (s *ServiceClient) method(op string) string {
	return s.service + message.MethodSeparator + op
}
