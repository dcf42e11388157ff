package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdRegistry implements Registry on etcd v3.
//
//	Key:   /live-rpc/{service}/{address}
//	Value: JSON-encoded PeerInstance
//
// Registration uses TTL-based leases: if the peer crashes, the lease expires
// and the entry is removed, so callers never address a dead connection for
// longer than the ttl.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // instance key -> lease kept alive for it
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, logger: logger, leases: make(map[string]clientv3.LeaseID)}, nil
}

// Close releases the etcd connection. Leases granted through it stop renewing.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Register adds a peer to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease
//
// Leases are tracked per instance key so that several peers may share one
// EtcdRegistry. Registering the same instance again replaces and revokes its
// previous lease. KeepAlive is bound to the client's context rather than ctx,
// which only bounds the registration itself.
func (r *EtcdRegistry) Register(ctx context.Context, service string, instance PeerInstance, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(service, instance.Address)
	_, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		r.revoke(ctx, lease.ID)
		return fmt.Errorf("put %s: %w", key, err)
	}

	ch, err := r.client.KeepAlive(r.client.Ctx(), lease.ID)
	if err != nil {
		r.revoke(ctx, lease.ID)
		return fmt.Errorf("keep lease alive: %w", err)
	}

	r.mu.Lock()
	prev, had := r.leases[key]
	r.leases[key] = lease.ID
	r.mu.Unlock()
	if had && prev != lease.ID {
		r.revoke(ctx, prev)
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped",
			zap.String("service", service),
			zap.String("address", instance.Address))
	}()
	return nil
}

// Deregister removes a peer from etcd and revokes the lease this registry
// keeps alive for it. Called on graceful shutdown.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, address string) error {
	key := instanceKey(service, address)
	_, err := r.client.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	r.mu.Lock()
	id, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		r.revoke(ctx, id)
	}
	return nil
}

// revoke drops a lease, which also ends its KeepAlive. Failure only means the
// lease lives until its ttl runs out.
func (r *EtcdRegistry) revoke(ctx context.Context, id clientv3.LeaseID) {
	if _, err := r.client.Revoke(ctx, id); err != nil {
		r.logger.Warn("revoke lease", zap.Int64("lease", int64(id)), zap.Error(err))
	}
}

func (r *EtcdRegistry) leaseFor(service, address string) (clientv3.LeaseID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.leases[instanceKey(service, address)]
	return id, ok
}

// Watch monitors a service prefix in etcd and emits the updated instance list
// whenever it changes (registrations, deregistrations, lease expirations).
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []PeerInstance {
	ch := make(chan []PeerInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			instances, err := r.Discover(ctx, service)
			if err != nil {
				r.logger.Warn("rediscover after watch event", zap.String("service", service), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered peers for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]PeerInstance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", servicePrefix(service), err)
	}

	instances := make([]PeerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance PeerInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

var _ Registry = (*EtcdRegistry)(nil)
