package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry keeps registrations in process. Entries expire ttl after
// their last Register call.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]memoryEntry
	watchers map[string][]chan []PeerInstance
	now      func() time.Time
}

type memoryEntry struct {
	instance PeerInstance
	expires  time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]memoryEntry),
		watchers: make(map[string][]chan []PeerInstance),
		now:      time.Now,
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, service string, instance PeerInstance, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	peers, ok := r.services[service]
	if !ok {
		peers = make(map[string]memoryEntry)
		r.services[service] = peers
	}
	peers[instance.Address] = memoryEntry{instance: instance, expires: r.now().Add(ttl)}
	r.notifyLocked(service)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, service string, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if peers, ok := r.services[service]; ok {
		delete(peers, address)
	}
	r.notifyLocked(service)
	return nil
}

// Discover returns live peers ordered by address.
func (r *MemoryRegistry) Discover(ctx context.Context, service string) ([]PeerInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(service), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, service string) <-chan []PeerInstance {
	ch := make(chan []PeerInstance, 1)

	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[service]
		for i, w := range list {
			if w == ch {
				r.watchers[service] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) liveLocked(service string) []PeerInstance {
	now := r.now()
	instances := make([]PeerInstance, 0, len(r.services[service]))
	for addr, e := range r.services[service] {
		if now.After(e.expires) {
			delete(r.services[service], addr)
			continue
		}
		instances = append(instances, e.instance)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Address < instances[j].Address
	})
	return instances
}

// notifyLocked sends the current list to watchers, replacing a snapshot the
// watcher has not read yet.
func (r *MemoryRegistry) notifyLocked(service string) {
	snapshot := r.liveLocked(service)
	for _, w := range r.watchers[service] {
		select {
		case <-w:
		default:
		}
		w <- snapshot
	}
}

var _ Registry = (*MemoryRegistry)(nil)
