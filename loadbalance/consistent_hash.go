package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"github.com/naveego/live-go/registry"
)

// ConsistentHashBalancer maps keys to peers using a hash ring.
// The same key always maps to the same peer (until the ring changes), so a
// conversation keyed by user or document keeps landing on one peer.
//
// Each real peer is placed on the ring as N virtual nodes to keep the
// distribution even with few peers.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int                               // Virtual nodes per real peer
	ring     []uint32                          // Sorted hash values on the ring
	nodes    map[uint32]*registry.PeerInstance // Hash value → peer mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per peer.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.PeerInstance),
	}
}

// Add places a peer onto the ring. Each virtual node is hashed from
// "{address}#{i}".
func (b *ConsistentHashBalancer) Add(instance *registry.PeerInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Address, i)))
		if _, ok := b.nodes[hash]; !ok {
			b.ring = append(b.ring, hash)
		}
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Reset replaces the ring contents with instances.
func (b *ConsistentHashBalancer) Reset(instances []registry.PeerInstance) {
	b.mu.Lock()
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.PeerInstance)
	b.mu.Unlock()
	for i := range instances {
		b.Add(&instances[i])
	}
}

// Pick finds the peer responsible for key: the first node clockwise from the
// key's hash, wrapping around past the largest.
//
// Pick takes a key instead of an instance list, so the ring is not a Balancer.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.PeerInstance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
