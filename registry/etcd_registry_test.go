package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// newTestEtcd connects to a local etcd, skipping when none answers.
func newTestEtcd(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, time.Second, nil)
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, "localhost:2379"); err != nil {
		reg.Close()
		t.Skipf("etcd not available: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newTestEtcd(t)
	ctx := context.Background()

	inst1 := PeerInstance{Address: "peer-1", Weight: 10, Version: "1.0"}
	inst2 := PeerInstance{Address: "peer-2", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register(ctx, "Arith", inst1, 10*time.Second))
	require.NoError(t, reg.Register(ctx, "Arith", inst2, 10*time.Second))

	instances, err := reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, "Arith", inst1.Address))

	instances, err = reg.Discover(ctx, "Arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2, instances[0])

	require.NoError(t, reg.Deregister(ctx, "Arith", inst2.Address))
}

func TestEtcdWatch(t *testing.T) {
	reg := newTestEtcd(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := reg.Watch(ctx, "Watched")
	// give the watch a moment to attach before the first write
	time.Sleep(100 * time.Millisecond)

	inst := PeerInstance{Address: "peer-w", Weight: 1}
	require.NoError(t, reg.Register(ctx, "Watched", inst, 10*time.Second))
	defer reg.Deregister(context.Background(), "Watched", inst.Address)

	select {
	case list := <-updates:
		assert.Contains(t, list, inst)
	case <-time.After(3 * time.Second):
		t.Fatal("watch update not received")
	}
}

func TestEtcdLeaseLifecycle(t *testing.T) {
	reg := newTestEtcd(t)
	ctx := context.Background()
	inst := PeerInstance{Address: "peer-l", Weight: 1}

	require.NoError(t, reg.Register(ctx, "Leased", inst, 10*time.Second))
	first, ok := reg.leaseFor("Leased", inst.Address)
	require.True(t, ok)

	// announcing again swaps in a fresh lease and drops the old one
	require.NoError(t, reg.Register(ctx, "Leased", inst, 10*time.Second))
	second, ok := reg.leaseFor("Leased", inst.Address)
	require.True(t, ok)
	assert.NotEqual(t, first, second)
	assertLeaseGone(t, reg, first)

	require.NoError(t, reg.Deregister(ctx, "Leased", inst.Address))
	_, ok = reg.leaseFor("Leased", inst.Address)
	assert.False(t, ok)
	assertLeaseGone(t, reg, second)

	instances, err := reg.Discover(ctx, "Leased")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func assertLeaseGone(t *testing.T, reg *EtcdRegistry, id clientv3.LeaseID) {
	t.Helper()
	resp, err := reg.client.TimeToLive(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), resp.TTL, "lease %d still alive", id)
}
