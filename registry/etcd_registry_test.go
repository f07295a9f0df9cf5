package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// etcdRegistry connects to a local etcd or skips the test.
func etcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"})
	if err != nil {
		t.Skipf("etcd unavailable: %v", err)
	}
	if err := reg.Ping(time.Second); err != nil {
		reg.Close()
		t.Skipf("etcd unavailable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := etcdRegistry(t)

	// Register two instances
	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	require.NoError(t, reg.Register("Arith", inst1, 10))
	require.NoError(t, reg.Register("Arith", inst2, 10))

	instances, err := reg.Discover("Arith")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	// Deregister one
	require.NoError(t, reg.Deregister("Arith", inst1.Addr))

	instances, err = reg.Discover("Arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2, instances[0])

	reg.Deregister("Arith", inst2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg := etcdRegistry(t)

	updates := reg.Watch("Watched")
	inst := ServiceInstance{Addr: "127.0.0.1:8100", Weight: 1}
	require.NoError(t, reg.Register("Watched", inst, 10))
	defer reg.Deregister("Watched", inst.Addr)

	select {
	case list := <-updates:
		assert.Contains(t, list, inst)
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}
}
