package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskstream/backend/internal/infrastructure/logger"
)

func newTestRegistry() *ConnectionRegistry {
	return NewConnectionRegistry(logger.NewNop())
}

func TestRegistryRegisterAssignsIdentifier(t *testing.T) {
	r := newTestRegistry()

	generated := r.Register(newFakeConn(), "")
	assert.NotEmpty(t, generated)

	blank := r.Register(newFakeConn(), "   ")
	assert.NotEmpty(t, blank)
	assert.NotEqual(t, generated, blank)

	chosen := r.Register(newFakeConn(), "session-1")
	assert.Equal(t, "session-1", chosen)

	assert.Equal(t, 3, r.ClientCount())
	assert.Equal(t, 3, r.OpenCount())
}

func TestRegistrySharedIdentifierDeliversToAllHandles(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	a1, a2 := newFakeConn(), newFakeConn()

	require.Equal(t, "A", r.Register(a1, "A"))
	require.Equal(t, "A", r.Register(a2, "A"))
	assert.Equal(t, 1, r.ClientCount())

	assert.Equal(t, 2, r.SendToID(ctx, "A", []byte("m1")))
	assert.Equal(t, 1, a1.count())
	assert.Equal(t, 1, a2.count())

	// closing one handle does not prevent delivery to the other
	require.NoError(t, a1.Close())
	assert.Equal(t, 1, r.SendToID(ctx, "A", []byte("m2")))
	assert.Equal(t, 1, a1.count())
	assert.Equal(t, 2, a2.count())

	// the closed handle was pruned during the send
	_, owned := r.IdentifierFor(a1)
	assert.False(t, owned)

	// closing both prunes the identifier
	require.NoError(t, a2.Close())
	assert.Equal(t, 0, r.SendToID(ctx, "A", []byte("m3")))
	assert.Equal(t, 0, r.ClientCount())
	assert.Equal(t, 0, r.SendToID(ctx, "A", []byte("m4")))
	assert.Equal(t, 2, a2.count())
}

func TestRegistryUnregisterPrunesEmptyIdentifier(t *testing.T) {
	r := newTestRegistry()
	c1, c2 := newFakeConn(), newFakeConn()
	r.Register(c1, "A")
	r.Register(c2, "A")

	id, ok := r.Unregister(c1)
	assert.True(t, ok)
	assert.Equal(t, "A", id)
	assert.Equal(t, 1, r.ClientCount())

	_, ok = r.Unregister(c1)
	assert.False(t, ok, "second unregister is a no-op")

	r.Unregister(c2)
	assert.Equal(t, 0, r.ClientCount())
	assert.Equal(t, 0, r.OpenCount())

	// the identifier can be reused after it was pruned
	c3 := newFakeConn()
	assert.Equal(t, "A", r.Register(c3, "A"))
	assert.Equal(t, 1, r.SendToID(context.Background(), "A", []byte("again")))
}

func TestRegistryReRegisterMovesHandle(t *testing.T) {
	r := newTestRegistry()
	c := newFakeConn()
	r.Register(c, "old")
	r.Register(c, "new")

	id, ok := r.IdentifierFor(c)
	require.True(t, ok)
	assert.Equal(t, "new", id)
	assert.Equal(t, 1, r.ClientCount())
	assert.Equal(t, 0, r.SendToID(context.Background(), "old", []byte("x")))
}

func TestRegistrySendToUnknownIdentifier(t *testing.T) {
	r := newTestRegistry()
	other := newFakeConn()
	r.Register(other, "B")

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, r.SendToID(context.Background(), "missing", []byte("m")))
	})
	assert.Equal(t, 0, other.count())
	assert.Equal(t, 1, r.ClientCount())
	assert.Equal(t, 1, r.SendToID(context.Background(), "B", []byte("m")))
}

func TestRegistryFailingHandleIsIsolated(t *testing.T) {
	r := newTestRegistry()
	good, bad := newFakeConn(), newFakeConn()
	bad.failing.Store(true)
	r.Register(good, "A")
	r.Register(bad, "A")
	other := newFakeConn()
	r.Register(other, "B")

	assert.Equal(t, 1, r.SendToID(context.Background(), "A", []byte("m")))
	assert.Equal(t, 1, good.count())
	assert.True(t, bad.closed.Load(), "failed handle is closed")

	_, owned := r.IdentifierFor(bad)
	assert.False(t, owned)
	assert.Equal(t, 2, r.OpenCount())
	assert.Equal(t, 2, r.Broadcast(context.Background(), []byte("all")))
}

func TestRegistrySlowHandleDoesNotDelaySiblings(t *testing.T) {
	r := newTestRegistry()
	slow, fast := newFakeConn(), newFakeConn()
	slow.delay = 200 * time.Millisecond
	r.Register(slow, "A")
	r.Register(fast, "A")

	go r.SendToID(context.Background(), "A", []byte("m"))

	select {
	case <-fast.sent:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("fast handle waited for the slow one")
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := newTestRegistry()

	t.Run("no handles", func(t *testing.T) {
		start := time.Now()
		assert.Equal(t, 0, r.Broadcast(context.Background(), []byte("m")))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("every handle of every identifier", func(t *testing.T) {
		conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
		r.Register(conns[0], "A")
		r.Register(conns[1], "A")
		r.Register(conns[2], "")

		assert.Equal(t, 3, r.Broadcast(context.Background(), []byte("m")))
		for _, c := range conns {
			assert.Equal(t, 1, c.count())
		}
	})
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	const clients, perClient = 10, 5
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		id := fmt.Sprintf("client-%d", i)
		for j := 0; j < perClient; j++ {
			j := j
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := newFakeConn()
				r.Register(c, id)
				r.SendToID(ctx, id, []byte("hello"))
				r.Broadcast(ctx, []byte("everyone"))
				if j%2 == 0 {
					r.Unregister(c)
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, clients, r.ClientCount())
	assert.Equal(t, clients*(perClient/2), r.OpenCount())
}

func TestRegistryRegisterUnregisterChurn(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				c := newFakeConn()
				r.Register(c, "hot")
				r.Unregister(c)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.ClientCount())

	survivor := newFakeConn()
	r.Register(survivor, "hot")
	assert.Equal(t, 1, r.SendToID(context.Background(), "hot", []byte("m")))
}
