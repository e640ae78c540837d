package pool

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentmesh/errors"
)

type fakeConn struct {
	id     int
	closed bool
}

func counterFactory(next *int32) Factory[*fakeConn] {
	return func(ctx context.Context) (*fakeConn, error) {
		id := atomic.AddInt32(next, 1)
		return &fakeConn{id: int(id)}, nil
	}
}

func TestAcquireCreatesConnection(t *testing.T) {
	var next int32
	p, err := New(DefaultConfig(), counterFactory(&next), nil)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, conn.id)

	stats := p.Stats()
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, int64(1), stats.Acquired)
}

func TestReleaseAndReuse(t *testing.T) {
	var next int32
	p, err := New(DefaultConfig(), counterFactory(&next), nil)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(conn)

	again, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, conn.id, again.id, "released connection should be reused")
	assert.Equal(t, int32(1), next, "factory should be called once")
}

func TestAcquireBlocksAtCapacity(t *testing.T) {
	var next int32
	p, err := New(Config{MaxConnections: 1, IdleTimeout: time.Minute}, counterFactory(&next), nil)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrPoolExhausted))
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	var next int32
	p, err := New(Config{MaxConnections: 1, IdleTimeout: time.Minute}, counterFactory(&next), nil)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(conn)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, conn.id, again.id)
}

func TestIdleExpiryRecyclesConnection(t *testing.T) {
	var next int32
	var closedIDs []int
	closer := func(c *fakeConn) {
		c.closed = true
		closedIDs = append(closedIDs, c.id)
	}

	p, err := New(Config{MaxConnections: 2, IdleTimeout: time.Second}, counterFactory(&next), closer)
	require.NoError(t, err)

	now := time.Now()
	p.setClock(func() time.Time { return now })

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(conn)

	// Past the idle timeout the stale connection is closed and a new one built.
	now = now.Add(2 * time.Second)
	fresh, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, conn.id, fresh.id)
	assert.Equal(t, []int{conn.id}, closedIDs)
	assert.Equal(t, int64(1), p.Stats().Recycled)
}

func TestDiscardFreesSlot(t *testing.T) {
	var next int32
	p, err := New(Config{MaxConnections: 1, IdleTimeout: time.Minute}, counterFactory(&next), nil)
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Discard(conn)

	fresh, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, conn.id, fresh.id)
}

func TestFactoryErrorFreesSlot(t *testing.T) {
	boom := stderrors.New("dial failed")
	calls := 0
	factory := func(ctx context.Context) (*fakeConn, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return &fakeConn{id: calls}, nil
	}

	p, err := New(Config{MaxConnections: 1, IdleTimeout: time.Minute}, factory, nil)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, boom))

	// The failed attempt must not leak its capacity slot.
	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, conn.id)
}

func TestCloseRejectsAcquire(t *testing.T) {
	var next int32
	closed := 0
	p, err := New(DefaultConfig(), counterFactory(&next), func(c *fakeConn) { closed++ })
	require.NoError(t, err)

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(conn)

	p.Close()
	assert.Equal(t, 1, closed, "idle connection should be torn down")

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
}

func TestNewRequiresFactory(t *testing.T) {
	_, err := New[*fakeConn](DefaultConfig(), nil, nil)
	require.Error(t, err)
}

func TestStatsSnapshot(t *testing.T) {
	var next int32
	p, err := New(Config{MaxConnections: 3, IdleTimeout: time.Minute}, counterFactory(&next), nil)
	require.NoError(t, err)

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(a)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, stats.InUse)
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, int64(2), stats.Acquired)

	p.Release(b)
}
