package fallback

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flaky is a scriptable transport for chain tests.
type flaky struct {
	mu       sync.Mutex
	name     string
	priority int
	healthy  bool
	failSend bool
	sent     []string
}

func newFlaky(name string, priority int) *flaky {
	return &flaky{name: name, priority: priority, healthy: true}
}

func (f *flaky) Name() string                     { return f.name }
func (f *flaky) Priority() int                    { return f.priority }
func (f *flaky) Initialize(context.Context) error { return nil }
func (f *flaky) Start(context.Context) error      { return nil }
func (f *flaky) Stop() error                      { return nil }

func (f *flaky) Send(_ context.Context, topic string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return stderrors.New("send failed")
	}
	f.sent = append(f.sent, topic)
	return nil
}

func (f *flaky) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *flaky) setHealthy(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = v
}

func (f *flaky) setFailSend(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSend = v
}

func (f *flaky) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func startedChain(t *testing.T, transports ...Transport) *Chain {
	t.Helper()
	c := NewChain(transports)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func TestChainTriesInPriorityOrder(t *testing.T) {
	// Registered out of order; priority must govern.
	second := newFlaky("second", 2)
	first := newFlaky("first", 1)
	c := startedChain(t, second, first)

	name, err := c.Send(context.Background(), "topic", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "first", name)
	assert.Equal(t, 1, first.sentCount())
	assert.Equal(t, 0, second.sentCount())
}

func TestChainSkipsUnhealthy(t *testing.T) {
	first := newFlaky("first", 1)
	second := newFlaky("second", 2)
	first.setHealthy(false)
	c := startedChain(t, first, second)

	name, err := c.Send(context.Background(), "topic", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "second", name)
	assert.Equal(t, 0, first.sentCount())
}

func TestChainAdvancesOnSendFailure(t *testing.T) {
	first := newFlaky("first", 1)
	second := newFlaky("second", 2)
	first.setFailSend(true)
	c := startedChain(t, first, second)

	name, err := c.Send(context.Background(), "topic", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "second", name)

	status := c.Status()
	require.Len(t, status, 2)
	assert.Equal(t, int64(1), status[0].Failed)
	assert.Equal(t, int64(1), status[1].Sent)
}

func TestChainExhaustedFails(t *testing.T) {
	first := newFlaky("first", 1)
	first.setFailSend(true)
	c := startedChain(t, first)

	_, err := c.Send(context.Background(), "topic", []byte("x"))
	require.Error(t, err)
}

func TestChainSendBeforeStart(t *testing.T) {
	c := NewChain([]Transport{newFlaky("a", 1)})
	_, err := c.Send(context.Background(), "topic", []byte("x"))
	require.Error(t, err)
}

func TestInMemoryQueueAndDrain(t *testing.T) {
	m := NewInMemory(10, 1)
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Send(context.Background(), "t1", []byte("a")))
	require.NoError(t, m.Send(context.Background(), "t2", []byte("b")))
	assert.Equal(t, 2, m.Len())

	msgs := m.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, "t1", msgs[0].Topic)
	assert.Equal(t, []byte("a"), msgs[0].Data)
	assert.Equal(t, 0, m.Len())
}

func TestInMemoryFullQueueUnhealthy(t *testing.T) {
	m := NewInMemory(1, 1)
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Send(context.Background(), "t", []byte("a")))
	assert.False(t, m.Healthy())
	require.Error(t, m.Send(context.Background(), "t", []byte("b")))
}

func TestFileDropRoundTrip(t *testing.T) {
	dir := t.TempDir()
	f := NewFileDrop(dir, 2)
	require.NoError(t, f.Initialize(context.Background()))
	require.NoError(t, f.Start(context.Background()))
	assert.True(t, f.Healthy())

	require.NoError(t, f.Send(context.Background(), "t1", []byte("first")))
	time.Sleep(time.Millisecond) // distinct nanosecond prefixes
	require.NoError(t, f.Send(context.Background(), "t2", []byte("second")))

	msgs, err := f.ReadAll()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "t1", msgs[0].Topic)
	assert.Equal(t, []byte("first"), msgs[0].Data)
	assert.Equal(t, "t2", msgs[1].Topic)

	// Files are consumed on read.
	again, err := f.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestFileDropRequiresDir(t *testing.T) {
	f := NewFileDrop("", 2)
	require.Error(t, f.Initialize(context.Background()))
}

func TestHTTPDropPostsMessage(t *testing.T) {
	var gotTopic string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTopic = r.Header.Get("X-Agentmesh-Topic")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewHTTPDrop(srv.URL, 3)
	require.NoError(t, h.Initialize(context.Background()))
	require.NoError(t, h.Start(context.Background()))

	require.NoError(t, h.Send(context.Background(), "hsp.acks.agent-a", []byte("payload")))
	assert.Equal(t, "hsp.acks.agent-a", gotTopic)
	assert.Equal(t, []byte("payload"), gotBody)
}

func TestHTTPDropServerErrorUnhealthyCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHTTPDrop(srv.URL, 3)
	require.NoError(t, h.Start(context.Background()))
	assert.True(t, h.Healthy())

	require.Error(t, h.Send(context.Background(), "topic", []byte("x")))
	assert.False(t, h.Healthy(), "recent failure puts transport in cooldown")
}

func TestHTTPDropRequiresEndpoint(t *testing.T) {
	h := NewHTTPDrop("", 3)
	require.Error(t, h.Initialize(context.Background()))
}
