package pooled

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentmesh/transport"
	"github.com/c360/agentmesh/transport/memtransport"
)

type trackingFactory struct {
	broker *memtransport.Broker

	mu      sync.Mutex
	created []*memtransport.Client
}

func (f *trackingFactory) make() (transport.ExternalTransport, error) {
	client := f.broker.NewClient()
	f.mu.Lock()
	f.created = append(f.created, client)
	f.mu.Unlock()
	return client, nil
}

func (f *trackingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *trackingFactory) last() *memtransport.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[len(f.created)-1]
}

func TestNewRequiresFactory(t *testing.T) {
	_, err := New(nil, 2, time.Minute)
	assert.Error(t, err)
}

func TestPublishReusesPooledConnection(t *testing.T) {
	f := &trackingFactory{broker: memtransport.NewBroker()}
	tr, err := New(f.make, 2, time.Minute)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	ctx := context.Background()
	require.NoError(t, tr.Publish(ctx, "topic.a", []byte("one")))
	require.NoError(t, tr.Publish(ctx, "topic.a", []byte("two")))

	// Sequential publishes reuse the single idle connection.
	assert.Equal(t, 1, f.count())

	stats := tr.PoolStats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
}

func TestPublishFailureDiscardsConnection(t *testing.T) {
	f := &trackingFactory{broker: memtransport.NewBroker()}
	tr, err := New(f.make, 2, time.Minute)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	ctx := context.Background()
	require.NoError(t, tr.Publish(ctx, "topic.a", []byte("ok")))
	require.Equal(t, 1, f.count())

	f.last().SetPublishError(stderrors.New("broker gone"))
	assert.Error(t, tr.Publish(ctx, "topic.a", []byte("fails")))

	// The broken connection was discarded, so the next publish dials fresh.
	require.NoError(t, tr.Publish(ctx, "topic.a", []byte("recovers")))
	assert.Equal(t, 2, f.count())
}

func TestSubscribeUsesDedicatedConnection(t *testing.T) {
	broker := memtransport.NewBroker()
	f := &trackingFactory{broker: broker}
	tr, err := New(f.make, 2, time.Minute)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, transport.StatusConnected, tr.Status())

	received := make(chan []byte, 1)
	require.NoError(t, tr.Subscribe(ctx, "topic.sub", func(_ string, data []byte) {
		received <- data
	}))

	// Publishing through the pool must reach the subscribe connection.
	require.NoError(t, tr.Publish(ctx, "topic.sub", []byte("hello")))

	select {
	case data := <-received:
		assert.Equal(t, []byte("hello"), data)
	case <-time.After(time.Second):
		t.Fatal("subscription never fired")
	}
}

func TestSubscribeBeforeConnectFails(t *testing.T) {
	f := &trackingFactory{broker: memtransport.NewBroker()}
	tr, err := New(f.make, 2, time.Minute)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	err = tr.Subscribe(context.Background(), "topic.sub", func(string, []byte) {})
	assert.Error(t, err)
	assert.Equal(t, transport.StatusDisconnected, tr.Status())
}

func TestStatusHandlersAttachOnConnect(t *testing.T) {
	f := &trackingFactory{broker: memtransport.NewBroker()}
	tr, err := New(f.make, 2, time.Minute)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	var mu sync.Mutex
	var events []bool
	tr.OnStatusChange(func(connected bool) {
		mu.Lock()
		events = append(events, connected)
		mu.Unlock()
	})

	require.NoError(t, tr.Connect(context.Background()))
	f.last().Disconnect()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, false)
}
