package memtransport

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"hsp.acks.agent-a", "hsp.acks.agent-a", true},
		{"hsp.acks.agent-a", "hsp.acks.agent-b", false},
		{"hsp.knowledge.facts.*", "hsp.knowledge.facts.agent-a", true},
		{"hsp.knowledge.facts.*", "hsp.knowledge.facts.agent-a.extra", false},
		{"hsp.knowledge.>", "hsp.knowledge.facts.agent-a", true},
		{"hsp.knowledge.>", "hsp.knowledge", false},
		{"hsp.*.facts.agent-a", "hsp.knowledge.facts.agent-a", true},
		{">", "anything.at.all", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TopicMatches(tt.pattern, tt.topic),
			"pattern %q topic %q", tt.pattern, tt.topic)
	}
}

func TestPublishDeliversAcrossClients(t *testing.T) {
	broker := NewBroker()
	sender := broker.NewClient()
	receiver := broker.NewClient()

	ctx := context.Background()
	require.NoError(t, sender.Connect(ctx))
	require.NoError(t, receiver.Connect(ctx))

	var gotTopic string
	var gotData []byte
	require.NoError(t, receiver.Subscribe(ctx, "hsp.knowledge.facts.>", func(topic string, data []byte) {
		gotTopic = topic
		gotData = data
	}))

	require.NoError(t, sender.Publish(ctx, "hsp.knowledge.facts.agent-a", []byte("hello")))
	assert.Equal(t, "hsp.knowledge.facts.agent-a", gotTopic)
	assert.Equal(t, []byte("hello"), gotData)
}

func TestPublishWhileDisconnectedFails(t *testing.T) {
	broker := NewBroker()
	c := broker.NewClient()

	err := c.Publish(context.Background(), "topic", []byte("x"))
	require.Error(t, err)
}

func TestDisconnectedClientReceivesNothing(t *testing.T) {
	broker := NewBroker()
	sender := broker.NewClient()
	receiver := broker.NewClient()

	ctx := context.Background()
	require.NoError(t, sender.Connect(ctx))
	require.NoError(t, receiver.Connect(ctx))

	received := 0
	require.NoError(t, receiver.Subscribe(ctx, ">", func(string, []byte) { received++ }))

	receiver.Disconnect()
	require.NoError(t, sender.Publish(ctx, "topic", []byte("x")))
	assert.Equal(t, 0, received)
}

func TestSetPublishError(t *testing.T) {
	broker := NewBroker()
	c := broker.NewClient()
	require.NoError(t, c.Connect(context.Background()))

	boom := stderrors.New("injected")
	c.SetPublishError(boom)
	err := c.Publish(context.Background(), "topic", []byte("x"))
	assert.True(t, stderrors.Is(err, boom))

	c.SetPublishError(nil)
	assert.NoError(t, c.Publish(context.Background(), "topic", []byte("x")))
}

func TestStatusChangeNotifications(t *testing.T) {
	broker := NewBroker()
	c := broker.NewClient()

	var events []bool
	c.OnStatusChange(func(connected bool) { events = append(events, connected) })

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()

	assert.Equal(t, []bool{true, false}, events)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()
	c := broker.NewClient()
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	received := 0
	require.NoError(t, c.Subscribe(ctx, "topic", func(string, []byte) { received++ }))
	require.NoError(t, c.Publish(ctx, "topic", []byte("x")))
	require.NoError(t, c.Unsubscribe("topic"))
	require.NoError(t, c.Publish(ctx, "topic", []byte("x")))

	assert.Equal(t, 1, received)
}
