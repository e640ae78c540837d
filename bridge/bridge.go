package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/agentmesh/bus"
	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/transport"
)

// Internal bus topics, keyed by payload kind. The bridge publishes inbound
// envelopes here; the connector's dispatcher subscribes.
const (
	BusTopicFact       = "internal.fact"
	BusTopicOpinion    = "internal.opinion"
	BusTopicCapability = "internal.capability"
	BusTopicRequest    = "internal.task_request"
	BusTopicResult     = "internal.task_result"
	BusTopicAck        = "internal.acknowledgement"
)

// BusTopicFor maps a message type to its internal bus topic.
func BusTopicFor(messageType string) string {
	switch messageType {
	case envelope.TypeFact:
		return BusTopicFact
	case envelope.TypeOpinion:
		return BusTopicOpinion
	case envelope.TypeCapabilityAdvertisement:
		return BusTopicCapability
	case envelope.TypeTaskRequest:
		return BusTopicRequest
	case envelope.TypeTaskResult:
		return BusTopicResult
	case envelope.TypeAcknowledgement:
		return BusTopicAck
	default:
		return ""
	}
}

// MessageBridge subscribes to wire topics and republishes decoded
// envelopes onto the internal bus. Envelopes cross the bridge as received;
// the consumer aligns them after its security checks.
type MessageBridge struct {
	external transport.ExternalTransport
	internal *bus.Bus
	aligner  *DataAligner
	logger   *slog.Logger

	mu      sync.Mutex
	topics  []string
	started bool

	dropped int64
}

// NewBridge wires a transport to the internal bus through an aligner.
func NewBridge(external transport.ExternalTransport, internal *bus.Bus, aligner *DataAligner, logger *slog.Logger) *MessageBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBridge{
		external: external,
		internal: internal,
		aligner:  aligner,
		logger:   logger,
	}
}

// Start subscribes to the given wire topics. Calling Start twice is an
// error.
func (b *MessageBridge) Start(ctx context.Context, topics ...string) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "MessageBridge", "Start", "bridge running")
	}
	b.started = true
	b.mu.Unlock()

	for _, topic := range topics {
		topic := topic
		if err := b.external.Subscribe(ctx, topic, b.handleInbound); err != nil {
			return errors.Wrap(err, "MessageBridge", "Start", "subscribe "+topic)
		}
		b.mu.Lock()
		b.topics = append(b.topics, topic)
		b.mu.Unlock()
	}
	return nil
}

// AddTopic subscribes one more wire topic on a running bridge.
func (b *MessageBridge) AddTopic(ctx context.Context, topic string) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "MessageBridge", "AddTopic", "bridge not started")
	}
	for _, existing := range b.topics {
		if existing == topic {
			b.mu.Unlock()
			return nil
		}
	}
	b.mu.Unlock()

	if err := b.external.Subscribe(ctx, topic, b.handleInbound); err != nil {
		return errors.Wrap(err, "MessageBridge", "AddTopic", "subscribe "+topic)
	}
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
	return nil
}

// Stop unsubscribes from all wire topics.
func (b *MessageBridge) Stop() error {
	b.mu.Lock()
	topics := b.topics
	b.topics = nil
	b.started = false
	b.mu.Unlock()

	for _, topic := range topics {
		if err := b.external.Unsubscribe(topic); err != nil {
			b.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// handleInbound decodes one wire message and republishes it internally.
// Malformed messages are dropped and logged, never propagated.
func (b *MessageBridge) handleInbound(topic string, data []byte) {
	e, err := b.aligner.Decode(data)
	if err != nil {
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		b.logger.Warn("dropping malformed inbound message",
			"topic", topic,
			"error", err)
		return
	}

	busTopic := BusTopicFor(e.MessageType)
	if busTopic == "" {
		b.logger.Warn("dropping message with unroutable type",
			"topic", topic,
			"message_type", e.MessageType)
		return
	}

	b.internal.Publish(bus.Message{Topic: busTopic, Envelope: e})
}

// Dropped returns how many inbound messages failed alignment.
func (b *MessageBridge) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
