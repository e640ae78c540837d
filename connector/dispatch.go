package connector

import (
	"context"
	"time"

	"github.com/c360/agentmesh/bus"
	"github.com/c360/agentmesh/envelope"
)

// enqueueInbound hands an internal bus message to the decode pool so the
// transport callback goroutine never blocks on application handlers.
func (c *Connector) enqueueInbound(msg bus.Message) error {
	return c.decodePool.Submit(msg)
}

// processInbound verifies, aligns, decodes, and dispatches one inbound
// envelope. Security runs first, over the envelope exactly as received;
// defaults and version conversion apply only to verified envelopes.
// Failures drop the message; this path never propagates to the sender.
func (c *Connector) processInbound(ctx context.Context, msg bus.Message) error {
	e := msg.Envelope

	if c.sec != nil {
		verified, err := c.sec.AuthenticateAndProcess(e)
		if err != nil {
			c.logger.Warn("dropping message that failed security checks",
				"message_id", e.MessageID,
				"sender", e.SenderID,
				"error", err)
			if c.metrics != nil {
				c.metrics.Metrics.MessagesDropped.Inc()
			}
			return err
		}
		e = verified
	}

	if err := c.aligner.Align(e); err != nil {
		c.logger.Warn("dropping message that could not be aligned",
			"message_id", e.MessageID,
			"protocol_version", e.ProtocolVersion,
			"error", err)
		if c.metrics != nil {
			c.metrics.Metrics.MessagesDropped.Inc()
		}
		return err
	}

	// Broadcast topics echo our own publishes back.
	if e.SenderID == c.cfg.AIID {
		return nil
	}

	payload, err := envelope.DecodePayload(e)
	if err != nil {
		c.logger.Warn("dropping message with undecodable payload",
			"message_id", e.MessageID,
			"message_type", e.MessageType,
			"error", err)
		if c.metrics != nil {
			c.metrics.Metrics.MessagesDropped.Inc()
		}
		return err
	}

	if c.metrics != nil {
		c.metrics.Metrics.MessagesReceived.WithLabelValues(e.MessageType).Inc()
	}

	switch p := payload.(type) {
	case *envelope.Acknowledgement:
		c.handleAck(p, e)
	case *envelope.Fact:
		c.callbacks.mu.RLock()
		handlers := append([]FactHandler(nil), c.callbacks.facts...)
		c.callbacks.mu.RUnlock()
		for _, h := range handlers {
			h := h
			c.invoke(func() { h(p, e.SenderID, e) }, "fact")
		}
	case *envelope.Opinion:
		c.callbacks.mu.RLock()
		handlers := append([]OpinionHandler(nil), c.callbacks.opinions...)
		c.callbacks.mu.RUnlock()
		for _, h := range handlers {
			h := h
			c.invoke(func() { h(p, e.SenderID, e) }, "opinion")
		}
	case *envelope.Capability:
		c.callbacks.mu.RLock()
		handlers := append([]CapabilityHandler(nil), c.callbacks.capabilities...)
		c.callbacks.mu.RUnlock()
		for _, h := range handlers {
			h := h
			c.invoke(func() { h(p, e.SenderID, e) }, "capability")
		}
	case *envelope.TaskRequest:
		c.callbacks.mu.RLock()
		handlers := append([]TaskRequestHandler(nil), c.callbacks.requests...)
		c.callbacks.mu.RUnlock()
		for _, h := range handlers {
			h := h
			c.invoke(func() { h(p, e.SenderID, e) }, "task_request")
		}
	case *envelope.TaskResult:
		c.callbacks.mu.RLock()
		handlers := append([]TaskResultHandler(nil), c.callbacks.results...)
		c.callbacks.mu.RUnlock()
		for _, h := range handlers {
			h := h
			c.invoke(func() { h(p, e.SenderID, e) }, "task_result")
		}
	}

	if e.QoS.RequiresAck && e.MessageType != envelope.TypeAcknowledgement {
		c.synthesizeAck(ctx, e)
	}
	return nil
}

// handleAck resolves the matching pending future, then fires ACK handlers.
// Unmatched ACKs are normal after a timeout already gave up; they are
// logged at debug and otherwise ignored.
func (c *Connector) handleAck(ack *envelope.Acknowledgement, e *envelope.Envelope) {
	target := ack.TargetMessageID
	if target == "" {
		target = e.CorrelationID
	}

	matched := c.acks.resolve(target, ack)
	if !matched && target != e.CorrelationID {
		matched = c.acks.resolve(e.CorrelationID, ack)
	}
	if !matched {
		c.logger.Debug("acknowledgement with no pending publish",
			"target_message_id", target,
			"sender", e.SenderID)
	}
	c.observePending()

	c.callbacks.mu.RLock()
	handlers := append([]AckHandler(nil), c.callbacks.acks...)
	c.callbacks.mu.RUnlock()
	for _, h := range handlers {
		h := h
		c.invoke(func() { h(ack, e.SenderID, e) }, "acknowledgement")
	}
}

// synthesizeAck answers an ACK-requesting inbound envelope. The reply
// correlates to the inbound message ID so the sender's future resolves.
func (c *Connector) synthesizeAck(ctx context.Context, inbound *envelope.Envelope) {
	ack := &envelope.Acknowledgement{
		Status:          envelope.AckStatusReceived,
		AckTimestamp:    time.Now().UTC(),
		TargetMessageID: inbound.MessageID,
	}
	payload, err := envelope.EncodePayload(ack)
	if err != nil {
		c.logger.Error("encode acknowledgement failed",
			"target_message_id", inbound.MessageID,
			"error", err)
		return
	}

	e := envelope.New(envelope.TypeAcknowledgement, c.cfg.AIID, inbound.SenderID, payload,
		envelope.QoSParameters{Priority: envelope.PriorityLow})
	e.CorrelationID = inbound.MessageID

	if _, err := c.Publish(ctx, envelope.AckTopic(inbound.SenderID), e); err != nil {
		c.logger.Warn("acknowledgement send failed",
			"target_message_id", inbound.MessageID,
			"recipient", inbound.SenderID,
			"error", err)
	}
}
