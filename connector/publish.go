package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/errors"
)

// Publish sends an envelope on the given wire topic and reports whether
// delivery was confirmed. For envelopes that do not request an
// acknowledgement, confirmation means a transport accepted the message.
// For acknowledgement-requesting envelopes it means the ACK arrived,
// possibly after retries or through the fallback chain; false with an
// error means delivery could not be confirmed before the retry budget ran
// out.
func (c *Connector) Publish(ctx context.Context, topic string, e *envelope.Envelope) (bool, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return false, errors.WrapInvalid(errors.ErrNotStarted, "Connector", "Publish", "connector not started")
	}

	if e.SenderID == "" {
		e.SenderID = c.cfg.AIID
	}
	if err := e.Validate(); err != nil {
		return false, err
	}

	// Identical content published within the cache TTL is suppressed:
	// the earlier send already covered it. Acknowledgements are exempt
	// because each one answers a distinct inbound message.
	dedupable := !e.QoS.RequiresAck && e.MessageType != envelope.TypeAcknowledgement
	key := ""
	if dedupable {
		key = dedupeKey(topic, e)
		if _, hit := c.dedupe.Get(key); hit {
			c.countPublished(e.MessageType, "deduplicated")
			return true, nil
		}
	}

	var wire []byte
	final := func(ctx context.Context, e *envelope.Envelope) error {
		secured, err := c.secureEnvelope(e)
		if err != nil {
			return err
		}
		wire, err = secured.Marshal()
		return err
	}
	if err := runMiddleware(ctx, c.middleware, e, final); err != nil {
		c.countPublished(e.MessageType, "error")
		return false, err
	}

	if e.QoS.RequiresAck {
		return c.publishWithAck(ctx, topic, e, wire)
	}

	// Low-priority fire-and-forget traffic can ride the batcher.
	if c.batcher != nil && dedupable && e.QoS.Priority == envelope.PriorityLow {
		c.batcher.enqueue(batchItem{topic: topic, messageType: e.MessageType, data: wire})
		if key != "" {
			_, _ = c.dedupe.Put(key, true, 0)
		}
		return true, nil
	}

	if err := c.sendReliable(ctx, topic, wire); err != nil {
		c.countPublished(e.MessageType, "error")
		return false, err
	}
	if key != "" {
		_, _ = c.dedupe.Put(key, true, 0)
	}
	c.countPublished(e.MessageType, "ok")
	return true, nil
}

// publishWithAck sends the wire bytes and waits for the matching
// acknowledgement, retrying the full send with exponential backoff on
// timeout and falling back to the alternate transport chain when
// configured.
func (c *Connector) publishWithAck(ctx context.Context, topic string, e *envelope.Envelope, wire []byte) (bool, error) {
	p, err := c.acks.register(e.CorrelationID)
	if err != nil {
		return false, err
	}
	defer func() {
		c.acks.remove(e.CorrelationID)
		c.observePending()
	}()
	c.observePending()

	start := time.Now()
	for attempt := 0; ; attempt++ {
		if attempt > 0 && c.metrics != nil {
			c.metrics.Metrics.RetryAttempts.Inc()
		}

		if err := c.sendReliable(ctx, topic, wire); err != nil {
			c.logger.Warn("publish attempt failed",
				"topic", topic,
				"message_id", e.MessageID,
				"attempt", attempt,
				"error", err)
		}

		timer := time.NewTimer(c.cfg.AckTimeout)
		select {
		case <-p.ch:
			timer.Stop()
			if c.metrics != nil {
				c.metrics.Metrics.AckLatency.Observe(time.Since(start).Seconds())
			}
			c.countPublished(e.MessageType, "ok")
			return true, nil
		case <-ctx.Done():
			timer.Stop()
			c.countPublished(e.MessageType, "error")
			return false, errors.WrapTransient(ctx.Err(), "Connector", "Publish", "await acknowledgement")
		case <-c.runCtx.Done():
			timer.Stop()
			c.countPublished(e.MessageType, "error")
			return false, errors.WrapTransient(errors.ErrShuttingDown, "Connector", "Publish", "await acknowledgement")
		case <-timer.C:
		}

		if c.metrics != nil {
			c.metrics.Metrics.AckTimeouts.Inc()
		}
		c.logger.Warn("acknowledgement timeout",
			"topic", topic,
			"message_id", e.MessageID,
			"attempt", attempt)

		if c.cfg.EnableFallback && c.chain != nil {
			if name, err := c.chain.Send(ctx, topic, wire); err == nil {
				if c.metrics != nil {
					c.metrics.Metrics.FallbackSends.WithLabelValues(name).Inc()
				}
				c.countPublished(e.MessageType, "fallback")
				return true, nil
			}
		}

		if attempt >= c.cfg.MaxAckRetries {
			c.countPublished(e.MessageType, "error")
			return false, errors.WrapTransient(errors.ErrAckTimeout, "Connector", "Publish",
				fmt.Sprintf("no acknowledgement after %d attempts", attempt+1))
		}
		c.acks.incrementRetries(e.CorrelationID)

		backoff := time.NewTimer(c.cfg.AckRetryBase << attempt)
		select {
		case <-p.ch:
			// The ACK landed during backoff. Still a confirmation.
			backoff.Stop()
			if c.metrics != nil {
				c.metrics.Metrics.AckLatency.Observe(time.Since(start).Seconds())
			}
			c.countPublished(e.MessageType, "ok")
			return true, nil
		case <-ctx.Done():
			backoff.Stop()
			c.countPublished(e.MessageType, "error")
			return false, errors.WrapTransient(ctx.Err(), "Connector", "Publish", "retry backoff")
		case <-c.runCtx.Done():
			backoff.Stop()
			c.countPublished(e.MessageType, "error")
			return false, errors.WrapTransient(errors.ErrShuttingDown, "Connector", "Publish", "retry backoff")
		case <-backoff.C:
		}
	}
}

func (c *Connector) secureEnvelope(e *envelope.Envelope) (*envelope.Envelope, error) {
	if c.sec == nil {
		return e, nil
	}
	return c.sec.Secure(e)
}

func (c *Connector) countPublished(messageType, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Metrics.MessagesPublished.WithLabelValues(messageType, result).Inc()
}

func (c *Connector) observePending() {
	if c.metrics == nil {
		return
	}
	c.metrics.Metrics.PendingAcks.Set(float64(c.acks.count()))
}

// PublishFact broadcasts a fact to the knowledge space. Missing identity
// fields are filled from the connector's configuration.
func (c *Connector) PublishFact(ctx context.Context, fact *envelope.Fact) (bool, error) {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.SourceAIID == "" {
		fact.SourceAIID = c.cfg.AIID
	}
	if fact.Timestamp.IsZero() {
		fact.Timestamp = time.Now().UTC()
	}

	payload, err := envelope.EncodePayload(fact)
	if err != nil {
		return false, err
	}
	e := envelope.New(envelope.TypeFact, c.cfg.AIID, envelope.RecipientAll, payload,
		envelope.QoSParameters{Priority: envelope.PriorityMedium})
	return c.Publish(ctx, envelope.FactTopic(c.cfg.AIID), e)
}

// PublishOpinion broadcasts an opinion to the knowledge space.
func (c *Connector) PublishOpinion(ctx context.Context, opinion *envelope.Opinion) (bool, error) {
	if opinion.ID == "" {
		opinion.ID = uuid.NewString()
	}
	if opinion.SourceAIID == "" {
		opinion.SourceAIID = c.cfg.AIID
	}
	if opinion.Timestamp.IsZero() {
		opinion.Timestamp = time.Now().UTC()
	}

	payload, err := envelope.EncodePayload(opinion)
	if err != nil {
		return false, err
	}
	e := envelope.New(envelope.TypeOpinion, c.cfg.AIID, envelope.RecipientAll, payload,
		envelope.QoSParameters{Priority: envelope.PriorityMedium})
	return c.Publish(ctx, envelope.OpinionTopic(c.cfg.AIID), e)
}

// PublishCapabilityAdvertisement broadcasts one capability this agent
// offers.
func (c *Connector) PublishCapabilityAdvertisement(ctx context.Context, cap *envelope.Capability) (bool, error) {
	if cap.AIID == "" {
		cap.AIID = c.cfg.AIID
	}

	payload, err := envelope.EncodePayload(cap)
	if err != nil {
		return false, err
	}
	e := envelope.New(envelope.TypeCapabilityAdvertisement, c.cfg.AIID, envelope.RecipientAll, payload,
		envelope.QoSParameters{Priority: envelope.PriorityMedium})
	return c.Publish(ctx, envelope.CapabilityTopic(c.cfg.AIID), e)
}

// SendTaskRequest addresses a task request to its target agent and waits
// for the delivery acknowledgement. Task results arrive separately via
// OnTaskResult, correlated by the request ID.
func (c *Connector) SendTaskRequest(ctx context.Context, req *envelope.TaskRequest) (bool, error) {
	if req.TargetAIID == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "Connector", "SendTaskRequest",
			"target_ai_id is required")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.RequesterAIID == "" {
		req.RequesterAIID = c.cfg.AIID
	}

	payload, err := envelope.EncodePayload(req)
	if err != nil {
		return false, err
	}
	e := envelope.New(envelope.TypeTaskRequest, c.cfg.AIID, req.TargetAIID, payload,
		envelope.QoSParameters{RequiresAck: true, Priority: envelope.PriorityHigh})
	return c.Publish(ctx, envelope.RequestTopic(req.TargetAIID), e)
}

// SendTaskResult reports a task outcome back to the requesting agent and
// waits for the delivery acknowledgement.
func (c *Connector) SendTaskResult(ctx context.Context, recipientID string, result *envelope.TaskResult) (bool, error) {
	if recipientID == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "Connector", "SendTaskResult",
			"recipient is required")
	}
	if result.ResultID == "" {
		result.ResultID = uuid.NewString()
	}
	if result.ExecutingAIID == "" {
		result.ExecutingAIID = c.cfg.AIID
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	payload, err := envelope.EncodePayload(result)
	if err != nil {
		return false, err
	}
	e := envelope.New(envelope.TypeTaskResult, c.cfg.AIID, recipientID, payload,
		envelope.QoSParameters{RequiresAck: true, Priority: envelope.PriorityHigh})
	return c.Publish(ctx, envelope.ResultTopic(recipientID), e)
}
