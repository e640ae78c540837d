package connector

import (
	"sync"

	"github.com/c360/agentmesh/envelope"
)

// Typed message handlers. Each receives the decoded payload, the sender's
// agent ID, and the raw envelope it arrived in.
type (
	FactHandler        func(fact *envelope.Fact, senderID string, raw *envelope.Envelope)
	OpinionHandler     func(opinion *envelope.Opinion, senderID string, raw *envelope.Envelope)
	CapabilityHandler  func(capability *envelope.Capability, senderID string, raw *envelope.Envelope)
	TaskRequestHandler func(request *envelope.TaskRequest, senderID string, raw *envelope.Envelope)
	TaskResultHandler  func(result *envelope.TaskResult, senderID string, raw *envelope.Envelope)
	AckHandler         func(ack *envelope.Acknowledgement, senderID string, raw *envelope.Envelope)
	ConnHandler        func()
)

// callbackRegistry stores handlers per message kind in registration order.
type callbackRegistry struct {
	mu           sync.RWMutex
	facts        []FactHandler
	opinions     []OpinionHandler
	capabilities []CapabilityHandler
	requests     []TaskRequestHandler
	results      []TaskResultHandler
	acks         []AckHandler
	connects     []ConnHandler
	disconnects  []ConnHandler
}

// OnFact registers a handler for inbound Fact messages.
func (c *Connector) OnFact(h FactHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.facts = append(c.callbacks.facts, h)
}

// OnOpinion registers a handler for inbound Opinion messages.
func (c *Connector) OnOpinion(h OpinionHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.opinions = append(c.callbacks.opinions, h)
}

// OnCapabilityAdvertisement registers a handler for inbound capability
// advertisements.
func (c *Connector) OnCapabilityAdvertisement(h CapabilityHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.capabilities = append(c.callbacks.capabilities, h)
}

// OnTaskRequest registers a handler for inbound task requests.
func (c *Connector) OnTaskRequest(h TaskRequestHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.requests = append(c.callbacks.requests, h)
}

// OnTaskResult registers a handler for inbound task results.
func (c *Connector) OnTaskResult(h TaskResultHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.results = append(c.callbacks.results, h)
}

// OnAcknowledgement registers a handler invoked for every inbound ACK,
// matched or not.
func (c *Connector) OnAcknowledgement(h AckHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.acks = append(c.callbacks.acks, h)
}

// OnConnect registers a handler fired when the broker connection is
// established or re-established.
func (c *Connector) OnConnect(h ConnHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.connects = append(c.callbacks.connects, h)
}

// OnDisconnect registers a handler fired when the broker connection drops.
func (c *Connector) OnDisconnect(h ConnHandler) {
	c.callbacks.mu.Lock()
	defer c.callbacks.mu.Unlock()
	c.callbacks.disconnects = append(c.callbacks.disconnects, h)
}
