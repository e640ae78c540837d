package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactPayload(t *testing.T) json.RawMessage {
	t.Helper()
	payload, err := EncodePayload(&Fact{
		ID:              "fact-1",
		StatementType:   "natural_language",
		StatementNL:     "the sky is blue",
		SourceAIID:      "agent-a",
		Timestamp:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		ConfidenceScore: 0.9,
	})
	require.NoError(t, err)
	return payload
}

func TestNewGeneratesUniqueIDs(t *testing.T) {
	payload := testFactPayload(t)

	a := New(TypeFact, "agent-a", RecipientAll, payload, QoSParameters{})
	b := New(TypeFact, "agent-a", RecipientAll, payload, QoSParameters{})

	assert.NotEqual(t, a.MessageID, b.MessageID)
	assert.Equal(t, a.MessageID, a.CorrelationID, "correlation defaults to message id")
	assert.Equal(t, PriorityMedium, a.QoS.Priority)
	assert.Equal(t, EnvelopeVersion, a.EnvelopeVersion)
}

func TestPatternForMessageType(t *testing.T) {
	payload := testFactPayload(t)

	tests := []struct {
		messageType string
		pattern     string
	}{
		{TypeFact, PatternPublish},
		{TypeOpinion, PatternPublish},
		{TypeCapabilityAdvertisement, PatternPublish},
		{TypeTaskRequest, PatternRequest},
		{TypeTaskResult, PatternResponse},
		{TypeAcknowledgement, PatternAcknowledgement},
	}
	for _, tt := range tests {
		e := New(tt.messageType, "agent-a", "agent-b", payload, QoSParameters{})
		assert.Equal(t, tt.pattern, e.CommunicationPattern, tt.messageType)
	}
}

func TestValidateRejectsBadEnvelopes(t *testing.T) {
	payload := testFactPayload(t)

	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"missing message id", func(e *Envelope) { e.MessageID = "" }},
		{"missing sender", func(e *Envelope) { e.SenderID = "" }},
		{"missing recipient", func(e *Envelope) { e.RecipientID = "" }},
		{"unknown type", func(e *Envelope) { e.MessageType = "HSP::Bogus_v9" }},
		{"empty payload", func(e *Envelope) { e.Payload = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(TypeFact, "agent-a", RecipientAll, payload, QoSParameters{})
			tt.mutate(e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	payload := testFactPayload(t)
	e := New(TypeFact, "agent-a", "agent-b", payload, QoSParameters{RequiresAck: true, Priority: PriorityHigh})

	data, err := e.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, e.MessageID, decoded.MessageID)
	assert.Equal(t, e.SenderID, decoded.SenderID)
	assert.True(t, decoded.QoS.RequiresAck)
	assert.JSONEq(t, string(e.Payload), string(decoded.Payload))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("{not json"))
	require.Error(t, err)

	_, err = Unmarshal([]byte(`{"message_id": ""}`))
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	e := New(TypeFact, "agent-a", RecipientAll, testFactPayload(t), QoSParameters{})
	e.Security = &SecurityParameters{AuthToken: "tok"}

	clone := e.Clone()
	clone.Security.AuthToken = "changed"
	clone.Payload[0] = 'X'

	assert.Equal(t, "tok", e.Security.AuthToken)
	assert.NotEqual(t, byte('X'), e.Payload[0])
}

func TestCanonicalStableUnderSecurityChanges(t *testing.T) {
	e := New(TypeFact, "agent-a", RecipientAll, testFactPayload(t), QoSParameters{})
	e.Security = &SecurityParameters{AuthToken: "tok"}

	before, err := e.Canonical()
	require.NoError(t, err)

	// The signature field is excluded from the canonical form.
	e.Security.Signature = "abc123"
	after, err := e.Canonical()
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestDecodePayloadByType(t *testing.T) {
	fact := testFactPayload(t)
	e := New(TypeFact, "agent-a", RecipientAll, fact, QoSParameters{})

	decoded, err := DecodePayload(e)
	require.NoError(t, err)

	typed, ok := decoded.(*Fact)
	require.True(t, ok)
	assert.Equal(t, "the sky is blue", typed.StatementNL)
}

func TestDecodePayloadAcknowledgement(t *testing.T) {
	payload, err := EncodePayload(&Acknowledgement{
		Status:          AckStatusReceived,
		AckTimestamp:    time.Now().UTC(),
		TargetMessageID: "msg-42",
	})
	require.NoError(t, err)

	e := New(TypeAcknowledgement, "agent-b", "agent-a", payload, QoSParameters{})
	decoded, err := DecodePayload(e)
	require.NoError(t, err)

	ack, ok := decoded.(*Acknowledgement)
	require.True(t, ok)
	assert.Equal(t, "msg-42", ack.TargetMessageID)
}

func TestTopicConventions(t *testing.T) {
	assert.Equal(t, "hsp.knowledge.facts.agent-a", FactTopic("agent-a"))
	assert.Equal(t, "hsp.knowledge.opinions.agent-a", OpinionTopic("agent-a"))
	assert.Equal(t, "hsp.capabilities.advertisements.agent-a", CapabilityTopic("agent-a"))
	assert.Equal(t, "hsp.results.agent-b", ResultTopic("agent-b"))
	assert.Equal(t, "hsp.acks.agent-b", AckTopic("agent-b"))
}

func TestTopicForEnvelope(t *testing.T) {
	payload := testFactPayload(t)

	fact := New(TypeFact, "agent-a", RecipientAll, payload, QoSParameters{})
	assert.Equal(t, "hsp.knowledge.facts.agent-a", TopicFor(fact))

	req := New(TypeTaskRequest, "agent-a", "agent-b", payload, QoSParameters{})
	assert.Equal(t, "hsp.requests.agent-b", TopicFor(req))

	ack := New(TypeAcknowledgement, "agent-b", "agent-a", payload, QoSParameters{})
	assert.Equal(t, "hsp.acks.agent-a", TopicFor(ack))
}

func TestValidateWireAcceptsWellFormed(t *testing.T) {
	e := New(TypeFact, "agent-a", RecipientAll, testFactPayload(t), QoSParameters{})
	data, err := e.Marshal()
	require.NoError(t, err)

	assert.NoError(t, ValidateWire(data))
}

func TestValidateWireRejectsMissingFields(t *testing.T) {
	err := ValidateWire([]byte(`{"message_id": "m1"}`))
	require.Error(t, err)
}
