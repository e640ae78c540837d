// Package envelope defines the wire message model: the outer envelope
// wrapping a typed payload plus routing, security, and QoS metadata, the
// payload kinds it can carry, and the topic conventions used on the broker.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/c360/agentmesh/errors"
)

// Protocol identifiers carried on every envelope.
const (
	EnvelopeVersion = "0.1"
	ProtocolVersion = "0.1"
)

// Message types discriminate the payload kind.
const (
	TypeFact                    = "HSP::Fact_v0.1"
	TypeCapabilityAdvertisement = "HSP::CapabilityAdvertisement_v0.1"
	TypeTaskRequest             = "HSP::TaskRequest_v0.1"
	TypeTaskResult              = "HSP::TaskResult_v0.1"
	TypeAcknowledgement         = "HSP::Acknowledgement_v0.1"
	TypeOpinion                 = "HSP::Opinion_v0.1"
)

// Communication patterns describe the exchange shape.
const (
	PatternPublish         = "publish"
	PatternRequest         = "request"
	PatternResponse        = "response"
	PatternAcknowledgement = "acknowledgement"
)

// Priorities for QoS.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// RecipientAll is the broadcast recipient.
const RecipientAll = "all"

// QoSParameters carries the delivery guarantees requested by the sender.
type QoSParameters struct {
	RequiresAck bool   `json:"requires_ack"`
	Priority    string `json:"priority,omitempty"`
}

// SecurityParameters carries the auth token and envelope signature. Both
// are attached by the security layer after envelope construction.
type SecurityParameters struct {
	AuthToken string `json:"auth_token,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Envelope is the outer wire message. It is immutable once the security
// layer has processed it.
type Envelope struct {
	EnvelopeVersion      string              `json:"hsp_envelope_version"`
	MessageID            string              `json:"message_id"`
	CorrelationID        string              `json:"correlation_id,omitempty"`
	SenderID             string              `json:"sender_ai_id"`
	RecipientID          string              `json:"recipient_ai_id"`
	TimestampSent        time.Time           `json:"timestamp_sent"`
	MessageType          string              `json:"message_type"`
	ProtocolVersion      string              `json:"protocol_version"`
	CommunicationPattern string              `json:"communication_pattern"`
	QoS                  QoSParameters       `json:"qos_parameters"`
	Security             *SecurityParameters `json:"security_parameters,omitempty"`
	PayloadSchemaURI     string              `json:"payload_schema_uri,omitempty"`
	Payload              json.RawMessage     `json:"payload"`
}

// New builds an envelope around an already-encoded payload, generating a
// fresh message ID. The correlation ID defaults to the message ID so ACK
// tracking always has a key.
func New(messageType, senderID, recipientID string, payload json.RawMessage, qos QoSParameters) *Envelope {
	id := uuid.NewString()
	if qos.Priority == "" {
		qos.Priority = PriorityMedium
	}
	return &Envelope{
		EnvelopeVersion:      EnvelopeVersion,
		MessageID:            id,
		CorrelationID:        id,
		SenderID:             senderID,
		RecipientID:          recipientID,
		TimestampSent:        time.Now().UTC(),
		MessageType:          messageType,
		ProtocolVersion:      ProtocolVersion,
		CommunicationPattern: patternFor(messageType),
		QoS:                  qos,
		Payload:              payload,
	}
}

// patternFor maps a message type to its default communication pattern.
func patternFor(messageType string) string {
	switch messageType {
	case TypeTaskRequest:
		return PatternRequest
	case TypeTaskResult:
		return PatternResponse
	case TypeAcknowledgement:
		return PatternAcknowledgement
	default:
		return PatternPublish
	}
}

// Validate checks the structural invariants of an envelope.
func (e *Envelope) Validate() error {
	if e == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "envelope is nil")
	}
	if e.MessageID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "message_id is required")
	}
	if e.SenderID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "sender_ai_id is required")
	}
	if e.RecipientID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "recipient_ai_id is required")
	}
	if !KnownMessageType(e.MessageType) {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate",
			"unknown message_type "+e.MessageType)
	}
	if len(e.Payload) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Validate", "payload is required")
	}
	return nil
}

// KnownMessageType reports whether t is one of the defined payload kinds.
func KnownMessageType(t string) bool {
	switch t {
	case TypeFact, TypeCapabilityAdvertisement, TypeTaskRequest,
		TypeTaskResult, TypeAcknowledgement, TypeOpinion:
		return true
	}
	return false
}

// Marshal encodes the envelope as wire JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSerialization, "Envelope", "Marshal", "encode envelope")
	}
	return data, nil
}

// Unmarshal decodes wire JSON into an envelope and validates it.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.WrapInvalid(errors.ErrSerialization, "Envelope", "Unmarshal", "decode envelope")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Clone returns a deep copy of the envelope. Security processing mutates
// the copy so the caller's envelope stays pristine.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Security != nil {
		sec := *e.Security
		clone.Security = &sec
	}
	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}

// Canonical returns the sorted-key JSON serialization of the envelope with
// the signature field cleared. Signatures are computed and verified over
// this form so field ordering never affects verification.
func (e *Envelope) Canonical() ([]byte, error) {
	work := e.Clone()
	if work.Security != nil {
		work.Security.Signature = ""
	}

	raw, err := json.Marshal(work)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSerialization, "Envelope", "Canonical", "encode envelope")
	}

	// Round-trip through a map: encoding/json emits map keys sorted.
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, errors.WrapInvalid(errors.ErrSerialization, "Envelope", "Canonical", "normalize envelope")
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSerialization, "Envelope", "Canonical", "encode canonical form")
	}
	return canonical, nil
}
