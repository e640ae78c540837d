package envelope

import (
	"encoding/json"
	"time"

	"github.com/c360/agentmesh/errors"
)

// Fact is a statement an agent asserts into the shared knowledge space.
type Fact struct {
	ID                  string         `json:"id"`
	StatementType       string         `json:"statement_type"`
	StatementNL         string         `json:"statement_nl,omitempty"`
	StatementStructured map[string]any `json:"statement_structured,omitempty"`
	SourceAIID          string         `json:"source_ai_id"`
	Timestamp           time.Time      `json:"timestamp_created"`
	ConfidenceScore     float64        `json:"confidence_score"`
	Tags                []string       `json:"tags,omitempty"`
}

// Opinion is a subjective assessment, distinguished from a Fact by its
// reasoning chain.
type Opinion struct {
	ID              string    `json:"id"`
	StatementNL     string    `json:"statement_nl"`
	SourceAIID      string    `json:"source_ai_id"`
	Timestamp       time.Time `json:"timestamp_created"`
	ConfidenceScore float64   `json:"confidence_score"`
	ReasoningChain  []string  `json:"reasoning_chain,omitempty"`
}

// Capability describes one operation an agent offers to the mesh.
type Capability struct {
	CapabilityID        string   `json:"capability_id"`
	AIID                string   `json:"ai_id"`
	Name                string   `json:"name"`
	Description         string   `json:"description,omitempty"`
	Version             string   `json:"version"`
	AgentName           string   `json:"agent_name,omitempty"`
	Availability        string   `json:"availability_status"`
	Tags                []string `json:"tags,omitempty"`
	InputSchemaURI      string   `json:"input_schema_uri,omitempty"`
	OutputSchemaURI     string   `json:"output_schema_uri,omitempty"`
	SupportedInterfaces []string `json:"supported_interfaces,omitempty"`
}

// TaskRequest asks a capability provider to perform work.
type TaskRequest struct {
	RequestID          string         `json:"request_id"`
	RequesterAIID      string         `json:"requester_ai_id"`
	TargetAIID         string         `json:"target_ai_id,omitempty"`
	CapabilityIDFilter string         `json:"capability_id_filter,omitempty"`
	Parameters         map[string]any `json:"parameters"`
	CallbackAddress    string         `json:"callback_address,omitempty"`
}

// TaskResult reports the outcome of a TaskRequest.
type TaskResult struct {
	ResultID      string         `json:"result_id"`
	RequestID     string         `json:"request_id"`
	ExecutingAIID string         `json:"executing_ai_id"`
	Status        string         `json:"status"`
	Payload       map[string]any `json:"payload,omitempty"`
	ErrorDetails  map[string]any `json:"error_details,omitempty"`
	Timestamp     time.Time      `json:"timestamp_completed"`
}

// TaskResult status values.
const (
	TaskStatusSuccess    = "success"
	TaskStatusFailure    = "failure"
	TaskStatusInProgress = "in_progress"
	TaskStatusRejected   = "rejected"
)

// Acknowledgement confirms receipt of an envelope that requested one.
type Acknowledgement struct {
	Status          string    `json:"status"`
	AckTimestamp    time.Time `json:"ack_timestamp"`
	TargetMessageID string    `json:"target_message_id"`
}

// Acknowledgement status values.
const (
	AckStatusReceived = "received"
	AckStatusFailed   = "failed"
)

// EncodePayload marshals a typed payload for embedding in an envelope.
func EncodePayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrSerialization, "envelope", "EncodePayload", "encode payload")
	}
	return data, nil
}

// DecodePayload unmarshals an envelope payload into the typed record for
// its message type. Returns the decoded value or a serialization error.
func DecodePayload(e *Envelope) (any, error) {
	decode := func(v any) (any, error) {
		if err := json.Unmarshal(e.Payload, v); err != nil {
			return nil, errors.WrapInvalid(errors.ErrSerialization, "envelope", "DecodePayload",
				"decode "+e.MessageType+" payload")
		}
		return v, nil
	}

	switch e.MessageType {
	case TypeFact:
		return decode(&Fact{})
	case TypeOpinion:
		return decode(&Opinion{})
	case TypeCapabilityAdvertisement:
		return decode(&Capability{})
	case TypeTaskRequest:
		return decode(&TaskRequest{})
	case TypeTaskResult:
		return decode(&TaskResult{})
	case TypeAcknowledgement:
		return decode(&Acknowledgement{})
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "envelope", "DecodePayload",
			"unknown message_type "+e.MessageType)
	}
}
