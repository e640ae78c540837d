// Package bridge translates between the external wire format and internal
// bus topics. The DataAligner normalizes inbound payload shapes and fills
// envelope defaults; the MessageBridge subscribes to wire topics and
// republishes decoded envelopes onto the internal bus.
package bridge

import (
	"log/slog"

	"github.com/c360/agentmesh/envelope"
	"github.com/c360/agentmesh/errors"
	"github.com/c360/agentmesh/version"
)

// DataAligner normalizes inbound wire messages into validated envelopes.
type DataAligner struct {
	versions *version.Manager
	logger   *slog.Logger
}

// NewAligner creates an aligner. versions may be nil to skip protocol
// version conversion.
func NewAligner(versions *version.Manager, logger *slog.Logger) *DataAligner {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataAligner{versions: versions, logger: logger}
}

// Decode validates raw wire bytes against the envelope schema and decodes
// them. No field is touched: signatures cover the envelope exactly as it
// arrived, so any rewriting must wait until security checks have passed.
func (a *DataAligner) Decode(data []byte) (*envelope.Envelope, error) {
	if err := envelope.ValidateWire(data); err != nil {
		return nil, err
	}
	return envelope.Unmarshal(data)
}

// Align fills defaulted fields and converts the payload to the local
// protocol version when the sender spoke an older compatible one. Call
// only after the envelope has been verified and decrypted: alignment
// changes the bytes a signature was computed over.
func (a *DataAligner) Align(e *envelope.Envelope) error {
	a.fillDefaults(e)

	if a.versions != nil && e.ProtocolVersion != envelope.ProtocolVersion {
		converted, err := a.versions.Convert(e.Payload, e.ProtocolVersion, envelope.ProtocolVersion)
		if err != nil {
			return errors.WrapInvalid(errors.ErrVersionIncompatible, "DataAligner", "Align",
				"convert payload from "+e.ProtocolVersion)
		}
		e.Payload = converted
		e.ProtocolVersion = envelope.ProtocolVersion
	}

	return nil
}

// fillDefaults backfills fields optional on the wire so downstream code
// never branches on their absence.
func (a *DataAligner) fillDefaults(e *envelope.Envelope) {
	if e.EnvelopeVersion == "" {
		e.EnvelopeVersion = envelope.EnvelopeVersion
	}
	if e.ProtocolVersion == "" {
		e.ProtocolVersion = envelope.ProtocolVersion
	}
	if e.CorrelationID == "" {
		e.CorrelationID = e.MessageID
	}
	if e.QoS.Priority == "" {
		e.QoS.Priority = envelope.PriorityMedium
	}
}
