package envelope

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/agentmesh/errors"
)

//go:embed schema/envelope.schema.json
var envelopeSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(
			gojsonschema.NewStringLoader(envelopeSchemaJSON))
	})
	return schema, schemaErr
}

// ValidateWire checks raw wire JSON against the envelope schema before any
// decoding happens. Malformed input is a serialization error.
func ValidateWire(data []byte) error {
	s, err := loadSchema()
	if err != nil {
		return errors.WrapFatal(err, "envelope", "ValidateWire", "load embedded schema")
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(errors.ErrSerialization, "envelope", "ValidateWire", "parse wire JSON")
	}
	if !result.Valid() {
		var b strings.Builder
		for i, desc := range result.Errors() {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(desc.String())
		}
		return errors.WrapInvalid(errors.ErrSerialization, "envelope", "ValidateWire", b.String())
	}
	return nil
}
