package inventory

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/tzhukov/pollprobe/logger"
)

// listResponseSchema is the envelope every list endpoint of the API returns.
const listResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["meta", "resources"],
  "properties": {
    "meta": {
      "type": "object",
      "properties": {
        "trace_id": {"type": "string"},
        "query_time": {"type": "number"},
        "pagination": {"type": "object"}
      }
    },
    "resources": {"type": ["array", "null"]},
    "errors": {"type": ["array", "null"]}
  }
}`

// BodyValidator checks 200 bodies against the list envelope schema.
type BodyValidator struct {
	once   sync.Once
	schema *gojsonschema.Schema
	err    error
}

func NewBodyValidator() *BodyValidator { return &BodyValidator{} }

func (v *BodyValidator) load() {
	v.schema, v.err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(listResponseSchema))
	if v.err != nil {
		v.err = fmt.Errorf("compile schema: %w", v.err)
	}
}

// Validate reports whether body matches the envelope.
func (v *BodyValidator) Validate(body []byte) error {
	v.once.Do(v.load)
	if v.err != nil {
		return v.err
	}
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return err
	}
	if !res.Valid() {
		return fmt.Errorf("response invalid: %v", res.Errors())
	}
	return nil
}

// Check logs a warning when resp's body does not look like a list response.
func (v *BodyValidator) Check(resp *Response) {
	if err := v.Validate(resp.Body); err != nil {
		logger.Warn("unexpected list response body",
			logger.FieldKV("reason", err.Error()),
			logger.FieldKV("trace_id", resp.TraceID()))
	}
}
