package server

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const impactEventSchemaURL = "https://cdv.dev/schemas/impact-event.schema.json"

// impactEventSchema constrains POST /impact-events bodies. Quantities are
// strings so they never pass through floating point.
const impactEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["type", "quantity", "project_id", "origin_ref", "occurred_at"],
  "properties": {
    "type":        {"enum": ["residue", "education", "packaging"]},
    "quantity":    {"type": "string", "pattern": "^[0-9]{1,15}(\\.[0-9]{1,9})?$"},
    "subtype":     {"type": "string", "maxLength": 64},
    "project_id":  {"type": "string", "minLength": 1, "maxLength": 128},
    "origin_ref":  {"type": "string", "minLength": 1, "maxLength": 256},
    "occurred_at": {"type": "string", "format": "date-time"}
  }
}`

func compileImpactEventSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(impactEventSchemaURL, strings.NewReader(impactEventSchema)); err != nil {
		return nil, fmt.Errorf("impact event schema load failed: %w", err)
	}
	compiled, err := c.Compile(impactEventSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("impact event schema compile failed: %w", err)
	}
	return compiled, nil
}
