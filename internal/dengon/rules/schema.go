package rules

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Rule option bags arrive as free-form maps from the YAML config. Each
// rule type validates its bag against a JSON Schema before decoding it
// into the typed config, so a typo fails at engine construction rather
// than silently at runtime.

const thresholdSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["stateId", "mode"],
	"properties": {
		"stateId":       {"type": "string", "minLength": 1},
		"mode":          {"enum": ["lt", "gt", "inside", "outside", "truthy", "falsy"]},
		"limit":         {"type": "number"},
		"min":           {"type": "number"},
		"max":           {"type": "number"},
		"hysteresis":    {"type": "number", "minimum": 0},
		"minDurationMs": {"type": "integer", "minimum": 0},
		"preset":        {"type": "string"},
		"ref":           {"type": "string"},
		"title":         {"type": "string"},
		"text":          {"type": "string"},
		"unit":          {"type": "string"}
	},
	"additionalProperties": false
}`

const freshnessSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["stateId", "everyMs"],
	"properties": {
		"stateId": {"type": "string", "minLength": 1},
		"everyMs": {"type": "integer", "minimum": 1},
		"driver":  {"enum": ["ts", "lc"]},
		"preset":  {"type": "string"},
		"ref":     {"type": "string"},
		"title":   {"type": "string"},
		"text":    {"type": "string"}
	},
	"additionalProperties": false
}`

var (
	compiledThreshold = jsonschema.MustCompileString("threshold.json", thresholdSchema)
	compiledFreshness = jsonschema.MustCompileString("freshness.json", freshnessSchema)
)

// decodeOptions validates the bag against schema and decodes it into
// out. The bag is normalized through JSON so YAML integer/float quirks
// do not leak into validation.
func decodeOptions(schema *jsonschema.Schema, bag map[string]any, out any) error {
	data, err := json.Marshal(bag)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
