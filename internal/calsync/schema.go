package calsync

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Mutation payloads cross a trust boundary (the HTTP API), so they are
// validated against fixed schemas before any store logic sees them.

const eventPatchSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"minProperties": 1,
	"properties": {
		"title":       {"type": "string", "minLength": 1, "maxLength": 512},
		"description": {"type": "string", "maxLength": 8192},
		"location":    {"type": "string", "maxLength": 512},
		"startTime":   {"type": "string", "format": "date-time"},
		"endTime":     {"type": "string", "format": "date-time"},
		"notes":       {"type": "array", "items": {"type": "string", "maxLength": 4096}},
		"actionItems": {"type": "array", "items": {"type": "string", "maxLength": 4096}}
	}
}`

const manualEventSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"required": ["title", "startTime", "endTime"],
	"properties": {
		"id":          {"type": "string", "maxLength": 128},
		"title":       {"type": "string", "minLength": 1, "maxLength": 512},
		"description": {"type": "string", "maxLength": 8192},
		"location":    {"type": "string", "maxLength": 512},
		"startTime":   {"type": "string", "format": "date-time"},
		"endTime":     {"type": "string", "format": "date-time"},
		"notes":       {"type": "array", "items": {"type": "string", "maxLength": 4096}},
		"actionItems": {"type": "array", "items": {"type": "string", "maxLength": 4096}}
	}
}`

var (
	eventPatchSchema  = mustCompileSchema("event-patch.json", eventPatchSchemaJSON)
	manualEventSchema = mustCompileSchema("manual-event.json", manualEventSchemaJSON)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return schema
}

func validateAgainst(schema *jsonschema.Schema, payload []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// ValidateEventPatchPayload checks a PATCH body before decoding.
func ValidateEventPatchPayload(payload []byte) error {
	return validateAgainst(eventPatchSchema, payload)
}

// ValidateManualEventPayload checks a manual-event create body.
func ValidateManualEventPayload(payload []byte) error {
	return validateAgainst(manualEventSchema, payload)
}
