// Package validation checks inbound gateway payloads against JSON schemas
// before they are decoded into typed events. Frames that fail validation
// are dropped by the gateway with a warning.
package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Event payload schemas, keyed by gateway event type.
var eventSchemas = map[string]string{
	"ready": `{
		"type": "object",
		"properties": {
			"botUserId":   {"type": "string", "minLength": 1},
			"botUsername": {"type": "string"},
			"guildCount":  {"type": "integer", "minimum": 0}
		},
		"required": ["botUserId"]
	}`,
	"member_joined": `{
		"type": "object",
		"properties": {
			"guildId":  {"type": "string", "minLength": 1},
			"userId":   {"type": "string", "minLength": 1},
			"username": {"type": "string"}
		},
		"required": ["guildId", "userId"]
	}`,
	"member_left": `{
		"type": "object",
		"properties": {
			"guildId":  {"type": "string", "minLength": 1},
			"userId":   {"type": "string", "minLength": 1},
			"username": {"type": "string"}
		},
		"required": ["guildId", "userId"]
	}`,
	"command_invoked": `{
		"type": "object",
		"properties": {
			"guildId":       {"type": "string", "minLength": 1},
			"userId":        {"type": "string", "minLength": 1},
			"interactionId": {"type": "string", "minLength": 1},
			"command":       {"type": "string", "minLength": 1},
			"args":          {"type": "object"}
		},
		"required": ["guildId", "userId", "interactionId", "command"]
	}`,
	"direct_message": `{
		"type": "object",
		"properties": {
			"userId":  {"type": "string", "minLength": 1},
			"content": {"type": "string"},
			"fromBot": {"type": "boolean"}
		},
		"required": ["userId"]
	}`,
}

var compiled = map[string]*gojsonschema.Schema{}

func init() {
	for eventType, raw := range eventSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid event schema %q: %v", eventType, err))
		}
		compiled[eventType] = schema
	}
}

// KnownEventType reports whether the gateway delivers this event type.
func KnownEventType(eventType string) bool {
	_, ok := compiled[eventType]
	return ok
}

// ValidateEventPayload validates a raw JSON payload for the given event
// type. An unknown event type is a validation error.
func ValidateEventPayload(eventType string, payload []byte) error {
	schema, ok := compiled[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validate %s payload: %w", eventType, err)
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return fmt.Errorf("invalid %s payload: %s: %s", eventType, first.Field(), first.Description())
	}
	return nil
}
