package dsl

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FlowSchema is the JSON Schema every flow file must satisfy.
const FlowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "flowhook flow",
  "type": "object",
  "required": ["name", "steps"],
  "additionalProperties": false,
  "properties": {
    "id": {"type": "string", "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"},
    "name": {"type": "string", "minLength": 1},
    "user_id": {"type": "string"},
    "active": {"type": "boolean"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {"$ref": "#/definitions/step"}
    }
  },
  "definitions": {
    "step": {
      "type": "object",
      "required": ["id", "type", "app", "key"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "pattern": "^[A-Za-z0-9_-]+$"},
        "position": {"type": "integer", "minimum": 1},
        "type": {"enum": ["trigger", "action"]},
        "app": {"type": "string", "minLength": 1},
        "key": {"type": "string", "minLength": 1},
        "connection": {"type": "string", "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"},
        "parameters": {"type": "object"}
      }
    }
  }
}`

var flowSchema = jsonschema.MustCompileString("flowhook.schema.json", FlowSchema)

// ValidateDocument checks a decoded YAML document against FlowSchema.
func ValidateDocument(doc any) error {
	v, err := toJSONValue(doc)
	if err != nil {
		return fmt.Errorf("flow is not representable as JSON: %w", err)
	}
	if err := flowSchema.Validate(v); err != nil {
		return fmt.Errorf("invalid flow: %w", err)
	}
	return nil
}
