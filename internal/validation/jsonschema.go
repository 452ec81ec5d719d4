package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

const definitionSchemaURL = "https://promptfolio.dev/schemas/workflow.json"

// definitionSchemaJSON is the JSON Schema of a workflow definition document.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://promptfolio.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "steps": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/step" }
    },
    "triggers": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/trigger" }
    },
    "active": { "type": "boolean" },
    "created_at": { "type": "string", "format": "date-time" },
    "last_run_at": { "type": ["string", "null"], "format": "date-time" },
    "run_count": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["ai_generate", "social_post", "document_create", "email_send", "delay", "condition"]
        },
        "name": { "type": "string" },
        "config": { "type": "object" },
        "successors": {
          "type": ["array", "null"],
          "items": { "type": "string", "minLength": 1 },
          "uniqueItems": true
        },
        "when": { "type": "string" }
      },
      "additionalProperties": false,
      "allOf": [
        { "if": { "properties": { "kind": { "const": "ai_generate" } } },
          "then": { "required": ["config"], "properties": { "config": { "$ref": "#/$defs/aiGenerate" } } } },
        { "if": { "properties": { "kind": { "const": "social_post" } } },
          "then": { "required": ["config"], "properties": { "config": { "$ref": "#/$defs/socialPost" } } } },
        { "if": { "properties": { "kind": { "const": "document_create" } } },
          "then": { "required": ["config"], "properties": { "config": { "$ref": "#/$defs/documentCreate" } } } },
        { "if": { "properties": { "kind": { "const": "email_send" } } },
          "then": { "required": ["config"], "properties": { "config": { "$ref": "#/$defs/emailSend" } } } },
        { "if": { "properties": { "kind": { "const": "delay" } } },
          "then": { "required": ["config"], "properties": { "config": { "$ref": "#/$defs/delay" } } } },
        { "if": { "properties": { "kind": { "const": "condition" } } },
          "then": { "required": ["config"], "properties": { "config": { "$ref": "#/$defs/condition" } } } }
      ]
    },
    "aiGenerate": {
      "type": "object",
      "required": ["prompt"],
      "properties": {
        "prompt": { "type": "string", "minLength": 1 },
        "model": { "type": "string" },
        "variables": { "type": "object", "additionalProperties": { "type": "string", "minLength": 1 } }
      },
      "additionalProperties": false
    },
    "socialPost": {
      "type": "object",
      "required": ["content"],
      "properties": {
        "content": { "type": "string", "minLength": 1 },
        "mediaRef": { "type": "string" }
      },
      "additionalProperties": false
    },
    "documentCreate": {
      "type": "object",
      "required": ["containerRef", "title"],
      "properties": {
        "containerRef": { "type": "string", "minLength": 1 },
        "pageKind": { "type": "string" },
        "title": { "type": "string", "minLength": 1 },
        "content": { "type": "string" }
      },
      "additionalProperties": false
    },
    "emailSend": {
      "type": "object",
      "required": ["to", "templateId"],
      "properties": {
        "to": { "type": "string", "minLength": 1 },
        "subject": { "type": "string" },
        "templateId": { "type": "string", "minLength": 1 },
        "variables": { "type": "object" }
      },
      "additionalProperties": false
    },
    "delay": {
      "type": "object",
      "required": ["durationMillis"],
      "properties": {
        "durationMillis": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["variable", "operator"],
      "properties": {
        "variable": { "type": "string", "minLength": 1 },
        "operator": { "type": "string", "enum": ["equals", "contains", "greaterThan", "exists"] },
        "value": {}
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": { "type": "string", "enum": ["manual", "schedule", "webhook", "event"] },
        "config": {}
      },
      "additionalProperties": false,
      "if": { "properties": { "kind": { "const": "schedule" } } },
      "then": {
        "required": ["config"],
        "properties": {
          "config": {
            "type": "object",
            "required": ["cron"],
            "properties": {
              "cron": { "type": "string", "minLength": 1 },
              "timezone": { "type": "string" }
            }
          }
        }
      }
    }
  }
}`

// SchemaValidator checks definition documents against the workflow JSON
// Schema (draft 2020-12). It is safe for concurrent use.
type SchemaValidator struct {
	definitionSchema *jsonschema.Schema
}

// NewSchemaValidator compiles the workflow schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(definitionSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(definitionSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &SchemaValidator{definitionSchema: compiled}, nil
}

// ValidateDefinition validates a decoded definition.
func (v *SchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	b, err := json.Marshal(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}
	return v.ValidateDocument(b)
}

// ValidateDocument validates a raw JSON definition document. Unlike
// decoding into WorkflowDefinition, it reports unknown fields and wrong
// types instead of dropping them.
func (v *SchemaValidator) ValidateDocument(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "definition is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := v.definitionSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toFlowError converts a jsonschema validation error into a FlowError that
// lists every leaf violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
