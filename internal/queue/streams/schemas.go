package streams

import "fmt"

// Definition is one built-in payload schema.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventSessionCompleted,
		Version:   VersionV1,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["session_id", "question", "answer", "usage", "steps", "forced", "finished_at"],
  "properties": {
    "session_id": {"type": "string", "minLength": 1},
    "question": {"type": "string"},
    "answer": {"type": "string", "minLength": 1},
    "references": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["url"],
        "properties": {
          "url": {"type": "string", "minLength": 1},
          "exactQuote": {"type": "string"},
          "dateTime": {"type": "string"},
          "title": {"type": "string"}
        }
      }
    },
    "usage": {
      "type": "object",
      "required": ["prompt_tokens", "completion_tokens", "total_tokens"],
      "properties": {
        "prompt_tokens": {"type": "integer", "minimum": 0},
        "completion_tokens": {"type": "integer", "minimum": 0},
        "total_tokens": {"type": "integer", "minimum": 0}
      }
    },
    "steps": {"type": "integer", "minimum": 0},
    "forced": {"type": "boolean"},
    "force_reason": {"type": "string"},
    "visited_urls": {"type": "array", "items": {"type": "string"}},
    "read_urls": {"type": "array", "items": {"type": "string"}},
    "trace": {"type": "array", "items": {"type": "string"}},
    "duration_ms": {"type": "integer", "minimum": 0},
    "finished_at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns a copy of the built-in definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the built-in schemas into reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
