package streams

import "fmt"

// PayloadVersion is the version of the research event payloads.
const PayloadVersion = "v1"

// EventTypePrefix namespaces pipeline events on the stream.
const EventTypePrefix = "research."

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: "research.phase_start",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "phase", "timestamp"],
  "properties": {
    "type": {"const": "phase_start"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "phase": {"enum": ["orchestrator", "researcher", "critic", "synthesizer"]},
    "description": {"type": "string"},
    "iteration": {"type": "integer", "minimum": 0},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "research.phase_complete",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "phase", "timestamp"],
  "properties": {
    "type": {"const": "phase_complete"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "phase": {"enum": ["orchestrator", "researcher", "critic", "synthesizer"]},
    "plan": {"type": "string"},
    "tools": {"type": "array", "items": {"type": "string"}},
    "findings_count": {"type": "integer", "minimum": 0},
    "draft_length": {"type": "integer", "minimum": 0},
    "quality_score": {"type": "number", "minimum": 0, "maximum": 1},
    "issue_count": {"type": "integer", "minimum": 0},
    "fixes_required": {"type": "integer", "minimum": 0},
    "answer_length": {"type": "integer", "minimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "degraded": {"type": "boolean"},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "research.phase_skip",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "phase", "reason", "timestamp"],
  "properties": {
    "type": {"const": "phase_skip"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "phase": {"enum": ["orchestrator", "researcher", "critic", "synthesizer"]},
    "reason": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "research.tool_start",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "tool", "timestamp"],
  "properties": {
    "type": {"const": "tool_start"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "phase": {"const": "researcher"},
    "tool": {"type": "string", "minLength": 1},
    "input": {"type": "string"},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "research.tool_end",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "tool", "timestamp"],
  "properties": {
    "type": {"const": "tool_end"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "phase": {"const": "researcher"},
    "tool": {"type": "string", "minLength": 1},
    "output": {"type": "string"},
    "failed": {"type": "boolean"},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "research.token",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "phase", "content", "timestamp"],
  "properties": {
    "type": {"const": "token"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "phase": {"enum": ["orchestrator", "researcher", "critic", "synthesizer"]},
    "content": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "research.pipeline_complete",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "final_answer", "confidence", "timestamp"],
  "properties": {
    "type": {"const": "pipeline_complete"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "final_answer": {"type": "string", "minLength": 1},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "unanswerable": {"type": "boolean"},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["marker", "title", "url"],
        "properties": {
          "marker": {"type": "string", "pattern": "^#[1-9][0-9]*$"},
          "title": {"type": "string"},
          "url": {"type": "string"},
          "date": {"type": "string"},
          "tool": {"type": "string"}
        }
      }
    },
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: "research.error",
		Version:   PayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "seq", "error", "timestamp"],
  "properties": {
    "type": {"const": "error"},
    "run_id": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 1},
    "phase": {"type": "string"},
    "error": {
      "type": "object",
      "required": ["kind", "message"],
      "properties": {
        "kind": {"enum": ["PlanningError", "ResearchError", "SynthesisError", "CancellationError"]},
        "message": {"type": "string"}
      }
    },
    "timestamp": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the research event schemas into reg.
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

// NewResearchRegistry returns a registry holding every research event schema.
func NewResearchRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
