// Package schema validates retained topic metadata documents against
// the JSON Schema for the recognized metadata keys (spec.md §6:
// "Metadata documents are JSON objects with the recognized keys
// {dtype, brief, detail, default, options, range, format, flags}").
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// metadataSchemaJSON mirrors the dtype enumeration and recognized
// metadata keys named in spec.md §6.
const metadataSchemaJSON = `
{
  "type": "object",
  "properties": {
    "dtype": {
      "description": "Value kind this topic's payload carries.",
      "type": "string",
      "enum": ["str", "json", "bin", "f32", "f64", "u8", "u16", "u32", "u64", "i8", "i16", "i32", "i64"]
    },
    "brief": {
      "description": "One-line human summary of the topic.",
      "type": "string"
    },
    "detail": {
      "description": "Extended human description of the topic.",
      "type": "string"
    },
    "default": {
      "description": "Default value applied before any publish."
    },
    "options": {
      "description": "Enumerated legal values, each [value, label] or [value].",
      "type": "array"
    },
    "range": {
      "description": "Inclusive [min, max] bound for numeric dtypes.",
      "type": "array",
      "minItems": 2,
      "maxItems": 2
    },
    "format": {
      "description": "Presentation hint, e.g. a printf-style format string.",
      "type": "string"
    },
    "flags": {
      "description": "Topic behavior flags, e.g. [\"ro\", \"hidden\"].",
      "type": "array",
      "items": {
        "type": "string"
      }
    }
  },
  "required": ["dtype"],
  "additionalProperties": false
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = jsonschema.CompileString("metadata.json", metadataSchemaJSON)
	})
	return compiled, compileErr
}

// ValidateMetadata parses doc as JSON and checks it against the
// recognized metadata key schema, returning the parsed document on
// success.
func ValidateMetadata(doc []byte) (map[string]any, error) {
	sch, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("schema: compile metadata schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("schema: invalid json: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("schema: metadata validation failed: %w", err)
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("schema: metadata document must be a JSON object")
	}
	return m, nil
}

// Dtype extracts the required dtype field from an already-validated
// metadata map.
func Dtype(meta map[string]any) string {
	s, _ := meta["dtype"].(string)
	return s
}
