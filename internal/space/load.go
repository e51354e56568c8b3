package space

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema is checked against every incoming search-space document
// before decoding, so shape errors surface with schema paths instead of
// zero-valued structs.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "dimensions"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "dimensions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type", "default"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"enum": ["categorical", "integer", "real"]},
          "values": {"type": "array", "items": {"type": "string"}},
          "bounds": {"type": "array", "items": {"type": "number"}, "minItems": 2, "maxItems": 2},
          "condition": {
            "type": "object",
            "required": ["field", "value"],
            "properties": {"field": {"type": "string", "minLength": 1}}
          }
        }
      }
    },
    "constraints": {"type": "array", "items": {"type": "object"}}
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("space.json", strings.NewReader(documentSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile("space.json")
}

// ParseJSON validates and decodes a JSON search-space document.
func ParseJSON(data []byte) (*Space, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	var s Space
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ParseYAML validates and decodes a YAML search-space document.
func ParseYAML(data []byte) (*Space, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	var s Space
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpace, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a search-space file, picking the format by extension.
func Load(path string) (*Space, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(b)
	case ".json":
		return ParseJSON(b)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalidSpace, filepath.Ext(path))
	}
}
