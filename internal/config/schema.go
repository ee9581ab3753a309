package config

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// projectsSchema matches the registryData shape and guards writes:
// a registry document that no longer matches the expected shape is
// rejected before it is persisted, rather than silently corrupting
// projects.json for every other caller.
const projectsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "projects"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "defaultProject": {"type": "string"},
    "projects": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["localPath"],
        "properties": {
          "localPath": {"type": "string", "minLength": 1},
          "registeredAt": {"type": "string"},
          "lastUsed": {"type": "string"}
        }
      }
    }
  }
}`

var projectsSchema = mustCompileProjectsSchema()

func mustCompileProjectsSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("projects.schema.json", bytes.NewReader([]byte(projectsSchemaJSON))); err != nil {
		panic(fmt.Sprintf("config: invalid embedded projects schema: %v", err))
	}
	return compiler.MustCompile("projects.schema.json")
}

// validateRegistryJSON checks a decoded projects.json document (the generic
// value json.Unmarshal produces) against the embedded schema.
func validateRegistryJSON(raw interface{}) error {
	if err := projectsSchema.Validate(raw); err != nil {
		return fmt.Errorf("projects.json failed schema validation: %w", err)
	}
	return nil
}
