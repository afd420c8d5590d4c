package tools

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// buildSchema resolves a literal JSON Schema object so handler input can be
// validated before a tool's Handler ever runs.
func buildSchema(schema *jsonschema.Schema) *jsonschema.Resolved {
	resolved, err := schema.Resolve(nil)
	if err != nil {
		// Schemas are authored in this file, not by callers; a resolve
		// failure here is a programming error in a tool definition.
		panic(fmt.Sprintf("tools: invalid input schema: %v", err))
	}
	return resolved
}

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func intProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

func numberProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: description}
}

// intOrStringProp leaves the JSON Schema "type" keyword unset so either an
// integer or a numeric string validates; the handler coerces the value.
func intOrStringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Description: description}
}

// anyProp accepts any JSON value: object, array, string, number, bool, null.
func anyProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Description: description}
}

func boolProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description}
}

func arrayProp(description string, items *jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "array", Description: description, Items: items}
}

func objectProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Description: description}
}

func enumProp(description string, values ...string) *jsonschema.Schema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &jsonschema.Schema{Type: "string", Description: description, Enum: enum}
}

func object(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}
