// Package types holds the wire shapes shared by the tool registry, the HTTP
// gateway and the agent bridge.
package types

// Tool describes one callable tool.
type Tool struct {
	Type        string      `json:"type"` // always "function" for shop tools
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema *JSONSchema `json:"input_schema,omitempty"`
}

const ToolTypeFunction = "function"

// JSONSchema represents a JSON Schema for tool inputs.
type JSONSchema struct {
	Type                 string                `json:"type"`
	Properties           map[string]JSONSchema `json:"properties,omitempty"`
	Required             []string              `json:"required,omitempty"`
	Description          string                `json:"description,omitempty"`
	Enum                 []string              `json:"enum,omitempty"`
	Items                *JSONSchema           `json:"items,omitempty"`
	Minimum              *float64              `json:"minimum,omitempty"`
	AdditionalProperties *bool                 `json:"additionalProperties,omitempty"`
}

// NewFunctionTool creates a new function tool.
func NewFunctionTool(name, description string, schema *JSONSchema) Tool {
	return Tool{
		Type:        ToolTypeFunction,
		Name:        name,
		Description: description,
		InputSchema: schema,
	}
}

// ObjectSchema builds a closed object schema.
func ObjectSchema(props map[string]JSONSchema, required ...string) *JSONSchema {
	closed := false
	return &JSONSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: &closed,
	}
}

func StringProp(description string) JSONSchema {
	return JSONSchema{Type: "string", Description: description}
}

func IntegerProp(description string, minimum float64) JSONSchema {
	return JSONSchema{Type: "integer", Description: description, Minimum: &minimum}
}

func NumberProp(description string, minimum float64) JSONSchema {
	return JSONSchema{Type: "number", Description: description, Minimum: &minimum}
}

func StringArrayProp(description string) JSONSchema {
	return JSONSchema{Type: "array", Description: description, Items: &JSONSchema{Type: "string"}}
}
