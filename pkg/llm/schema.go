package llm

import (
	"github.com/tmc/langchaingo/llms/openai"
)

// Schema binds a response JSON schema to the Go type it decodes into.
// The schema definition travels to schema-directive vendors as a
// structured-output response format and is never pasted into the prompt
// for them; non-supporting vendors get a rendered copy appended to the
// system message plus post-parse validation. Sizing caps declared in the
// definition (maxItems, uniqueItems) are hints for the decoder — the
// post-parse normalization enforces the real limits.
type Schema struct {
	Name       string
	Definition *openai.ResponseFormatJSONSchemaProperty

	// NewTarget returns a fresh value to decode into. Retries must not
	// decode over a half-filled target.
	NewTarget func() any
}

func (s *Schema) responseFormat() *openai.ResponseFormat {
	return &openai.ResponseFormat{
		Type: "json_schema",
		JSONSchema: &openai.ResponseFormatJSONSchema{
			Name:   s.Name,
			Strict: false,
			Schema: s.Definition,
		},
	}
}

// Property helpers keep schema literals readable at the call sites.

func Obj(required []string, props map[string]*openai.ResponseFormatJSONSchemaProperty) *openai.ResponseFormatJSONSchemaProperty {
	return &openai.ResponseFormatJSONSchemaProperty{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: false,
	}
}

func Str(desc string) *openai.ResponseFormatJSONSchemaProperty {
	return &openai.ResponseFormatJSONSchemaProperty{Type: "string", Description: desc}
}

func Num(desc string) *openai.ResponseFormatJSONSchemaProperty {
	return &openai.ResponseFormatJSONSchemaProperty{Type: "number", Description: desc}
}

func Enum(desc string, values ...any) *openai.ResponseFormatJSONSchemaProperty {
	return &openai.ResponseFormatJSONSchemaProperty{Type: "string", Description: desc, Enum: values}
}

func Arr(desc string, items *openai.ResponseFormatJSONSchemaProperty) *openai.ResponseFormatJSONSchemaProperty {
	return &openai.ResponseFormatJSONSchemaProperty{Type: "array", Description: desc, Items: items}
}
