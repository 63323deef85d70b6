package mcp

import (
	"encoding/json"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

var schemaTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
}

// inputSchema decodes the untyped input schema of an MCP tool and converts
// it to the declaration schema the tool registry renders into prompts.
func inputSchema(raw any) (*genai.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to decode input schema")
	}
	return toGenai(&schema)
}

// toGenai keeps type, description, enum, properties, required and items.
// Everything else in the JSON Schema is dropped. A union such as
// ["string","null"] keeps its first non-null type.
func toGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	typ := schema.Type
	if typ == "" {
		if i := slices.IndexFunc(schema.Types, func(t string) bool { return t != "null" }); i >= 0 {
			typ = schema.Types[i]
		}
	}

	out := &genai.Schema{
		Description: schema.Description,
		Required:    schema.Required,
	}
	if typ != "" {
		t, ok := schemaTypes[typ]
		if !ok {
			return nil, goerr.New("unsupported schema type", goerr.V("type", typ))
		}
		out.Type = t
	}

	for _, v := range schema.Enum {
		if s, ok := v.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := toGenai(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property", goerr.V("property", name))
			}
			out.Properties[name] = converted
		}
	}

	if schema.Items != nil {
		items, err := toGenai(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items")
		}
		out.Items = items
	}

	return out, nil
}
