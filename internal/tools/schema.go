package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a parameters struct into an inline JSON Schema object
// suitable for the function-calling "parameters" field. Field tags drive
// names and descriptions (`json:"path" jsonschema:"description=File path"`).
func SchemaFor(v any) json.RawMessage {
	fallback := json.RawMessage(`{"type":"object","properties":{}}`)

	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: false,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fallback
	}
	delete(m, "$schema")
	delete(m, "$id")
	if m["type"] != "object" {
		m["type"] = "object"
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return fallback
	}
	return out
}

// stringParam reads a string argument.
func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}
