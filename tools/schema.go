package tools

import (
	"github.com/becomeliminal/convmem/core"
)

// Schema helpers for building JSON Schema definitions of tool inputs.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property.
func StringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// StringEnumProperty creates a string property with allowed values.
func StringEnumProperty(description string, values ...string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// NumberProperty creates a number property bounded to [min, max].
func NumberProperty(description string, min, max float64) map[string]any {
	return map[string]any{
		"type":        "number",
		"description": description,
		"minimum":     min,
		"maximum":     max,
	}
}

// IntegerProperty creates an integer property.
func IntegerProperty(description string) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description,
	}
}

// CategoryProperty is a string enum over the fact categories.
func CategoryProperty(description string) map[string]any {
	values := make([]string, len(core.Categories))
	for i, c := range core.Categories {
		values[i] = string(c)
	}
	return StringEnumProperty(description, values...)
}

// RoleProperty is a string enum over the message roles.
func RoleProperty(description string) map[string]any {
	values := make([]string, len(core.Roles))
	for i, r := range core.Roles {
		values[i] = string(r)
	}
	return StringEnumProperty(description, values...)
}

// WithThought adds a thought parameter to an existing schema.
// If requireThought is true, "thought" is added to the required array.
func WithThought(schema map[string]any, requireThought bool) map[string]any {
	result := make(map[string]any, len(schema))
	for k, v := range schema {
		result[k] = v
	}

	base, _ := result["properties"].(map[string]any)
	props := make(map[string]any, len(base)+1)
	for k, v := range base {
		props[k] = v
	}
	result["properties"] = props
	props["thought"] = StringProperty(
		"Why you are reading or writing memory now and what you expect to find or keep.",
	)

	if requireThought {
		required, _ := result["required"].([]string)
		result["required"] = append(append([]string{}, required...), "thought")
	}
	return result
}

// BuildSchemaWithThought creates an ObjectSchema and adds thought support in one call.
func BuildSchemaWithThought(properties map[string]any, requireThought bool, required ...string) map[string]any {
	return WithThought(ObjectSchema(properties, required...), requireThought)
}
