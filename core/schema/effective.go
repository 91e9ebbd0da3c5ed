package schema

import (
	"maps"
	"slices"
)

// built-in properties every resource has
const (
	PropertyID        = "id"
	PropertyCreated   = "$created"
	PropertyUpdated   = "$updated"
	PropertyAuthor    = "$author"
	PropertyEditor    = "$editor"
	PropertyExpires   = "$expires"
	PropertyClonable  = "$clonable"
	PropertyEphemeral = "$ephemeral"
	PropertySeed      = "$seed"
)

// DurationPattern is the pattern a relative $expires value must match
const DurationPattern = `^(\d+(y|yr|years))?\s*(\d+months)?\s*(\d+(w|wk|weeks))?\s*(\d+(d|days))?\s*(\d+(h|hr|hours))?\s*(\d+(m|min|minutes))?\s*(\d+(s|sec|seconds))?$`

// Effective is the effective schema of a resource type: the user schema merged with the
// built-in properties. It is built once per request and passed along explicitly.
type Effective struct {
	Type       string
	Definition *ResourceDefinition
	Schema     map[string]any
	// Binary holds the properties with format binary. The value is true for arrays of
	// binary values.
	Binary map[string]bool
}

func builtinProperties() map[string]any {
	dateTime := func() map[string]any {
		return map[string]any{"type": "string", "format": "date-time", "readOnly": true}
	}
	member := func() map[string]any {
		return map[string]any{
			"type":     "object",
			"readOnly": true,
			"properties": map[string]any{
				"id":   map[string]any{"type": "string"},
				"name": map[string]any{"type": "string"},
			},
		}
	}
	return map[string]any{
		PropertyID:      map[string]any{"type": "integer", "readOnly": true},
		PropertyCreated: dateTime(),
		PropertyUpdated: dateTime(),
		PropertyAuthor:  member(),
		PropertyEditor:  member(),
		PropertyExpires: map[string]any{
			"anyOf": []any{
				map[string]any{"type": "string", "format": "date-time"},
				map[string]any{"type": "string", "pattern": DurationPattern},
				map[string]any{"type": "null"},
			},
		},
		PropertyClonable:  map[string]any{"type": "boolean"},
		PropertyEphemeral: map[string]any{"type": "boolean", "readOnly": true},
	}
}

// NewEffective builds the effective schema of resourceType. The definition's schema is
// not modified.
func NewEffective(resourceType string, rd *ResourceDefinition) *Effective {
	merged := maps.Clone(rd.Schema)
	if merged == nil {
		merged = map[string]any{}
	}
	merged["type"] = "object"

	properties := builtinProperties()
	userProperties, _ := rd.Schema["properties"].(map[string]any)
	binary := map[string]bool{}
	for name, property := range userProperties {
		if _, builtin := properties[name]; builtin {
			continue
		}
		properties[name] = property
		if p, ok := property.(map[string]any); ok {
			if isBinary(p) {
				binary[name] = false
			} else if p["type"] == "array" {
				if items, ok := p["items"].(map[string]any); ok && isBinary(items) {
					binary[name] = true
				}
			}
		}
	}
	merged["properties"] = properties
	return &Effective{Type: resourceType, Definition: rd, Schema: merged, Binary: binary}
}

func isBinary(property map[string]any) bool {
	return property["format"] == "binary"
}

// Property returns the schema of a top-level property, or nil
func (e *Effective) Property(name string) map[string]any {
	properties, _ := e.Schema["properties"].(map[string]any)
	p, _ := properties[name].(map[string]any)
	return p
}

// UserProperties returns the sorted names of the user defined properties
func (e *Effective) UserProperties() []string {
	userProperties, _ := e.Definition.Schema["properties"].(map[string]any)
	var names []string
	for name := range userProperties {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// subSchema walks the schema along path and returns the schema at its end, or nil
func (e *Effective) subSchema(path []any) map[string]any {
	current := e.Schema
	for _, segment := range path {
		if current == nil {
			return nil
		}
		switch s := segment.(type) {
		case int:
			items, _ := current["items"].(map[string]any)
			current = items
		case string:
			properties, _ := current["properties"].(map[string]any)
			next, _ := properties[s].(map[string]any)
			current = next
		}
	}
	return current
}
