package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/tenantkit/core/apierror"
)

// ValidationError describes a single violation. The shape mirrors the error objects of
// common JSON schema validators, so clients can map errors back to form fields.
type ValidationError struct {
	Path     []any  `json:"path"`
	Property string `json:"property"`
	Message  string `json:"message"`
	Name     string `json:"name"`
	Argument any    `json:"argument,omitempty"`
	Instance any    `json:"instance,omitempty"`
	Schema   any    `json:"schema,omitempty"`
	Stack    string `json:"stack"`
}

// NewValidationError returns a validation error for the value at path
func NewValidationError(path []any, name, message string, instance, argument any) ValidationError {
	property := PropertyPath(path)
	return ValidationError{
		Path:     path,
		Property: property,
		Message:  message,
		Name:     name,
		Argument: argument,
		Instance: instance,
		Stack:    property + " " + message,
	}
}

// PropertyPath renders path the way validators do, for example instance.foo[0].bar
func PropertyPath(path []any) string {
	var b strings.Builder
	b.WriteString("instance")
	for _, segment := range path {
		switch s := segment.(type) {
		case int:
			b.WriteString("[" + strconv.Itoa(s) + "]")
		default:
			b.WriteString(fmt.Sprintf(".%v", s))
		}
	}
	return b.String()
}

// ValidationFailed returns the error reported for invalid payloads
func ValidationFailed(resourceType string, errs []ValidationError) *apierror.Error {
	return apierror.BadRequest("Validation failed for resource type %s", resourceType).
		WithData(map[string]any{"errors": errs})
}

// binaryChecker accepts any string. Binary values are either upload indices or asset ids,
// which the asset binder checks.
type binaryChecker struct{}

func (binaryChecker) IsFormat(input any) bool {
	_, ok := input.(string)
	return ok
}

func init() {
	gojsonschema.FormatCheckers.Add("binary", binaryChecker{})
}

var errorNames = map[string]string{
	"required":                        "required",
	"invalid_type":                    "type",
	"format":                          "format",
	"enum":                            "enum",
	"const":                           "const",
	"pattern":                         "pattern",
	"additional_property_not_allowed": "additionalProperties",
	"number_any_of":                   "anyOf",
	"number_one_of":                   "oneOf",
	"number_all_of":                   "allOf",
	"number_not":                      "not",
	"string_gte":                      "minLength",
	"string_lte":                      "maxLength",
	"number_gte":                      "minimum",
	"number_gt":                       "exclusiveMinimum",
	"number_lte":                      "maximum",
	"number_lt":                       "exclusiveMaximum",
	"multiple_of":                     "multipleOf",
	"array_min_items":                 "minItems",
	"array_max_items":                 "maxItems",
	"unique":                          "uniqueItems",
}

// Validate validates resources against the effective schema and returns every violation.
// When array is true the resources were submitted as array and paths start with the index.
func (e *Effective) Validate(resources []map[string]any, array bool) ([]ValidationError, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(e.Schema))
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema of %s: %w", e.Type, err)
	}
	var errs []ValidationError
	for i, resource := range resources {
		result, err := compiled.Validate(gojsonschema.NewGoLoader(resource))
		if err != nil {
			return nil, fmt.Errorf("cannot validate %s: %w", e.Type, err)
		}
		var prefix []any
		if array {
			prefix = []any{i}
		}
		var resourceErrs []ValidationError
		for _, re := range result.Errors() {
			resourceErrs = append(resourceErrs, e.convert(prefix, re))
		}
		sort.SliceStable(resourceErrs, func(a, b int) bool {
			return resourceErrs[a].Property < resourceErrs[b].Property
		})
		errs = append(errs, resourceErrs...)
	}
	return errs, nil
}

func (e *Effective) convert(prefix []any, re gojsonschema.ResultError) ValidationError {
	path := append([]any{}, prefix...)
	path = append(path, fieldPath(re.Field())...)
	details := re.Details()

	name, ok := errorNames[re.Type()]
	if !ok {
		name = re.Type()
	}
	message := re.Description()
	var argument any
	switch name {
	case "required":
		argument = details["property"]
		message = fmt.Sprintf("requires property %q", argument)
	case "type":
		argument = []any{details["expected"]}
		message = fmt.Sprintf("is not of a type(s) %v", details["expected"])
	case "format":
		argument = details["format"]
		message = fmt.Sprintf("does not conform to the %q format", argument)
	case "additionalProperties":
		argument = details["property"]
		message = fmt.Sprintf("is not allowed to have the additional property %q", argument)
	case "enum":
		argument = details["allowed"]
	case "pattern":
		argument = details["pattern"]
	}

	ve := NewValidationError(path, name, message, re.Value(), argument)
	if s := e.subSchema(path[len(prefix):]); s != nil {
		ve.Schema = s
	}
	return ve
}

// fieldPath converts a gojsonschema field like "foo.0.bar" into path segments
func fieldPath(field string) []any {
	field = strings.TrimPrefix(field, "(root)")
	field = strings.TrimPrefix(field, ".")
	if field == "" {
		return []any{}
	}
	var path []any
	for _, segment := range strings.Split(field, ".") {
		if n, err := strconv.Atoi(segment); err == nil {
			path = append(path, n)
		} else {
			path = append(path, segment)
		}
	}
	return path
}

// Meta holds the built-in properties a client may set on a resource
type Meta struct {
	ID       int64
	HasID    bool
	Expires  *time.Time
	Clonable *bool
	// ExpiresSet is true if the payload contained $expires, including null
	ExpiresSet bool
}

// Split separates the user data of a resource from its built-in properties. All keys
// starting with $ and the id are removed from data. $expires is resolved relative to now
// and must lie in the future.
func Split(resource map[string]any, path []any, now time.Time) (data map[string]any, meta Meta, errs []ValidationError) {
	data = make(map[string]any, len(resource))
	for key, value := range resource {
		switch {
		case key == PropertyID:
			switch id := value.(type) {
			case float64:
				meta.ID, meta.HasID = int64(id), true
			case int64:
				meta.ID, meta.HasID = id, true
			case int:
				meta.ID, meta.HasID = int64(id), true
			}
		case key == PropertyExpires:
			meta.ExpiresSet = true
			s, ok := value.(string)
			if !ok {
				continue
			}
			expires, err := ResolveExpires(s, now)
			p := append(append([]any{}, path...), PropertyExpires)
			if err != nil {
				errs = append(errs, NewValidationError(p, "format", "does not conform to the \"date-time\" format", value, "date-time"))
				continue
			}
			if !expires.After(now) {
				errs = append(errs, NewValidationError(p, "format", "has already passed", value, "date-time"))
				continue
			}
			meta.Expires = &expires
		case key == PropertyClonable:
			if b, ok := value.(bool); ok {
				meta.Clonable = &b
			}
		case strings.HasPrefix(key, "$"):
		default:
			data[key] = value
		}
	}
	return data, meta, errs
}
