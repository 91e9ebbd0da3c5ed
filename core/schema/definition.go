// Package schema resolves resource definitions of an app definition into effective JSON
// schemas and role requirements, and validates resource payloads against them.
//
// App definitions are plain documents supplied per request. Nothing in this package is
// cached across requests.
package schema

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/tenantkit/core"
)

// AppDefinition is the declarative definition of an app, reduced to the parts the resource
// engine needs. Unknown parts like pages are preserved by the owner of the definition.
type AppDefinition struct {
	Name      string                         `json:"name,omitempty"`
	Resources map[string]*ResourceDefinition `json:"resources,omitempty"`
	Security  *Security                      `json:"security,omitempty"`
}

// Security describes the app's role model
type Security struct {
	Default SecurityDefault           `json:"default"`
	Roles   map[string]RoleDefinition `json:"roles"`
}

// SecurityDefault is the role given to new members and the policy for who may join
type SecurityDefault struct {
	Role   string `json:"role"`
	Policy string `json:"policy,omitempty"`
}

// RoleDefinition is an app role. A role inheriting another role satisfies every
// requirement of the inherited role.
type RoleDefinition struct {
	Description string   `json:"description,omitempty"`
	Inherits    []string `json:"inherits,omitempty"`
}

// RoleList is a list of roles. A nil list means the roles are not set and are inherited
// from the next less specific level, while an empty list denies everybody.
type RoleList []string

// ResourceDefinition is the definition of a single resource type
type ResourceDefinition struct {
	Schema     map[string]any                 `json:"schema"`
	Roles      RoleList                       `json:"roles"`
	Create     *ActionDefinition              `json:"create,omitempty"`
	Query      *ActionDefinition              `json:"query,omitempty"`
	Get        *ActionDefinition              `json:"get,omitempty"`
	Update     *ActionDefinition              `json:"update,omitempty"`
	Delete     *ActionDefinition              `json:"delete,omitempty"`
	Count      *ActionDefinition              `json:"count,omitempty"`
	References map[string]ReferenceDefinition `json:"references,omitempty"`
	History    *History                       `json:"history,omitempty"`
	Expires    string                         `json:"expires,omitempty"`
	Views      map[string]ViewDefinition      `json:"views,omitempty"`
}

// ActionDefinition overrides the roles of a single action and configures its hooks
type ActionDefinition struct {
	Roles RoleList `json:"roles"`
	Hooks *Hooks   `json:"hooks,omitempty"`
}

// Hooks are triggered after an action was committed
type Hooks struct {
	Notification *NotificationHook `json:"notification,omitempty"`
}

// NotificationHook selects who gets notified about an action. To contains "$author" or
// names of app roles. Subscribe is one of all, create, update or delete and makes the
// action subscribable by members.
type NotificationHook struct {
	To        []string `json:"to,omitempty"`
	Subscribe string   `json:"subscribe,omitempty"`
}

// ReferenceDefinition declares that a property holds the id of another resource
type ReferenceDefinition struct {
	Resource string            `json:"resource"`
	Delete   *ReferenceTrigger `json:"delete,omitempty"`
}

// ReferenceTrigger configures what happens to the referencing resource when the
// referenced resource is deleted
type ReferenceTrigger struct {
	Triggers []Trigger `json:"triggers,omitempty"`
}

// Trigger is a single reference trigger. Type must be "delete" to take effect,
// Cascade is "update" or "delete".
type Trigger struct {
	Type    string `json:"type"`
	Cascade string `json:"cascade,omitempty"`
}

// cascade rules for references
const (
	CascadeNone   = ""
	CascadeUpdate = "update"
	CascadeDelete = "delete"
)

// Cascade returns the cascade rule applied when the referenced resource is deleted.
// CascadeNone blocks the deletion.
func (r ReferenceDefinition) Cascade() string {
	if r.Delete == nil {
		return CascadeNone
	}
	for _, t := range r.Delete.Triggers {
		if t.Type != "delete" {
			continue
		}
		switch t.Cascade {
		case CascadeUpdate, CascadeDelete:
			return t.Cascade
		}
	}
	return CascadeNone
}

// History configures version history. It is written either as boolean or as
// {"data": false} to keep versions without their data.
type History struct {
	Enabled bool
	Data    bool
}

// UnmarshalJSON accepts a boolean or an object
func (h *History) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*h = History{Enabled: b, Data: b}
		return nil
	}
	var object struct {
		Data *bool `json:"data"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("history must be a boolean or an object: %w", err)
	}
	*h = History{Enabled: true, Data: object.Data == nil || *object.Data}
	return nil
}

// MarshalJSON is the counterpart of UnmarshalJSON
func (h History) MarshalJSON() ([]byte, error) {
	if h.Enabled && !h.Data {
		return []byte(`{"data":false}`), nil
	}
	return json.Marshal(h.Enabled)
}

// ViewDefinition is an alternative representation of a resource. Remap maps output keys
// to dotted paths into the resource, for example {"title": "name", "by": "$author.name"}.
type ViewDefinition struct {
	Roles RoleList          `json:"roles"`
	Remap map[string]string `json:"remap"`
}

// HistoryEnabled returns true if updates are snapshotted
func (rd *ResourceDefinition) HistoryEnabled() bool {
	return rd.History != nil && rd.History.Enabled
}

// Action returns the action specific definition or nil
func (rd *ResourceDefinition) Action(action core.Action) *ActionDefinition {
	switch action {
	case core.ActionCreate:
		return rd.Create
	case core.ActionQuery:
		return rd.Query
	case core.ActionGet, core.ActionHistory:
		return rd.Get
	case core.ActionUpdate:
		return rd.Update
	case core.ActionDelete:
		return rd.Delete
	case core.ActionCount:
		return rd.Count
	}
	return nil
}

// Parse parses an app definition from JSON or YAML. JSON is tried first, since every
// JSON document is also a YAML document.
func Parse(data []byte) (*AppDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var def AppDefinition
		if err := json.Unmarshal(trimmed, &def); err != nil {
			return nil, fmt.Errorf("cannot parse app definition: %w", err)
		}
		return &def, nil
	}
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("cannot parse app definition: %w", err)
	}
	// round trip through JSON, so YAML definitions follow the exact same decoding rules
	jsonData, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("cannot convert app definition: %w", err)
	}
	var def AppDefinition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, fmt.Errorf("cannot parse app definition: %w", err)
	}
	return &def, nil
}

// IsYAML returns true if filename has a YAML extension
func IsYAML(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")
}
