package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Action represents an operation on app resources, one of create, query, get, update, delete, count
// or history
type Action string

// all supported resource actions
const (
	ActionCreate  Action = "create"
	ActionQuery   Action = "query"
	ActionGet     Action = "get"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionCount   Action = "count"
	ActionHistory Action = "history"
)

// Actions lists all resource actions in the order they appear in a resource definition
var Actions = []Action{ActionCreate, ActionQuery, ActionGet, ActionUpdate, ActionDelete, ActionCount, ActionHistory}

// UnmarshalJSON is a custom JSON unmarshaller
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	action, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = action
	return nil
}

// ParseAction returns the action for s. Matching is case insensitive.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(s))
	for _, known := range Actions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("%s is not valid Action", s)
}

// Writes returns true if the action modifies resources
func (a Action) Writes() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}
