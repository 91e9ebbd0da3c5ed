// Package query translates OData query options into a predicate tree and renders
// predicate trees as Postgres conditions over the resource table.
package query

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// columns of the resource table which can be used in filters and orderings
const (
	ColumnID       = "id"
	ColumnCreated  = "created"
	ColumnUpdated  = "updated"
	ColumnAuthorID = "author_id"
	ColumnEditorID = "editor_id"
	ColumnExpires  = "expires"
)

// builtins maps synthetic property paths to columns
var builtins = map[string]string{
	"id":         ColumnID,
	"$created":   ColumnCreated,
	"$updated":   ColumnUpdated,
	"$author/id": ColumnAuthorID,
	"$editor/id": ColumnEditorID,
	"$expires":   ColumnExpires,
}

// Field is either a column of the resource table or a path into the resource data
type Field struct {
	Column string
	Path   []string
}

// ParseField resolves a property path like "foo/bar" or "$author/id"
func ParseField(s string) (Field, bool) {
	if column, ok := builtins[s]; ok {
		return Field{Column: column}, true
	}
	if s == "" || strings.HasPrefix(s, "$") {
		return Field{}, false
	}
	path := strings.Split(s, "/")
	for _, segment := range path {
		if segment == "" {
			return Field{}, false
		}
	}
	return Field{Path: path}, true
}

func (f Field) String() string {
	if f.Column != "" {
		for path, column := range builtins {
			if column == f.Column {
				return path
			}
		}
		return f.Column
	}
	return strings.Join(f.Path, "/")
}

// Op is a comparison operator
type Op string

// supported comparison operators
const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpLt Op = "lt"
	OpLe Op = "le"
)

var sqlOps = map[Op]string{OpEq: "=", OpNe: "<>", OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<="}

// Node is a node of a predicate tree
type Node interface {
	node()
}

// Compare compares a field with a literal. Value is a string, float64, bool, time.Time or nil.
type Compare struct {
	Field Field
	Op    Op
	Value any
}

// Match is a string function like contains(field, 'value')
type Match struct {
	Func  string
	Field Field
	Value string
}

// string functions
const (
	FuncContains   = "contains"
	FuncStartsWith = "startswith"
	FuncEndsWith   = "endswith"
)

// And is satisfied if all nodes are
type And []Node

// Or is satisfied if any node is
type Or []Node

// Not negates Node
type Not struct {
	Node Node
}

// AuthorIs restricts to resources authored by a member
type AuthorIs struct {
	ID uuid.UUID
}

// AuthorIn restricts to resources authored by any of the members. An empty list matches
// nothing.
type AuthorIn struct {
	IDs []uuid.UUID
}

// IDIn matches resources whose id is one of IDs
type IDIn struct {
	IDs []int64
}

// False matches nothing
type False struct{}

func (Compare) node()  {}
func (Match) node()    {}
func (And) node()      {}
func (Or) node()       {}
func (Not) node()      {}
func (AuthorIs) node() {}
func (AuthorIn) node() {}
func (IDIn) node()     {}
func (False) node()    {}

// AndOf combines nodes with and. Nil nodes are skipped, and a single node is
// returned as is.
func AndOf(nodes ...Node) Node {
	var result And
	for _, n := range nodes {
		if n != nil {
			result = append(result, n)
		}
	}
	switch len(result) {
	case 0:
		return nil
	case 1:
		return result[0]
	}
	return result
}

// OrOf combines nodes with or. Nil nodes are skipped, and a single node is
// returned as is.
func OrOf(nodes ...Node) Node {
	var result Or
	for _, n := range nodes {
		if n != nil {
			result = append(result, n)
		}
	}
	switch len(result) {
	case 0:
		return nil
	case 1:
		return result[0]
	}
	return result
}

// Order is a single ordering of $orderby
type Order struct {
	Field Field
	Desc  bool
}

// Plan is the result of translating the query options of a request
type Plan struct {
	Filter  Node
	OrderBy []Order
	Select  []string
	// Top is nil without $top. $top=0 asks for no resources at all.
	Top  *int
	Skip int
	Team string
}

// timeLiteral reports whether v is a date-time literal
func timeLiteral(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
