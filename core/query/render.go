package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Args collects the positional parameters of a statement
type Args struct {
	Values []any
}

// Add adds a parameter and returns its placeholder
func (a *Args) Add(v any) string {
	a.Values = append(a.Values, v)
	return "$" + strconv.Itoa(len(a.Values))
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Where renders n as a Postgres condition over the resource table. Resource data is
// expected in the jsonb column "data". A nil node renders as TRUE.
func Where(n Node, args *Args) string {
	switch n := n.(type) {
	case nil:
		return "TRUE"
	case False:
		return "FALSE"
	case And:
		return join(n, " AND ", args)
	case Or:
		return join(n, " OR ", args)
	case Not:
		return "NOT (" + Where(n.Node, args) + ")"
	case AuthorIs:
		return "author_id = " + args.Add(n.ID)
	case AuthorIn:
		if len(n.IDs) == 0 {
			return "FALSE"
		}
		ids := make([]string, len(n.IDs))
		for i, id := range n.IDs {
			ids[i] = id.String()
		}
		return "author_id = ANY(" + args.Add(pq.Array(ids)) + "::uuid[])"
	case IDIn:
		if len(n.IDs) == 0 {
			return "FALSE"
		}
		return "id = ANY(" + args.Add(pq.Array(n.IDs)) + "::bigint[])"
	case Match:
		return matchCondition(n, args)
	case Compare:
		if n.Field.Column != "" {
			return columnCondition(n, args)
		}
		return dataCondition(n, args)
	}
	panic(fmt.Sprintf("unknown node %T", n))
}

func join(nodes []Node, sep string, args *Args) string {
	parts := make([]string, len(nodes))
	for i, node := range nodes {
		parts[i] = Where(node, args)
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func pathExpr(path []string, args *Args, asText bool) string {
	op := "#>"
	if asText {
		op = "#>>"
	}
	return "(data " + op + " " + args.Add(pq.Array(path)) + "::text[])"
}

func dataCondition(c Compare, args *Args) string {
	sqlOp := sqlOps[c.Op]
	switch v := c.Value.(type) {
	case nil:
		value := pathExpr(c.Field.Path, args, false)
		isNull := "(" + value + " IS NULL OR " + value + " = 'null'::jsonb)"
		if c.Op == OpNe {
			return "NOT " + isNull
		}
		return isNull
	case string:
		return pathExpr(c.Field.Path, args, true) + " " + sqlOp + " " + args.Add(v)
	case time.Time:
		return pathExpr(c.Field.Path, args, true) + " " + sqlOp + " " + args.Add(v.UTC().Format(time.RFC3339Nano))
	default:
		// numbers and booleans are compared as jsonb, which orders numbers numerically
		literal, _ := json.Marshal(v)
		return pathExpr(c.Field.Path, args, false) + " " + sqlOp + " " + args.Add(string(literal)) + "::jsonb"
	}
}

func columnCondition(c Compare, args *Args) string {
	column := c.Field.Column
	if c.Value == nil {
		if c.Op == OpNe {
			return column + " IS NOT NULL"
		}
		return column + " IS NULL"
	}
	sqlOp := sqlOps[c.Op]
	switch column {
	case ColumnID:
		return column + " " + sqlOp + " " + args.Add(int64(c.Value.(float64)))
	case ColumnAuthorID, ColumnEditorID:
		return column + " " + sqlOp + " " + args.Add(c.Value.(string)) + "::uuid"
	default:
		t, _ := timeLiteral(c.Value)
		return column + " " + sqlOp + " " + args.Add(t)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func matchCondition(m Match, args *Args) string {
	pattern := likeEscaper.Replace(m.Value)
	switch m.Func {
	case FuncContains:
		pattern = "%" + pattern + "%"
	case FuncStartsWith:
		pattern = pattern + "%"
	case FuncEndsWith:
		pattern = "%" + pattern
	}
	return pathExpr(m.Field.Path, args, true) + " ILIKE " + args.Add(pattern)
}

// OrderBy renders orders as ORDER BY clause without the keywords. The id is always used
// as final tie breaker, so the order is stable.
func OrderBy(orders []Order, args *Args) string {
	var parts []string
	hasID := false
	for _, o := range orders {
		direction := " ASC"
		if o.Desc {
			direction = " DESC"
		}
		if o.Field.Column != "" {
			hasID = hasID || o.Field.Column == ColumnID
			parts = append(parts, o.Field.Column+direction)
			continue
		}
		parts = append(parts, pathExpr(o.Field.Path, args, false)+direction)
	}
	if !hasID {
		parts = append(parts, "id ASC")
	}
	return strings.Join(parts, ", ")
}

// Select projects a rendered resource on the selected properties. Properties which do
// not exist are skipped. An empty selection returns the resource unchanged.
func Select(resource map[string]any, selection []string) map[string]any {
	if len(selection) == 0 {
		return resource
	}
	projected := make(map[string]any, len(selection))
	for _, name := range selection {
		if v, ok := resource[name]; ok {
			projected[name] = v
		}
	}
	return projected
}
