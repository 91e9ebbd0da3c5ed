package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/relabs-tech/tenantkit/core/apierror"
)

// team filters of the $team option
const (
	TeamMember  = "member"
	TeamManager = "manager"
)

// parseError reports a malformed query option
func parseError(option, clause, reason string) *apierror.Error {
	return apierror.BadRequest("Unable to parse %s", clause).
		WithData(map[string]any{"parameter": option, "reason": reason})
}

// Parse translates the OData query options $filter, $orderby, $select, $top, $skip and $team
func Parse(values url.Values) (*Plan, error) {
	plan := &Plan{}
	var err error

	if s := values.Get("$filter"); strings.TrimSpace(s) != "" {
		plan.Filter, err = ParseFilter(s)
		if err != nil {
			return nil, err
		}
	}
	if s := values.Get("$orderby"); strings.TrimSpace(s) != "" {
		plan.OrderBy, err = ParseOrderBy(s)
		if err != nil {
			return nil, err
		}
	}
	if s := values.Get("$select"); s != "" {
		plan.Select = ParseSelect(s)
	}
	if values.Has("$top") {
		top, err := parseCount(values, "$top")
		if err != nil {
			return nil, err
		}
		plan.Top = &top
	}
	if plan.Skip, err = parseCount(values, "$skip"); err != nil {
		return nil, err
	}
	switch team := values.Get("$team"); team {
	case "", TeamMember, TeamManager:
		plan.Team = team
	default:
		return nil, parseError("$team", team, "must be member or manager")
	}
	return plan, nil
}

func parseCount(values url.Values, option string) (int, error) {
	s := values.Get(option)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, parseError(option, s, "must be a non-negative integer")
	}
	return n, nil
}

// ParseSelect splits a comma separated list of property names
func ParseSelect(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ParseOrderBy parses a comma separated list of "<field> [asc|desc]"
func ParseOrderBy(s string) ([]Order, error) {
	var orders []Order
	for _, clause := range strings.Split(s, ",") {
		parts := strings.Fields(clause)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, parseError("$orderby", clause, "expected <field> [asc|desc]")
		}
		field, ok := ParseField(parts[0])
		if !ok {
			return nil, parseError("$orderby", clause, "unknown field "+parts[0])
		}
		order := Order{Field: field}
		if len(parts) == 2 {
			switch strings.ToLower(parts[1]) {
			case "asc":
			case "desc":
				order.Desc = true
			default:
				return nil, parseError("$orderby", clause, "expected asc or desc")
			}
		}
		orders = append(orders, order)
	}
	return orders, nil
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind  tokenKind
	text  string
	value any
	pos   int
}

func lex(s string) ([]token, error) {
	var tokens []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++
		case r == '\'':
			var b strings.Builder
			start := i
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					// two quotes escape a quote
					if i+1 < len(runes) && runes[i+1] == '\'' {
						b.WriteRune('\'')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				b.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			tokens = append(tokens, token{kind: tokenString, text: string(runes[start:i]), value: b.String(), pos: start})
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i++
			for i < len(runes) && strings.ContainsRune("0123456789.-+:TZeE", runes[i]) {
				i++
			}
			text := string(runes[start:i])
			t := token{kind: tokenNumber, text: text, pos: start}
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				t.value = f
			} else if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
				t.value = ts
			} else {
				return nil, fmt.Errorf("invalid literal %s", text)
			}
			tokens = append(tokens, t)
		case unicode.IsLetter(r) || r == '$' || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || strings.ContainsRune("$_/:", runes[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i]), pos: start})
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	return append(tokens, token{kind: tokenEOF, pos: len(runes)}), nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokenIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s at position %d", what, t.pos)
	}
	return t, nil
}

// ParseFilter parses an OData $filter expression
func ParseFilter(s string) (Node, error) {
	tokens, err := lex(s)
	if err != nil {
		return nil, parseError("$filter", s, err.Error())
	}
	p := &parser{tokens: tokens}
	node, err := p.or()
	if err == nil && p.peek().kind != tokenEOF {
		err = fmt.Errorf("unexpected %s at position %d", p.peek().text, p.peek().pos)
	}
	if err != nil {
		return nil, parseError("$filter", s, err.Error())
	}
	return node, nil
}

func (p *parser) or() (Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	nodes := Or{left}
	for p.keyword("or") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, right)
	}
	return OrOf(nodes...), nil
}

func (p *parser) and() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	nodes := And{left}
	for p.keyword("and") {
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, right)
	}
	return AndOf(nodes...), nil
}

func (p *parser) unary() (Node, error) {
	if p.keyword("not") {
		n, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Not{Node: n}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokenLParen:
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
		return n, nil
	case tokenIdent:
		if p.peek().kind == tokenLParen {
			return p.function(t)
		}
		return p.comparison(t)
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) field(t token) (Field, error) {
	f, ok := ParseField(t.text)
	if !ok {
		return f, fmt.Errorf("unknown field %s at position %d", t.text, t.pos)
	}
	return f, nil
}

func (p *parser) function(name token) (Node, error) {
	fn := strings.ToLower(name.text)
	switch fn {
	case FuncContains, FuncStartsWith, FuncEndsWith:
	default:
		return nil, fmt.Errorf("unknown function %s at position %d", name.text, name.pos)
	}
	p.next() // (
	ft, err := p.expect(tokenIdent, "field")
	if err != nil {
		return nil, err
	}
	f, err := p.field(ft)
	if err != nil {
		return nil, err
	}
	if f.Column != "" {
		return nil, fmt.Errorf("%s is not supported for %s", fn, ft.text)
	}
	if _, err := p.expect(tokenComma, ","); err != nil {
		return nil, err
	}
	lit, err := p.expect(tokenString, "string")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRParen, ")"); err != nil {
		return nil, err
	}
	return Match{Func: fn, Field: f, Value: lit.value.(string)}, nil
}

func (p *parser) comparison(ft token) (Node, error) {
	f, err := p.field(ft)
	if err != nil {
		return nil, err
	}
	opToken, err := p.expect(tokenIdent, "operator")
	if err != nil {
		return nil, err
	}
	op := Op(strings.ToLower(opToken.text))
	if _, ok := sqlOps[op]; !ok {
		return nil, fmt.Errorf("unknown operator %s at position %d", opToken.text, opToken.pos)
	}
	value, err := p.literal()
	if err != nil {
		return nil, err
	}
	if err := checkCompare(f, op, value); err != nil {
		return nil, fmt.Errorf("%s: %w", ft.text, err)
	}
	return Compare{Field: f, Op: op, Value: value}, nil
}

func (p *parser) literal() (any, error) {
	t := p.next()
	switch t.kind {
	case tokenString, tokenNumber:
		return t.value, nil
	case tokenIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected literal at position %d", t.pos)
}

// checkCompare checks that a literal fits the type of a column
func checkCompare(f Field, op Op, value any) error {
	if value == nil && op != OpEq && op != OpNe {
		return fmt.Errorf("null can only be compared with eq or ne")
	}
	switch f.Column {
	case "":
		return nil
	case ColumnID:
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("id must be compared with a number")
		}
	case ColumnCreated, ColumnUpdated:
		if _, ok := timeLiteral(value); !ok {
			return fmt.Errorf("must be compared with a date-time")
		}
	case ColumnExpires:
		if _, ok := timeLiteral(value); !ok && value != nil {
			return fmt.Errorf("must be compared with a date-time")
		}
	case ColumnAuthorID, ColumnEditorID:
		if value == nil {
			return nil
		}
		if op != OpEq && op != OpNe {
			return fmt.Errorf("can only be compared with eq or ne")
		}
		s, ok := value.(string)
		if !ok || !isUUID(s) {
			return fmt.Errorf("must be compared with an id")
		}
	}
	return nil
}
