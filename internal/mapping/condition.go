package mapping

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Condition is a compiled predicate over a row being mapped.
type Condition interface {
	Eval(ctx *evalContext) bool
}

// Operand is either a literal value or a $name reference.
type Operand struct {
	Ref     string
	Literal any
}

// IsRef reports whether the operand refers to another field.
func (o Operand) IsRef() bool { return o.Ref != "" }

func newOperand(v any) Operand {
	if s, ok := v.(string); ok && len(s) > 1 && strings.HasPrefix(s, "$") {
		return Operand{Ref: s[1:]}
	}
	return Operand{Literal: v}
}

func (o Operand) resolve(ctx *evalContext) any {
	if o.Ref == "" {
		return o.Literal
	}
	return ctx.lookup(o.Ref)
}

type allOf []Condition

func (c allOf) Eval(ctx *evalContext) bool {
	for _, sub := range c {
		if !sub.Eval(ctx) {
			return false
		}
	}
	return true
}

type anyOf []Condition

func (c anyOf) Eval(ctx *evalContext) bool {
	for _, sub := range c {
		if sub.Eval(ctx) {
			return true
		}
	}
	return false
}

// never is the compiled form of an empty condition object.
type never struct{}

func (never) Eval(*evalContext) bool { return false }

type emptyAnyOf []Operand

func (c emptyAnyOf) Eval(ctx *evalContext) bool {
	for _, o := range c {
		if IsEmpty(o.resolve(ctx)) {
			return true
		}
	}
	return false
}

type compare struct {
	op       string
	lhs, rhs Operand
	fn       func(a, b any) bool
}

func (c *compare) Eval(ctx *evalContext) bool {
	return c.fn(c.lhs.resolve(ctx), c.rhs.resolve(ctx))
}

// Operator describes a supported comparison for profile editors.
type Operator struct {
	Op    string `json:"op"`
	Label string `json:"label"`
	Arity int    `json:"arity"`
	Input string `json:"input"`
}

// Operators lists the supported condition operators.
func Operators() []Operator {
	return []Operator{
		{Op: "eq", Label: "=", Arity: 2, Input: "any"},
		{Op: "ne", Label: "≠", Arity: 2, Input: "any"},
		{Op: "gt", Label: ">", Arity: 2, Input: "number"},
		{Op: "gte", Label: "≥", Arity: 2, Input: "number"},
		{Op: "lt", Label: "<", Arity: 2, Input: "number"},
		{Op: "lte", Label: "≤", Arity: 2, Input: "number"},
		{Op: "regex", Label: "Regex", Arity: 2, Input: "regex"},
		{Op: "contains", Label: "Contains", Arity: 2, Input: "text"},
		{Op: "startswith", Label: "Starts with", Arity: 2, Input: "text"},
		{Op: "endswith", Label: "Ends with", Arity: 2, Input: "text"},
		{Op: "in", Label: "In list", Arity: 2, Input: "array"},
		{Op: "empty_any_of", Label: "Empty (any)", Arity: 1, Input: "array"},
	}
}

var binaryOps = map[string]func(a, b any) bool{
	"eq":         opEq,
	"ne":         func(a, b any) bool { return !opEq(a, b) },
	"gt":         numeric(func(c int) bool { return c > 0 }),
	"gte":        numeric(func(c int) bool { return c >= 0 }),
	"lt":         numeric(func(c int) bool { return c < 0 }),
	"lte":        numeric(func(c int) bool { return c <= 0 }),
	"contains":   func(a, b any) bool { return strings.Contains(AsString(a), AsString(b)) },
	"startswith": func(a, b any) bool { return strings.HasPrefix(AsString(a), AsString(b)) },
	"endswith":   func(a, b any) bool { return strings.HasSuffix(AsString(a), AsString(b)) },
	"regex":      opRegex,
	"in":         opIn,
}

func opEq(a, b any) bool {
	da, okA := ToDecimal(a)
	db, okB := ToDecimal(b)
	if okA && okB {
		return da.Equal(db)
	}
	sa, _ := CleanText(a)
	sb, _ := CleanText(b)
	return sa == sb
}

func numeric(test func(cmp int) bool) func(a, b any) bool {
	return func(a, b any) bool {
		da, okA := ToDecimal(a)
		db, okB := ToDecimal(b)
		return okA && okB && test(da.Cmp(db))
	}
}

func opRegex(a, pattern any) bool {
	re, err := regexp.Compile(AsString(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(AsString(a))
}

func opIn(a, coll any) bool {
	needle := AsString(a)
	if list, ok := coll.([]any); ok {
		for _, v := range list {
			if AsString(v) == needle {
				return true
			}
		}
		return false
	}
	for _, part := range strings.Split(AsString(coll), ",") {
		if strings.TrimSpace(part) == needle {
			return true
		}
	}
	return false
}

// parseCondition compiles one condition node. Nodes are objects holding
// either "and"/"or" with a list of child nodes, or a single operator key.
func parseCondition(raw json.RawMessage) (Condition, error) {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil || node == nil {
		return nil, fmt.Errorf("condition must be an object: %s", truncate(string(raw), 80))
	}
	if len(node) == 0 {
		return never{}, nil
	}

	if v, ok := node["and"]; ok {
		subs, err := parseConditionList(v)
		if err != nil {
			return nil, fmt.Errorf("and: %w", err)
		}
		return allOf(subs), nil
	}
	if v, ok := node["or"]; ok {
		subs, err := parseConditionList(v)
		if err != nil {
			return nil, fmt.Errorf("or: %w", err)
		}
		return anyOf(subs), nil
	}

	if len(node) != 1 {
		return nil, fmt.Errorf("condition must have exactly one operator, got %d keys", len(node))
	}

	for key, argsRaw := range node {
		op := strings.ToLower(key)
		args, err := decodeValue(argsRaw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if op == "empty_any_of" {
			items, ok := args.([]any)
			if !ok {
				items = []any{args}
			}
			ops := make(emptyAnyOf, 0, len(items))
			for _, it := range items {
				ops = append(ops, newOperand(it))
			}
			return ops, nil
		}

		fn, ok := binaryOps[op]
		if !ok {
			return nil, fmt.Errorf("unknown operator %q", key)
		}
		pair, ok := args.([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%s: expected [lhs, rhs]", op)
		}

		c := &compare{op: op, lhs: newOperand(pair[0]), rhs: newOperand(pair[1]), fn: fn}
		if op == "regex" && !c.rhs.IsRef() {
			re, err := regexp.Compile(AsString(c.rhs.Literal))
			if err != nil {
				return nil, fmt.Errorf("regex: %w", err)
			}
			c.fn = func(a, _ any) bool { return re.MatchString(AsString(a)) }
		}
		return c, nil
	}
	return never{}, nil
}

// parseConditionList accepts either a single condition or a list of them.
func parseConditionList(raw json.RawMessage) ([]Condition, error) {
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		items = []json.RawMessage{raw}
	}
	out := make([]Condition, 0, len(items))
	for i, it := range items {
		c, err := parseCondition(it)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
