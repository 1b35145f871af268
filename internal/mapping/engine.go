package mapping

import (
	"strings"
)

// Rejection explains why MapRow produced no canonical row.
// The zero value means the row was accepted.
type Rejection string

const (
	RejectFiltered Rejection = "row_filtered"
	RejectDropped  Rejection = "dropped"

	requiredMissingPrefix = "required_missing:"
)

// RequiredMissing returns the rejection for an empty required target.
func RequiredMissing(field string) Rejection {
	return Rejection(requiredMissingPrefix + field)
}

// IsRequiredMissing reports whether r rejects an empty required target.
func (r Rejection) IsRequiredMissing() bool {
	return strings.HasPrefix(string(r), requiredMissingPrefix)
}

type evalContext struct {
	mapped  Row
	raw     Row
	sources map[string]string
}

// lookup resolves $name against the mapped row, then the raw row, then the
// raw column the target is sourced from.
func (c *evalContext) lookup(name string) any {
	if v, ok := c.mapped[name]; ok {
		return v
	}
	if v, ok := c.raw[name]; ok {
		return v
	}
	if src, ok := c.sources[name]; ok {
		return c.raw[src]
	}
	return nil
}

func (c *evalContext) all(conds []Condition) bool {
	for _, cond := range conds {
		if !cond.Eval(c) {
			return false
		}
	}
	return true
}

// MapRow applies the profile to one raw row. It is deterministic and never
// mutates raw.
func (p *Profile) MapRow(raw Row) (Row, Rejection) {
	mapped := make(Row, len(p.fields)+4)
	ctx := &evalContext{mapped: mapped, raw: raw, sources: p.sources}

	for _, f := range p.fields {
		if f.Source != "" {
			mapped[f.Target] = raw[f.Source]
		}
	}

	for _, d := range p.defaults {
		if IsEmpty(mapped[d.Key]) {
			mapped[d.Key] = d.Value
		}
	}

	for i := range p.fields {
		p.applyField(&p.fields[i], ctx)
	}

	for _, rule := range p.rules {
		if !ctx.all(rule.When) {
			continue
		}
		for _, a := range rule.Set {
			mapped[a.Target] = a.Value.resolve(ctx)
		}
	}

	if p.rowSelector != nil && !p.rowSelector.Eval(ctx) {
		return nil, RejectFiltered
	}
	for _, cond := range p.dropIf {
		if cond.Eval(ctx) {
			return nil, RejectDropped
		}
	}
	for _, req := range p.required {
		if IsEmpty(mapped[req]) {
			return nil, RequiredMissing(req)
		}
	}

	canonicalize(mapped)
	return mapped, ""
}

func (p *Profile) applyField(f *Field, ctx *evalContext) {
	val, present := ctx.mapped[f.Target]
	if !present && f.Source == "" {
		return
	}

	if s, ok := val.(string); ok {
		if f.Trim {
			s = strings.TrimSpace(s)
		}
		if f.Lowercase {
			s = strings.ToLower(s)
		}
		if f.Uppercase {
			s = strings.ToUpper(s)
		}
		val = s
	}

	if f.ToNumber != nil && isScalar(val) {
		s := AsString(val)
		if f.ToNumber.Thousands != "" {
			s = strings.ReplaceAll(s, f.ToNumber.Thousands, "")
		}
		if f.ToNumber.Decimal != "." {
			s = strings.ReplaceAll(s, f.ToNumber.Decimal, ".")
		}
		val = s
	}

	if f.ValueMap != nil {
		if v, ok := f.ValueMap[AsString(val)]; ok {
			val = v
		}
	}

	if d := f.Derive; d != nil {
		chosen := newOperand(val)
		switch {
		case ctx.all(d.When):
			chosen = d.Then
		case d.HasElse:
			chosen = d.Else
		}
		val = chosen.resolve(ctx)
	}

	ctx.mapped[f.Target] = val
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, float32, int, int64, int32:
		return true
	}
	_, isNumber := v.(interface{ Float64() (float64, error) })
	return isNumber
}

// canonicalize normalizes the keys downstream persistence relies on.
func canonicalize(m Row) {
	if v, ok := m["gtin"]; ok && v != nil {
		s, _ := CleanText(v)
		m["gtin"] = s
	}
	if v, ok := m["price"]; ok && v != nil {
		s, _ := ToDecimalString(v)
		m["price"] = s
	}
	if v, ok := m["stock"]; ok && v != nil {
		n, ok := ToInt(v)
		if !ok || n < 0 {
			n = 0
		}
		m["stock"] = n
	}
}
