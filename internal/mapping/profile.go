// Package mapping turns raw supplier feed rows into canonical catalog rows.
//
// A mapping profile is a JSON document describing field extraction,
// per-field transforms, global rules, row filters and required targets.
// Compile parses a profile once; the resulting Profile is immutable and
// safe for concurrent use by MapRow.
package mapping

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Row is a loosely typed record: decoded feed rows and mapped rows alike.
type Row map[string]any

// NumberFormat describes the separators a supplier uses for numbers.
type NumberFormat struct {
	Decimal   string
	Thousands string
}

// Derive picks a value from a condition list: Then when every condition
// holds, Else (or the current value) otherwise.
type Derive struct {
	When    []Condition
	Then    Operand
	Else    Operand
	HasElse bool
}

// Field is the compiled configuration of one target field.
type Field struct {
	Target    string
	Source    string
	Trim      bool
	Lowercase bool
	Uppercase bool
	ToNumber  *NumberFormat
	ValueMap  map[string]any
	Derive    *Derive
	Required  bool
}

// Assignment sets Target to Value when a rule fires.
type Assignment struct {
	Target string
	Value  Operand
}

// Rule is a global rule evaluated after per-field transforms.
type Rule struct {
	When []Condition
	Set  []Assignment
}

type keyValue struct {
	Key   string
	Value json.RawMessage
}

// Profile is a compiled mapping profile.
type Profile struct {
	fields      []Field
	sources     map[string]string
	required    []string
	rules       []Rule
	rowSelector Condition
	dropIf      []Condition
	defaults    []keyValueAny
}

type keyValueAny struct {
	Key   string
	Value any
}

// Fields returns the compiled fields in profile order.
func (p *Profile) Fields() []Field { return p.fields }

// Required returns the required targets: per-field flags first, then the
// profile's required list.
func (p *Profile) Required() []string { return p.required }

// Source returns the raw column a target is extracted from.
func (p *Profile) Source(target string) (string, bool) {
	s, ok := p.sources[target]
	return s, ok
}

type rawProfile struct {
	Fields      json.RawMessage   `json:"fields"`
	Required    []string          `json:"required"`
	Rules       []json.RawMessage `json:"rules"`
	RowSelector json.RawMessage   `json:"row_selector"`
	DropIf      json.RawMessage   `json:"drop_if"`
	Defaults    json.RawMessage   `json:"defaults"`
}

type rawField struct {
	Source    string          `json:"source"`
	From      string          `json:"from"`
	Trim      bool            `json:"trim"`
	Lowercase bool            `json:"lowercase"`
	Uppercase bool            `json:"uppercase"`
	Case      string          `json:"case"`
	ToNumber  json.RawMessage `json:"to_number"`
	ValueMap  json.RawMessage `json:"value_map"`
	Derive    json.RawMessage `json:"derive"`
	Required  bool            `json:"required"`
}

type rawDerive struct {
	When json.RawMessage `json:"when"`
	Then json.RawMessage `json:"then"`
	Else json.RawMessage `json:"else"`
}

type rawRule struct {
	When json.RawMessage `json:"when"`
	Set  json.RawMessage `json:"set"`
}

// Compile parses and validates a mapping profile. An empty or null
// document compiles to a profile that maps nothing.
func Compile(doc []byte) (*Profile, error) {
	p := &Profile{sources: make(map[string]string)}
	if isNull(doc) {
		return p, nil
	}

	var rp rawProfile
	if err := json.Unmarshal(doc, &rp); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}

	fieldEntries, err := orderedFields(rp.Fields)
	if err != nil {
		return nil, err
	}
	for _, fe := range fieldEntries {
		f, err := compileField(fe.Key, fe.Value)
		if err != nil {
			return nil, fmt.Errorf("fields.%s: %w", fe.Key, err)
		}
		p.fields = append(p.fields, f)
		if f.Source != "" {
			p.sources[f.Target] = f.Source
		}
		if f.Required {
			p.required = appendUnique(p.required, f.Target)
		}
	}
	for _, r := range rp.Required {
		p.required = appendUnique(p.required, r)
	}

	for i, rr := range rp.Rules {
		rule, err := compileRule(rr)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		p.rules = append(p.rules, rule)
	}

	if !isNull(rp.RowSelector) {
		c, err := parseCondition(rp.RowSelector)
		if err != nil {
			return nil, fmt.Errorf("row_selector: %w", err)
		}
		if _, empty := c.(never); !empty {
			p.rowSelector = c
		}
	}

	if p.dropIf, err = parseConditionList(rp.DropIf); err != nil {
		return nil, fmt.Errorf("drop_if: %w", err)
	}

	defaults, err := orderedObject(rp.Defaults)
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	for _, kv := range defaults {
		v, err := decodeValue(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("defaults.%s: %w", kv.Key, err)
		}
		p.defaults = append(p.defaults, keyValueAny{Key: kv.Key, Value: v})
	}

	return p, nil
}

func compileField(target string, raw json.RawMessage) (Field, error) {
	f := Field{Target: target}

	// "gtin": "EAN" is shorthand for {"source": "EAN"}.
	var shorthand string
	if err := json.Unmarshal(raw, &shorthand); err == nil {
		f.Source = shorthand
		return f, nil
	}

	var rf rawField
	if err := json.Unmarshal(raw, &rf); err != nil {
		return f, fmt.Errorf("field must be an object: %w", err)
	}

	f.Source = rf.Source
	if f.Source == "" {
		f.Source = rf.From
	}
	f.Trim = rf.Trim
	f.Required = rf.Required
	f.Lowercase = rf.Lowercase || strings.EqualFold(rf.Case, "lower")
	f.Uppercase = rf.Uppercase || strings.EqualFold(rf.Case, "upper")

	if !isNull(rf.ToNumber) {
		var nf struct {
			Decimal   string `json:"decimal"`
			Thousands string `json:"thousands"`
		}
		if err := json.Unmarshal(rf.ToNumber, &nf); err != nil {
			return f, fmt.Errorf("to_number: %w", err)
		}
		if nf.Decimal == "" {
			nf.Decimal = "."
		}
		f.ToNumber = &NumberFormat{Decimal: nf.Decimal, Thousands: nf.Thousands}
	}

	if !isNull(rf.ValueMap) {
		vm, err := decodeValue(rf.ValueMap)
		if err != nil {
			return f, fmt.Errorf("value_map: %w", err)
		}
		m, ok := vm.(map[string]any)
		if !ok {
			return f, errors.New("value_map must be an object")
		}
		f.ValueMap = m
	}

	if !isNull(rf.Derive) {
		var rd rawDerive
		if err := json.Unmarshal(rf.Derive, &rd); err != nil {
			return f, fmt.Errorf("derive: %w", err)
		}
		when, err := parseConditionList(rd.When)
		if err != nil {
			return f, fmt.Errorf("derive.when: %w", err)
		}
		if len(when) > 0 {
			d := &Derive{When: when}
			then, err := decodeValue(rd.Then)
			if err != nil {
				return f, fmt.Errorf("derive.then: %w", err)
			}
			d.Then = newOperand(then)
			if rd.Else != nil {
				els, err := decodeValue(rd.Else)
				if err != nil {
					return f, fmt.Errorf("derive.else: %w", err)
				}
				d.Else = newOperand(els)
				d.HasElse = true
			}
			f.Derive = d
		}
	}

	return f, nil
}

func compileRule(raw json.RawMessage) (Rule, error) {
	var rr rawRule
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Rule{}, fmt.Errorf("rule must be an object: %w", err)
	}
	when, err := parseConditionList(rr.When)
	if err != nil {
		return Rule{}, fmt.Errorf("when: %w", err)
	}
	sets, err := orderedObject(rr.Set)
	if err != nil {
		return Rule{}, fmt.Errorf("set: %w", err)
	}
	rule := Rule{When: when}
	for _, kv := range sets {
		v, err := decodeValue(kv.Value)
		if err != nil {
			return Rule{}, fmt.Errorf("set.%s: %w", kv.Key, err)
		}
		rule.Set = append(rule.Set, Assignment{
			Target: strings.TrimPrefix(kv.Key, "$"),
			Value:  newOperand(v),
		})
	}
	return rule, nil
}

// FieldSource is a target and the raw column it reads from.
type FieldSource struct {
	Target string
	Source string
}

// FieldSources lists targets and sources of a profile without compiling
// rules or conditions, so a profile with broken rules can still be inspected.
func FieldSources(doc []byte) ([]FieldSource, error) {
	if isNull(doc) {
		return nil, nil
	}
	var rp struct {
		Fields json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(doc, &rp); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	entries, err := orderedFields(rp.Fields)
	if err != nil {
		return nil, err
	}
	out := make([]FieldSource, 0, len(entries))
	for _, e := range entries {
		fs := FieldSource{Target: e.Key}
		var shorthand string
		if json.Unmarshal(e.Value, &shorthand) == nil {
			fs.Source = shorthand
		} else {
			var rf rawField
			if json.Unmarshal(e.Value, &rf) == nil {
				fs.Source = rf.Source
				if fs.Source == "" {
					fs.Source = rf.From
				}
			}
		}
		out = append(out, fs)
	}
	return out, nil
}

// orderedFields reads "fields" given either as an object keyed by target
// or as a list of objects carrying a "target" key.
func orderedFields(raw json.RawMessage) ([]keyValue, error) {
	if isNull(raw) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		var out []keyValue
		for _, entry := range list {
			var target string
			if t, ok := entry["target"]; ok {
				_ = json.Unmarshal(t, &target)
			}
			if target == "" {
				continue
			}
			delete(entry, "target")
			b, err := json.Marshal(entry)
			if err != nil {
				return nil, fmt.Errorf("fields.%s: %w", target, err)
			}
			out = append(out, keyValue{Key: target, Value: b})
		}
		return out, nil
	}
	kvs, err := orderedObject(raw)
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	return kvs, nil
}

// orderedObject decodes a JSON object keeping key order. Later duplicates
// replace earlier ones in place.
func orderedObject(raw json.RawMessage) ([]keyValue, error) {
	if isNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected an object")
	}

	var out []keyValue
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if i, dup := index[key]; dup {
			out[i].Value = v
			continue
		}
		index[key] = len(out)
		out = append(out, keyValue{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeValue decodes a profile literal keeping numbers as json.Number.
func decodeValue(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isNull(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
