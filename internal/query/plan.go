package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Step is a single planned query against one table.
type Step struct {
	Table string
	Query string
}

// Plan maps table names to query templates, in the order the planner
// produced them. A plan is built per request and consumed once.
type Plan struct {
	Steps []Step
}

// Len returns the number of planned tables.
func (p Plan) Len() int { return len(p.Steps) }

// Empty reports whether the planner produced no queries.
func (p Plan) Empty() bool { return len(p.Steps) == 0 }

// Tables returns the planned table names in plan order.
func (p Plan) Tables() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Table)
	}
	return out
}

// Get returns the template planned for table.
func (p Plan) Get(table string) (string, bool) {
	for _, s := range p.Steps {
		if s.Table == table {
			return s.Query, true
		}
	}
	return "", false
}

// Reorder returns a copy of the plan in which every table listed in deps
// runs after the tables it depends on. Relative order is otherwise kept.
func (p Plan) Reorder(deps map[string][]string) Plan {
	if len(deps) == 0 {
		return p
	}
	index := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		index[s.Table] = i
	}
	emitted := make(map[string]bool, len(p.Steps))
	visiting := make(map[string]bool)
	out := make([]Step, 0, len(p.Steps))

	var visit func(table string)
	visit = func(table string) {
		if emitted[table] || visiting[table] {
			return
		}
		i, ok := index[table]
		if !ok {
			return
		}
		visiting[table] = true
		for _, d := range deps[table] {
			visit(d)
		}
		visiting[table] = false
		emitted[table] = true
		out = append(out, p.Steps[i])
	}
	for _, s := range p.Steps {
		visit(s.Table)
	}
	return Plan{Steps: out}
}

// GenerationKind tags what the planning model returned.
type GenerationKind int

const (
	// Structured means a table→query object was recovered.
	Structured GenerationKind = iota
	// Unstructured means the reply held no delimited block at all.
	Unstructured
	// ParseFailure means a block was found but was not a table→query object.
	ParseFailure
)

func (k GenerationKind) String() string {
	switch k {
	case Structured:
		return "structured"
	case Unstructured:
		return "unstructured"
	case ParseFailure:
		return "parse_failure"
	}
	return "unknown"
}

// Generation is the tagged result of a planning call.
type Generation struct {
	Kind   GenerationKind
	Plan   Plan
	Text   string // raw model text
	Reason string // set for ParseFailure
}

// PlanOrEmpty returns the plan for structured output and an empty plan for
// anything else.
func (g Generation) PlanOrEmpty() Plan {
	if g.Kind != Structured {
		return Plan{}
	}
	return g.Plan
}

// Classify scans free model text for a `{...}` block (first opening brace
// to last closing brace) and decodes it as an ordered table→query object.
func Classify(text string) Generation {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Generation{Kind: Unstructured, Text: text}
	}
	plan, err := DecodePlan([]byte(text[start : end+1]))
	if err != nil {
		return Generation{Kind: ParseFailure, Text: text, Reason: err.Error()}
	}
	return Generation{Kind: Structured, Plan: plan, Text: text}
}

// DecodePlan decodes a JSON object whose values are query strings, keeping
// the key order of the document. Duplicate keys keep the last template at
// the position of the first occurrence.
func DecodePlan(data []byte) (Plan, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return Plan{}, fmt.Errorf("query: decode plan: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Plan{}, fmt.Errorf("query: decode plan: expected object, got %v", tok)
	}

	var plan Plan
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Plan{}, fmt.Errorf("query: decode plan: %w", err)
		}
		table, ok := tok.(string)
		if !ok {
			return Plan{}, fmt.Errorf("query: decode plan: expected table name, got %v", tok)
		}
		var q string
		if err := dec.Decode(&q); err != nil {
			return Plan{}, fmt.Errorf("query: decode plan: table %q: %w", table, err)
		}
		table = strings.TrimSpace(table)
		q = strings.TrimSpace(q)
		if i, dup := seen[table]; dup {
			plan.Steps[i].Query = q
			continue
		}
		seen[table] = len(plan.Steps)
		plan.Steps = append(plan.Steps, Step{Table: table, Query: q})
	}
	if _, err := dec.Token(); err != nil {
		return Plan{}, fmt.Errorf("query: decode plan: %w", err)
	}
	return plan, nil
}
