package governance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a planned query to be evaluated.
type Request struct {
	Table    string
	Query    string
	Action   string
	ReadOnly bool // only SELECT statements may pass
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// Allowed is a convenience for Effect == EffectAllow.
func (r Result) Allowed() bool { return r.Effect == EffectAllow }

// PolicyEngine evaluates planned queries against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine is a deny-list plus table allow-list.
type DefaultPolicyEngine struct {
	KnownTables map[string]bool // empty means any table
	DeniedTable map[string]bool
	DeniedRegex []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		KnownTables: make(map[string]bool),
		DeniedTable: make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

// NewSQLPolicyEngine returns an engine that only admits the given tables and
// refuses schema changes, bulk deletes, and stacked statements.
func NewSQLPolicyEngine(tables []string) *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	for _, t := range tables {
		e.KnownTables[t] = true
	}
	for _, p := range []string{
		`(?i)\b(drop|truncate|alter|create|grant|revoke)\b`,
		`(?i)\bdelete\s+from\b`,
		`;\s*\S`,
		`--`,
	} {
		_ = e.DenyPattern(p)
	}
	return e
}

func (e *DefaultPolicyEngine) DenyTable(name string) {
	e.DeniedTable[name] = true
}

func (e *DefaultPolicyEngine) DenyPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

var selectRe = regexp.MustCompile(`(?i)^\s*(select|with)\b`)

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if len(e.KnownTables) > 0 && !e.KnownTables[req.Table] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("table '%s' is not part of the case schema", req.Table),
		}, nil
	}
	if e.DeniedTable[req.Table] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("table '%s' is restricted by system policy", req.Table),
		}, nil
	}
	if strings.TrimSpace(req.Query) == "" {
		return Result{Effect: EffectDeny, Reason: "empty query"}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Query) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("query matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	if req.ReadOnly && !selectRe.MatchString(req.Query) {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("action '%s' may only read data", req.Action),
		}, nil
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
