// Package query turns planned query templates into executed, per-table
// results against the case datastore.
package query

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rahul/casedesk/internal/governance"
	"github.com/rahul/casedesk/internal/observability"
)

// Runner is the datastore's `run_sql` call: one query string and its
// positional parameters, returning rows or nothing.
type Runner interface {
	RunSQL(ctx context.Context, query string, params []any) ([]map[string]any, error)
}

// Executor runs a plan step by step against a Runner.
type Executor struct {
	runner  Runner
	policy  governance.PolicyEngine
	logger  *observability.Logger
	metrics *observability.Metrics
}

// ExecutorOpts holds parameters for creating an Executor.
type ExecutorOpts struct {
	Runner  Runner
	Policy  governance.PolicyEngine // optional; nil admits every query
	Logger  *observability.Logger   // optional
	Metrics *observability.Metrics  // optional
}

// NewExecutor creates an Executor.
func NewExecutor(opts ExecutorOpts) (*Executor, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("query: executor: runner is required")
	}
	return &Executor{
		runner:  opts.Runner,
		policy:  opts.Policy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Request is one batch to execute.
type Request struct {
	Action   string
	ReadOnly bool
	Plan     Plan
	Binding  Binding
}

// Execute runs every planned step in plan order, after moving steps behind
// the steps they depend on. The returned set always has exactly one entry
// per planned table: rows, an error string, or a skip diagnostic. A failing
// table never stops the rest of the batch.
func (e *Executor) Execute(ctx context.Context, req Request) *ResultSet {
	results := NewResultSet()
	if req.Plan.Empty() {
		return results
	}
	binding := req.Binding
	if binding == nil {
		binding = PrefixBinding{}
	}
	taskID := observability.TaskID(ctx)

	for _, step := range req.Plan.Reorder(binding.Dependencies()).Steps {
		e.executeStep(ctx, taskID, req, binding, step, results)
	}
	return results
}

func (e *Executor) executeStep(ctx context.Context, taskID string, req Request, binding Binding, step Step, results *ResultSet) {
	if err := ctx.Err(); err != nil {
		e.fail(results, taskID, step, nil, fmt.Sprintf("Error executing query: %v", err))
		return
	}

	if e.policy != nil {
		res, err := e.policy.Evaluate(ctx, governance.Request{
			Table:    step.Table,
			Query:    step.Query,
			Action:   req.Action,
			ReadOnly: req.ReadOnly,
		})
		if err != nil {
			e.fail(results, taskID, step, nil, fmt.Sprintf("Error checking query policy: %v", err))
			return
		}
		if !res.Allowed() {
			e.logger.LogPolicyCheck(taskID, step.Table, string(res.Effect), res.Reason)
			e.fail(results, taskID, step, nil, "Query refused: "+res.Reason)
			return
		}
	}

	params, err := binding.Bind(step, results)
	if errors.Is(err, ErrSkip) {
		log.Printf("query: skip %s: %v", step.Table, err)
		results.SetSkipped(step.Table, err.Error())
		e.logger.LogQuery(taskID, step.Table, step.Query, nil, OutcomeSkipped.String(), err.Error())
		e.metrics.ObserveQuery(step.Table, OutcomeSkipped.String())
		return
	}
	if err != nil {
		e.fail(results, taskID, step, nil, fmt.Sprintf("Error binding query parameters: %v", err))
		return
	}

	formatted := Translate(step.Query)
	rows, err := e.runner.RunSQL(ctx, formatted, params)
	if err != nil {
		e.fail(results, taskID, step, params, fmt.Sprintf("Error executing query: %v", err))
		return
	}

	results.SetRows(step.Table, rows)
	outcome, _ := results.Get(step.Table)
	e.logger.LogQuery(taskID, step.Table, formatted, params, outcome.Outcome.String(), "")
	e.metrics.ObserveQuery(step.Table, outcome.Outcome.String())
}

func (e *Executor) fail(results *ResultSet, taskID string, step Step, params []any, msg string) {
	log.Printf("query: %s: %s", step.Table, msg)
	results.SetError(step.Table, msg)
	e.logger.LogQuery(taskID, step.Table, step.Query, params, OutcomeFailed.String(), msg)
	e.metrics.ObserveQuery(step.Table, OutcomeFailed.String())
}
