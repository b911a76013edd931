package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/casedesk/internal/observability"
	"github.com/rahul/casedesk/internal/query"
)

const submitQueriesTool = "submit_queries"

var plannerTools = []llms.Tool{
	{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        submitQueriesTool,
			Description: "Submit the parameterized SQL statement for each table, in execution order.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"queries": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"table": map[string]any{
									"type": "string",
								},
								"query": map[string]any{
									"type":        "string",
									"description": "SQL using ? for every parameter",
								},
							},
							"required": []string{"table", "query"},
						},
					},
				},
				"required": []string{"queries"},
			},
		},
	},
}

// Planner asks the model for a table→query plan.
type Planner struct {
	model   *Model
	prompts *PromptManager
	schema  query.Schema
	logger  *observability.Logger
	metrics *observability.Metrics
}

// PlannerOpts holds parameters for creating a Planner.
type PlannerOpts struct {
	Model   *Model
	Prompts *PromptManager
	Schema  query.Schema // defaults to query.DefaultSchema
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewPlanner creates a Planner.
func NewPlanner(opts PlannerOpts) (*Planner, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("agent: planner: model is required")
	}
	if opts.Prompts == nil {
		return nil, fmt.Errorf("agent: planner: prompts are required")
	}
	if len(opts.Schema.Tables) == 0 {
		opts.Schema = query.DefaultSchema
	}
	return &Planner{
		model:   opts.Model,
		prompts: opts.Prompts,
		schema:  opts.Schema,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Schema returns the schema the planner describes to the model.
func (p *Planner) Schema() query.Schema { return p.schema }

// Plan returns the tagged planning result for in. The error is non-nil only
// when the model could not be asked at all; unusable output is reported
// through the Generation's kind.
func (p *Planner) Plan(ctx context.Context, chatID string, in Intent) (query.Generation, error) {
	instruction, err := in.Instruction()
	if err != nil {
		return query.Generation{}, err
	}
	prompt, err := p.prompts.Render(PromptPlanner, struct {
		Instruction string
		Schema      string
		ReadOnly    bool
	}{instruction, p.schema.Describe(), in.ReadOnly()})
	if err != nil {
		return query.Generation{}, err
	}
	system, err := p.prompts.GetSystemPrompt()
	if err != nil {
		return query.Generation{}, err
	}

	choice, err := p.model.Generate(ctx, chatID, system, prompt, llms.WithTools(plannerTools))
	if err != nil {
		return query.Generation{}, err
	}

	gen := classifyChoice(choice)
	if gen.Kind != query.Structured || gen.Plan.Empty() {
		p.metrics.ObserveEmptyPlan()
	}
	p.logger.LogPlan(chatID, observability.TaskID(ctx), string(in.Action), gen.Kind.String(), gen.Plan.Tables())
	return gen, nil
}

// classifyChoice prefers a submit_queries tool call and falls back to
// scanning the reply text.
func classifyChoice(choice *llms.ContentChoice) query.Generation {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != submitQueriesTool {
			continue
		}
		return decodeToolPlan(tc.FunctionCall.Arguments)
	}
	return query.Classify(choice.Content)
}

func decodeToolPlan(arguments string) query.Generation {
	var args struct {
		Queries []struct {
			Table string `json:"table"`
			Query string `json:"query"`
		} `json:"queries"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return query.Generation{Kind: query.ParseFailure, Text: arguments, Reason: fmt.Sprintf("%s arguments: %v", submitQueriesTool, err)}
	}

	var plan query.Plan
	seen := make(map[string]int)
	for _, q := range args.Queries {
		table := strings.TrimSpace(q.Table)
		sql := strings.TrimSpace(q.Query)
		if table == "" || sql == "" {
			return query.Generation{Kind: query.ParseFailure, Text: arguments, Reason: "query entry without table or query"}
		}
		if i, dup := seen[table]; dup {
			plan.Steps[i].Query = sql
			continue
		}
		seen[table] = len(plan.Steps)
		plan.Steps = append(plan.Steps, query.Step{Table: table, Query: sql})
	}
	return query.Generation{Kind: query.Structured, Plan: plan, Text: arguments}
}
