package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/casedesk/internal/observability"
	"github.com/rahul/casedesk/internal/query"
)

// NoData replaces the results of a table the batch did not return.
const NoData = "No data available."

// Composer turns result sets into reports.
type Composer struct {
	model   *Model
	prompts *PromptManager
	logger  *observability.Logger
}

// NewComposer creates a Composer.
func NewComposer(model *Model, prompts *PromptManager, logger *observability.Logger) (*Composer, error) {
	if model == nil {
		return nil, fmt.Errorf("agent: composer: model is required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("agent: composer: prompts are required")
	}
	return &Composer{model: model, prompts: prompts, logger: logger}, nil
}

// caseSections are the per-table inputs of the case report templates.
type caseSections struct {
	CaseID   string
	Issues   string
	Flock    string
	Symptoms string
	Medical  string
	Problem  string
}

func sectionsOf(caseID string, rs *query.ResultSet) caseSections {
	return caseSections{
		CaseID:   caseID,
		Issues:   Section(rs, query.TableIssues),
		Flock:    Section(rs, query.TableFlock),
		Symptoms: Section(rs, query.TableSymptoms),
		Medical:  Section(rs, query.TableMedical),
		Problem:  Section(rs, query.TableProblem),
	}
}

// Section renders one table's outcome for a prompt: its rows as JSON, its
// error or skip text, or NoData when the table is absent.
func Section(rs *query.ResultSet, table string) string {
	res, ok := rs.Get(table)
	if !ok {
		return NoData
	}
	switch res.Outcome {
	case query.OutcomeFailed, query.OutcomeSkipped:
		return res.Err
	}
	data, err := json.MarshalIndent(res.Rows, "", "  ")
	if err != nil {
		return NoData
	}
	return string(data)
}

func (c *Composer) compose(ctx context.Context, chatID, kind, template string, data any) (string, error) {
	prompt, err := c.prompts.Render(template, data)
	if err != nil {
		return "", err
	}
	system, err := c.prompts.GetSystemPrompt()
	if err != nil {
		return "", err
	}
	text, err := c.model.Text(ctx, chatID, system, prompt)
	if err != nil {
		return "", fmt.Errorf("agent: compose %s: %w", kind, err)
	}
	text = strings.TrimSpace(text)
	c.logger.LogReport(chatID, observability.TaskID(ctx), kind, len(text))
	return text, nil
}

// CaseSummary writes the short per-form summary of one case.
func (c *Composer) CaseSummary(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error) {
	return c.compose(ctx, chatID, "case_summary", PromptCaseSummary, sectionsOf(caseID, rs))
}

// FullReport writes the field-by-field report of one case for operators.
func (c *Composer) FullReport(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error) {
	return c.compose(ctx, chatID, "full_report", PromptFullReport, sectionsOf(caseID, rs))
}

// EmailSummary writes the escalation notification body.
func (c *Composer) EmailSummary(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error) {
	return c.compose(ctx, chatID, "email_summary", PromptEmailSummary, sectionsOf(caseID, rs))
}

// Dynamic writes a prose report answering a free-text prompt. caseID may
// be empty.
func (c *Composer) Dynamic(ctx context.Context, chatID, caseID, prompt string, rs *query.ResultSet) (string, error) {
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("agent: compose dynamic_report: %w", err)
	}
	return c.compose(ctx, chatID, "dynamic_report", PromptDynamic, struct {
		CaseID  string
		Prompt  string
		Results string
	}{caseID, prompt, string(data)})
}

// AllIssues renders the all-issues report from the issues rows. The counts
// and the table are computed here, not by the model.
func (c *Composer) AllIssues(ctx context.Context, chatID string, rs *query.ResultSet) string {
	text := AggregateIssues(rs.Rows(query.TableIssues)).String()
	if res, ok := rs.Get(query.TableIssues); ok && res.Failed() {
		text += "\n\n" + res.Err
	}
	c.logger.LogReport(chatID, observability.TaskID(ctx), "all_issues", len(text))
	return text
}

// Confirmation phrases the outcome of a status change. change describes
// what was applied ("closed", "escalated to the Technical team"). When the
// model is unavailable a plain sentence is returned instead.
func (c *Composer) Confirmation(ctx context.Context, chatID, caseID, change string, rs *query.ResultSet) string {
	text, err := c.compose(ctx, chatID, "confirmation", PromptConfirmation, struct {
		CaseID  string
		Change  string
		Results string
	}{caseID, change, Section(rs, query.TableIssues)})
	if err != nil || text == "" {
		if err != nil {
			log.Printf("agent: confirmation for case %s: %v", caseID, err)
		}
		return fmt.Sprintf("Case %s has been %s.", caseID, change)
	}
	return text
}
