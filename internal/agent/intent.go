package agent

import (
	"fmt"
)

// Action names a fixed planning request.
type Action string

const (
	ActionCaseSummary      Action = "case_summary"
	ActionGenerateReport   Action = "generate_report"
	ActionViewAllIssues    Action = "view_all_issues"
	ActionInsertAttachment Action = "insert_attachment"
	ActionCloseCase        Action = "close_case"
	ActionEscalateCase     Action = "escalate_case"
	ActionPrompt           Action = "prompt" // free-text instruction
)

// TechnicalTeam is the assigned_team value written on escalation.
const TechnicalTeam = "Technical"

// Intent is what the planner is asked to plan for.
type Intent struct {
	Action   Action
	CaseID   string
	Prompt   string // ActionPrompt only
	FileName string // ActionInsertAttachment only
	FilePath string // ActionInsertAttachment only
}

// ReadOnly reports whether the intent may only produce SELECT queries.
func (in Intent) ReadOnly() bool {
	switch in.Action {
	case ActionInsertAttachment, ActionCloseCase, ActionEscalateCase:
		return false
	}
	return true
}

// Instruction renders the task sentence handed to the planner.
func (in Intent) Instruction() (string, error) {
	switch in.Action {
	case ActionCaseSummary:
		return fmt.Sprintf("Given the case_id %s, show me ALL form fields and their respective data for ALL the tables in the database.", in.CaseID), nil
	case ActionGenerateReport:
		return fmt.Sprintf("Generate a full report for case ID %s. Include the farm_name and status from the issues table.", in.CaseID), nil
	case ActionViewAllIssues:
		return "Retrieve ALL issue cases, regardless of their status, from the issues table. Select farm_name, status and assigned_team. Do not filter by case_id.", nil
	case ActionInsertAttachment:
		if in.CaseID == "" || in.FileName == "" || in.FilePath == "" {
			return "", fmt.Errorf("agent: insert_attachment requires case_id, file_name and file_path")
		}
		return fmt.Sprintf("Fetch the full case_id of %s from the issues table. Then insert a new row into the issue_attachments table "+
			"using three placeholders in this order: the full case_id, the file_name, the file_path.", in.CaseID), nil
	case ActionCloseCase:
		return fmt.Sprintf("Close case %s in the issues table: set status to 'closed' and set close_reason. "+
			"Write exactly one UPDATE statement with two placeholders: the first ? is the close_reason, the second ? is the case_id pattern.", in.CaseID), nil
	case ActionEscalateCase:
		return fmt.Sprintf("Escalate case %s in the issues table by updating the assigned_team field. "+
			"Write exactly one UPDATE statement with two placeholders: the first ? is the assigned_team value, the second ? is the case_id pattern.", in.CaseID), nil
	case ActionPrompt:
		if in.Prompt == "" {
			return "", fmt.Errorf("agent: prompt intent requires a prompt")
		}
		return in.Prompt, nil
	}
	return "", fmt.Errorf("agent: unknown action %q", in.Action)
}
