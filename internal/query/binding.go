package query

import (
	"errors"
	"fmt"

	"github.com/rahul/casedesk/internal/caseid"
)

// ErrSkip is returned by a Binding when a step cannot run because a step it
// depends on produced nothing. The executor records a diagnostic instead of
// calling the endpoint.
var ErrSkip = errors.New("query: prerequisite produced no rows")

// Binding supplies the concrete parameters for each planned step, in
// placeholder order. prior holds the results of steps already executed in
// the same batch.
type Binding interface {
	Bind(step Step, prior *ResultSet) ([]any, error)
	// Dependencies maps a table to the tables that must execute before it.
	Dependencies() map[string][]string
}

// PrefixBinding binds the identifier's prefix pattern to every placeholder.
// It is used for all read-only actions and for free-text prompts.
type PrefixBinding struct {
	CaseID string // may be empty for prompts that name no case
}

func (b PrefixBinding) Bind(step Step, _ *ResultSet) ([]any, error) {
	n := CountPlaceholders(step.Query)
	if n == 0 {
		return nil, nil
	}
	if b.CaseID == "" {
		return nil, fmt.Errorf("query takes %d parameter(s) but no case ID was given", n)
	}
	params := make([]any, n)
	for i := range params {
		params[i] = caseid.Pattern(b.CaseID)
	}
	return params, nil
}

func (PrefixBinding) Dependencies() map[string][]string { return nil }

// MutationBinding binds Values to the leading placeholders and the
// identifier pattern to the final one, e.g.
// `UPDATE issues SET close_reason = ? WHERE case_id LIKE ?`.
type MutationBinding struct {
	CaseID string
	Values []any
}

func (b MutationBinding) Bind(step Step, _ *ResultSet) ([]any, error) {
	want := len(b.Values) + 1
	if n := CountPlaceholders(step.Query); n != want {
		return nil, fmt.Errorf("mutation expects %d parameter(s), query has %d", want, n)
	}
	params := make([]any, 0, want)
	params = append(params, b.Values...)
	params = append(params, caseid.Pattern(b.CaseID))
	return params, nil
}

func (MutationBinding) Dependencies() map[string][]string { return nil }

// AttachmentBinding resolves the full case_id from the issues step and binds
// it, with the file name and path, into the attachment insert. Every other
// step is bound like PrefixBinding.
type AttachmentBinding struct {
	CaseID   string
	FileName string
	FilePath string
}

func (b AttachmentBinding) Bind(step Step, prior *ResultSet) ([]any, error) {
	if step.Table != TableAttachments {
		return PrefixBinding{CaseID: b.CaseID}.Bind(step, prior)
	}
	rows := prior.Rows(TableIssues)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: could not resolve full case_id for %s from %s", ErrSkip, b.CaseID, TableIssues)
	}
	full, ok := rows[0]["case_id"].(string)
	if !ok || full == "" {
		return nil, fmt.Errorf("%w: %s row has no case_id", ErrSkip, TableIssues)
	}
	if n := CountPlaceholders(step.Query); n != 3 {
		return nil, fmt.Errorf("attachment insert expects 3 parameters, query has %d", n)
	}
	return []any{full, b.FileName, b.FilePath}, nil
}

func (AttachmentBinding) Dependencies() map[string][]string {
	return map[string][]string{TableAttachments: {TableIssues}}
}
