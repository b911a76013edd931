// Package casework runs the case desk operations end to end: plan the
// queries, execute them, and compose the reply.
package casework

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rahul/casedesk/internal/agent"
	"github.com/rahul/casedesk/internal/caseid"
	"github.com/rahul/casedesk/internal/notify"
	"github.com/rahul/casedesk/internal/observability"
	"github.com/rahul/casedesk/internal/query"
)

var (
	// ErrInvalidID is returned for identifiers that are not 8 hex digits.
	ErrInvalidID = errors.New("casework: invalid case ID")
	// ErrNotFound is returned when no case starts with the identifier.
	ErrNotFound = errors.New("casework: case not found")
	// ErrTimeout is returned when a status change exceeds its time bound.
	ErrTimeout = errors.New("casework: status change timed out")
)

// NoResults is the reply when planning produced no queries.
const NoResults = "No results found."

// Planner produces query plans.
type Planner interface {
	Plan(ctx context.Context, chatID string, in agent.Intent) (query.Generation, error)
}

// Composer writes replies from result sets.
type Composer interface {
	CaseSummary(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error)
	FullReport(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error)
	EmailSummary(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error)
	Dynamic(ctx context.Context, chatID, caseID, prompt string, rs *query.ResultSet) (string, error)
	AllIssues(ctx context.Context, chatID string, rs *query.ResultSet) string
	Confirmation(ctx context.Context, chatID, caseID, change string, rs *query.ResultSet) string
}

// Existence is the datastore's case_exists_rpc.
type Existence interface {
	CaseExists(ctx context.Context, prefix string) (bool, error)
}

// Service implements every case desk operation.
type Service struct {
	planner  Planner
	executor *query.Executor
	composer Composer
	exists   Existence
	notifier notify.Notifier
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// ServiceOpts holds parameters for creating a Service.
type ServiceOpts struct {
	Planner  Planner
	Executor *query.Executor
	Composer Composer
	Exists   Existence
	Notifier notify.Notifier // required for escalation
	Timeout  time.Duration   // bound on each status change; 0 means 2m
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewService creates a Service.
func NewService(opts ServiceOpts) (*Service, error) {
	if opts.Planner == nil {
		return nil, fmt.Errorf("casework: planner is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("casework: executor is required")
	}
	if opts.Composer == nil {
		return nil, fmt.Errorf("casework: composer is required")
	}
	if opts.Exists == nil {
		return nil, fmt.Errorf("casework: existence check is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Service{
		planner:  opts.Planner,
		executor: opts.Executor,
		composer: opts.Composer,
		exists:   opts.Exists,
		notifier: opts.Notifier,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Exists validates caseID and checks that a case starts with it.
func (s *Service) Exists(ctx context.Context, caseID string) error {
	if !caseid.Valid(caseID) {
		return ErrInvalidID
	}
	ok, err := s.exists.CaseExists(ctx, caseID)
	if err != nil {
		return fmt.Errorf("casework: existence check: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// GenerateAndExecute plans in and executes the plan with binding. An
// unusable or empty plan yields an empty result set and the executor is
// not called.
func (s *Service) GenerateAndExecute(ctx context.Context, chatID string, in agent.Intent, binding query.Binding) (*query.ResultSet, error) {
	observability.SetStatus(observability.RolePlanning, string(in.Action))
	gen, err := s.planner.Plan(ctx, chatID, in)
	if err != nil {
		return nil, fmt.Errorf("casework: plan %s: %w", in.Action, err)
	}
	plan := gen.PlanOrEmpty()
	if plan.Empty() {
		if gen.Kind == query.ParseFailure {
			log.Printf("casework: %s: unusable plan: %s", in.Action, gen.Reason)
		}
		return query.NewResultSet(), nil
	}

	observability.SetStatus(observability.RoleQuerying, string(in.Action))
	return s.executor.Execute(ctx, query.Request{
		Action:   string(in.Action),
		ReadOnly: in.ReadOnly(),
		Plan:     plan,
		Binding:  binding,
	}), nil
}

func (s *Service) read(ctx context.Context, chatID string, in agent.Intent) (*query.ResultSet, error) {
	return s.GenerateAndExecute(ctx, chatID, in, query.PrefixBinding{CaseID: in.CaseID})
}

// CaseSummary returns the short per-form summary of caseID.
func (s *Service) CaseSummary(ctx context.Context, chatID, caseID string) (string, error) {
	rs, err := s.read(ctx, chatID, agent.Intent{Action: agent.ActionCaseSummary, CaseID: caseID})
	if err != nil {
		return "", err
	}
	if rs.Len() == 0 {
		return NoResults, nil
	}
	observability.SetStatus(observability.RoleReporting, "case_summary")
	return s.composer.CaseSummary(ctx, chatID, caseID, rs)
}

// FullReport returns the field-by-field report of caseID.
func (s *Service) FullReport(ctx context.Context, chatID, caseID string) (string, error) {
	rs, err := s.read(ctx, chatID, agent.Intent{Action: agent.ActionGenerateReport, CaseID: caseID})
	if err != nil {
		return "", err
	}
	if rs.Len() == 0 {
		return NoResults, nil
	}
	observability.SetStatus(observability.RoleReporting, "generate_report")
	return s.composer.FullReport(ctx, chatID, caseID, rs)
}

// AllIssues returns the aggregate report over every issue.
func (s *Service) AllIssues(ctx context.Context, chatID string) (string, error) {
	rs, err := s.read(ctx, chatID, agent.Intent{Action: agent.ActionViewAllIssues})
	if err != nil {
		return "", err
	}
	if rs.Len() == 0 {
		return NoResults, nil
	}
	return s.composer.AllIssues(ctx, chatID, rs), nil
}

// DynamicReport answers a free-text prompt. The first case ID written in the
// prompt, if any, scopes the queries.
func (s *Service) DynamicReport(ctx context.Context, chatID, prompt string) (string, error) {
	caseID, _ := caseid.Extract(prompt)
	rs, err := s.read(ctx, chatID, agent.Intent{Action: agent.ActionPrompt, CaseID: caseID, Prompt: prompt})
	if err != nil {
		return "", err
	}
	if rs.Len() == 0 {
		return NoResults, nil
	}
	observability.SetStatus(observability.RoleReporting, "dynamic_report")
	return s.composer.Dynamic(ctx, chatID, caseID, prompt, rs)
}

// InsertAttachment records a file against the full case_id behind caseID.
func (s *Service) InsertAttachment(ctx context.Context, chatID, caseID, fileName, filePath string) (string, error) {
	if err := s.Exists(ctx, caseID); err != nil {
		return "", err
	}
	in := agent.Intent{Action: agent.ActionInsertAttachment, CaseID: caseID, FileName: fileName, FilePath: filePath}
	rs, err := s.GenerateAndExecute(ctx, chatID, in, query.AttachmentBinding{CaseID: caseID, FileName: fileName, FilePath: filePath})
	if err != nil {
		return "", err
	}
	res, ok := rs.Get(query.TableAttachments)
	if !ok {
		return "", fmt.Errorf("casework: no attachment insert was planned")
	}
	if res.Outcome == query.OutcomeFailed || res.Outcome == query.OutcomeSkipped {
		return "", fmt.Errorf("casework: attachment: %s", res.Err)
	}
	return fmt.Sprintf("Attachment %s added to case %s.", fileName, caseID), nil
}
