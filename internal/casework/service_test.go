package casework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/casedesk/internal/agent"
	"github.com/rahul/casedesk/internal/notify"
	"github.com/rahul/casedesk/internal/query"
)

type fakePlanner struct {
	mu      sync.Mutex
	plans   map[agent.Action]string // action -> JSON plan text
	block   bool
	intents []agent.Intent
}

func (f *fakePlanner) Plan(ctx context.Context, chatID string, in agent.Intent) (query.Generation, error) {
	f.mu.Lock()
	f.intents = append(f.intents, in)
	text := f.plans[in.Action]
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return query.Generation{}, ctx.Err()
	}
	return query.Classify(text), nil
}

type runnerCall struct {
	Query  string
	Params []any
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []runnerCall
	results map[string][]map[string]any
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: map[string][]map[string]any{}, errs: map[string]error{}}
}

func (f *fakeRunner) RunSQL(ctx context.Context, q string, params []any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runnerCall{q, params})
	if err := f.errs[q]; err != nil {
		return nil, err
	}
	return f.results[q], nil
}

type fakeComposer struct {
	summaryErr error
	seen       []string
}

func (f *fakeComposer) CaseSummary(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error) {
	f.seen = append(f.seen, "case_summary")
	return fmt.Sprintf("summary of %s (%d tables)", caseID, rs.Len()), nil
}

func (f *fakeComposer) FullReport(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error) {
	f.seen = append(f.seen, "full_report")
	return "report of " + caseID, nil
}

func (f *fakeComposer) EmailSummary(ctx context.Context, chatID, caseID string, rs *query.ResultSet) (string, error) {
	f.seen = append(f.seen, "email_summary")
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return "email summary of " + caseID, nil
}

func (f *fakeComposer) Dynamic(ctx context.Context, chatID, caseID, prompt string, rs *query.ResultSet) (string, error) {
	f.seen = append(f.seen, "dynamic")
	return "answer for " + caseID, nil
}

func (f *fakeComposer) AllIssues(ctx context.Context, chatID string, rs *query.ResultSet) string {
	f.seen = append(f.seen, "all_issues")
	return agent.AggregateIssues(rs.Rows(query.TableIssues)).String()
}

func (f *fakeComposer) Confirmation(ctx context.Context, chatID, caseID, change string, rs *query.ResultSet) string {
	return fmt.Sprintf("Case %s has been %s.", caseID, change)
}

type fakeExists struct {
	known map[string]bool
	err   error
}

func (f fakeExists) CaseExists(ctx context.Context, prefix string) (bool, error) {
	return f.known[prefix], f.err
}

type fakeNotifier struct {
	err  error
	msgs []notify.Message
	// onNotify lets a test observe runner state at delivery time.
	onNotify func()
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Notify(ctx context.Context, msg notify.Message) error {
	f.msgs = append(f.msgs, msg)
	if f.onNotify != nil {
		f.onNotify()
	}
	return f.err
}

const (
	summaryPlan  = `{"issues": "SELECT farm_name FROM issues WHERE case_id LIKE ?", "farmer_problem": "SELECT problem_description FROM farmer_problem WHERE case_id LIKE ?"}`
	closePlan    = `{"issues": "UPDATE issues SET status = 'closed', close_reason = ? WHERE case_id LIKE ?"}`
	escalatePlan = `{"issues": "UPDATE issues SET assigned_team = ? WHERE case_id LIKE ?"}`
)

type fixture struct {
	svc      *Service
	planner  *fakePlanner
	runner   *fakeRunner
	composer *fakeComposer
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		planner: &fakePlanner{plans: map[agent.Action]string{
			agent.ActionCaseSummary:    summaryPlan,
			agent.ActionGenerateReport: summaryPlan,
			agent.ActionCloseCase:      closePlan,
			agent.ActionEscalateCase:   escalatePlan,
		}},
		runner:   newFakeRunner(),
		composer: &fakeComposer{},
		notifier: &fakeNotifier{},
	}
	exec, err := query.NewExecutor(query.ExecutorOpts{Runner: f.runner})
	require.NoError(t, err)
	f.svc, err = NewService(ServiceOpts{
		Planner:  f.planner,
		Executor: exec,
		Composer: f.composer,
		Exists:   fakeExists{known: map[string]bool{"1a2b3c4d": true}},
		Notifier: f.notifier,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	return f
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(ServiceOpts{})
	assert.Error(t, err)
}

func TestGenerateAndExecute_EmptyParse(t *testing.T) {
	f := newFixture(t)
	f.planner.plans[agent.ActionCaseSummary] = "Sorry, I can't help with that."

	rs, err := f.svc.GenerateAndExecute(context.Background(), "chat",
		agent.Intent{Action: agent.ActionCaseSummary, CaseID: "1a2b3c4d"}, query.PrefixBinding{CaseID: "1a2b3c4d"})
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	assert.Empty(t, f.runner.calls)
}

func TestExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.Exists(ctx, "1a2b3c4"), ErrInvalidID)
	assert.ErrorIs(t, f.svc.Exists(ctx, "ffffffff"), ErrNotFound)
	assert.NoError(t, f.svc.Exists(ctx, "1a2b3c4d"))

	f.svc.exists = fakeExists{err: errors.New("rpc down")}
	err := f.svc.Exists(ctx, "1a2b3c4d")
	assert.ErrorContains(t, err, "rpc down")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCaseSummary(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.CaseSummary(context.Background(), "chat", "1a2b3c4d")
	require.NoError(t, err)
	assert.Equal(t, "summary of 1a2b3c4d (2 tables)", out)
	require.Len(t, f.runner.calls, 2)
	assert.Equal(t, []any{"1a2b3c4d%"}, f.runner.calls[0].Params)
}

func TestCaseSummary_NoPlan(t *testing.T) {
	f := newFixture(t)
	delete(f.planner.plans, agent.ActionCaseSummary)
	out, err := f.svc.CaseSummary(context.Background(), "chat", "1a2b3c4d")
	require.NoError(t, err)
	assert.Equal(t, NoResults, out)
	assert.Empty(t, f.composer.seen)
}

func TestFullReport(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.FullReport(context.Background(), "chat", "1a2b3c4d")
	require.NoError(t, err)
	assert.Equal(t, "report of 1a2b3c4d", out)
}

func TestAllIssues(t *testing.T) {
	f := newFixture(t)
	q := "SELECT farm_name, status, assigned_team FROM issues"
	f.planner.plans[agent.ActionViewAllIssues] = fmt.Sprintf(`{"issues": %q}`, q)
	f.runner.results[q] = []map[string]any{
		{"farm_name": "A", "status": "open"},
		{"farm_name": "A", "status": "closed"},
		{"farm_name": "B", "status": "open", "assigned_team": "Technical"},
	}
	out, err := f.svc.AllIssues(context.Background(), "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "- Total Cases: 3")
	require.Len(t, f.runner.calls, 1)
	assert.Nil(t, f.runner.calls[0].Params)
}

func TestDynamicReport_ExtractsCaseID(t *testing.T) {
	f := newFixture(t)
	f.planner.plans[agent.ActionPrompt] = summaryPlan
	out, err := f.svc.DynamicReport(context.Background(), "chat", "what did the lab find for case deadbeef and case 1a2b3c4d?")
	require.NoError(t, err)
	assert.Equal(t, "answer for deadbeef", out)
	require.NotEmpty(t, f.planner.intents)
	assert.Equal(t, "deadbeef", f.planner.intents[0].CaseID)
	assert.Equal(t, []any{"deadbeef%"}, f.runner.calls[0].Params)
}

func TestCloseCase(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.CloseCase(context.Background(), "chat", "1a2b3c4d", "vaccinated; resolved")
	require.NoError(t, err)
	assert.Equal(t, "Case 1a2b3c4d has been closed.", out)

	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, "UPDATE issues SET status = 'closed', close_reason = $1 WHERE case_id LIKE $2", f.runner.calls[0].Query)
	assert.Equal(t, []any{"vaccinated; resolved", "1a2b3c4d%"}, f.runner.calls[0].Params)
}

func TestCloseCase_ExecutionFailure(t *testing.T) {
	f := newFixture(t)
	f.runner.errs[query.Translate(`UPDATE issues SET status = 'closed', close_reason = ? WHERE case_id LIKE ?`)] = errors.New("permission denied")
	_, err := f.svc.CloseCase(context.Background(), "chat", "1a2b3c4d", "done")
	assert.ErrorContains(t, err, "permission denied")
}

func TestCloseCase_NoPlan(t *testing.T) {
	f := newFixture(t)
	f.planner.plans[agent.ActionCloseCase] = "no"
	_, err := f.svc.CloseCase(context.Background(), "chat", "1a2b3c4d", "done")
	assert.ErrorContains(t, err, "no update was planned")
}

func TestEscalateCase(t *testing.T) {
	f := newFixture(t)
	var callsAtNotify int
	f.notifier.onNotify = func() { callsAtNotify = len(f.runner.calls) }

	out, err := f.svc.EscalateCase(context.Background(), "chat", "1a2b3c4d", "mortality rising")
	require.NoError(t, err)
	assert.Equal(t, "Case 1a2b3c4d has been escalated to the Technical team.", out)

	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, "mortality rising", f.notifier.msgs[0].Reason)
	assert.Equal(t, "email summary of 1a2b3c4d", f.notifier.msgs[0].Summary)

	// Two summary reads happen before the notice, the update after it.
	assert.Equal(t, 2, callsAtNotify)
	require.Len(t, f.runner.calls, 3)
	last := f.runner.calls[2]
	assert.Equal(t, "UPDATE issues SET assigned_team = $1 WHERE case_id LIKE $2", last.Query)
	assert.Equal(t, []any{agent.TechnicalTeam, "1a2b3c4d%"}, last.Params)
}

func TestEscalateCase_DeliveryFailureSkipsUpdate(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = fmt.Errorf("%w: smtp: 535", notify.ErrDelivery)

	_, err := f.svc.EscalateCase(context.Background(), "chat", "1a2b3c4d", "reason")
	require.Error(t, err)
	assert.ErrorIs(t, err, notify.ErrDelivery)
	for _, c := range f.runner.calls {
		assert.NotContains(t, c.Query, "UPDATE")
	}
}

func TestEscalateCase_SummaryFailureStillNotifies(t *testing.T) {
	f := newFixture(t)
	f.composer.summaryErr = errors.New("model down")
	_, err := f.svc.EscalateCase(context.Background(), "chat", "1a2b3c4d", "reason")
	require.NoError(t, err)
	require.Len(t, f.notifier.msgs, 1)
	assert.Equal(t, "No summary available.", f.notifier.msgs[0].Summary)
}

func TestEscalateCase_NoNotifier(t *testing.T) {
	f := newFixture(t)
	f.svc.notifier = nil
	_, err := f.svc.EscalateCase(context.Background(), "chat", "1a2b3c4d", "reason")
	assert.ErrorIs(t, err, notify.ErrDelivery)
	assert.Empty(t, f.runner.calls)
}

func TestStatusChange_Timeout(t *testing.T) {
	f := newFixture(t)
	f.svc.timeout = 20 * time.Millisecond
	f.planner.block = true

	_, err := f.svc.CloseCase(context.Background(), "chat", "1a2b3c4d", "done")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, f.runner.calls)
}

func TestInsertAttachment(t *testing.T) {
	f := newFixture(t)
	lookup := "SELECT case_id FROM issues WHERE case_id LIKE ?"
	insert := "INSERT INTO issue_attachments (case_id, file_name, file_path) VALUES (?, ?, ?)"
	f.planner.plans[agent.ActionInsertAttachment] = fmt.Sprintf(`{"issues": %q, "issue_attachments": %q}`, lookup, insert)
	f.runner.results[query.Translate(lookup)] = []map[string]any{{"case_id": "1a2b3c4d-0000-0000-0000-000000000009"}}

	out, err := f.svc.InsertAttachment(context.Background(), "chat", "1a2b3c4d", "lab.pdf", "cases/lab.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Attachment lab.pdf added to case 1a2b3c4d.", out)
	require.Len(t, f.runner.calls, 2)
	assert.Equal(t, []any{"1a2b3c4d-0000-0000-0000-000000000009", "lab.pdf", "cases/lab.pdf"}, f.runner.calls[1].Params)
}

func TestInsertAttachment_NoIssueRows(t *testing.T) {
	f := newFixture(t)
	f.planner.plans[agent.ActionInsertAttachment] = `{"issues": "SELECT case_id FROM issues WHERE case_id LIKE ?", "issue_attachments": "INSERT INTO issue_attachments (case_id, file_name, file_path) VALUES (?, ?, ?)"}`

	_, err := f.svc.InsertAttachment(context.Background(), "chat", "1a2b3c4d", "lab.pdf", "cases/lab.pdf")
	assert.ErrorContains(t, err, "attachment")
	assert.Len(t, f.runner.calls, 1)
}

func TestInsertAttachment_UnknownCase(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.InsertAttachment(context.Background(), "chat", "ffffffff", "a", "b")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, f.planner.intents)
}
