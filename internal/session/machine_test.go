package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/casedesk/internal/caseid"
	"github.com/rahul/casedesk/internal/casework"
	"github.com/rahul/casedesk/internal/gateway"
	"github.com/rahul/casedesk/internal/notify"
)

type fakeCases struct {
	mu       sync.Mutex
	known    map[string]bool
	closeErr error
	escErr   error
	reportEr error
	calls    []string
}

func newFakeCases(ids ...string) *fakeCases {
	f := &fakeCases{known: map[string]bool{}}
	for _, id := range ids {
		f.known[id] = true
	}
	return f
}

func (f *fakeCases) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCases) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCases) Exists(ctx context.Context, id string) error {
	if !caseid.Valid(id) {
		return casework.ErrInvalidID
	}
	if !f.known[id] {
		return casework.ErrNotFound
	}
	return nil
}

func (f *fakeCases) CaseSummary(ctx context.Context, chatID, id string) (string, error) {
	f.record("summary " + id)
	return "summary of " + id, f.reportEr
}

func (f *fakeCases) FullReport(ctx context.Context, chatID, id string) (string, error) {
	f.record("report " + id)
	return "report of " + id, f.reportEr
}

func (f *fakeCases) AllIssues(ctx context.Context, chatID string) (string, error) {
	f.record("issues")
	return "Issues Summary:", f.reportEr
}

func (f *fakeCases) DynamicReport(ctx context.Context, chatID, prompt string) (string, error) {
	f.record("dynamic " + prompt)
	if f.reportEr != nil {
		return "", f.reportEr
	}
	return "answer to " + prompt, nil
}

func (f *fakeCases) CloseCase(ctx context.Context, chatID, id, reason string) (string, error) {
	f.record("close " + id + " " + reason)
	if f.closeErr != nil {
		return "", f.closeErr
	}
	return fmt.Sprintf("Case %s has been closed.", id), nil
}

func (f *fakeCases) EscalateCase(ctx context.Context, chatID, id, reason string) (string, error) {
	f.record("escalate " + id + " " + reason)
	if f.escErr != nil {
		return "", f.escErr
	}
	return fmt.Sprintf("Case %s has been escalated.", id), nil
}

type fakeSubs struct {
	chats map[string]bool
	err   error
}

func (f *fakeSubs) Subscribe(chatID string) error {
	if f.err != nil {
		return f.err
	}
	f.chats[chatID] = true
	return nil
}

func (f *fakeSubs) Unsubscribe(chatID string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.chats, chatID)
	return nil
}

func newMachine(t *testing.T, cases Cases) *Machine {
	t.Helper()
	m, err := NewMachine(MachineOpts{Cases: cases, Subs: &fakeSubs{chats: map[string]bool{}}})
	require.NoError(t, err)
	return m
}

func send(m *Machine, user string, kind gateway.EventKind, text string) []gateway.Reply {
	var out []gateway.Reply
	ev := gateway.Event{Kind: kind, UserID: user, ChatID: "chat-" + user, Text: text}
	m.Handle(context.Background(), ev, func(r gateway.Reply) { out = append(out, r) })
	return out
}

func texts(replies []gateway.Reply) []string {
	out := make([]string, len(replies))
	for i, r := range replies {
		out[i] = r.Text
	}
	return out
}

func last(replies []gateway.Reply) gateway.Reply {
	return replies[len(replies)-1]
}

const knownID = "a1b2c3d4"

func TestNewMachine_RequiresCases(t *testing.T) {
	_, err := NewMachine(MachineOpts{})
	require.Error(t, err)
}

func TestMachine_TextWhileIdle(t *testing.T) {
	m := newMachine(t, newFakeCases())

	replies := send(m, "u1", gateway.EventText, "hello")

	assert.Equal(t, []string{TextChooseFirst, MenuText}, texts(replies))
	assert.Equal(t, MainMenu, last(replies).Menu)
	assert.True(t, m.Store().Get("u1").IsIdle())
}

func TestMachine_StartShowsMenu(t *testing.T) {
	m := newMachine(t, newFakeCases())
	replies := send(m, "u1", gateway.EventCommand, CmdStart)
	require.Len(t, replies, 1)
	assert.Equal(t, MenuText, replies[0].Text)
	assert.Len(t, replies[0].Menu, 2)
}

func TestMachine_CloseFlow(t *testing.T) {
	cases := newFakeCases(knownID)
	m := newMachine(t, cases)

	replies := send(m, "u1", gateway.EventButton, BtnCloseCase)
	assert.Equal(t, []string{"📥 Please enter the Case ID for the case you want to close."}, texts(replies))
	assert.Equal(t, Session{Action: ActionClosingCase, Step: StepAwaitingCaseID}, m.Store().Get("u1"))

	// Bad format re-prompts and keeps the step.
	replies = send(m, "u1", gateway.EventText, "xyz")
	assert.Equal(t, []string{TextInvalidID}, texts(replies))
	assert.Equal(t, StepAwaitingCaseID, m.Store().Get("u1").Step)

	// Unknown case re-prompts and keeps the step.
	replies = send(m, "u1", gateway.EventText, "ffffffff")
	assert.Equal(t, []string{"❌ Case ID ffffffff does not exist, please try again."}, texts(replies))
	assert.Equal(t, StepAwaitingCaseID, m.Store().Get("u1").Step)

	replies = send(m, "u1", gateway.EventText, knownID)
	assert.Equal(t, []string{"📝 Please provide a reason for closing the case a1b2c3d4:"}, texts(replies))
	sess := m.Store().Get("u1")
	assert.Equal(t, StepAwaitingReason, sess.Step)
	assert.Equal(t, knownID, sess.Field(FieldCaseID))

	replies = send(m, "u1", gateway.EventText, "resolved")
	assert.Equal(t, []string{"✅ Case closed successfully: Case a1b2c3d4 has been closed.", MenuText}, texts(replies))
	assert.True(t, m.Store().Get("u1").IsIdle())
	assert.Equal(t, []string{"close a1b2c3d4 resolved"}, cases.Calls())
}

func TestMachine_CloseFailureStillResets(t *testing.T) {
	cases := newFakeCases(knownID)
	cases.closeErr = casework.ErrTimeout
	m := newMachine(t, cases)

	send(m, "u1", gateway.EventButton, BtnCloseCase)
	send(m, "u1", gateway.EventText, knownID)
	replies := send(m, "u1", gateway.EventText, "resolved")

	assert.Equal(t, "❌ Case closure failed: "+casework.ErrTimeout.Error(), replies[0].Text)
	assert.Equal(t, MenuText, last(replies).Text)
	assert.True(t, m.Store().Get("u1").IsIdle())
}

func TestMachine_EscalateFlow(t *testing.T) {
	cases := newFakeCases(knownID)
	m := newMachine(t, cases)

	send(m, "u1", gateway.EventButton, BtnEscalateCase)
	replies := send(m, "u1", gateway.EventText, knownID)
	assert.Equal(t, []string{"📝 Please enter the reason for escalating the case a1b2c3d4:"}, texts(replies))

	replies = send(m, "u1", gateway.EventText, "vet needed")
	assert.Equal(t, "✅ Case a1b2c3d4 has been escalated and the technical team has been notified.\nCase a1b2c3d4 has been escalated.", replies[0].Text)
	assert.True(t, m.Store().Get("u1").IsIdle())
	assert.Equal(t, []string{"escalate a1b2c3d4 vet needed"}, cases.Calls())
}

func TestMachine_EscalateDeliveryFailure(t *testing.T) {
	cases := newFakeCases(knownID)
	cases.escErr = fmt.Errorf("%w: smtp down", notify.ErrDelivery)
	m := newMachine(t, cases)

	send(m, "u1", gateway.EventButton, BtnEscalateCase)
	send(m, "u1", gateway.EventText, knownID)
	replies := send(m, "u1", gateway.EventText, "vet needed")

	assert.Equal(t, "❌ Failed to send the escalation email. Please try again later.", replies[0].Text)
	assert.True(t, m.Store().Get("u1").IsIdle())
}

func TestMachine_SummaryAndReport(t *testing.T) {
	tests := []struct {
		button   string
		progress string
		result   string
	}{
		{BtnCaseSummary, "⏳ Generating case summary...", "summary of a1b2c3d4"},
		{BtnGenerateReport, "⏳ Generating full report...", "report of a1b2c3d4"},
	}
	for _, tt := range tests {
		t.Run(tt.button, func(t *testing.T) {
			m := newMachine(t, newFakeCases(knownID))

			send(m, "u1", gateway.EventButton, tt.button)
			replies := send(m, "u1", gateway.EventText, knownID)

			require.Len(t, replies, 3)
			assert.Equal(t, tt.progress, replies[0].Text)
			assert.Equal(t, tt.result, replies[1].Text)
			assert.True(t, replies[1].Pre)
			assert.Equal(t, MenuText, replies[2].Text)
			assert.True(t, m.Store().Get("u1").IsIdle())
		})
	}
}

func TestMachine_SummaryErrorResets(t *testing.T) {
	cases := newFakeCases(knownID)
	cases.reportEr = errors.New("model unavailable")
	m := newMachine(t, cases)

	send(m, "u1", gateway.EventButton, BtnCaseSummary)
	replies := send(m, "u1", gateway.EventText, knownID)

	assert.Equal(t, "❌ Failed to generate summary: model unavailable", replies[1].Text)
	assert.True(t, m.Store().Get("u1").IsIdle())
}

func TestMachine_ViewAllIssuesIsOneShot(t *testing.T) {
	cases := newFakeCases()
	m := newMachine(t, cases)

	replies := send(m, "u1", gateway.EventButton, BtnViewAllIssues)

	require.Len(t, replies, 3)
	assert.True(t, replies[1].Pre)
	assert.Equal(t, "Issues Summary:", replies[1].Text)
	assert.Equal(t, MainMenu, replies[2].Menu)
	assert.Equal(t, 0, m.Store().Len())
}

func TestMachine_EmptyInput(t *testing.T) {
	m := newMachine(t, newFakeCases())
	send(m, "u1", gateway.EventButton, BtnCaseSummary)

	replies := send(m, "u1", gateway.EventText, "")

	assert.Equal(t, []string{TextEmptyInput}, texts(replies))
	assert.Equal(t, StepAwaitingCaseID, m.Store().Get("u1").Step)
}

func TestMachine_CancelClearsAnyState(t *testing.T) {
	m := newMachine(t, newFakeCases(knownID))
	send(m, "u1", gateway.EventButton, BtnCloseCase)
	send(m, "u1", gateway.EventText, knownID)
	require.Equal(t, StepAwaitingReason, m.Store().Get("u1").Step)

	replies := send(m, "u1", gateway.EventCommand, CmdCancel)

	assert.Equal(t, []string{TextCancelled, MenuText}, texts(replies))
	assert.True(t, m.Store().Get("u1").IsIdle())
}

func TestMachine_ExitOutsideDynamicIsNoop(t *testing.T) {
	m := newMachine(t, newFakeCases())
	send(m, "u1", gateway.EventButton, BtnCaseSummary)

	replies := send(m, "u1", gateway.EventCommand, CmdExit)

	assert.Equal(t, []string{TextNotInDynamic}, texts(replies))
	assert.Equal(t, ActionCaseSummary, m.Store().Get("u1").Action)
}

func TestMachine_DynamicReportLoop(t *testing.T) {
	cases := newFakeCases()
	m := newMachine(t, cases)

	replies := send(m, "u1", gateway.EventCommand, CmdDynamicReport)
	assert.Equal(t, []string{TextDynamicPrompt}, texts(replies))

	replies = send(m, "u1", gateway.EventText, "how many open cases")
	assert.Equal(t, []string{
		"⏳ Generating report from your prompt...",
		"📝 Here's the report:",
		"answer to how many open cases",
		TextDynamicAgain,
	}, texts(replies))
	assert.Equal(t, Session{Action: ActionDynamicReport, Step: StepAwaitingPrompt}, m.Store().Get("u1"))

	replies = send(m, "u1", gateway.EventCommand, CmdExit)
	assert.Equal(t, []string{TextExitDynamic, MenuText}, texts(replies))
	assert.True(t, m.Store().Get("u1").IsIdle())
}

func TestMachine_UnknownInputs(t *testing.T) {
	m := newMachine(t, newFakeCases())

	replies := send(m, "u1", gateway.EventCommand, "bogus")
	assert.Equal(t, TextUnknown, replies[0].Text)

	replies = send(m, "u1", gateway.EventButton, "bogus")
	assert.Equal(t, TextUnknown, replies[0].Text)
	assert.Equal(t, 0, m.Store().Len())
}

func TestMachine_Subscriptions(t *testing.T) {
	subs := &fakeSubs{chats: map[string]bool{}}
	m, err := NewMachine(MachineOpts{Cases: newFakeCases(), Subs: subs})
	require.NoError(t, err)

	replies := send(m, "u1", gateway.EventCommand, CmdSubscribe)
	assert.Contains(t, replies[0].Text, "Subscribed")
	assert.True(t, subs.chats["chat-u1"])

	replies = send(m, "u1", gateway.EventCommand, CmdUnsubscribe)
	assert.Contains(t, replies[0].Text, "Unsubscribed")
	assert.Empty(t, subs.chats)

	subs.err = errors.New("disk full")
	replies = send(m, "u1", gateway.EventCommand, CmdSubscribe)
	assert.Contains(t, replies[0].Text, "disk full")

	plain, err := NewMachine(MachineOpts{Cases: newFakeCases()})
	require.NoError(t, err)
	replies = send(plain, "u1", gateway.EventCommand, CmdSubscribe)
	assert.Contains(t, replies[0].Text, "not enabled")
}

func TestMachine_UsersAreIsolated(t *testing.T) {
	cases := newFakeCases(knownID)
	m := newMachine(t, cases)

	send(m, "alice", gateway.EventButton, BtnCloseCase)
	send(m, "alice", gateway.EventText, knownID)

	// Bob's text must not consume Alice's pending reason.
	replies := send(m, "bob", gateway.EventText, "resolved")
	assert.Equal(t, TextChooseFirst, replies[0].Text)

	send(m, "bob", gateway.EventCommand, CmdCancel)

	sess := m.Store().Get("alice")
	assert.Equal(t, StepAwaitingReason, sess.Step)
	assert.Equal(t, knownID, sess.Field(FieldCaseID))
	assert.Empty(t, cases.Calls())
}

func TestMachine_ConcurrentUsers(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("%08x", i+1)
	}
	cases := newFakeCases(ids...)
	m := newMachine(t, cases)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(user, id string) {
			defer wg.Done()
			send(m, user, gateway.EventButton, BtnCloseCase)
			send(m, user, gateway.EventText, id)
			send(m, user, gateway.EventText, "reason-"+user)
		}(fmt.Sprintf("user-%d", i), id)
	}
	wg.Wait()

	calls := cases.Calls()
	require.Len(t, calls, len(ids))
	for _, c := range calls {
		// Every close pairs a user's own case ID with that user's reason.
		var id, reason string
		_, err := fmt.Sscanf(c, "close %s %s", &id, &reason)
		require.NoError(t, err)
		n := strings.TrimPrefix(reason, "reason-user-")
		assert.Equal(t, ids[atoi(t, n)], id)
	}
	assert.Equal(t, 0, m.Store().Len())
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	require.NoError(t, err)
	return n
}

func TestMachine_StatusChangeAlwaysResets(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("close and escalate end idle whatever the outcome", prop.ForAll(
		func(escalate, fail bool, reason string) bool {
			cases := newFakeCases(knownID)
			if fail {
				cases.closeErr = errors.New("boom")
				cases.escErr = errors.New("boom")
			}
			m, _ := NewMachine(MachineOpts{Cases: cases})
			button := BtnCloseCase
			if escalate {
				button = BtnEscalateCase
			}
			send(m, "u1", gateway.EventButton, button)
			send(m, "u1", gateway.EventText, knownID)
			replies := send(m, "u1", gateway.EventText, "r"+reason)
			return m.Store().Get("u1").IsIdle() &&
				m.Store().Len() == 0 &&
				last(replies).Text == MenuText
		},
		gen.Bool(),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestMachine_DynamicReportStaysUntilExit(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("any number of prompts keeps the dynamic session", prop.ForAll(
		func(prompts []string, fail bool) bool {
			cases := newFakeCases()
			if fail {
				cases.reportEr = errors.New("boom")
			}
			m, _ := NewMachine(MachineOpts{Cases: cases})
			send(m, "u1", gateway.EventCommand, CmdDynamicReport)
			for _, p := range prompts {
				replies := send(m, "u1", gateway.EventText, "p"+p)
				if last(replies).Text != TextDynamicAgain {
					return false
				}
				if m.Store().Get("u1").Action != ActionDynamicReport {
					return false
				}
			}
			send(m, "u1", gateway.EventCommand, CmdExit)
			return m.Store().Get("u1").IsIdle()
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
