package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rahul/casedesk/internal/casework"
	"github.com/rahul/casedesk/internal/gateway"
	"github.com/rahul/casedesk/internal/notify"
	"github.com/rahul/casedesk/internal/observability"
)

// Cases abstracts the casework.Service methods the machine drives, enabling
// test fakes.
type Cases interface {
	Exists(ctx context.Context, caseID string) error
	CaseSummary(ctx context.Context, chatID, caseID string) (string, error)
	FullReport(ctx context.Context, chatID, caseID string) (string, error)
	AllIssues(ctx context.Context, chatID string) (string, error)
	DynamicReport(ctx context.Context, chatID, prompt string) (string, error)
	CloseCase(ctx context.Context, chatID, caseID, reason string) (string, error)
	EscalateCase(ctx context.Context, chatID, caseID, reason string) (string, error)
}

// Subscriptions manages the chats that receive the issues digest.
type Subscriptions interface {
	Subscribe(chatID string) error
	Unsubscribe(chatID string) error
}

// Commands and button data.
const (
	CmdStart         = "start"
	CmdCancel        = "cancel"
	CmdDynamicReport = "generate_dynamic_report"
	CmdExit          = "exit"
	CmdSubscribe     = "subscribe"
	CmdUnsubscribe   = "unsubscribe"

	BtnCaseSummary    = "case_summary"
	BtnGenerateReport = "generate_report"
	BtnViewAllIssues  = "view_all_issues"
	BtnCloseCase      = "close_case"
	BtnEscalateCase   = "escalate_case"
)

// User-facing texts.
const (
	MenuText          = "📋 Main Menu: Please choose an option below:"
	TextChooseFirst   = "❗ Please choose an action first using the menu."
	TextEmptyInput    = "❗ Input cannot be empty. Please try again."
	TextInvalidID     = "❗ Invalid Case ID format. Please enter the first 8 characters of the case ID."
	TextCancelled     = "❌ Action cancelled. Returning to the main menu."
	TextDynamicPrompt = "Type your prompt to generate a report.\nSend /exit to return to the main menu."
	TextDynamicAgain  = "Type a new prompt or /exit to leave."
	TextExitDynamic   = "🚪 Exiting dynamic report mode."
	TextNotInDynamic  = "❓ You are not in dynamic report mode."
	TextUnknown       = "⚠️ Unknown action. Please try again."
)

// MainMenu is the inline menu shown after every terminal transition.
var MainMenu = [][]gateway.Button{
	{
		{Label: "Get Case Summary", Data: BtnCaseSummary},
		{Label: "Generate Report", Data: BtnGenerateReport},
		{Label: "View All Issues", Data: BtnViewAllIssues},
	},
	{
		{Label: "Close Case", Data: BtnCloseCase},
		{Label: "Escalate Case", Data: BtnEscalateCase},
	},
}

// menuButtons maps a button to the session it starts and the prompt asking
// for the case ID.
var menuButtons = map[string]struct {
	action Action
	prompt string
}{
	BtnCaseSummary:    {ActionCaseSummary, "📥 Please enter the Case ID for the summary:"},
	BtnGenerateReport: {ActionGenerateReport, "📥 Please enter the Case ID for the full report:"},
	BtnCloseCase:      {ActionClosingCase, "📥 Please enter the Case ID for the case you want to close."},
	BtnEscalateCase:   {ActionEscalatingCase, "📥 Please enter the Case ID for the case you want to escalate."},
}

// Machine drives each user's conversation. Events for one user must be
// handled one at a time (the gateway.Dispatcher guarantees this); events
// for different users may be handled concurrently.
type Machine struct {
	store   *Store
	cases   Cases
	subs    Subscriptions
	logger  *observability.Logger
	metrics *observability.Metrics
}

// MachineOpts holds parameters for creating a Machine.
type MachineOpts struct {
	Store   *Store // default NewStore()
	Cases   Cases
	Subs    Subscriptions // optional; /subscribe is unavailable without it
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewMachine creates a Machine.
func NewMachine(opts MachineOpts) (*Machine, error) {
	if opts.Cases == nil {
		return nil, fmt.Errorf("session: cases is required")
	}
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	return &Machine{
		store:   opts.Store,
		cases:   opts.Cases,
		subs:    opts.Subs,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Store returns the machine's session store.
func (m *Machine) Store() *Store { return m.store }

// Handle implements gateway.Handler.
func (m *Machine) Handle(ctx context.Context, ev gateway.Event, reply gateway.ReplyFunc) {
	switch ev.Kind {
	case gateway.EventCommand:
		m.command(ctx, ev, reply)
	case gateway.EventButton:
		m.button(ctx, ev, reply)
	default:
		m.text(ctx, ev, reply)
	}
	m.metrics.SetSessions(m.store.Len())
}

func menu(text string) gateway.Reply {
	return gateway.Reply{Text: text, Menu: MainMenu}
}

func say(text string) gateway.Reply {
	return gateway.Reply{Text: text}
}

func pre(text string) gateway.Reply {
	return gateway.Reply{Text: text, Pre: true}
}

func (m *Machine) put(ctx context.Context, ev gateway.Event, sess Session, transition string) {
	m.store.Put(ev.UserID, sess)
	m.logger.LogSession(ev.ChatID, observability.TaskID(ctx), string(sess.Action), string(sess.Step), transition)
}

func (m *Machine) reset(ctx context.Context, ev gateway.Event, transition string) {
	m.put(ctx, ev, Idle(), transition)
}

func (m *Machine) command(ctx context.Context, ev gateway.Event, reply gateway.ReplyFunc) {
	switch ev.Text {
	case CmdStart:
		reply(menu(MenuText))

	case CmdCancel:
		m.reset(ctx, ev, "cancel")
		reply(say(TextCancelled))
		reply(menu(MenuText))

	case CmdDynamicReport:
		m.put(ctx, ev, Session{Action: ActionDynamicReport, Step: StepAwaitingPrompt}, "select")
		reply(say(TextDynamicPrompt))

	case CmdExit:
		if m.store.Get(ev.UserID).Action != ActionDynamicReport {
			reply(say(TextNotInDynamic))
			return
		}
		m.reset(ctx, ev, "exit")
		reply(say(TextExitDynamic))
		reply(menu(MenuText))

	case CmdSubscribe, CmdUnsubscribe:
		reply(say(m.subscription(ev)))

	default:
		reply(menu(TextUnknown))
	}
}

func (m *Machine) subscription(ev gateway.Event) string {
	if m.subs == nil {
		return "❌ The issues digest is not enabled."
	}
	if ev.Text == CmdSubscribe {
		if err := m.subs.Subscribe(ev.ChatID); err != nil {
			log.Printf("session: subscribe %s: %v", ev.ChatID, err)
			return fmt.Sprintf("❌ Could not subscribe: %v", err)
		}
		return "🔔 Subscribed to the issues digest."
	}
	if err := m.subs.Unsubscribe(ev.ChatID); err != nil {
		log.Printf("session: unsubscribe %s: %v", ev.ChatID, err)
		return fmt.Sprintf("❌ Could not unsubscribe: %v", err)
	}
	return "🔕 Unsubscribed from the issues digest."
}

func (m *Machine) button(ctx context.Context, ev gateway.Event, reply gateway.ReplyFunc) {
	if ev.Text == BtnViewAllIssues {
		reply(say("🔍 Viewing all issues..."))
		result, err := m.cases.AllIssues(ctx, ev.ChatID)
		if err != nil {
			reply(say(fmt.Sprintf("❌ Error: %v", err)))
		} else {
			reply(pre(result))
		}
		reply(menu(MenuText))
		return
	}

	b, ok := menuButtons[ev.Text]
	if !ok {
		reply(menu(TextUnknown))
		return
	}
	m.put(ctx, ev, Session{Action: b.action, Step: StepAwaitingCaseID}, "select")
	reply(say(b.prompt))
}

func (m *Machine) text(ctx context.Context, ev gateway.Event, reply gateway.ReplyFunc) {
	sess := m.store.Get(ev.UserID)
	if sess.IsIdle() {
		reply(say(TextChooseFirst))
		reply(menu(MenuText))
		return
	}
	if ev.Text == "" {
		reply(say(TextEmptyInput))
		return
	}

	switch sess.Step {
	case StepAwaitingCaseID:
		m.caseID(ctx, ev, sess, reply)
	case StepAwaitingReason:
		m.reason(ctx, ev, sess, reply)
	case StepAwaitingPrompt:
		m.prompt(ctx, ev, reply)
	default:
		m.reset(ctx, ev, "unknown")
		reply(menu(TextUnknown))
	}
}

// caseID validates the identifier and checks it exists. Failures leave the
// session where it is so the user can try again.
func (m *Machine) caseID(ctx context.Context, ev gateway.Event, sess Session, reply gateway.ReplyFunc) {
	id := ev.Text
	if err := m.cases.Exists(ctx, id); err != nil {
		switch {
		case errors.Is(err, casework.ErrInvalidID):
			reply(say(TextInvalidID))
		case errors.Is(err, casework.ErrNotFound):
			reply(say(fmt.Sprintf("❌ Case ID %s does not exist, please try again.", id)))
		default:
			log.Printf("session: existence check for %s: %v", id, err)
			reply(say(fmt.Sprintf("❌ Could not check case %s: %v", id, err)))
		}
		return
	}

	switch sess.Action {
	case ActionClosingCase:
		m.put(ctx, ev, sess.With(FieldCaseID, id).advance(StepAwaitingReason), "case_id")
		reply(say(fmt.Sprintf("📝 Please provide a reason for closing the case %s:", id)))

	case ActionEscalatingCase:
		m.put(ctx, ev, sess.With(FieldCaseID, id).advance(StepAwaitingReason), "case_id")
		reply(say(fmt.Sprintf("📝 Please enter the reason for escalating the case %s:", id)))

	case ActionCaseSummary:
		reply(say("⏳ Generating case summary..."))
		m.finish(ctx, ev, reply, "summary", func() (string, error) {
			return m.cases.CaseSummary(ctx, ev.ChatID, id)
		})

	case ActionGenerateReport:
		reply(say("⏳ Generating full report..."))
		m.finish(ctx, ev, reply, "report", func() (string, error) {
			return m.cases.FullReport(ctx, ev.ChatID, id)
		})

	default:
		m.reset(ctx, ev, "unknown")
		reply(menu(TextUnknown))
	}
}

// finish runs a read-only report, replies with it and resets the session.
func (m *Machine) finish(ctx context.Context, ev gateway.Event, reply gateway.ReplyFunc, kind string, run func() (string, error)) {
	result, err := run()
	m.reset(ctx, ev, "done")
	if err != nil {
		reply(say(fmt.Sprintf("❌ Failed to generate %s: %v", kind, err)))
	} else {
		reply(pre(result))
	}
	reply(menu(MenuText))
}

// reason executes the status change. The session resets whatever the
// outcome.
func (m *Machine) reason(ctx context.Context, ev gateway.Event, sess Session, reply gateway.ReplyFunc) {
	id := sess.Field(FieldCaseID)
	reason := ev.Text
	m.reset(ctx, ev, "done")

	switch sess.Action {
	case ActionClosingCase:
		result, err := m.cases.CloseCase(ctx, ev.ChatID, id, reason)
		if err != nil {
			reply(say(fmt.Sprintf("❌ Case closure failed: %v", err)))
		} else {
			reply(say(fmt.Sprintf("✅ Case closed successfully: %s", result)))
		}

	case ActionEscalatingCase:
		result, err := m.cases.EscalateCase(ctx, ev.ChatID, id, reason)
		switch {
		case err == nil:
			reply(say(fmt.Sprintf("✅ Case %s has been escalated and the technical team has been notified.\n%s", id, result)))
		case errors.Is(err, notify.ErrDelivery):
			log.Printf("session: escalation notice for %s: %v", id, err)
			reply(say("❌ Failed to send the escalation email. Please try again later."))
		default:
			reply(say(fmt.Sprintf("❌ Case escalation failed: %v", err)))
		}

	default:
		reply(say(TextUnknown))
	}
	reply(menu(MenuText))
}

// prompt answers one dynamic report prompt. The session stays in
// dynamic_report until /exit or /cancel.
func (m *Machine) prompt(ctx context.Context, ev gateway.Event, reply gateway.ReplyFunc) {
	reply(say("⏳ Generating report from your prompt..."))
	report, err := m.cases.DynamicReport(ctx, ev.ChatID, ev.Text)
	if err != nil {
		reply(say(fmt.Sprintf("❌ Failed to generate dynamic report: %v", err)))
	} else {
		reply(say("📝 Here's the report:"))
		reply(pre(report))
	}
	reply(say(TextDynamicAgain))
}
