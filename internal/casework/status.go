package casework

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rahul/casedesk/internal/agent"
	"github.com/rahul/casedesk/internal/notify"
	"github.com/rahul/casedesk/internal/query"
)

// CloseCase sets the case's status to closed and records reason. The
// reason is bound as a query parameter, never written into the SQL.
func (s *Service) CloseCase(ctx context.Context, chatID, caseID, reason string) (string, error) {
	text, err := s.bounded(ctx, func(ctx context.Context) (string, error) {
		rs, err := s.mutate(ctx, chatID, agent.ActionCloseCase, caseID, reason)
		if err != nil {
			return "", err
		}
		return s.composer.Confirmation(ctx, chatID, caseID, "closed", rs), nil
	})
	s.metrics.ObserveStatusChange(string(agent.ActionCloseCase), err)
	return text, err
}

// EscalateCase notifies the technical team and then assigns the case to
// it. When the notice cannot be delivered the case is left unchanged.
func (s *Service) EscalateCase(ctx context.Context, chatID, caseID, reason string) (string, error) {
	text, err := s.bounded(ctx, func(ctx context.Context) (string, error) {
		if s.notifier == nil {
			return "", fmt.Errorf("%w: no notifier configured", notify.ErrDelivery)
		}
		summary := s.emailSummary(ctx, chatID, caseID)
		if err := ctx.Err(); err != nil {
			return "", err
		}

		msg := notify.Message{CaseID: caseID, Reason: reason, Summary: summary}
		if err := s.notifier.Notify(ctx, msg); err != nil {
			return "", err
		}

		rs, err := s.mutate(ctx, chatID, agent.ActionEscalateCase, caseID, agent.TechnicalTeam)
		if err != nil {
			return "", err
		}
		return s.composer.Confirmation(ctx, chatID, caseID, "escalated to the "+agent.TechnicalTeam+" team", rs), nil
	})
	s.metrics.ObserveStatusChange(string(agent.ActionEscalateCase), err)
	return text, err
}

// emailSummary composes the notice body. The escalation still goes out when
// the summary cannot be built.
func (s *Service) emailSummary(ctx context.Context, chatID, caseID string) string {
	rs, err := s.read(ctx, chatID, agent.Intent{Action: agent.ActionCaseSummary, CaseID: caseID})
	if err == nil && rs.Len() > 0 {
		var summary string
		summary, err = s.composer.EmailSummary(ctx, chatID, caseID, rs)
		if err == nil {
			return summary
		}
	}
	if err != nil {
		log.Printf("casework: email summary for %s: %v", caseID, err)
	}
	return "No summary available."
}

// mutate plans and runs a single-statement status change binding value
// before the case pattern.
func (s *Service) mutate(ctx context.Context, chatID string, action agent.Action, caseID, value string) (*query.ResultSet, error) {
	in := agent.Intent{Action: action, CaseID: caseID}
	rs, err := s.GenerateAndExecute(ctx, chatID, in, query.MutationBinding{CaseID: caseID, Values: []any{value}})
	if err != nil {
		return nil, err
	}
	if rs.Len() == 0 {
		return nil, fmt.Errorf("casework: %s: no update was planned", action)
	}
	for _, table := range rs.Tables() {
		if res, _ := rs.Get(table); res.Failed() {
			return nil, fmt.Errorf("casework: %s: %s: %s", action, table, res.Err)
		}
	}
	return rs, nil
}

// bounded runs fn under the status change timeout. Running out of time is
// reported as ErrTimeout.
func (s *Service) bounded(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
	}
	return text, err
}
