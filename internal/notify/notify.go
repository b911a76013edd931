// Package notify delivers case escalation notices to the technical team.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rahul/casedesk/internal/observability"
)

// ErrDelivery wraps every failure to deliver a notice.
var ErrDelivery = errors.New("notify: delivery failed")

// Message is one escalation notice.
type Message struct {
	CaseID  string
	Reason  string
	Summary string // composed case summary
}

// Subject is the notice title shared by every channel.
func (m Message) Subject() string {
	return fmt.Sprintf("Escalation Notice: Case #%s", m.CaseID)
}

// Text renders the plain-text body.
func (m Message) Text() string {
	return fmt.Sprintf("A case has been escalated to the technical team.\n\n"+
		"Case ID: %s\nReason for Escalation:\n%s\n\nCase Details:\n%s\n\n"+
		"Please review and follow up promptly, thank you.", m.CaseID, m.Reason, m.Summary)
}

// Notifier delivers a Message over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// Multi delivers a notice over required notifiers first and then over
// best-effort ones. Delivery succeeds when every required notifier
// succeeds; best-effort failures are logged and counted but never fail the
// call. Best-effort notifiers run only after every required one succeeds.
type Multi struct {
	required   []Notifier
	bestEffort []Notifier
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewMulti creates a Multi whose notifiers are all required. Nil entries
// are ignored.
func NewMulti(logger *observability.Logger, metrics *observability.Metrics, required ...Notifier) *Multi {
	m := &Multi{logger: logger, metrics: metrics}
	m.required = appendNonNil(m.required, required)
	return m
}

// WithBestEffort adds notifiers whose failures do not fail delivery. With
// no required notifier configured they are promoted to required.
func (m *Multi) WithBestEffort(notifiers ...Notifier) *Multi {
	m.bestEffort = appendNonNil(m.bestEffort, notifiers)
	return m
}

func appendNonNil(dst, src []Notifier) []Notifier {
	for _, n := range src {
		if n != nil {
			dst = append(dst, n)
		}
	}
	return dst
}

// Len reports the number of configured notifiers.
func (m *Multi) Len() int { return len(m.required) + len(m.bestEffort) }

func (m *Multi) Name() string { return "multi" }

// Notify runs the required notifiers and joins their failures. With no
// notifier configured it fails: an escalation nobody hears about is not
// delivered.
func (m *Multi) Notify(ctx context.Context, msg Message) error {
	required, bestEffort := m.required, m.bestEffort
	if len(required) == 0 {
		required, bestEffort = bestEffort, nil
	}
	if len(required) == 0 {
		return fmt.Errorf("%w: no notifier configured", ErrDelivery)
	}

	var errs []error
	for _, n := range required {
		if err := m.send(ctx, n, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrDelivery, errors.Join(errs...))
	}

	for _, n := range bestEffort {
		if err := m.send(ctx, n, msg); err != nil {
			log.Printf("notify: best-effort %s for case %s: %v", n.Name(), msg.CaseID, err)
		}
	}
	return nil
}

func (m *Multi) send(ctx context.Context, n Notifier, msg Message) error {
	err := n.Notify(ctx, msg)
	m.logger.LogNotify(msg.CaseID, n.Name(), err)
	m.metrics.ObserveNotification(n.Name(), err)
	return err
}
