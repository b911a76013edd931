package agent

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Messenger delivers a text message to a chat.
type Messenger interface {
	Send(chatID string, text string) error
}

// IssuesReporter produces the all-issues report.
type IssuesReporter interface {
	AllIssues(ctx context.Context, chatID string) (string, error)
}

// SubscriptionStore lists the chats subscribed to the digest.
type SubscriptionStore interface {
	ListSubscribers() ([]string, error)
}

// DigestScheduler sends the all-issues report to every subscribed chat on a
// cron schedule.
type DigestScheduler struct {
	Reports  IssuesReporter
	Store    SubscriptionStore
	Gateway  Messenger
	schedule cron.Schedule
}

// NewDigestScheduler parses spec as a standard 5-field cron expression.
func NewDigestScheduler(spec string, reports IssuesReporter, store SubscriptionStore, gateway Messenger) (*DigestScheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("agent: digest: invalid schedule %q: %w", spec, err)
	}
	return &DigestScheduler{
		Reports:  reports,
		Store:    store,
		Gateway:  gateway,
		schedule: schedule,
	}, nil
}

// Start runs the digest until ctx is cancelled.
func (s *DigestScheduler) Start(ctx context.Context) error {
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() { s.RunOnce(ctx) }))
	c.Start()
	log.Println("agent: digest scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnce builds one report and sends it to every subscriber. It returns
// the number of chats reached.
func (s *DigestScheduler) RunOnce(ctx context.Context) int {
	chats, err := s.Store.ListSubscribers()
	if err != nil {
		log.Printf("agent: digest: list subscribers: %v", err)
		return 0
	}
	if len(chats) == 0 {
		return 0
	}

	report, err := s.Reports.AllIssues(ctx, "digest")
	if err != nil {
		log.Printf("agent: digest: build report: %v", err)
		return 0
	}

	sent := 0
	for _, chatID := range chats {
		if err := s.Gateway.Send(chatID, "🗓 Issues Digest\n\n"+report); err != nil {
			log.Printf("agent: digest: send to %s: %v", chatID, err)
			continue
		}
		sent++
	}
	return sent
}
