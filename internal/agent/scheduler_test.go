package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	text  string
	err   error
	calls int
}

func (f *fakeReporter) AllIssues(ctx context.Context, chatID string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeSubscriptions []string

func (f fakeSubscriptions) ListSubscribers() ([]string, error) { return f, nil }

type fakeMessenger struct {
	sent map[string]string
	fail map[string]bool
}

func (f *fakeMessenger) Send(chatID, text string) error {
	if f.fail[chatID] {
		return errors.New("blocked by user")
	}
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[chatID] = text
	return nil
}

func TestNewDigestScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewDigestScheduler("every morning", &fakeReporter{}, fakeSubscriptions{}, &fakeMessenger{})
	assert.Error(t, err)
}

func TestDigestScheduler_RunOnce(t *testing.T) {
	reports := &fakeReporter{text: "Issues Summary:"}
	gw := &fakeMessenger{fail: map[string]bool{"3": true}}
	s, err := NewDigestScheduler("0 8 * * *", reports, fakeSubscriptions{"1", "2", "3"}, gw)
	require.NoError(t, err)

	assert.Equal(t, 2, s.RunOnce(context.Background()))
	assert.Equal(t, 1, reports.calls, "one report for all subscribers")
	assert.Contains(t, gw.sent["1"], "Issues Summary:")
	assert.Contains(t, gw.sent["2"], "Issues Digest")
}

func TestDigestScheduler_NoSubscribersSkipsReport(t *testing.T) {
	reports := &fakeReporter{}
	s, err := NewDigestScheduler("@daily", reports, fakeSubscriptions{}, &fakeMessenger{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.RunOnce(context.Background()))
	assert.Zero(t, reports.calls)
}

func TestDigestScheduler_ReportErrorSendsNothing(t *testing.T) {
	gw := &fakeMessenger{}
	s, err := NewDigestScheduler("@hourly", &fakeReporter{err: errors.New("planner down")}, fakeSubscriptions{"1"}, gw)
	require.NoError(t, err)
	assert.Equal(t, 0, s.RunOnce(context.Background()))
	assert.Empty(t, gw.sent)
}

func TestDigestScheduler_StartStopsWithContext(t *testing.T) {
	s, err := NewDigestScheduler("@yearly", &fakeReporter{}, fakeSubscriptions{}, &fakeMessenger{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, s.Start(ctx))
}
