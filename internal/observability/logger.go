package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypeQuery       EventType = "query"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeReport      EventType = "report"
	EventTypeSession     EventType = "session"
	EventTypeNotify      EventType = "notify"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging. A nil *Logger discards events.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger(dir string) *Logger {
	if dir == "" {
		dir = "logs"
	}
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join(dir, "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewWriterLogger returns a Logger that writes events to w only; LLM
// events are not mirrored to disk.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{out: w}
}

// Log emits a structured JSON event to stdout.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Fprintf(l.out, "{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogPlan(chatID, taskID, action, kind string, tables []string) {
	l.Log(Event{
		Type:   EventTypePlan,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"action": action,
			"kind":   kind,
			"tables": tables,
		},
	})
}

func (l *Logger) LogQuery(taskID, table, query string, params []any, outcome, errText string) {
	l.Log(Event{
		Type:   EventTypeQuery,
		TaskID: taskID,
		Data: map[string]any{
			"table":   table,
			"query":   query,
			"params":  params,
			"outcome": outcome,
			"error":   errText,
		},
	})
}

func (l *Logger) LogPolicyCheck(taskID, table, effect, reason string) {
	l.Log(Event{
		Type:   EventTypePolicyCheck,
		TaskID: taskID,
		Data: map[string]string{
			"table":  table,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogReport(chatID, taskID, kind string, length int) {
	l.Log(Event{
		Type:   EventTypeReport,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"kind":   kind,
			"length": length,
		},
	})
}

func (l *Logger) LogSession(chatID, taskID, action, step, transition string) {
	l.Log(Event{
		Type:   EventTypeSession,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"action":     action,
			"step":       step,
			"transition": transition,
		},
	})
}

func (l *Logger) LogNotify(caseID, channel string, err error) {
	data := map[string]string{"case_id": caseID, "channel": channel, "status": "sent"}
	if err != nil {
		data["status"] = "failed"
		data["error"] = err.Error()
	}
	l.Log(Event{
		Type: EventTypeNotify,
		Data: data,
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(chatID, taskID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}

type taskIDKey struct{}

// WithTaskID tags ctx with the id of the inbound event being processed.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskID returns the id stored by WithTaskID, or "".
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey{}).(string)
	return id
}
