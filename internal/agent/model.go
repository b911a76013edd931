// Package agent holds the language-model backed parts of the case desk: the
// query planner, the report composer and the scheduled digest.
package agent

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/rahul/casedesk/internal/observability"
)

// Model wraps an llms.Model with a request rate limit and LLM event logging.
type Model struct {
	llm     llms.Model
	limiter *rate.Limiter
	logger  *observability.Logger
}

// NewModel wraps llm. rps <= 0 disables the rate limit.
func NewModel(llm llms.Model, rps float64, logger *observability.Logger) *Model {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Model{
		llm:     llm,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Generate sends a system prompt and a single human turn and returns the
// first choice.
func (m *Model) Generate(ctx context.Context, chatID, system, prompt string, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("agent: rate limit: %w", err)
	}

	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	})

	resp, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("agent: generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, fmt.Errorf("agent: generate: model returned no choices")
	}
	choice := resp.Choices[0]

	m.logger.LogLLM(chatID, observability.TaskID(ctx), messages, choice.Content, choice.ToolCalls)
	return choice, nil
}

// Text is Generate for prose replies.
func (m *Model) Text(ctx context.Context, chatID, system, prompt string) (string, error) {
	choice, err := m.Generate(ctx, chatID, system, prompt)
	if err != nil {
		return "", err
	}
	return choice.Content, nil
}
