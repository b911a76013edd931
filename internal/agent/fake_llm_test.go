package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// fakeLLM replays canned choices and records what it was asked.
type fakeLLM struct {
	mu       sync.Mutex
	choices  []*llms.ContentChoice
	err      error
	prompts  []string // last human part of each call
	toolSets [][]llms.Tool
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.toolSets = append(f.toolSets, opts.Tools)
	for _, m := range messages {
		if m.Role != llms.ChatMessageTypeHuman {
			continue
		}
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tc.Text)
			}
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	if len(f.choices) == 0 {
		return nil, errors.New("fakeLLM: no more choices")
	}
	choice := f.choices[0]
	if len(f.choices) > 1 {
		f.choices = f.choices[1:]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func textChoice(s string) *llms.ContentChoice {
	return &llms.ContentChoice{Content: s}
}

func toolChoice(args string) *llms.ContentChoice {
	return &llms.ContentChoice{ToolCalls: []llms.ToolCall{{
		ID:           "call_1",
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: submitQueriesTool, Arguments: args},
	}}}
}
