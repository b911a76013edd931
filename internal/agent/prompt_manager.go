package agent

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// Prompt template names.
const (
	PromptPlanner      = "planner.md"
	PromptCaseSummary  = "case_summary.md"
	PromptFullReport   = "full_report.md"
	PromptDynamic      = "dynamic_report.md"
	PromptEmailSummary = "email_summary.md"
	PromptConfirmation = "confirmation.md"
)

// systemOrder is the order persona files are joined into the system prompt.
var systemOrder = []string{"identity.md", "rules.md"}

// PromptManager loads prompt templates from Directory, falling back to the
// built-in copy of any file the directory does not have.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

func (pm *PromptManager) read(name string) (string, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("agent: prompts: read %s: %v; using built-in", name, err)
		}
	}
	data, err := defaultPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("agent: prompts: no template %q", name)
	}
	return string(data), nil
}

// GetSystemPrompt joins the persona files shared by every call.
func (pm *PromptManager) GetSystemPrompt() (string, error) {
	var contents []string
	for _, name := range systemOrder {
		text, err := pm.read(name)
		if err != nil {
			return "", err
		}
		contents = append(contents, strings.TrimSpace(text))
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// Render executes the named template with data.
func (pm *PromptManager) Render(name string, data any) (string, error) {
	text, err := pm.read(name)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("agent: prompts: parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("agent: prompts: render %s: %w", name, err)
	}
	return buf.String(), nil
}
