// ABOUTME: Prompt composer rendering the agent's YAML prompt templates.
// ABOUTME: Variables are strict: a template referencing an unknown name fails to render.

package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/2389/wormhole-gateway/internal/assets"
)

// ErrTemplate indicates a prompt template could not be parsed or rendered.
// It points at a configuration defect and is never retried.
var ErrTemplate = errors.New("prompt template error")

// FallbackSystem is used when a configured system file does not exist.
const FallbackSystem = "You are a helpful assistant."

const (
	templateSystemPrompt = "system_prompt"
	templateToolResponse = "tool_response"
	templateSimpleUser   = "simple_user"
)

// fallbacks apply when the prompts file omits a template.
var fallbacks = map[string]string{
	templateSystemPrompt: "",
	templateToolResponse: "{{.tool_output}}",
	templateSimpleUser:   "{{.user_request}}",
}

// Options locates the prompt files. Empty paths select the embedded defaults.
type Options struct {
	PromptsFile string
	SystemFile  string
	RulesFile   string
}

// Tool is the part of an offered tool that goes into the prompt.
type Tool struct {
	Name        string
	Description string
}

// InitialInput feeds the system_prompt template.
type InitialInput struct {
	Tools              []Tool
	UserRequest        string
	Attachments        string
	Context            string
	CustomInstructions string
	IsFirst            bool
}

// SimpleInput feeds the simple_user template.
type SimpleInput struct {
	UserRequest string
	Attachments string
	Context     string
	IsFirst     bool
}

// Composer renders prompts. It is safe for concurrent use once built.
type Composer struct {
	templates *template.Template
	system    string
	rules     string
}

// New loads the templates, system text and rules described by opts.
func New(opts Options) (*Composer, error) {
	raw := assets.Prompts()
	if opts.PromptsFile != "" {
		data, err := os.ReadFile(opts.PromptsFile)
		if err != nil {
			return nil, fmt.Errorf("reading prompts file: %w", err)
		}
		raw = data
	}

	var doc map[string]string
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing prompts file: %v", ErrTemplate, err)
	}

	root := template.New("prompts").Option("missingkey=error")
	for name, fallback := range fallbacks {
		body, ok := doc[name]
		if !ok {
			body = fallback
		}
		if _, err := root.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrTemplate, name, err)
		}
	}

	c := &Composer{
		templates: root,
		system:    assets.System(),
	}

	if opts.SystemFile != "" {
		data, err := os.ReadFile(opts.SystemFile)
		switch {
		case err == nil:
			c.system = string(data)
		case errors.Is(err, os.ErrNotExist):
			c.system = FallbackSystem
		default:
			return nil, fmt.Errorf("reading system file: %w", err)
		}
	}

	if opts.RulesFile != "" {
		data, err := os.ReadFile(opts.RulesFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading rules file: %w", err)
		}
		c.rules = string(data)
	}

	return c, nil
}

// System returns the system text sent alongside every prompt.
func (c *Composer) System() string {
	return c.system
}

// InitialPrompt renders the first prompt of a tool-enabled dialogue.
func (c *Composer) InitialPrompt(in InitialInput) (string, error) {
	tools := make([]string, 0, len(in.Tools))
	for _, t := range in.Tools {
		tools = append(tools, ToolLine(t))
	}
	return c.render(templateSystemPrompt, map[string]any{
		"tools":               tools,
		"managed_agents":      []string{},
		"custom_instructions": in.CustomInstructions,
		"rules":               c.rules,
		"attachments":         in.Attachments,
		"context":             in.Context,
		"user_request":        in.UserRequest,
		"is_first":            in.IsFirst,
	})
}

// ToolResponse renders the follow-up prompt carrying tool results.
func (c *Composer) ToolResponse(toolOutput, context string) (string, error) {
	return c.render(templateToolResponse, map[string]any{
		"tool_output": toolOutput,
		"context":     context,
	})
}

// SimpleUser renders the prompt for a plain, toolless message.
func (c *Composer) SimpleUser(in SimpleInput) (string, error) {
	return c.render(templateSimpleUser, map[string]any{
		"system":       c.system,
		"attachments":  in.Attachments,
		"context":      in.Context,
		"user_request": in.UserRequest,
		"is_first":     in.IsFirst,
	})
}

func (c *Composer) render(name string, vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := c.templates.ExecuteTemplate(&buf, name, vars); err != nil {
		return "", fmt.Errorf("%w: rendering %s: %v", ErrTemplate, name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// ToolLine renders one entry of the tool list. Descriptions longer than
// 80 characters are cut and marked with an ellipsis.
func ToolLine(t Tool) string {
	name := t.Name
	if name == "" {
		name = "unknown"
	}
	desc := t.Description
	if r := []rune(desc); len(r) > 80 {
		desc = string(r[:80]) + "..."
	}
	return fmt.Sprintf("- %s: %s", name, desc)
}
