// Package llm speaks the converse protocol of the model service: messages in,
// a message out, with optional tool definitions and a content-safety
// guardrail attached to every call.
package llm

import "github.com/linkhq/link/internal/tools"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation entry.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock carries exactly one of text, a tool-use request from the
// model, or a tool result fed back to it.
type ContentBlock struct {
	Text       string           `json:"text,omitempty"`
	ToolUse    *ToolUse         `json:"toolUse,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty"`
}

// ToolUse is the model's request to invoke a tool.
type ToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// ToolResultBlock returns a tool's output to the model, matched by ID.
type ToolResultBlock struct {
	ToolUseID string              `json:"toolUseId"`
	Content   []ToolResultContent `json:"content"`
}

type ToolResultContent struct {
	Text string `json:"text"`
}

// GuardrailConfig selects the content-safety policy applied to a call.
type GuardrailConfig struct {
	GuardrailIdentifier string `json:"guardrailIdentifier"`
	GuardrailVersion    string `json:"guardrailVersion"`
	Trace               string `json:"trace,omitempty"`
}

type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

type ToolInputSchema struct {
	JSON tools.InputSchema `json:"json"`
}

type Tool struct {
	ToolSpec ToolSpec `json:"toolSpec"`
}

type ToolConfig struct {
	Tools []Tool `json:"tools"`
}

// NewToolConfig wraps tool definitions in the toolSpec envelope the converse
// API expects. Returns nil for an empty list so the field is omitted.
func NewToolConfig(defs []tools.ToolDefinition) *ToolConfig {
	if len(defs) == 0 {
		return nil
	}
	cfg := &ToolConfig{Tools: make([]Tool, len(defs))}
	for i, d := range defs {
		cfg.Tools[i] = Tool{ToolSpec: ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: ToolInputSchema{JSON: d.InputSchema},
		}}
	}
	return cfg
}

// Request is one converse call.
type Request struct {
	ModelID         string           `json:"-"`
	Messages        []Message        `json:"messages"`
	ToolConfig      *ToolConfig      `json:"toolConfig,omitempty"`
	GuardrailConfig *GuardrailConfig `json:"guardrailConfig,omitempty"`
}

// Response is the converse reply.
type Response struct {
	Output struct {
		Message Message `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason,omitempty"`
}

// FirstToolUse returns the first tool-use block of the reply, or nil.
func (r *Response) FirstToolUse() *ToolUse {
	for _, block := range r.Output.Message.Content {
		if block.ToolUse != nil {
			return block.ToolUse
		}
	}
	return nil
}

// Text returns the first text block of the reply, or "".
func (r *Response) Text() string {
	for _, block := range r.Output.Message.Content {
		if block.Text != "" {
			return block.Text
		}
	}
	return ""
}

// TextMessage builds a single-text-block message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Text: text}}}
}
