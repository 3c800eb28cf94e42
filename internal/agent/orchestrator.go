// Package agent drives one conversational turn: prompt in, completion out,
// with at most one tool invocation in between.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/linkhq/link/internal/llm"
	"github.com/linkhq/link/internal/tools"
)

// Keep the prompt bounded; only the most recent exchanges matter.
const maxHistoryEntries = 5

// The model is asked to clean up its answer without exposing the request.
const formatInstruction = "Please format this response nicely. Don't mention that you are formatting anything"

// HistoryEntry is one prior exchange, oldest-first in the request.
type HistoryEntry struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Orchestrator runs the two-step tool-augmented completion protocol.
type Orchestrator struct {
	caller    llm.Caller
	modelID   string
	registry  *tools.Registry
	cache     *tools.Cache
	guardrail *llm.GuardrailConfig
}

func NewOrchestrator(caller llm.Caller, modelID string, registry *tools.Registry, cache *tools.Cache, guardrail *llm.GuardrailConfig) *Orchestrator {
	return &Orchestrator{
		caller:    caller,
		modelID:   modelID,
		registry:  registry,
		cache:     cache,
		guardrail: guardrail,
	}
}

// RunTurn answers one user message. Recoverable tool failures become the
// tool result text so the model can explain them; model-service failures and
// unsupported tool names abort the turn.
func (o *Orchestrator) RunTurn(ctx context.Context, userID, prompt string, history []HistoryEntry) (string, error) {
	defs, err := o.toolsFor(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load tool definitions: %w", err)
	}
	toolConfig := llm.NewToolConfig(defs)

	messages := []llm.Message{
		llm.TextMessage(llm.RoleUser, renderPrompt(prompt, history)),
	}

	first, err := o.caller.Converse(ctx, llm.Request{
		ModelID:         o.modelID,
		Messages:        messages,
		ToolConfig:      toolConfig,
		GuardrailConfig: o.guardrail,
	})
	if err != nil {
		return "", err
	}

	toolUse := first.FirstToolUse()
	if toolUse == nil {
		return first.Text(), nil
	}

	result, err := o.registry.Dispatch(ctx, toolUse.Name, toolUse.Input, userID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !tools.Recoverable(err) {
			return "", err
		}
		// The failure description becomes the tool result so the model can
		// explain the limitation instead of the turn dying.
		result = err.Error()
	}

	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{{ToolUse: toolUse}}},
		llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{{
			ToolResult: &llm.ToolResultBlock{
				ToolUseID: toolUse.ToolUseID,
				Content:   []llm.ToolResultContent{{Text: result}},
			},
		}}},
		llm.TextMessage(llm.RoleUser, formatInstruction),
	)

	final, err := o.caller.Converse(ctx, llm.Request{
		ModelID:         o.modelID,
		Messages:        messages,
		ToolConfig:      toolConfig,
		GuardrailConfig: o.guardrail,
	})
	if err != nil {
		return "", err
	}
	return final.Text(), nil
}

// toolsFor loads the user's tool definitions, preferring the cache. A miss
// recomputes from the registry and repopulates.
func (o *Orchestrator) toolsFor(ctx context.Context, userID string) ([]tools.ToolDefinition, error) {
	if defs, ok := o.cache.Get(userID); ok {
		return defs, nil
	}

	defs, err := o.registry.ToolsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	o.cache.Set(userID, defs)
	log.Printf("📦 Cached %d tool definitions for user %s", len(defs), userID)
	return defs, nil
}

// renderPrompt prefixes the current message with the most recent prior
// exchanges, oldest-first.
func renderPrompt(prompt string, history []HistoryEntry) string {
	if len(history) == 0 {
		return prompt
	}
	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}

	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for i, entry := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "User: %s\nAssistant: %s", entry.User, entry.Assistant)
	}
	fmt.Fprintf(&b, "\n\nCurrent message: %s", prompt)
	return b.String()
}
