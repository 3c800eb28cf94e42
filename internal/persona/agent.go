// Package persona keeps a session-wide character the agent answers as. The
// first message of a session picks the persona; later prompts are prefixed
// with it until a reset.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/linkhq/link/internal/llm"
)

// Persona is a character the agent role-plays.
type Persona struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var fallbackPersona = Persona{
	Name:        "Default Hero",
	Description: "A brave hero ready to help anyone in need.",
}

const detectInstruction = "You are an AI assistant whose sole goal is to detect what persona the user is trying to set to. " +
	"You should return the persona name and a one sentence description of the persona. " +
	"If you do not know who the persona is, make up a fun persona that's one sentence. " +
	`Reply with only a JSON object of the form {"name": "...", "description": "..."}.`

// Agent holds the current persona for the process. State is deliberately
// simple: one persona at a time, cleared by Reset.
type Agent struct {
	caller  llm.Caller
	modelID string

	mu      sync.Mutex
	current *Persona
}

func NewAgent(caller llm.Caller, modelID string) *Agent {
	return &Agent{caller: caller, modelID: modelID}
}

// Current returns the active persona, or nil when none is set.
func (a *Agent) Current() *Persona {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Reset clears the active persona.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
}

// Ensure returns the active persona, detecting one from the message when
// none is set yet. The second return reports whether detection just ran, in
// which case the caller answers with a short introduction instead of a full
// turn.
func (a *Agent) Ensure(ctx context.Context, message string) (Persona, bool, error) {
	a.mu.Lock()
	if a.current != nil {
		p := *a.current
		a.mu.Unlock()
		return p, false, nil
	}
	a.mu.Unlock()

	p := a.detect(ctx, message)

	a.mu.Lock()
	a.current = &p
	a.mu.Unlock()
	return p, true, nil
}

// detect asks the model who the user wants to talk to. Any failure falls
// back to a default persona rather than failing the turn.
func (a *Agent) detect(ctx context.Context, message string) Persona {
	resp, err := a.caller.Converse(ctx, llm.Request{
		ModelID: a.modelID,
		Messages: []llm.Message{
			llm.TextMessage(llm.RoleUser, detectInstruction+"\n\nUser message: "+message),
		},
	})
	if err != nil {
		log.Printf("⚠️ Persona detection failed: %v", err)
		return fallbackPersona
	}

	var p Persona
	text := strings.TrimSpace(resp.Text())
	// Tolerate prose around the JSON object.
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(text), &p); err != nil || p.Name == "" {
		log.Printf("⚠️ Persona detection returned unusable output, using fallback")
		return fallbackPersona
	}
	return p
}

// Greeting is the short reply sent right after a persona is chosen.
func Greeting(p Persona) string {
	return fmt.Sprintf("%s speaking", p.Name)
}

// WrapPrompt prefixes the user's message with the persona instructions.
func WrapPrompt(p Persona, message string) string {
	return fmt.Sprintf(`You are %s.

Your one sentence persona description is:
%s

Instructions:
- Respond completely in character
- Use their speech patterns, worldview, and personality
- Use information you have of this character even if it is not explicitly mentioned in the description
- Stay true to their established traits and motivations
- Be helpful while maintaining character authenticity
- Don't break character or mention you're an AI

User message: %s`, p.Name, p.Description, message)
}
