package persona

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/linkhq/link/internal/llm"
)

type stubCaller struct {
	text  string
	err   error
	calls int
}

func (s *stubCaller) Converse(context.Context, llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var resp llm.Response
	resp.Output.Message = llm.TextMessage(llm.RoleAssistant, s.text)
	return &resp, nil
}

func TestEnsure_DetectsOnce(t *testing.T) {
	caller := &stubCaller{text: `{"name":"Sherlock Holmes","description":"The world's only consulting detective."}`}
	agent := NewAgent(caller, "model-1")

	p, isNew, err := agent.Ensure(context.Background(), "talk to me like sherlock")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !isNew {
		t.Fatal("first Ensure must detect")
	}
	if p.Name != "Sherlock Holmes" {
		t.Fatalf("unexpected persona %+v", p)
	}
	if Greeting(p) != "Sherlock Holmes speaking" {
		t.Fatalf("unexpected greeting %q", Greeting(p))
	}

	again, isNew, err := agent.Ensure(context.Background(), "another message")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if isNew || again.Name != "Sherlock Holmes" {
		t.Fatalf("expected cached persona, got %+v (new=%v)", again, isNew)
	}
	if caller.calls != 1 {
		t.Fatalf("expected a single detection call, got %d", caller.calls)
	}
}

func TestEnsure_FallbackOnFailure(t *testing.T) {
	agent := NewAgent(&stubCaller{err: errors.New("boom")}, "model-1")

	p, isNew, err := agent.Ensure(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !isNew || p.Name != "Default Hero" {
		t.Fatalf("expected fallback persona, got %+v", p)
	}
}

func TestEnsure_FallbackOnGarbageOutput(t *testing.T) {
	agent := NewAgent(&stubCaller{text: "I have no idea"}, "model-1")

	p, _, err := agent.Ensure(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if p.Name != "Default Hero" {
		t.Fatalf("expected fallback persona, got %+v", p)
	}
}

func TestEnsure_ToleratesProseAroundJSON(t *testing.T) {
	caller := &stubCaller{text: "Sure! Here you go: {\"name\":\"Gandalf\",\"description\":\"A wise wandering wizard.\"} Enjoy."}
	agent := NewAgent(caller, "model-1")

	p, _, err := agent.Ensure(context.Background(), "be gandalf")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if p.Name != "Gandalf" {
		t.Fatalf("unexpected persona %+v", p)
	}
}

func TestReset(t *testing.T) {
	caller := &stubCaller{text: `{"name":"Gandalf","description":"Wizard."}`}
	agent := NewAgent(caller, "model-1")

	if _, _, err := agent.Ensure(context.Background(), "be gandalf"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	agent.Reset()
	if agent.Current() != nil {
		t.Fatal("expected persona cleared after reset")
	}
}

func TestWrapPrompt(t *testing.T) {
	got := WrapPrompt(Persona{Name: "Gandalf", Description: "A wise wandering wizard."}, "what now?")
	for _, want := range []string{"You are Gandalf.", "A wise wandering wizard.", "User message: what now?"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
}
