package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/linkhq/link/internal/agent"
	"github.com/linkhq/link/internal/connections"
	"github.com/linkhq/link/internal/db/models"
	"github.com/linkhq/link/internal/llm"
	"github.com/linkhq/link/internal/persona"
	"github.com/linkhq/link/internal/tools"
	"gorm.io/gorm"
)

type staticIdentity struct {
	userID string
}

func (s staticIdentity) Validate(context.Context, string) (string, error) {
	if s.userID == "" {
		return "", errors.New("rejected")
	}
	return s.userID, nil
}

type scriptedCaller struct {
	responses []*llm.Response
	calls     int
	err       error
}

func (s *scriptedCaller) Converse(context.Context, llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func textResponse(text string) *llm.Response {
	var resp llm.Response
	resp.Output.Message = llm.TextMessage(llm.RoleAssistant, text)
	return &resp
}

func toolUseResponse(id, name string, input map[string]any) *llm.Response {
	var resp llm.Response
	resp.Output.Message = llm.Message{
		Role:    llm.RoleAssistant,
		Content: []llm.ContentBlock{{ToolUse: &llm.ToolUse{ToolUseID: id, Name: name, Input: input}}},
	}
	return &resp
}

type stubConnector struct {
	result string
	calls  int
}

func (s *stubConnector) Name() string { return "gmail" }

func (s *stubConnector) Tools() []tools.ToolDefinition {
	return []tools.ToolDefinition{{
		Name:        "gmail_send_email",
		Description: "Send an email using Gmail",
		InputSchema: tools.InputSchema{Type: "object", Properties: map[string]tools.Property{}},
	}}
}

func (s *stubConnector) Call(context.Context, tools.ToolName, map[string]any, string) (string, error) {
	s.calls++
	return s.result, nil
}

type harness struct {
	router    http.Handler
	caller    *scriptedCaller
	connector *stubConnector
	store     *connections.Store
	cache     *tools.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Connection{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store := connections.NewStore(db)

	connector := &stubConnector{result: "Email sent successfully"}
	registry := tools.NewRegistry(store)
	if err := registry.Register(connector); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	caller := &scriptedCaller{}
	cache := tools.NewCache()
	orc := agent.NewOrchestrator(caller, "model-1", registry, cache,
		&llm.GuardrailConfig{GuardrailIdentifier: "gr-1", GuardrailVersion: "1", Trace: "enabled"})

	router := NewRouter(Deps{
		Identity:       staticIdentity{userID: "user-1"},
		Orchestrator:   orc,
		Persona:        persona.NewAgent(caller, "model-1"),
		Store:          store,
		Registry:       registry,
		Cache:          cache,
		AllowedOrigins: []string{"http://localhost:5173"},
	})

	return &harness{router: router, caller: caller, connector: connector, store: store, cache: cache}
}

func (h *harness) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer tok-1")
	}
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

// warmPersona performs the first-turn persona detection so later requests
// exercise the full orchestrator path.
func (h *harness) warmPersona(t *testing.T) {
	t.Helper()
	h.caller.responses = append([]*llm.Response{
		textResponse(`{"name":"Link","description":"A helpful assistant."}`),
	}, h.caller.responses...)
	rr := h.do(t, http.MethodPost, "/generate", GenerateRequest{Prompt: "hello"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("warmup status = %d: %s", rr.Code, rr.Body.String())
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestGenerate_RequiresBearer(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/generate", GenerateRequest{Prompt: "hi"}, false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if h.caller.calls != 0 {
		t.Fatalf("model must not be called without auth, got %d calls", h.caller.calls)
	}
}

func TestGenerate_ResetShortCircuits(t *testing.T) {
	h := newHarness(t)
	rr := h.do(t, http.MethodPost, "/generate", GenerateRequest{Reset: true}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeBody(t, rr)["message"]; got != "Persona reset" {
		t.Fatalf("unexpected body %v", got)
	}
	if h.caller.calls != 0 || h.connector.calls != 0 {
		t.Fatalf("reset must make no model or connector calls (%d, %d)", h.caller.calls, h.connector.calls)
	}
}

func TestGenerate_FirstMessageIntroducesPersona(t *testing.T) {
	h := newHarness(t)
	h.caller.responses = []*llm.Response{
		textResponse(`{"name":"Sherlock Holmes","description":"The consulting detective."}`),
	}

	rr := h.do(t, http.MethodPost, "/generate", GenerateRequest{Prompt: "be sherlock"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["completion"]; got != "Sherlock Holmes speaking" {
		t.Fatalf("unexpected completion %v", got)
	}
}

func TestGenerate_PlainTurn(t *testing.T) {
	h := newHarness(t)
	h.caller.responses = []*llm.Response{textResponse("Hello! How can I help?")}
	h.warmPersona(t)

	rr := h.do(t, http.MethodPost, "/generate", GenerateRequest{Prompt: "hello"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["completion"]; got != "Hello! How can I help?" {
		t.Fatalf("unexpected completion %v", got)
	}
	if h.connector.calls != 0 {
		t.Fatalf("expected zero connector calls, got %d", h.connector.calls)
	}
}

func TestGenerate_ToolTurn(t *testing.T) {
	h := newHarness(t)
	err := h.store.Put(context.Background(), &connections.Record{
		UserID:            "user-1",
		ConnectedServices: []string{"gmail"},
		Tokens: map[string]connections.TokenRecord{
			"gmail": {AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		},
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}

	h.caller.responses = []*llm.Response{
		toolUseResponse("tu-1", "gmail_send_email", map[string]any{"to": "a@example.com"}),
		textResponse("Your email is on its way!"),
	}
	h.warmPersona(t)

	rr := h.do(t, http.MethodPost, "/generate", GenerateRequest{Prompt: "send the email"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if got := decodeBody(t, rr)["completion"]; got != "Your email is on its way!" {
		t.Fatalf("unexpected completion %v", got)
	}
	if h.connector.calls != 1 {
		t.Fatalf("expected one connector call, got %d", h.connector.calls)
	}
}

func TestGenerate_TurnFatalFailure(t *testing.T) {
	h := newHarness(t)
	h.warmPersona(t)
	h.caller.err = errors.New("model service unavailable")

	rr := h.do(t, http.MethodPost, "/generate", GenerateRequest{Prompt: "hello"}, true)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if _, ok := decodeBody(t, rr)["error"]; !ok {
		t.Fatalf("expected error body, got %s", rr.Body.String())
	}
}

func TestConnectionsLifecycle(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, "/api/connect/Gmail", connectRequest{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresIn:    3600,
	}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("connect status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = h.do(t, http.MethodGet, "/api/user/get_connections", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("get_connections status = %d", rr.Code)
	}
	var services []string
	if err := json.Unmarshal(rr.Body.Bytes(), &services); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	if len(services) != 1 || services[0] != "gmail" {
		t.Fatalf("unexpected services %v", services)
	}

	// The cache was warmed with the gmail tools.
	defs, ok := h.cache.Get("user-1")
	if !ok || len(defs) != 1 || defs[0].Name != "gmail_send_email" {
		t.Fatalf("expected warmed tool cache, got %v (hit=%v)", defs, ok)
	}

	rr = h.do(t, http.MethodPost, "/api/remove/gmail", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rr.Code)
	}

	rec, err := h.store.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(rec.ConnectedServices) != 0 {
		t.Fatalf("expected no connected services, got %v", rec.ConnectedServices)
	}
	if rec.Tokens["gmail"].AccessToken != "at-1" {
		t.Fatal("tokens must survive a disconnect")
	}
}
