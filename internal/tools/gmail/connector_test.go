package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/linkhq/link/internal/connections"
	"github.com/linkhq/link/internal/db/models"
	"github.com/linkhq/link/internal/tools"
	"gorm.io/gorm"
)

func newConnectedStore(t *testing.T, expiresAt int64) *connections.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Connection{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store := connections.NewStore(db)
	err = store.Put(context.Background(), &connections.Record{
		UserID:            "user-1",
		ConnectedServices: []string{"gmail"},
		Tokens: map[string]connections.TokenRecord{
			"gmail": {AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: expiresAt},
		},
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return store
}

func freshExpiry() int64 { return time.Now().Add(time.Hour).Unix() }

func TestCall_SendEmail(t *testing.T) {
	var sentRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/send" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Raw string `json:"raw"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		sentRaw = payload.Raw
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(newConnectedStore(t, freshExpiry()), Config{APIBaseURL: srv.URL})
	got, err := c.Call(context.Background(), tools.ToolName{Service: "gmail", Verb: "send_email"},
		map[string]any{"to": "a@example.com", "subject": "Hi", "body": "Hello there"}, "user-1")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "Email sent successfully" {
		t.Fatalf("unexpected result %q", got)
	}

	decoded, err := base64.URLEncoding.DecodeString(sentRaw)
	if err != nil {
		t.Fatalf("raw payload not base64url: %v", err)
	}
	msg := string(decoded)
	for _, want := range []string{"To: a@example.com\r\n", "Subject: Hi\r\n", "Hello there"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestCall_SendEmail_UpstreamFailureIsResultText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(newConnectedStore(t, freshExpiry()), Config{APIBaseURL: srv.URL})
	got, err := c.Call(context.Background(), tools.ToolName{Service: "gmail", Verb: "send_email"},
		map[string]any{"to": "a@example.com", "subject": "Hi", "body": "x"}, "user-1")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "Error sending email: 403" {
		t.Fatalf("unexpected result %q", got)
	}
}

func TestCall_ListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/me/messages":
			if got := r.URL.Query().Get("maxResults"); got != "2" {
				t.Errorf("expected maxResults=2, got %q", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{{"id": "m1"}, {"id": "m2"}},
			})
		case "/users/me/messages/m1":
			json.NewEncoder(w).Encode(map[string]any{
				"payload": map[string]any{
					"headers": []map[string]any{
						{"name": "Subject", "value": "Lunch?"},
						{"name": "From", "value": "bob@example.com"},
					},
				},
			})
		case "/users/me/messages/m2":
			json.NewEncoder(w).Encode(map[string]any{
				"payload": map[string]any{"headers": []map[string]any{}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(newConnectedStore(t, freshExpiry()), Config{APIBaseURL: srv.URL})
	got, err := c.Call(context.Background(), tools.ToolName{Service: "gmail", Verb: "list_messages"},
		map[string]any{"max_results": float64(2)}, "user-1")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	want := "From: bob@example.com | Subject: Lunch?\nFrom: Unknown Sender | Subject: No Subject"
	if got != want {
		t.Fatalf("unexpected result:\n%s", got)
	}
}

func TestCall_GetMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/m42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"snippet": "See you at noon"})
	}))
	defer srv.Close()

	c := New(newConnectedStore(t, freshExpiry()), Config{APIBaseURL: srv.URL})
	got, err := c.Call(context.Background(), tools.ToolName{Service: "gmail", Verb: "get_message"},
		map[string]any{"message_id": "m42"}, "user-1")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != "See you at noon" {
		t.Fatalf("unexpected result %q", got)
	}
}

func TestCall_ExpiredTokenRefreshFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API must not be called when refresh fails")
	}))
	defer api.Close()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenSrv.Close()

	c := New(newConnectedStore(t, 1), Config{APIBaseURL: api.URL, TokenURL: tokenSrv.URL})
	_, err := c.Call(context.Background(), tools.ToolName{Service: "gmail", Verb: "send_email"},
		map[string]any{"to": "a@example.com", "subject": "Hi", "body": "x"}, "user-1")

	var refreshErr *tools.RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected RefreshError, got %v", err)
	}
	if refreshErr.Error() != "Failed to refresh gmail token" {
		t.Fatalf("unexpected message %q", refreshErr.Error())
	}
}

func TestTools_AreNamespaced(t *testing.T) {
	c := New(newConnectedStore(t, freshExpiry()), Config{})
	defs := c.Tools()
	if len(defs) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(defs))
	}
	for _, d := range defs {
		name, err := tools.ParseToolName(d.Name)
		if err != nil {
			t.Fatalf("ParseToolName(%q) error = %v", d.Name, err)
		}
		if name.Service != "gmail" {
			t.Fatalf("tool %q outside the gmail namespace", d.Name)
		}
	}
}
