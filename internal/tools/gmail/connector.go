// Package gmail implements the Gmail connector: sending mail and reading the
// inbox on behalf of a linked user.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linkhq/link/internal/connections"
	"github.com/linkhq/link/internal/tools"
)

const (
	defaultTokenURL   = "https://oauth2.googleapis.com/token"
	defaultAPIBaseURL = "https://gmail.googleapis.com/gmail/v1"
	defaultTimeout    = 30 * time.Second
)

// Config carries the Google app registration plus overridable endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
	HTTPClient   *http.Client
}

type Connector struct {
	resolver   *tools.CredentialResolver
	baseURL    string
	httpClient *http.Client
}

func New(store *connections.Store, cfg Config) *Connector {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Connector{
		resolver: tools.NewCredentialResolver("gmail", store, tools.OAuthApp{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
		}),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Connector) Name() string { return "gmail" }

func (c *Connector) Tools() []tools.ToolDefinition {
	return []tools.ToolDefinition{
		{
			Name:        "gmail_send_email",
			Description: "Send an email using Gmail",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"to":      {Type: "string", Description: "Recipient email address"},
					"subject": {Type: "string", Description: "Email subject"},
					"body":    {Type: "string", Description: "Email body text"},
				},
				Required: []string{"to", "subject", "body"},
			},
		},
		{
			Name:        "gmail_list_messages",
			Description: "List the user's most recent Gmail messages",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"max_results": {Type: "integer", Description: "Max number of messages", Default: 5},
				},
			},
		},
		{
			Name:        "gmail_get_message",
			Description: "Get a specific Gmail message by ID",
			InputSchema: tools.InputSchema{
				Type: "object",
				Properties: map[string]tools.Property{
					"message_id": {Type: "string", Description: "Gmail message ID"},
				},
				Required: []string{"message_id"},
			},
		},
	}
}

func (c *Connector) Call(ctx context.Context, name tools.ToolName, args map[string]any, userID string) (string, error) {
	cred, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}

	switch name.Verb {
	case "send_email":
		return c.sendEmail(ctx, cred, args)
	case "list_messages":
		return c.listMessages(ctx, cred, args)
	case "get_message":
		return c.getMessage(ctx, cred, args)
	default:
		return "", &tools.UnknownToolError{Name: name.String()}
	}
}

func (c *Connector) sendEmail(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	raw := encodeMessage(
		tools.StringArg(args, "to"),
		tools.StringArg(args, "subject"),
		tools.StringArg(args, "body"),
	)

	status, _, err := c.doJSON(ctx, cred, http.MethodPost, "/users/me/messages/send", nil,
		map[string]string{"raw": raw})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Error sending email: %d", status), nil
	}
	return "Email sent successfully", nil
}

func (c *Connector) listMessages(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	maxResults := tools.IntArg(args, "max_results", 5)

	status, body, err := c.doJSON(ctx, cred, http.MethodGet, "/users/me/messages",
		url.Values{"maxResults": {fmt.Sprint(maxResults)}}, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Error listing messages: %d", status), nil
	}

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return "", &tools.UpstreamError{Service: "gmail", Op: "decode message list", Err: err}
	}

	lines := make([]string, 0, len(list.Messages))
	for _, msg := range list.Messages {
		// One metadata fetch per message for sender and subject.
		status, body, err := c.doJSON(ctx, cred, http.MethodGet, "/users/me/messages/"+msg.ID,
			url.Values{"format": {"metadata"}, "metadataHeaders": {"Subject", "From"}}, nil)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			lines = append(lines, fmt.Sprintf("ID: %s (error fetching headers)", msg.ID))
			continue
		}

		var detail struct {
			Payload struct {
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(body, &detail); err != nil {
			lines = append(lines, fmt.Sprintf("ID: %s (error parsing headers)", msg.ID))
			continue
		}

		subject, sender := "No Subject", "Unknown Sender"
		for _, h := range detail.Payload.Headers {
			switch h.Name {
			case "Subject":
				subject = h.Value
			case "From":
				sender = h.Value
			}
		}
		lines = append(lines, fmt.Sprintf("From: %s | Subject: %s", sender, subject))
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Connector) getMessage(ctx context.Context, cred tools.Credential, args map[string]any) (string, error) {
	messageID := tools.StringArg(args, "message_id")

	status, body, err := c.doJSON(ctx, cred, http.MethodGet, "/users/me/messages/"+messageID, nil, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return fmt.Sprintf("Error retrieving message: %d", status), nil
	}

	var msg struct {
		Snippet string `json:"snippet"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", &tools.UpstreamError{Service: "gmail", Op: "decode message", Err: err}
	}
	if msg.Snippet == "" {
		return "No preview available", nil
	}
	return msg.Snippet, nil
}

// encodeMessage builds a minimal RFC 822 text message encoded as the
// base64url "raw" payload the send endpoint expects.
func encodeMessage(to, subject, body string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return base64.URLEncoding.EncodeToString(buf.Bytes())
}

// doJSON performs one authenticated API round trip and returns the status
// and raw body. Transport failures come back as UpstreamError.
func (c *Connector) doJSON(ctx context.Context, cred tools.Credential, method, path string, query url.Values, body any) (int, []byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", cred.AuthorizationHeader())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &tools.UpstreamError{Service: "gmail", Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, nil, &tools.UpstreamError{Service: "gmail", Op: "read " + path, Err: err}
	}
	return resp.StatusCode, buf.Bytes(), nil
}

var _ tools.Connector = (*Connector)(nil)
