// Package auth validates inbound bearer tokens against the external identity
// provider and exposes the resolved user ID to handlers.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized reports a missing, malformed, or rejected bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// Provider resolves a bearer access token to a user ID.
type Provider interface {
	Validate(ctx context.Context, accessToken string) (string, error)
}

// HTTPProvider asks the identity provider's userInfo endpoint who the token
// belongs to.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (p *HTTPProvider) Validate(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/oauth2/userInfo", nil)
	if err != nil {
		return "", fmt.Errorf("build userInfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: identity provider returned %d", ErrUnauthorized, resp.StatusCode)
	}

	var info struct {
		Username string `json:"username"`
		Sub      string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userInfo response: %w", err)
	}

	userID := info.Username
	if userID == "" {
		userID = info.Sub
	}
	if userID == "" {
		return "", fmt.Errorf("%w: userInfo response carried no user id", ErrUnauthorized)
	}
	return userID, nil
}

var _ Provider = (*HTTPProvider)(nil)
