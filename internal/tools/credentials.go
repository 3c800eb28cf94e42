package tools

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/linkhq/link/internal/connections"
	"golang.org/x/oauth2"
)

// Credential wraps a bearer access token valid for outbound calls to one
// service on behalf of one user.
type Credential struct {
	AccessToken string
}

// AuthorizationHeader renders the credential as an Authorization value.
func (c Credential) AuthorizationHeader() string {
	return "Bearer " + c.AccessToken
}

// OAuthApp holds the client registration a connector refreshes tokens with.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// CredentialResolver produces a valid bearer credential for one service,
// refreshing and persisting the stored token when it has expired. Shared by
// all connectors via composition.
type CredentialResolver struct {
	service    string
	store      *connections.Store
	conf       *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

func NewCredentialResolver(service string, store *connections.Store, app OAuthApp) *CredentialResolver {
	return &CredentialResolver{
		service: service,
		store:   store,
		conf: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: app.TokenURL,
				// Spotify and Google both accept credentials in the form body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		now: time.Now,
	}
}

// Resolve returns a usable credential for the user. Every invocation
// re-validates the stored token; an expired token triggers exactly one
// synchronous refresh round trip before the call proceeds.
func (r *CredentialResolver) Resolve(ctx context.Context, userID string) (Credential, error) {
	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		// A store outage is not the same thing as "not connected".
		return Credential{}, &UpstreamError{Service: r.service, Op: "credential lookup", Err: err}
	}
	if rec == nil {
		return Credential{}, &NotConnectedError{Service: r.service}
	}
	tok, ok := rec.Tokens[r.service]
	if !ok {
		return Credential{}, &NotConnectedError{Service: r.service}
	}

	if tok.ExpiresAt > r.now().Unix() {
		return Credential{AccessToken: tok.AccessToken}, nil
	}

	log.Printf("⚠️ %s token for user %s is expired, refreshing...", r.service, userID)
	fresh, err := r.refresh(ctx, tok.RefreshToken)
	if err != nil {
		log.Printf("❌ Refresh failed for %s/%s: %v", r.service, userID, err)
		return Credential{}, &RefreshError{Service: r.service, Err: err}
	}

	next := connections.TokenRecord{
		AccessToken:  fresh.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    fresh.Expiry.Unix(),
	}
	if fresh.Expiry.IsZero() {
		next.ExpiresAt = 0
	}
	// Persist a rotated refresh token when the provider supplies one.
	if fresh.RefreshToken != "" {
		next.RefreshToken = fresh.RefreshToken
	}

	// Only this service's entry changes; other services' tokens in the same
	// record are left untouched.
	rec.Tokens[r.service] = next
	if err := r.store.Put(ctx, rec); err != nil {
		return Credential{}, &UpstreamError{Service: r.service, Op: "persist refreshed token", Err: err}
	}

	log.Printf("✅ Refreshed %s token for user %s (expires: %s)", r.service, userID, fresh.Expiry.Format(time.RFC3339))
	return Credential{AccessToken: fresh.AccessToken}, nil
}

func (r *CredentialResolver) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	src := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}
