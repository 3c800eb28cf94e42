// Package connections persists which third-party services a user has linked
// and the OAuth tokens obtained for each.
package connections

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linkhq/link/internal/db/models"
	"gorm.io/gorm"
)

// TokenRecord holds the OAuth tokens for one service. A zero ExpiresAt is
// treated as already expired. RefreshToken may be empty; a refresh attempted
// without one simply fails at the token endpoint.
type TokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Record is the per-user credential record. ConnectedServices is
// insertion-ordered with no duplicates, service names lower-cased. A token
// may remain in Tokens for a service no longer present in ConnectedServices:
// disconnect does not purge tokens, so reconnecting does not force a new
// authorization.
type Record struct {
	UserID            string
	ConnectedServices []string
	Tokens            map[string]TokenRecord
	UpdatedAt         time.Time
}

// Store reads and writes Records by user ID. Full overwrite on Put; callers
// own read-modify-write races (last writer wins).
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the user's record, or (nil, nil) when none exists.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	var row models.Connection
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load connection record: %w", err)
	}

	rec := &Record{
		UserID:    row.UserID,
		UpdatedAt: row.UpdatedAt,
		Tokens:    map[string]TokenRecord{},
	}
	if row.ConnectedServices != "" {
		if err := json.Unmarshal([]byte(row.ConnectedServices), &rec.ConnectedServices); err != nil {
			return nil, fmt.Errorf("decode connected services for %s: %w", userID, err)
		}
	}
	if row.ServiceTokens != "" {
		if err := json.Unmarshal([]byte(row.ServiceTokens), &rec.Tokens); err != nil {
			return nil, fmt.Errorf("decode service tokens for %s: %w", userID, err)
		}
	}
	return rec, nil
}

// Put replaces the user's record wholesale and stamps UpdatedAt.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	services, err := json.Marshal(rec.ConnectedServices)
	if err != nil {
		return fmt.Errorf("encode connected services: %w", err)
	}
	tokens, err := json.Marshal(rec.Tokens)
	if err != nil {
		return fmt.Errorf("encode service tokens: %w", err)
	}

	row := models.Connection{
		UserID:            rec.UserID,
		ConnectedServices: string(services),
		ServiceTokens:     string(tokens),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save connection record: %w", err)
	}
	return nil
}

// Connect marks the service as linked for the user and, when tokens are
// supplied, stores them. A store lookup failure is treated as "no record yet"
// here; connect flows tolerate transient storage trouble.
func (s *Store) Connect(ctx context.Context, userID, service string, tok *TokenRecord) error {
	service = strings.ToLower(service)

	rec, err := s.Get(ctx, userID)
	if err != nil || rec == nil {
		rec = &Record{UserID: userID, Tokens: map[string]TokenRecord{}}
	}

	found := false
	for _, name := range rec.ConnectedServices {
		if name == service {
			found = true
			break
		}
	}
	if !found {
		rec.ConnectedServices = append(rec.ConnectedServices, service)
	}
	if tok != nil {
		rec.Tokens[service] = *tok
	}
	return s.Put(ctx, rec)
}

// Disconnect removes the service from the user's connected set. The stored
// token is intentionally kept so a later reconnect needs no re-authorization.
func (s *Store) Disconnect(ctx context.Context, userID, service string) error {
	service = strings.ToLower(service)

	rec, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	kept := rec.ConnectedServices[:0]
	for _, name := range rec.ConnectedServices {
		if name != service {
			kept = append(kept, name)
		}
	}
	rec.ConnectedServices = kept
	return s.Put(ctx, rec)
}
