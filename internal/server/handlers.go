// Package server exposes the HTTP surface: the /generate turn endpoint and
// the connection management routes the frontend drives.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/linkhq/link/internal/agent"
	"github.com/linkhq/link/internal/auth"
	"github.com/linkhq/link/internal/connections"
	"github.com/linkhq/link/internal/logging"
	"github.com/linkhq/link/internal/persona"
	"github.com/linkhq/link/internal/tools"
)

// GenerateRequest is one inbound turn.
type GenerateRequest struct {
	Prompt  string               `json:"prompt"`
	History []agent.HistoryEntry `json:"history,omitempty"`
	Reset   bool                 `json:"reset,omitempty"`
}

// GenerateHandler runs one conversational turn.
func GenerateHandler(orc *agent.Orchestrator, personaAgent *persona.Agent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		if req.Reset {
			// Stateless acknowledgement, no model or connector calls.
			personaAgent.Reset()
			writeJSON(w, http.StatusOK, map[string]string{"message": "Persona reset"})
			return
		}

		userID := auth.UserID(r.Context())
		requestID := uuid.New().String()
		ctx := logging.WithRequestID(r.Context(), requestID)

		p, isNew, err := personaAgent.Ensure(ctx, req.Prompt)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if isNew {
			writeJSON(w, http.StatusOK, map[string]string{"completion": persona.Greeting(p)})
			return
		}

		started := time.Now()
		completion, err := orc.RunTurn(ctx, userID, persona.WrapPrompt(p, req.Prompt), req.History)
		if err != nil {
			log.Printf("❌ [req:%s] Turn failed for user %s: %v", requestID, userID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		log.Printf("✅ [req:%s] Turn completed for user %s in %s", requestID, userID, time.Since(started).Round(time.Millisecond))
		writeJSON(w, http.StatusOK, map[string]string{"completion": completion})
	}
}

// GetConnectionsHandler lists the user's connected services and warms the
// tool definition cache for the coming turns.
func GetConnectionsHandler(store *connections.Store, registry *tools.Registry, cache *tools.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())

		rec, err := store.Get(r.Context(), userID)
		if err != nil {
			// The frontend treats this as "nothing connected yet".
			log.Printf("⚠️ Failed to load connections for %s: %v", userID, err)
			writeJSON(w, http.StatusOK, []string{})
			return
		}

		services := []string{}
		if rec != nil {
			services = rec.ConnectedServices
		}
		cache.Set(userID, registry.ToolsForServices(services))
		writeJSON(w, http.StatusOK, services)
	}
}

type connectRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// ConnectHandler links a service for the user, storing the tokens the
// authorization flow produced.
func ConnectHandler(store *connections.Store, registry *tools.Registry, cache *tools.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		service := chi.URLParam(r, "service")

		var tok *connections.TokenRecord
		var req connectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.AccessToken != "" {
			expiresIn := req.ExpiresIn
			if expiresIn == 0 {
				expiresIn = 3600
			}
			tok = &connections.TokenRecord{
				AccessToken:  req.AccessToken,
				RefreshToken: req.RefreshToken,
				ExpiresAt:    time.Now().Unix() + expiresIn,
			}
		}

		if err := store.Connect(r.Context(), userID, service, tok); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to connect"})
			return
		}

		refreshToolCache(r, store, registry, cache, userID)
		log.Printf("🔗 User %s connected %s", userID, service)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// RemoveHandler unlinks a service. Stored tokens are retained on purpose so
// reconnecting later skips re-authorization.
func RemoveHandler(store *connections.Store, registry *tools.Registry, cache *tools.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserID(r.Context())
		service := chi.URLParam(r, "service")

		if err := store.Disconnect(r.Context(), userID, service); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to disconnect"})
			return
		}

		refreshToolCache(r, store, registry, cache, userID)
		log.Printf("✂️ User %s disconnected %s", userID, service)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func refreshToolCache(r *http.Request, store *connections.Store, registry *tools.Registry, cache *tools.Cache, userID string) {
	rec, err := store.Get(r.Context(), userID)
	if err != nil || rec == nil {
		cache.Set(userID, nil)
		return
	}
	cache.Set(userID, registry.ToolsForServices(rec.ConnectedServices))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
