package main

import (
	"log"
	"net/http"
	"os"

	"github.com/linkhq/link/internal/agent"
	"github.com/linkhq/link/internal/auth"
	"github.com/linkhq/link/internal/config"
	"github.com/linkhq/link/internal/connections"
	"github.com/linkhq/link/internal/db"
	"github.com/linkhq/link/internal/llm"
	"github.com/linkhq/link/internal/persona"
	"github.com/linkhq/link/internal/server"
	"github.com/linkhq/link/internal/tools"
	"github.com/linkhq/link/internal/tools/gmail"
	"github.com/linkhq/link/internal/tools/spotify"
	"github.com/linkhq/link/internal/version"
)

func main() {
	cfg, err := config.Load(os.Getenv("LINK_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	store := connections.NewStore(database)

	// Register connectors
	registry := tools.NewRegistry(store)
	if err := registry.Register(spotify.New(store, spotify.Config{
		ClientID:     cfg.Services.Spotify.ClientID,
		ClientSecret: cfg.Services.Spotify.ClientSecret,
		TokenURL:     cfg.Services.Spotify.TokenURL,
		APIBaseURL:   cfg.Services.Spotify.APIBaseURL,
	})); err != nil {
		log.Fatalf("Failed to register spotify connector: %v", err)
	}
	if err := registry.Register(gmail.New(store, gmail.Config{
		ClientID:     cfg.Services.Gmail.ClientID,
		ClientSecret: cfg.Services.Gmail.ClientSecret,
		TokenURL:     cfg.Services.Gmail.TokenURL,
		APIBaseURL:   cfg.Services.Gmail.APIBaseURL,
	})); err != nil {
		log.Fatalf("Failed to register gmail connector: %v", err)
	}
	cache := tools.NewCache()

	// Model client and turn orchestrator
	caller := llm.NewClient(llm.ClientConfig{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
	})
	var guardrail *llm.GuardrailConfig
	if cfg.Model.GuardrailID != "" {
		guardrail = &llm.GuardrailConfig{
			GuardrailIdentifier: cfg.Model.GuardrailID,
			GuardrailVersion:    cfg.Model.GuardrailVersion,
			Trace:               "enabled",
		}
	}
	orchestrator := agent.NewOrchestrator(caller, cfg.Model.ModelID, registry, cache, guardrail)

	router := server.NewRouter(server.Deps{
		Identity:       auth.NewHTTPProvider(cfg.Identity.BaseURL, nil),
		Orchestrator:   orchestrator,
		Persona:        persona.NewAgent(caller, cfg.Model.ModelID),
		Store:          store,
		Registry:       registry,
		Cache:          cache,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	addr := cfg.Host + ":" + cfg.Port
	log.Printf("🚀 Link %s starting on http://%s", version.Version, addr)
	log.Printf("🔌 Generate endpoint: http://%s/generate", addr)
	log.Printf("🔗 Connection API: http://%s/api", addr)

	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
