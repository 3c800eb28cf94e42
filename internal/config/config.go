// Package config loads the server configuration from an optional yaml file
// with environment-variable overrides for secrets and deploy-time knobs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Host           string   `yaml:"host"`
	Port           string   `yaml:"port"`
	DBPath         string   `yaml:"db_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Model    ModelConfig    `yaml:"model"`
	Identity IdentityConfig `yaml:"identity"`
	Services ServicesConfig `yaml:"services"`
}

type ModelConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	ModelID          string `yaml:"model_id"`
	GuardrailID      string `yaml:"guardrail_id"`
	GuardrailVersion string `yaml:"guardrail_version"`
}

type IdentityConfig struct {
	BaseURL string `yaml:"base_url"`
}

type ServicesConfig struct {
	Spotify ServiceConfig `yaml:"spotify"`
	Gmail   ServiceConfig `yaml:"gmail"`
}

type ServiceConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// Load reads the yaml file at path (optional; "" or a missing file yields
// defaults) and applies env overrides on top.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Host:           "127.0.0.1",
		Port:           "5050",
		DBPath:         "link.db",
		AllowedOrigins: []string{"http://localhost:5173"},
		Model: ModelConfig{
			ModelID: "anthropic.claude-3-haiku-20240307-v1:0",
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override(&cfg.Host, "HOST")
	override(&cfg.Port, "PORT")
	override(&cfg.DBPath, "LINK_DB_PATH")

	override(&cfg.Model.BaseURL, "LINK_LLM_BASE_URL")
	override(&cfg.Model.APIKey, "LINK_LLM_API_KEY")
	override(&cfg.Model.ModelID, "LINK_LLM_MODEL_ID")
	override(&cfg.Model.GuardrailID, "BEDROCK_GUARD_RAIL_ID")
	override(&cfg.Model.GuardrailVersion, "BEDROCK_GUARD_RAIL_VERSION")

	override(&cfg.Identity.BaseURL, "LINK_IDENTITY_URL")

	override(&cfg.Services.Spotify.ClientID, "SPOTIFY_CLIENT_ID")
	override(&cfg.Services.Spotify.ClientSecret, "SPOTIFY_CLIENT_SECRET")
	override(&cfg.Services.Gmail.ClientID, "GMAIL_CLIENT_ID")
	override(&cfg.Services.Gmail.ClientSecret, "GMAIL_CLIENT_SECRET")
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
