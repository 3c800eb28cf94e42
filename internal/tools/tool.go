// Package tools defines the tool-call surface exposed to the agent: tool
// definitions, the connector contract implemented per third-party service,
// and the registry that routes invocations to the owning connector.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Property describes one argument in a tool's input schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// InputSchema is the JSON-Schema-like argument description sent to the model.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is a machine-readable description of one callable
// capability. Definitions are declared in code per connector and never
// persisted. The name carries the owning service as its leading segment.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// ToolName is a parsed tool name: the owning service plus the verb within
// that service, e.g. "spotify_search_tracks" -> {spotify, search_tracks}.
type ToolName struct {
	Service string
	Verb    string
}

func (n ToolName) String() string {
	return n.Service + "_" + n.Verb
}

// ParseToolName splits a raw tool name at the first underscore. Names
// without a service segment are rejected; connectors are validated against
// this at registration time so malformed names never survive startup.
func ParseToolName(raw string) (ToolName, error) {
	service, verb, ok := strings.Cut(raw, "_")
	if !ok || service == "" || verb == "" {
		return ToolName{}, fmt.Errorf("tool name %q is not service-namespaced", raw)
	}
	return ToolName{Service: strings.ToLower(service), Verb: verb}, nil
}

// Connector implements one third-party service's tools. Call returns the
// text fed back to the model as the tool result; failures the conversation
// should survive come back as typed errors (see errors.go), not panics.
type Connector interface {
	Name() string
	Tools() []ToolDefinition
	Call(ctx context.Context, name ToolName, args map[string]any, userID string) (string, error)
}

// StringArg reads a string argument, returning "" when absent or mistyped.
func StringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// IntArg reads an integer argument, tolerating the float64 the JSON decoder
// produces, and falls back to def.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}
