package tools

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/linkhq/link/internal/connections"
)

// Registry holds all known connectors and routes tool invocations to the one
// owning the tool's service namespace.
type Registry struct {
	store     *connections.Store
	order     []string
	byService map[string]Connector
}

func NewRegistry(store *connections.Store) *Registry {
	return &Registry{
		store:     store,
		byService: make(map[string]Connector),
	}
}

// Register adds a connector and validates that every tool it exposes is
// namespaced under the connector's own service name. Misnamed tools are a
// programming error caught at startup, not at call time.
func (r *Registry) Register(c Connector) error {
	service := strings.ToLower(c.Name())
	if _, exists := r.byService[service]; exists {
		return fmt.Errorf("connector %q already registered", service)
	}
	for _, def := range c.Tools() {
		name, err := ParseToolName(def.Name)
		if err != nil {
			return fmt.Errorf("connector %q: %w", service, err)
		}
		if name.Service != service {
			return fmt.Errorf("connector %q exposes tool %q outside its namespace", service, def.Name)
		}
	}
	r.byService[service] = c
	r.order = append(r.order, service)
	return nil
}

// ToolsForServices aggregates the definitions of the named services, in
// connector registration order. Unknown names are skipped.
func (r *Registry) ToolsForServices(services []string) []ToolDefinition {
	connected := make(map[string]bool, len(services))
	for _, s := range services {
		connected[strings.ToLower(s)] = true
	}

	var defs []ToolDefinition
	for _, service := range r.order {
		if connected[service] {
			defs = append(defs, r.byService[service].Tools()...)
		}
	}
	return defs
}

// ToolsForUser reads the user's connected services from the store and
// aggregates their tool definitions.
func (r *Registry) ToolsForUser(ctx context.Context, userID string) ([]ToolDefinition, error) {
	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return r.ToolsForServices(rec.ConnectedServices), nil
}

// Dispatch derives the owning service from the tool name's leading segment
// and routes the call. A name whose derived service has no connector fails
// with UnsupportedServiceError before any network activity.
func (r *Registry) Dispatch(ctx context.Context, rawName string, args map[string]any, userID string) (string, error) {
	name, err := ParseToolName(rawName)
	if err != nil {
		return "", &UnsupportedServiceError{Service: rawName}
	}

	c, ok := r.byService[name.Service]
	if !ok {
		return "", &UnsupportedServiceError{Service: name.Service}
	}

	log.Printf("🔧 Dispatching tool %s for user %s", rawName, userID)
	return c.Call(ctx, name, args, userID)
}
