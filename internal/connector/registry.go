package connector

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
)

// Factory builds a Connector from a stored connection.
type Factory func(conn model.Connection) (Connector, error)

// Entry is one active connector with its waterfall position. Lower priority
// numbers are attempted (and trusted) first.
type Entry struct {
	Source    string
	Priority  int
	Connector Connector
}

// ConnectionLister reads the enabled connections for a tenant.
type ConnectionLister interface {
	ListConnections(ctx context.Context, tenantID string, activeOnly bool) ([]model.Connection, error)
}

// Registry maps provider keys to connector factories and assembles the
// active connector set for a tenant.
type Registry struct {
	factories map[string]Factory
	order     []string
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a provider key. Registration order supplies
// the default priority for connections that do not configure one.
func (r *Registry) Register(provider string, f Factory) {
	if _, exists := r.factories[provider]; !exists {
		r.order = append(r.order, provider)
	}
	r.factories[provider] = f
}

// Providers returns all registered provider keys in registration order.
func (r *Registry) Providers() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// BuildActive instantiates connectors for every enabled connection of the
// tenant, ordered by priority. Connections with missing or unusable
// credentials are logged and excluded, never errors: enrichment proceeds
// with whatever sources remain, and an empty set is a valid degenerate state.
func (r *Registry) BuildActive(ctx context.Context, conns ConnectionLister, tenantID string) ([]Entry, error) {
	connections, err := conns.ListConnections(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, conn := range connections {
		factory, ok := r.factories[conn.Provider]
		if !ok {
			zap.L().Warn("registry: no connector for provider",
				zap.String("provider", conn.Provider),
				zap.String("connection_id", conn.ID),
			)
			continue
		}
		if !conn.HasCredentials() {
			zap.L().Warn("registry: connection has no usable credentials, excluding",
				zap.String("provider", conn.Provider),
				zap.String("connection_id", conn.ID),
			)
			continue
		}

		c, err := factory(conn)
		if err != nil {
			zap.L().Warn("registry: failed to build connector, excluding",
				zap.String("provider", conn.Provider),
				zap.String("connection_id", conn.ID),
				zap.Error(err),
			)
			continue
		}

		priority := conn.Priority
		if priority == 0 {
			priority = r.defaultPriority(conn.Provider)
		}
		entries = append(entries, Entry{
			Source:    c.Name(),
			Priority:  priority,
			Connector: c,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].Source < entries[j].Source
	})
	return entries, nil
}

// defaultPriority falls back to registration order (1-based) when the
// connection does not configure an explicit priority.
func (r *Registry) defaultPriority(provider string) int {
	for i, p := range r.order {
		if p == provider {
			return i + 1
		}
	}
	return len(r.order) + 1
}
