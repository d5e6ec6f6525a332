package connector

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-sync/internal/model"
)

type staticConn struct {
	name  string
	scope Scope
}

func (s staticConn) Name() string                           { return s.name }
func (s staticConn) Scope() Scope                           { return s.scope }
func (s staticConn) TestConnection(_ context.Context) error { return nil }
func (s staticConn) Enrich(_ context.Context, _ model.Target) (model.RawFields, error) {
	return model.RawFields{}, nil
}

func staticFactory(name string) Factory {
	return func(_ model.Connection) (Connector, error) {
		return staticConn{name: name, scope: ScopePerson}, nil
	}
}

type staticLister struct {
	connections []model.Connection
}

func (l staticLister) ListConnections(_ context.Context, _ string, _ bool) ([]model.Connection, error) {
	return l.connections, nil
}

func TestRegistryBuildActiveOrdersByPriority(t *testing.T) {
	r := NewRegistry()
	r.Register("people-data", staticFactory("people-data"))
	r.Register("company-data", staticFactory("company-data"))
	r.Register("news-service", staticFactory("news-service"))

	lister := staticLister{connections: []model.Connection{
		{ID: "c1", Provider: "news-service", APIKey: "k", Priority: 3},
		{ID: "c2", Provider: "people-data", APIKey: "k", Priority: 1},
		{ID: "c3", Provider: "company-data", APIKey: "k", Priority: 2},
	}}

	entries, err := r.BuildActive(context.Background(), lister, "tenant-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "people-data", entries[0].Source)
	assert.Equal(t, "company-data", entries[1].Source)
	assert.Equal(t, "news-service", entries[2].Source)
}

func TestRegistryBuildActiveDefaultsToRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("people-data", staticFactory("people-data"))
	r.Register("company-data", staticFactory("company-data"))

	lister := staticLister{connections: []model.Connection{
		{ID: "c1", Provider: "company-data", APIKey: "k"},
		{ID: "c2", Provider: "people-data", APIKey: "k"},
	}}

	entries, err := r.BuildActive(context.Background(), lister, "tenant-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "people-data", entries[0].Source)
	assert.Equal(t, 1, entries[0].Priority)
	assert.Equal(t, "company-data", entries[1].Source)
	assert.Equal(t, 2, entries[1].Priority)
}

func TestRegistryBuildActiveSkipsUnusableConnections(t *testing.T) {
	r := NewRegistry()
	r.Register("people-data", staticFactory("people-data"))
	r.Register("broken", func(_ model.Connection) (Connector, error) {
		return nil, eris.New("bad config")
	})

	lister := staticLister{connections: []model.Connection{
		{ID: "c1", Provider: "people-data", APIKey: "k"},
		{ID: "c2", Provider: "unknown-provider", APIKey: "k"},
		{ID: "c3", Provider: "people-data"}, // no credentials
		{ID: "c4", Provider: "broken", APIKey: "k"},
	}}

	entries, err := r.BuildActive(context.Background(), lister, "tenant-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "people-data", entries[0].Source)
}

func TestRegistryBuildActiveEmptySetIsValid(t *testing.T) {
	r := NewRegistry()
	r.Register("people-data", staticFactory("people-data"))

	entries, err := r.BuildActive(context.Background(), staticLister{}, "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRegistryProviders(t *testing.T) {
	r := NewRegistry()
	r.Register("a", staticFactory("a"))
	r.Register("b", staticFactory("b"))
	r.Register("a", staticFactory("a")) // re-register keeps position

	assert.Equal(t, []string{"a", "b"}, r.Providers())
}
