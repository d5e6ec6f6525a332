// Package connector defines the uniform contract every external data
// provider is normalized into, the error taxonomy shared by the enrichment
// pipeline and the sync engine, and the registry that builds the active
// connector set for a tenant.
package connector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
)

// Scope describes which lookup level a connector operates at. Company-scoped
// connectors are skipped when no trustworthy company domain can be derived
// for the target.
type Scope string

const (
	ScopePerson  Scope = "person"
	ScopeCompany Scope = "company"
	ScopeBoth    Scope = "both"
)

// Connector is the uniform adapter contract for one external data source.
// Provider-specific parsing, auth, and rate limiting live entirely behind
// this interface.
type Connector interface {
	// Name is the source name recorded in per-source results and
	// metadata.sources (e.g. "people-data").
	Name() string
	// Scope reports whether the connector resolves people, companies, or both.
	Scope() Scope
	// TestConnection performs a cheap read-only call validating credentials.
	TestConnection(ctx context.Context) error
	// Enrich fetches whatever the provider knows about the target and
	// returns it as normalized fields. An empty map is a valid answer.
	Enrich(ctx context.Context, target model.Target) (model.RawFields, error)
}

// Query bounds a CRM entity listing.
type Query struct {
	Filter  map[string]any
	Limit   int
	Offset  int
	OrderBy string
}

// BulkRecord is one record in a bulk update.
type BulkRecord struct {
	ExternalID string
	Fields     model.RawFields
}

// BulkResult is the per-item outcome of a bulk operation. Bulk calls are
// never all-or-nothing.
type BulkResult struct {
	ExternalID string
	Success    bool
	Error      string
}

// CRMConnector extends Connector with the entity CRUD surface the sync
// engine drives. Only CRM-type providers implement it.
type CRMConnector interface {
	Connector

	GetEntity(ctx context.Context, et model.EntityType, externalID string) (*model.CRMEntity, error)
	QueryEntities(ctx context.Context, et model.EntityType, q Query) ([]model.CRMEntity, error)
	CreateEntity(ctx context.Context, et model.EntityType, fields model.RawFields) (*model.CRMEntity, error)
	UpdateEntity(ctx context.Context, et model.EntityType, externalID string, fields model.RawFields) (*model.CRMEntity, error)
	DeleteEntity(ctx context.Context, et model.EntityType, externalID string) error

	// GetRecentlyModified returns entities modified since the given time,
	// monotonic on the provider's own modification clock.
	GetRecentlyModified(ctx context.Context, et model.EntityType, since time.Time, limit int) ([]model.CRMEntity, error)

	// LogActivity records an activity against a related external entity.
	LogActivity(ctx context.Context, activityType string, relatedExternalID string, fields model.RawFields) (*model.CRMEntity, error)

	BulkCreate(ctx context.Context, et model.EntityType, records []model.RawFields) ([]BulkResult, error)
	BulkUpdate(ctx context.Context, et model.EntityType, records []BulkRecord) ([]BulkResult, error)
}

// TokenRefresher is implemented by connectors whose credentials can be
// refreshed. A successful refresh returns the updated connection, which the
// caller must persist before the next call.
type TokenRefresher interface {
	RefreshToken(ctx context.Context) (*model.Connection, error)
}

// ConnectionSaver persists a refreshed connection.
type ConnectionSaver interface {
	UpdateConnection(ctx context.Context, conn model.Connection) error
}

// WithAuthRetry runs fn once, and on an AuthError attempts a single token
// refresh (persisting the updated connection) before retrying once. Any
// other error, or a second auth failure, surfaces unchanged.
func WithAuthRetry(ctx context.Context, c Connector, saver ConnectionSaver, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if _, ok := AsAuthError(err); !ok {
		return err
	}

	refresher, ok := c.(TokenRefresher)
	if !ok {
		return err
	}

	refreshed, refreshErr := refresher.RefreshToken(ctx)
	if refreshErr != nil {
		zap.L().Warn("connector: token refresh failed",
			zap.String("source", c.Name()),
			zap.Error(refreshErr),
		)
		return err
	}
	if saver != nil && refreshed != nil {
		if saveErr := saver.UpdateConnection(ctx, *refreshed); saveErr != nil {
			zap.L().Warn("connector: failed to persist refreshed connection",
				zap.String("source", c.Name()),
				zap.Error(saveErr),
			)
		}
	}

	return fn(ctx)
}
