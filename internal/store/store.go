// Package store persists connections, records, enrichment output, and sync
// state behind a single interface with Postgres and SQLite implementations.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// ErrMappingExists is returned when creating an identity mapping would break
// the one-to-one correspondence for a (connection, entity type).
var ErrMappingExists = eris.New("store: identity mapping already exists")

// RecordFilter bounds a record listing.
type RecordFilter struct {
	TenantID string           `json:"tenant_id,omitempty"`
	Type     model.EntityType `json:"type,omitempty"`
	Limit    int              `json:"limit,omitempty"`
	Offset   int              `json:"offset,omitempty"`
}

// JobFilter bounds a sync job listing.
type JobFilter struct {
	ConnectionID string           `json:"connection_id,omitempty"`
	EntityType   model.EntityType `json:"entity_type,omitempty"`
	Status       model.SyncStatus `json:"status,omitempty"`
	Limit        int              `json:"limit,omitempty"`
}

// AuditFilter bounds an audit trail listing.
type AuditFilter struct {
	ConnectionID string `json:"connection_id,omitempty"`
	EntityID     string `json:"entity_id,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// RunFilter bounds a pipeline run listing.
type RunFilter struct {
	TenantID string `json:"tenant_id,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
	Failed   *bool  `json:"failed,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Store defines the persistence interface shared by the enrichment pipeline
// and the sync engine. Get methods return (nil, nil) when the row is absent.
type Store interface {
	// Connections
	CreateConnection(ctx context.Context, conn model.Connection) (*model.Connection, error)
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	ListConnections(ctx context.Context, tenantID string, activeOnly bool) ([]model.Connection, error)
	UpdateConnection(ctx context.Context, conn model.Connection) error
	DeleteConnection(ctx context.Context, id string) error

	// Field mappings
	ReplaceFieldMappings(ctx context.Context, connectionID string, et model.EntityType, mappings []model.FieldMapping) error
	ListFieldMappings(ctx context.Context, connectionID string) ([]model.FieldMapping, error)

	// Identity mappings. CreateIdentityMapping returns ErrMappingExists when
	// either side of the pair is already mapped for the connection and type.
	CreateIdentityMapping(ctx context.Context, m model.EntityIdentityMapping) (*model.EntityIdentityMapping, error)
	GetMappingByInternalID(ctx context.Context, connectionID string, et model.EntityType, internalID string) (*model.EntityIdentityMapping, error)
	GetMappingByExternalID(ctx context.Context, connectionID string, et model.EntityType, externalID string) (*model.EntityIdentityMapping, error)
	TouchIdentityMapping(ctx context.Context, id string, syncedAt time.Time) error
	DeleteIdentityMapping(ctx context.Context, id string) error

	// Records. BulkUpsertRecords is the batch import path and returns the
	// number of rows written.
	UpsertRecord(ctx context.Context, rec model.Record) (*model.Record, error)
	BulkUpsertRecords(ctx context.Context, recs []model.Record) (int64, error)
	GetRecord(ctx context.Context, et model.EntityType, id string) (*model.Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)

	// Signal records. SaveSignalRecord overwrites wholesale;
	// AppendIntentSignals is append-only with dedupe and returns the number
	// of signals actually added.
	SaveSignalRecord(ctx context.Context, tenantID string, rec model.SignalRecord) error
	GetSignalRecord(ctx context.Context, entityID string) (*model.SignalRecord, error)
	AppendIntentSignals(ctx context.Context, tenantID, entityID string, signals []model.IntentSignal) (int, error)
	ListIntentSignals(ctx context.Context, entityID string) ([]model.IntentSignal, error)

	// Pipeline runs
	SavePipelineRun(ctx context.Context, result model.PipelineResult) error
	GetPipelineRun(ctx context.Context, runID string) (*model.PipelineResult, error)
	ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineResult, error)

	// Sync jobs
	CreateSyncJob(ctx context.Context, job model.SyncJob) (*model.SyncJob, error)
	UpdateSyncJobStatus(ctx context.Context, jobID string, status model.SyncStatus) error
	CompleteSyncJob(ctx context.Context, jobID string, status model.SyncStatus, summary model.SyncSummary) error
	GetSyncJob(ctx context.Context, jobID string) (*model.SyncJob, error)
	ListSyncJobs(ctx context.Context, filter JobFilter) ([]model.SyncJob, error)

	// Conflicts
	CreateConflict(ctx context.Context, c model.SyncConflict) (*model.SyncConflict, error)
	GetConflict(ctx context.Context, id string) (*model.SyncConflict, error)
	ListConflicts(ctx context.Context, connectionID string, status model.ConflictStatus, limit int) ([]model.SyncConflict, error)
	ResolveConflict(ctx context.Context, id string, resolution model.ConflictPolicy) error

	// Audit trail
	AppendAudit(ctx context.Context, entries ...model.SyncAudit) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]model.SyncAudit, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
