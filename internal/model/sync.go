package model

import "time"

// SyncDirection selects which passes a sync job performs.
type SyncDirection string

const (
	DirectionPull          SyncDirection = "pull"
	DirectionPush          SyncDirection = "push"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// Pulls reports whether the direction includes a pull pass.
func (d SyncDirection) Pulls() bool {
	return d == DirectionPull || d == DirectionBidirectional
}

// Pushes reports whether the direction includes a push pass.
func (d SyncDirection) Pushes() bool {
	return d == DirectionPush || d == DirectionBidirectional
}

// SyncStatus is the SyncJob state machine: pending -> running ->
// {completed | failed}. Terminal states are final; a failed job is retried
// by creating a new job.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncRunning   SyncStatus = "running"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// SyncMode distinguishes full-table sync from incremental sync.
type SyncMode string

const (
	ModeFull        SyncMode = "full"
	ModeIncremental SyncMode = "incremental"
)

// SyncSummary is the per-job result breakdown. Callers always receive
// per-record counts, never an all-or-nothing boolean.
type SyncSummary struct {
	Pulled    int    `json:"pulled"`
	Pushed    int    `json:"pushed"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Failed    int    `json:"failed"`
	Conflicts int    `json:"conflicts"`
	Error     string `json:"error,omitempty"`
}

// SyncJob tracks one synchronization attempt for a (connection, entity type).
type SyncJob struct {
	ID           string        `json:"id"`
	ConnectionID string        `json:"connection_id"`
	EntityType   EntityType    `json:"entity_type"`
	Direction    SyncDirection `json:"direction"`
	Mode         SyncMode      `json:"mode"`
	Status       SyncStatus    `json:"status"`
	Summary      *SyncSummary  `json:"summary,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// ConflictStatus is the lifecycle of a recorded update conflict.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// SyncConflict records an update conflict: both systems modified the entity
// after lastSyncedAt. Neither side is overwritten silently; snapshots of
// both are kept for resolution.
type SyncConflict struct {
	ID           string         `json:"id"`
	ConnectionID string         `json:"connection_id"`
	EntityType   EntityType     `json:"entity_type"`
	InternalID   string         `json:"internal_id"`
	ExternalID   string         `json:"external_id"`
	InternalData map[string]any `json:"internal_data"`
	CRMData      RawFields      `json:"crm_data"`
	Status       ConflictStatus `json:"status"`
	Resolution   ConflictPolicy `json:"resolution,omitempty"`
	DetectedAt   time.Time      `json:"detected_at"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
}

// SyncAudit is one row of operational history, appended for every sync
// attempt independent of the job record so history survives a failed job
// update.
type SyncAudit struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	EntityType   EntityType `json:"entity_type"`
	Action       string     `json:"action"`
	EntityID     string     `json:"entity_id,omitempty"`
	Outcome      string     `json:"outcome"`
	Detail       string     `json:"detail,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

const (
	AuditOutcomeSuccess  = "success"
	AuditOutcomeFailure  = "failure"
	AuditOutcomeConflict = "conflict"
	AuditOutcomeSkipped  = "skipped"
)
