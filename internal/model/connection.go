package model

import "time"

// ConflictPolicy selects how update conflicts detected during bidirectional
// sync are resolved for a connection.
type ConflictPolicy string

const (
	// ConflictUseInternal overwrites the CRM side with internal data.
	ConflictUseInternal ConflictPolicy = "use_internal"
	// ConflictUseCRM overwrites the internal side with CRM data.
	ConflictUseCRM ConflictPolicy = "use_crm"
	// ConflictManual leaves the conflict open until explicitly resolved.
	ConflictManual ConflictPolicy = "manual"
)

// Connection holds tenant-scoped credentials and configuration for one
// external provider instance. Connectors hold a transient copy and never
// persist credentials themselves.
type Connection struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Provider       string         `json:"provider"`
	AccessToken    string         `json:"access_token,omitempty"`
	RefreshToken   string         `json:"refresh_token,omitempty"`
	APIKey         string         `json:"api_key,omitempty"`
	BaseURL        string         `json:"base_url,omitempty"`
	Priority       int            `json:"priority"`
	Active         bool           `json:"active"`
	ConflictPolicy ConflictPolicy `json:"conflict_policy"`
	LastSyncAt     *time.Time     `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasCredentials reports whether the connection carries something a
// connector can authenticate with.
func (c Connection) HasCredentials() bool {
	return c.APIKey != "" || c.AccessToken != ""
}

// FieldMapping pairs one internal field with one external field for a
// (connection, entity type). Read-only to the pipeline and sync engine at
// run time; unmapped external fields are ignored, not errors.
type FieldMapping struct {
	ID            string     `json:"id"`
	ConnectionID  string     `json:"connection_id"`
	EntityType    EntityType `json:"entity_type"`
	InternalField string     `json:"internal_field"`
	ExternalField string     `json:"external_field"`
	Transform     string     `json:"transform,omitempty"`
	Position      int        `json:"position"`
}

// EntityIdentityMapping is the durable correspondence between one internal
// record and its counterpart in one external CRM. At most one mapping per
// (connection, entity type, internal id) and one per (connection, entity
// type, external id); the storage layer enforces the bijection with unique
// constraints.
type EntityIdentityMapping struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	EntityType   EntityType `json:"entity_type"`
	InternalID   string     `json:"internal_id"`
	ExternalID   string     `json:"external_id"`
	LastSyncedAt time.Time  `json:"last_synced_at"`
}
