package model

import "time"

// EntityType identifies a class of record shared between the internal store
// and external CRM systems.
type EntityType string

const (
	EntityContact  EntityType = "contact"
	EntityCompany  EntityType = "company"
	EntityLead     EntityType = "lead"
	EntityActivity EntityType = "activity"
)

// RawFields is the normalized field map every connector speaks. Keys are
// canonical internal field names; provider-specific shapes never leak past
// the connector boundary.
type RawFields map[string]any

// Clone returns a shallow copy of the field map.
func (f RawFields) Clone() RawFields {
	out := make(RawFields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// CRMEntity is a normalized record fetched from an external system.
type CRMEntity struct {
	ID         string     `json:"id"`
	Type       EntityType `json:"type"`
	Fields     RawFields  `json:"fields"`
	ModifiedAt time.Time  `json:"modified_at"`
}

// Record is an internal entity row. Sync and enrichment both address records
// by (type, id); field values live in a generic map so the same upsert path
// serves every entity type.
type Record struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Type      EntityType     `json:"type"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StringField returns a field coerced to string, or "" when absent.
func (r *Record) StringField(key string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	if s, ok := r.Fields[key].(string); ok {
		return s
	}
	return ""
}

// Target carries the best available identifiers for enrichment lookups.
// Connectors pick whichever inputs they support (email, name+company, or
// domain).
type Target struct {
	EntityID    string `json:"entity_id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Company     string `json:"company"`
	Domain      string `json:"domain"`
	LinkedInURL string `json:"linkedin_url"`
}

// TargetFromRecord builds an enrichment target from a stored contact record.
func TargetFromRecord(r *Record) Target {
	return Target{
		EntityID:    r.ID,
		Email:       r.StringField("email"),
		FirstName:   r.StringField("first_name"),
		LastName:    r.StringField("last_name"),
		Company:     r.StringField("company"),
		Domain:      r.StringField("domain"),
		LinkedInURL: r.StringField("linkedin_url"),
	}
}
