package model

import (
	"fmt"
	"time"
)

// IntentSignalType classifies an intent observation.
type IntentSignalType string

const (
	IntentPageVisit       IntentSignalType = "page_visit"
	IntentContentDownload IntentSignalType = "content_download"
	IntentSearchQuery     IntentSignalType = "search_query"
	IntentTechStack       IntentSignalType = "tech_stack"
	IntentJobPosting      IntentSignalType = "job_posting"
	IntentFunding         IntentSignalType = "funding"
	IntentNewsMention     IntentSignalType = "news_mention"
)

// BuyingStage is the inferred position in the buying journey.
type BuyingStage string

const (
	StageAwareness     BuyingStage = "awareness"
	StageConsideration BuyingStage = "consideration"
	StageDecision      BuyingStage = "decision"
	StagePurchase      BuyingStage = "purchase"
)

// IntentSignal is a timestamped, confidence-scored observation suggesting a
// prospect or company is approaching a buying decision. Immutable once
// recorded; the store accumulates signals as an append-only log.
type IntentSignal struct {
	Type        IntentSignalType `json:"type"`
	Source      string           `json:"source"`
	Confidence  int              `json:"confidence"`
	Timestamp   time.Time        `json:"timestamp"`
	Description string           `json:"description,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// DedupeKey identifies a signal for append-only deduplication.
func (s IntentSignal) DedupeKey() string {
	return fmt.Sprintf("%s|%d|%s", s.Type, s.Timestamp.UTC().Unix(), s.Source)
}

// NewsItem is a single news article attached to the research sub-record.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

// CommitteeRole is one inferred member of the buying committee.
type CommitteeRole struct {
	Title string `json:"title"`
	Role  string `json:"role"`
}

// ContactSignals holds direct-reachability facts for the prospect.
type ContactSignals struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Phone         string `json:"phone,omitempty"`
	DirectDial    string `json:"direct_dial,omitempty"`
	MobilePhone   string `json:"mobile_phone,omitempty"`
	LinkedInURL   string `json:"linkedin_url,omitempty"`
	TwitterURL    string `json:"twitter_url,omitempty"`
}

// ProfessionalSignals holds role and career facts.
type ProfessionalSignals struct {
	Title        string   `json:"title,omitempty"`
	Seniority    string   `json:"seniority,omitempty"`
	Department   string   `json:"department,omitempty"`
	Skills       []string `json:"skills,omitempty"`
	TenureMonths int      `json:"tenure_months,omitempty"`
}

// CompanySignals holds firmographic facts about the prospect's company.
type CompanySignals struct {
	Name          string   `json:"name,omitempty"`
	Domain        string   `json:"domain,omitempty"`
	Industry      string   `json:"industry,omitempty"`
	EmployeeCount int      `json:"employee_count,omitempty"`
	RevenueUSD    int64    `json:"revenue_usd,omitempty"`
	Technologies  []string `json:"technologies,omitempty"`
	Headquarters  string   `json:"headquarters,omitempty"`
}

// IntentSignals aggregates the signal log window with derived scoring.
type IntentSignals struct {
	Signals     []IntentSignal `json:"signals,omitempty"`
	Score       int            `json:"score"`
	BuyingStage BuyingStage    `json:"buying_stage,omitempty"`
}

// RelationshipSignals holds interaction history facts.
type RelationshipSignals struct {
	InteractionCount int        `json:"interaction_count,omitempty"`
	LastContactedAt  *time.Time `json:"last_contacted_at,omitempty"`
}

// ResearchSignals holds qualitative research output.
type ResearchSignals struct {
	NewsItems       []NewsItem      `json:"news_items,omitempty"`
	PainPoints      []string        `json:"pain_points,omitempty"`
	BuyingCommittee []CommitteeRole `json:"buying_committee,omitempty"`
}

// SignalMetadata records provenance and derived scores. Sources is exactly
// the set of connectors that contributed at least one usable field; the
// scores are pure functions of the other sub-records, recomputed on every
// run rather than patched incrementally.
type SignalMetadata struct {
	Sources           []string  `json:"sources"`
	QualityScore      int       `json:"quality_score"`
	CompletenessScore int       `json:"completeness_score"`
	FreshnessScore    int       `json:"freshness_score"`
	EnrichedAt        time.Time `json:"enriched_at"`
}

// SignalRecord is the normalized enrichment result for one entity. Each
// pipeline run overwrites the record wholesale; only the intent signal log
// accumulates across runs.
type SignalRecord struct {
	EntityID     string              `json:"entity_id"`
	Contact      ContactSignals      `json:"contact"`
	Professional ProfessionalSignals `json:"professional"`
	Company      CompanySignals      `json:"company"`
	Intent       IntentSignals       `json:"intent"`
	Relationship RelationshipSignals `json:"relationship"`
	Research     ResearchSignals     `json:"research"`
	Metadata     SignalMetadata      `json:"metadata"`
}
