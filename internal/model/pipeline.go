package model

import "time"

// SourceResult records one connector's outcome within a pipeline run,
// success or not.
type SourceResult struct {
	Source            string `json:"source"`
	Success           bool   `json:"success"`
	DataPointsWritten int    `json:"data_points_written"`
	DurationMS        int64  `json:"duration_ms"`
	CreditsUsed       int    `json:"credits_used"`
	Skipped           bool   `json:"skipped,omitempty"`
	Error             string `json:"error,omitempty"`
}

// PipelineResult is the structured outcome of one enrichment run. Partial
// enrichment is always observable: the run carries every per-source result
// rather than a single boolean.
type PipelineResult struct {
	RunID         string         `json:"run_id"`
	EntityID      string         `json:"entity_id"`
	TenantID      string         `json:"tenant_id"`
	Signals       *SignalRecord  `json:"signals,omitempty"`
	SourceResults []SourceResult `json:"source_results"`
	DurationMS    int64          `json:"duration_ms"`
	CreditsUsed   int            `json:"credits_used"`
	Failed        bool           `json:"failed"`
	Error         string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
}

// SucceededSources returns the names of connectors that wrote at least one
// data point, in attempt order. This is the exact value persisted as
// metadata.sources.
func (r *PipelineResult) SucceededSources() []string {
	var out []string
	for _, sr := range r.SourceResults {
		if sr.DataPointsWritten > 0 {
			out = append(out, sr.Source)
		}
	}
	return out
}

// AllFailed reports whether every attempted source failed. A run is an
// overall failure only if all sources failed or the store write failed.
func (r *PipelineResult) AllFailed() bool {
	attempted := 0
	for _, sr := range r.SourceResults {
		if sr.Skipped {
			continue
		}
		attempted++
		if sr.Success {
			return false
		}
	}
	return attempted > 0
}
