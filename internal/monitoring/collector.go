// Package monitoring collects point-in-time health metrics over pipeline
// runs, sync jobs, conflicts, and the audit trail, and raises webhook alerts
// when configured thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/store"
)

// listLimit bounds how many rows one snapshot reads per table.
const listLimit = 10000

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Pipeline metrics (within lookback window).
	PipelineTotal      int     `json:"pipeline_total"`
	PipelineSucceeded  int     `json:"pipeline_succeeded"`
	PipelineFailed     int     `json:"pipeline_failed"`
	PipelineFailRate   float64 `json:"pipeline_fail_rate"`
	PipelineCredits    int     `json:"pipeline_credits"`
	PipelineAvgQuality float64 `json:"pipeline_avg_quality"`

	// Sync metrics (within lookback window).
	SyncTotal     int `json:"sync_total"`
	SyncCompleted int `json:"sync_completed"`
	SyncFailed    int `json:"sync_failed"`
	SyncRunning   int `json:"sync_running"`
	SyncConflicts int `json:"sync_conflicts"`

	// OpenConflicts is the current backlog, not window-bounded: an old
	// unresolved conflict is still actionable.
	OpenConflicts int `json:"open_conflicts"`

	// Audit outcome counts (within lookback window).
	AuditSuccess int `json:"audit_success"`
	AuditFailure int `json:"audit_failure"`
	AuditSkipped int `json:"audit_skipped"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	if err := c.collectPipeline(ctx, cutoff, snap); err != nil {
		return nil, err
	}
	if err := c.collectSync(ctx, cutoff, snap); err != nil {
		return nil, err
	}
	if err := c.collectAudit(ctx, cutoff, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (c *Collector) collectPipeline(ctx context.Context, cutoff time.Time, snap *MetricsSnapshot) error {
	runs, err := c.store.ListPipelineRuns(ctx, store.RunFilter{Limit: listLimit})
	if err != nil {
		return eris.Wrap(err, "monitoring: list pipeline runs")
	}

	var totalQuality, scoredRuns int
	for _, run := range runs {
		if run.StartedAt.Before(cutoff) {
			continue
		}
		snap.PipelineTotal++
		snap.PipelineCredits += run.CreditsUsed
		if run.Failed {
			snap.PipelineFailed++
		} else {
			snap.PipelineSucceeded++
		}
		if run.Signals != nil {
			totalQuality += run.Signals.Metadata.QualityScore
			scoredRuns++
		}
	}

	if snap.PipelineTotal > 0 {
		snap.PipelineFailRate = float64(snap.PipelineFailed) / float64(snap.PipelineTotal)
	}
	if scoredRuns > 0 {
		snap.PipelineAvgQuality = float64(totalQuality) / float64(scoredRuns)
	}
	return nil
}

func (c *Collector) collectSync(ctx context.Context, cutoff time.Time, snap *MetricsSnapshot) error {
	jobs, err := c.store.ListSyncJobs(ctx, store.JobFilter{Limit: listLimit})
	if err != nil {
		return eris.Wrap(err, "monitoring: list sync jobs")
	}
	for _, job := range jobs {
		if job.StartedAt.Before(cutoff) {
			continue
		}
		snap.SyncTotal++
		switch job.Status {
		case model.SyncCompleted:
			snap.SyncCompleted++
		case model.SyncFailed:
			snap.SyncFailed++
		case model.SyncRunning:
			snap.SyncRunning++
		}
		if job.Summary != nil {
			snap.SyncConflicts += job.Summary.Conflicts
		}
	}

	open, err := c.store.ListConflicts(ctx, "", model.ConflictOpen, listLimit)
	if err != nil {
		return eris.Wrap(err, "monitoring: list open conflicts")
	}
	snap.OpenConflicts = len(open)
	return nil
}

func (c *Collector) collectAudit(ctx context.Context, cutoff time.Time, snap *MetricsSnapshot) error {
	entries, err := c.store.ListAudit(ctx, store.AuditFilter{Limit: listLimit})
	if err != nil {
		return eris.Wrap(err, "monitoring: list audit trail")
	}
	for _, entry := range entries {
		if entry.CreatedAt.Before(cutoff) {
			continue
		}
		switch entry.Outcome {
		case model.AuditOutcomeSuccess:
			snap.AuditSuccess++
		case model.AuditOutcomeFailure:
			snap.AuditFailure++
		case model.AuditOutcomeSkipped:
			snap.AuditSkipped++
		}
	}
	return nil
}
