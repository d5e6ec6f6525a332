// Package pipeline orchestrates per-entity enrichment: waterfall fan-out over
// the active connector set, first-writer-wins field merge, scoring, and
// idempotent persistence of the resulting signal record.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-sync/internal/connector"
	"github.com/sells-group/prospect-sync/internal/cost"
	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/resilience"
	"github.com/sells-group/prospect-sync/internal/store"
)

// Enricher runs the enrichment pipeline for one entity at a time. Invocations
// are independent; concurrent runs for different entities need no
// coordination because all durable state lives in the store.
type Enricher struct {
	store    store.Store
	registry *connector.Registry
	breakers *resilience.ServiceBreakers
	research *Synthesizer
	costs    *cost.Calculator
	cfg      Config
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithSynthesizer enables the optional research synthesis step.
func WithSynthesizer(s *Synthesizer) Option {
	return func(e *Enricher) { e.research = s }
}

// WithCostRates overrides the default credit schedule.
func WithCostRates(rates cost.Rates) Option {
	return func(e *Enricher) { e.costs = cost.NewCalculator(rates) }
}

// WithBreakers shares a circuit breaker registry across enrichers, so batch
// runs stop hammering a source that is persistently down.
func WithBreakers(b *resilience.ServiceBreakers) Option {
	return func(e *Enricher) { e.breakers = b }
}

// NewEnricher creates an Enricher over the given store and connector registry.
func NewEnricher(st store.Store, registry *connector.Registry, cfg Config, opts ...Option) *Enricher {
	e := &Enricher{
		store:    st,
		registry: registry,
		breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		costs:    cost.NewCalculator(cost.DefaultRates()),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sourceOutcome pairs a connector's raw answer with its per-source result.
// Fields stay unmerged until every source has finished, so the merge applies
// them in priority order regardless of completion order.
type sourceOutcome struct {
	fields model.RawFields
	result model.SourceResult
}

// EnrichEntity runs the full pipeline for one stored contact record and
// returns the structured per-source result. Partial failure is normal: the
// run is an overall failure only when every attempted source failed or the
// store write itself did.
func (e *Enricher) EnrichEntity(ctx context.Context, tenantID, entityID string) (*model.PipelineResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout())
	defer cancel()

	started := time.Now().UTC()
	result := &model.PipelineResult{
		RunID:     uuid.New().String(),
		EntityID:  entityID,
		TenantID:  tenantID,
		StartedAt: started,
	}

	rec, err := e.store.GetRecord(ctx, model.EntityContact, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load entity %s", entityID)
	}
	if rec == nil {
		return nil, eris.Errorf("pipeline: entity not found: %s", entityID)
	}

	target := model.TargetFromRecord(rec)
	if target.Domain == "" {
		target.Domain = DeriveDomain(target.Email)
	}
	companyBlocked := target.Domain == ""
	if companyBlocked && IsPublicEmailDomain(target.Email) {
		zap.L().Info("pipeline: public email domain, skipping company-level sources",
			zap.String("entity_id", entityID),
		)
	}

	entries, err := e.registry.BuildActive(ctx, e.store, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build connector set")
	}

	// Fan out. Outcomes land in slots indexed by waterfall position; no
	// connector's result feeds another, so completion order is irrelevant.
	outcomes := make([]sourceOutcome, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		g.Go(func() error {
			outcomes[i] = e.callSource(ctx, entry, target, companyBlocked)
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	// Merge strictly in priority order: first writer wins per scalar field,
	// append-only lists union with dedupe.
	acc := NewAccumulator(target)
	for i := range outcomes {
		out := &outcomes[i]
		if out.result.Success {
			out.result.DataPointsWritten = acc.Apply(out.fields)
		}
		out.result.CreditsUsed = e.costs.Call(out.result.Source, out.result.Success && !out.result.Skipped)
		result.CreditsUsed += out.result.CreditsUsed
		result.SourceResults = append(result.SourceResults, out.result)
	}
	signals := acc.Record()

	if e.research != nil && !companyBlocked {
		result.SourceResults = append(result.SourceResults, e.synthesize(ctx, signals))
	}

	if result.AllFailed() {
		result.Failed = true
		result.Error = "all sources failed"
		result.DurationMS = time.Since(started).Milliseconds()
		if err := e.store.SavePipelineRun(ctx, *result); err != nil {
			return nil, eris.Wrap(err, "pipeline: save failed run")
		}
		return result, nil
	}

	if err := e.persist(ctx, tenantID, signals, result); err != nil {
		result.Failed = true
		result.Error = err.Error()
		result.DurationMS = time.Since(started).Milliseconds()
		if saveErr := e.store.SavePipelineRun(ctx, *result); saveErr != nil {
			zap.L().Error("pipeline: failed to record failed run", zap.Error(saveErr))
		}
		return nil, err
	}

	result.Signals = signals
	result.DurationMS = time.Since(started).Milliseconds()
	if err := e.store.SavePipelineRun(ctx, *result); err != nil {
		return nil, eris.Wrap(err, "pipeline: save run")
	}

	zap.L().Info("pipeline: enrichment complete",
		zap.String("entity_id", entityID),
		zap.String("run_id", result.RunID),
		zap.Strings("sources", signals.Metadata.Sources),
		zap.Int("quality", signals.Metadata.QualityScore),
		zap.Int("completeness", signals.Metadata.CompletenessScore),
		zap.Int("credits", result.CreditsUsed),
	)
	return result, nil
}

// callSource runs one connector with its own timeout, circuit breaker, auth
// retry, and single rate-limit backoff. Never returns an error: every outcome
// is recorded in the per-source result.
func (e *Enricher) callSource(ctx context.Context, entry connector.Entry, target model.Target, companyBlocked bool) sourceOutcome {
	out := sourceOutcome{result: model.SourceResult{Source: entry.Source}}

	if companyBlocked && entry.Connector.Scope() == connector.ScopeCompany {
		out.result.Skipped = true
		return out
	}

	srcCtx, cancel := context.WithTimeout(ctx, e.cfg.SourceTimeout())
	defer cancel()

	started := time.Now()
	breaker := e.breakers.Get(entry.Source)
	err := breaker.Execute(srcCtx, func(ctx context.Context) error {
		return e.enrichOnce(ctx, entry, target, &out.fields)
	})
	out.result.DurationMS = time.Since(started).Milliseconds()

	switch {
	case err == nil:
		out.result.Success = true
	case eris.Is(err, resilience.ErrCircuitOpen):
		out.result.Skipped = true
		zap.L().Warn("pipeline: source circuit open, skipping",
			zap.String("source", entry.Source),
		)
	default:
		out.result.Error = err.Error()
		zap.L().Warn("pipeline: source failed",
			zap.String("source", entry.Source),
			zap.String("entity_id", target.EntityID),
			zap.Error(err),
		)
	}
	return out
}

// enrichOnce performs the actual connector call with auth retry, backing off
// exactly once on a rate-limit response before giving up on the source.
func (e *Enricher) enrichOnce(ctx context.Context, entry connector.Entry, target model.Target, fields *model.RawFields) error {
	call := func(ctx context.Context) error {
		f, err := entry.Connector.Enrich(ctx, target)
		if err != nil {
			return err
		}
		*fields = f
		return nil
	}

	err := connector.WithAuthRetry(ctx, entry.Connector, e.store, call)
	rle, ok := connector.AsRateLimitError(err)
	if !ok {
		return err
	}

	wait := rle.RetryAfter
	if max := e.cfg.MaxRateLimitWait(); wait > max {
		zap.L().Warn("pipeline: rate-limit wait exceeds budget, abandoning source",
			zap.String("source", entry.Source),
			zap.Duration("retry_after", rle.RetryAfter),
		)
		return err
	}

	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
		timer.Stop()
		return err
	case <-timer.C:
	}
	return connector.WithAuthRetry(ctx, entry.Connector, e.store, call)
}

// synthesize runs the optional research step. Failures are advisory.
func (e *Enricher) synthesize(ctx context.Context, rec *model.SignalRecord) model.SourceResult {
	sr := model.SourceResult{Source: "research-synthesis"}
	if len(rec.Research.NewsItems) == 0 {
		sr.Skipped = true
		return sr
	}

	started := time.Now()
	err := e.research.Synthesize(ctx, rec)
	sr.DurationMS = time.Since(started).Milliseconds()
	if err != nil {
		sr.Error = err.Error()
		zap.L().Warn("pipeline: research synthesis failed", zap.Error(err))
		return sr
	}
	sr.Success = true
	sr.DataPointsWritten = len(rec.Research.PainPoints) + len(rec.Research.BuyingCommittee)
	return sr
}

// persist appends new intent signals to the durable log, folds the full log
// back into the record, computes the derived scores, and writes the record
// wholesale. Running twice on unchanged inputs writes the same record.
func (e *Enricher) persist(ctx context.Context, tenantID string, rec *model.SignalRecord, result *model.PipelineResult) error {
	added, err := e.store.AppendIntentSignals(ctx, tenantID, rec.EntityID, rec.Intent.Signals)
	if err != nil {
		return eris.Wrap(err, "pipeline: append intent signals")
	}
	if added > 0 {
		zap.L().Debug("pipeline: new intent signals",
			zap.String("entity_id", rec.EntityID),
			zap.Int("added", added),
		)
	}

	allSignals, err := e.store.ListIntentSignals(ctx, rec.EntityID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load intent signal log")
	}
	rec.Intent.Signals = allSignals
	rec.Intent.BuyingStage = InferBuyingStage(allSignals)
	rec.Intent.Score = IntentScore(allSignals, rec.Intent.BuyingStage, e.cfg.Weights)

	now := time.Now().UTC()
	rec.Metadata = model.SignalMetadata{
		Sources:           result.SucceededSources(),
		QualityScore:      QualityScore(rec, e.cfg.Weights.Quality),
		CompletenessScore: CompletenessScore(rec),
		FreshnessScore:    FreshnessScore(rec, now),
		EnrichedAt:        now,
	}

	if err := e.store.SaveSignalRecord(ctx, tenantID, *rec); err != nil {
		return eris.Wrap(err, "pipeline: save signal record")
	}
	return nil
}
