// Package syncengine drives full and incremental synchronization between the
// internal store and an external CRM through the shared connector contract.
// It owns the SyncJob state machine, the identity-mapping bijection, conflict
// detection, and the per-attempt audit trail.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-sync/internal/connector"
	"github.com/sells-group/prospect-sync/internal/fieldmap"
	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/resilience"
	"github.com/sells-group/prospect-sync/internal/store"
)

// Config bounds the engine's concurrency and paging.
type Config struct {
	// Workers caps concurrent per-record processing within one page.
	Workers int `yaml:"workers" mapstructure:"workers"`
	// PageSize bounds CRM query and recently-modified fetches.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, PageSize: 200}
}

// maxIncrementalFetch caps the widened fetch used to page past records that
// all share one modification timestamp.
const maxIncrementalFetch = 10000

// Engine runs sync jobs. Invocations for different connections or entity
// types are independent; the bijection invariant is enforced by the store's
// unique constraints, not in-process locks.
type Engine struct {
	store store.Store
	cfg   Config
	retry resilience.RetryConfig
}

// New creates a sync engine over the given store.
func New(st store.Store, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	return &Engine{
		store: st,
		cfg:   cfg,
		retry: resilience.DefaultRetryConfig(),
	}
}

// summary accumulates per-record counts across concurrent workers.
type summary struct {
	mu sync.Mutex
	s  model.SyncSummary
}

func (c *summary) add(fn func(*model.SyncSummary)) {
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

func (c *summary) snapshot() model.SyncSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// SyncEntityType runs one full sync job for a (connection, entity type).
// Bidirectional jobs pull first, then push, within the same job. The returned
// job carries the final status and per-record summary; per-record failures
// never fail the job.
func (e *Engine) SyncEntityType(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, direction model.SyncDirection) (*model.SyncJob, error) {
	return e.run(ctx, crm, conn, et, direction, model.ModeFull, time.Time{})
}

// IncrementalSync pulls only records the CRM reports modified since the given
// time. This is the mode meant for scheduled invocation; full sync is for
// first-time setup or manual re-sync.
func (e *Engine) IncrementalSync(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, since time.Time) (*model.SyncJob, error) {
	return e.run(ctx, crm, conn, et, model.DirectionPull, model.ModeIncremental, since)
}

func (e *Engine) run(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, direction model.SyncDirection, mode model.SyncMode, since time.Time) (*model.SyncJob, error) {
	job, err := e.store.CreateSyncJob(ctx, model.SyncJob{
		ConnectionID: conn.ID,
		EntityType:   et,
		Direction:    direction,
		Mode:         mode,
		Status:       model.SyncPending,
		StartedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "syncengine: create job")
	}
	if err := e.store.UpdateSyncJobStatus(ctx, job.ID, model.SyncRunning); err != nil {
		return nil, eris.Wrap(err, "syncengine: mark job running")
	}

	mappings, err := e.store.ListFieldMappings(ctx, conn.ID)
	if err != nil {
		return nil, eris.Wrap(err, "syncengine: load field mappings")
	}
	mapper := fieldmap.NewMapper(mappings)

	zap.L().Info("syncengine: job started",
		zap.String("job_id", job.ID),
		zap.String("connection_id", conn.ID),
		zap.String("entity_type", string(et)),
		zap.String("direction", string(direction)),
		zap.String("mode", string(mode)),
	)

	sum := &summary{}
	var runErr error
	if direction.Pulls() {
		runErr = e.pull(ctx, crm, conn, et, mapper, mode, since, sum)
	}
	if runErr == nil && direction.Pushes() {
		runErr = e.push(ctx, crm, conn, et, mapper, sum)
	}

	// Job bookkeeping must land even when the run context was canceled: a
	// canceled job is failed-with-partial-summary, never stuck "running".
	final := context.WithoutCancel(ctx)
	status := model.SyncCompleted
	result := sum.snapshot()
	if runErr != nil {
		status = model.SyncFailed
		result.Error = runErr.Error()
	}
	if err := e.store.CompleteSyncJob(final, job.ID, status, result); err != nil {
		return nil, eris.Wrap(err, "syncengine: complete job")
	}

	job.Status = status
	job.Summary = &result
	zap.L().Info("syncengine: job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("pulled", result.Pulled),
		zap.Int("pushed", result.Pushed),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed),
		zap.Int("conflicts", result.Conflicts),
	)
	return job, nil
}

// pull pages entities out of the CRM and upserts each into the internal
// store. Pages are fetched with transient-error retry; records within a page
// are processed by a bounded worker pool.
func (e *Engine) pull(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, mapper *fieldmap.Mapper, mode model.SyncMode, since time.Time, sum *summary) error {
	offset := 0
	limit := e.cfg.PageSize
	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "syncengine: pull canceled")
		}

		var page []model.CRMEntity
		err := resilience.Do(ctx, e.retry, func(ctx context.Context) error {
			var err error
			if mode == model.ModeIncremental {
				page, err = crm.GetRecentlyModified(ctx, et, since, limit)
			} else {
				page, err = crm.QueryEntities(ctx, et, connector.Query{Limit: e.cfg.PageSize, Offset: offset})
			}
			return err
		})
		if err != nil {
			return eris.Wrapf(err, "syncengine: fetch %s page", et)
		}
		if len(page) == 0 {
			return nil
		}

		full := len(page) == limit
		if mode == model.ModeIncremental {
			// Providers filter modified-at inclusively, so records at the
			// cursor timestamp come back again after the cursor advances.
			fresh := page[:0:0]
			for _, ent := range page {
				if _, dup := seen[ent.ID]; dup {
					continue
				}
				seen[ent.ID] = struct{}{}
				fresh = append(fresh, ent)
			}
			if full && len(fresh) == 0 {
				// Every record in the page shares the cursor timestamp.
				// Widen the fetch until the tie group fits in one page.
				if limit >= maxIncrementalFetch {
					zap.L().Warn("syncengine: incremental cursor stalled on shared timestamp",
						zap.String("entity_type", string(et)),
						zap.Time("since", since),
					)
					return nil
				}
				limit *= 2
				continue
			}
			page = fresh
		}

		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
		for _, ent := range page {
			g.Go(func() error {
				e.pullOne(ctx, crm, conn, et, mapper, ent, sum)
				return nil
			})
		}
		g.Wait() //nolint:errcheck

		if !full {
			return nil
		}
		if mode == model.ModeIncremental {
			limit = e.cfg.PageSize
			// Advance the cursor on the provider's modification clock.
			for _, ent := range page {
				if ent.ModifiedAt.After(since) {
					since = ent.ModifiedAt
				}
			}
		} else {
			offset += len(page)
		}
	}
}

// pullOne upserts a single CRM entity. Errors are recorded per record and in
// the audit trail; they never abort sibling records.
func (e *Engine) pullOne(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, mapper *fieldmap.Mapper, ent model.CRMEntity, sum *summary) {
	sum.add(func(s *model.SyncSummary) { s.Pulled++ })

	mapping, err := e.store.GetMappingByExternalID(ctx, conn.ID, et, ent.ID)
	if err != nil {
		e.recordFailure(ctx, conn, et, "pull", ent.ID, err, sum)
		return
	}

	fields := mapper.MapToInternal(et, ent.Fields)

	if mapping == nil {
		e.pullCreate(ctx, conn, et, ent, fields, sum)
		return
	}

	rec, err := e.store.GetRecord(ctx, et, mapping.InternalID)
	if err != nil {
		e.recordFailure(ctx, conn, et, "pull", ent.ID, err, sum)
		return
	}

	internalModified := rec != nil && rec.UpdatedAt.After(mapping.LastSyncedAt)
	crmModified := ent.ModifiedAt.After(mapping.LastSyncedAt)

	switch {
	case internalModified && crmModified:
		e.handleConflict(ctx, crm, conn, et, mapper, mapping, rec, ent, sum)
	case crmModified || rec == nil:
		if _, err := e.store.UpsertRecord(ctx, model.Record{
			ID:       mapping.InternalID,
			TenantID: conn.TenantID,
			Type:     et,
			Fields:   fields,
		}); err != nil {
			e.recordFailure(ctx, conn, et, "pull", ent.ID, err, sum)
			return
		}
		// Timestamp taken after the upsert so the record's own UpdatedAt
		// never reads as a local modification on the next pull.
		if err := e.store.TouchIdentityMapping(ctx, mapping.ID, time.Now().UTC()); err != nil {
			zap.L().Warn("syncengine: touch mapping failed",
				zap.String("mapping_id", mapping.ID), zap.Error(err))
		}
		sum.add(func(s *model.SyncSummary) { s.Updated++ })
		e.audit(ctx, conn, et, "pull", ent.ID, model.AuditOutcomeSuccess, "updated")
	default:
		// Internal-only changes (or no changes) since last sync: pulling
		// would overwrite local edits with stale CRM data. The push pass
		// handles the other direction.
		e.audit(ctx, conn, et, "pull", ent.ID, model.AuditOutcomeSkipped, "crm unchanged since last sync")
	}
}

// pullCreate inserts a new internal record for a CRM entity seen for the
// first time and establishes its identity mapping.
func (e *Engine) pullCreate(ctx context.Context, conn model.Connection, et model.EntityType, ent model.CRMEntity, fields model.RawFields, sum *summary) {
	internalID := uuid.New().String()
	if _, err := e.store.UpsertRecord(ctx, model.Record{
		ID:       internalID,
		TenantID: conn.TenantID,
		Type:     et,
		Fields:   fields,
	}); err != nil {
		e.recordFailure(ctx, conn, et, "pull", ent.ID, err, sum)
		return
	}

	_, err := e.store.CreateIdentityMapping(ctx, model.EntityIdentityMapping{
		ConnectionID: conn.ID,
		EntityType:   et,
		InternalID:   internalID,
		ExternalID:   ent.ID,
		LastSyncedAt: time.Now().UTC(),
	})
	if eris.Is(err, store.ErrMappingExists) {
		// A concurrent worker mapped this external id first; fold our fields
		// into the record that won.
		existing, lookupErr := e.store.GetMappingByExternalID(ctx, conn.ID, et, ent.ID)
		if lookupErr != nil || existing == nil {
			e.recordFailure(ctx, conn, et, "pull", ent.ID, err, sum)
			return
		}
		if _, upErr := e.store.UpsertRecord(ctx, model.Record{
			ID:       existing.InternalID,
			TenantID: conn.TenantID,
			Type:     et,
			Fields:   fields,
		}); upErr != nil {
			e.recordFailure(ctx, conn, et, "pull", ent.ID, upErr, sum)
			return
		}
		sum.add(func(s *model.SyncSummary) { s.Updated++ })
		e.audit(ctx, conn, et, "pull", ent.ID, model.AuditOutcomeSuccess, "updated")
		return
	}
	if err != nil {
		e.recordFailure(ctx, conn, et, "pull", ent.ID, err, sum)
		return
	}

	sum.add(func(s *model.SyncSummary) { s.Created++ })
	e.audit(ctx, conn, et, "pull", ent.ID, model.AuditOutcomeSuccess, "created")
}

// push creates internal records that have no identity mapping for this
// connection in the CRM, preferring the connector's bulk path.
func (e *Engine) push(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, mapper *fieldmap.Mapper, sum *summary) error {
	recs, err := e.store.ListRecords(ctx, store.RecordFilter{TenantID: conn.TenantID, Type: et})
	if err != nil {
		return eris.Wrap(err, "syncengine: list records for push")
	}

	var unmapped []model.Record
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "syncengine: push canceled")
		}
		mapping, err := e.store.GetMappingByInternalID(ctx, conn.ID, et, rec.ID)
		if err != nil {
			e.recordFailure(ctx, conn, et, "push", rec.ID, err, sum)
			continue
		}
		if mapping == nil {
			unmapped = append(unmapped, rec)
		}
	}
	if len(unmapped) == 0 {
		return nil
	}

	if len(unmapped) > 1 {
		return e.pushBulk(ctx, crm, conn, et, mapper, unmapped, sum)
	}

	rec := unmapped[0]
	sum.add(func(s *model.SyncSummary) { s.Pushed++ })
	created, err := crm.CreateEntity(ctx, et, mapper.MapToExternal(et, rec.Fields))
	if err != nil {
		e.recordFailure(ctx, conn, et, "push", rec.ID, err, sum)
		return nil
	}
	e.mapPushed(ctx, conn, et, rec.ID, created.ID, sum)
	return nil
}

// pushBulk pushes unmapped records through BulkCreate. Results pair with the
// input by index; each item succeeds or fails on its own.
func (e *Engine) pushBulk(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, mapper *fieldmap.Mapper, recs []model.Record, sum *summary) error {
	payloads := make([]model.RawFields, len(recs))
	for i, rec := range recs {
		payloads[i] = mapper.MapToExternal(et, rec.Fields)
	}
	sum.add(func(s *model.SyncSummary) { s.Pushed += len(recs) })

	results, err := crm.BulkCreate(ctx, et, payloads)
	if err != nil {
		return eris.Wrap(err, "syncengine: bulk create")
	}

	for i, res := range results {
		if i >= len(recs) {
			break
		}
		rec := recs[i]
		if !res.Success {
			e.recordFailure(ctx, conn, et, "push", rec.ID, eris.New(res.Error), sum)
			continue
		}
		e.mapPushed(ctx, conn, et, rec.ID, res.ExternalID, sum)
	}
	return nil
}

// mapPushed records the identity mapping for a freshly created CRM entity.
func (e *Engine) mapPushed(ctx context.Context, conn model.Connection, et model.EntityType, internalID, externalID string, sum *summary) {
	_, err := e.store.CreateIdentityMapping(ctx, model.EntityIdentityMapping{
		ConnectionID: conn.ID,
		EntityType:   et,
		InternalID:   internalID,
		ExternalID:   externalID,
		LastSyncedAt: time.Now().UTC(),
	})
	if err != nil {
		// The CRM record exists but the mapping write failed; surfacing it as
		// a per-record failure keeps the next full sync able to reconcile.
		e.recordFailure(ctx, conn, et, "push", internalID, err, sum)
		return
	}
	sum.add(func(s *model.SyncSummary) { s.Created++ })
	e.audit(ctx, conn, et, "push", internalID, model.AuditOutcomeSuccess, "created in crm: "+externalID)
}

func (e *Engine) recordFailure(ctx context.Context, conn model.Connection, et model.EntityType, action, entityID string, err error, sum *summary) {
	sum.add(func(s *model.SyncSummary) { s.Failed++ })
	zap.L().Warn("syncengine: record failed",
		zap.String("action", action),
		zap.String("entity_type", string(et)),
		zap.String("entity_id", entityID),
		zap.Error(err),
	)
	e.audit(ctx, conn, et, action, entityID, model.AuditOutcomeFailure, err.Error())
}

// audit appends one trail row. The trail is independent of the job record
// and best-effort: append failures are logged, never propagated, and a
// canceled run still gets its history.
func (e *Engine) audit(ctx context.Context, conn model.Connection, et model.EntityType, action, entityID, outcome, detail string) {
	err := e.store.AppendAudit(context.WithoutCancel(ctx), model.SyncAudit{
		ConnectionID: conn.ID,
		EntityType:   et,
		Action:       action,
		EntityID:     entityID,
		Outcome:      outcome,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("syncengine: audit append failed",
			zap.String("action", action),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}
