package syncengine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/connector"
	"github.com/sells-group/prospect-sync/internal/fieldmap"
	"github.com/sells-group/prospect-sync/internal/model"
)

// handleConflict records an update conflict (both sides modified after
// lastSyncedAt) with snapshots of both sides, then applies the connection's
// resolution policy. Neither side is ever overwritten without a recorded
// conflict row; manual leaves the conflict open for explicit resolution.
func (e *Engine) handleConflict(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, mapper *fieldmap.Mapper, mapping *model.EntityIdentityMapping, rec *model.Record, ent model.CRMEntity, sum *summary) {
	sum.add(func(s *model.SyncSummary) { s.Conflicts++ })

	conflict, err := e.store.CreateConflict(ctx, model.SyncConflict{
		ConnectionID: conn.ID,
		EntityType:   et,
		InternalID:   mapping.InternalID,
		ExternalID:   ent.ID,
		InternalData: rec.Fields,
		CRMData:      ent.Fields,
		Status:       model.ConflictOpen,
		DetectedAt:   time.Now().UTC(),
	})
	if err != nil {
		e.recordFailure(ctx, conn, et, "conflict", ent.ID, err, sum)
		return
	}
	e.audit(ctx, conn, et, "pull", ent.ID, model.AuditOutcomeConflict, "conflict "+conflict.ID)

	policy := conn.ConflictPolicy
	if policy == "" {
		policy = model.ConflictManual
	}

	switch policy {
	case model.ConflictUseCRM:
		e.resolveWithCRM(ctx, conn, et, mapper, mapping, conflict, ent, sum)
	case model.ConflictUseInternal:
		e.resolveWithInternal(ctx, crm, conn, et, mapper, mapping, conflict, rec, ent, sum)
	default:
		zap.L().Info("syncengine: conflict left open for manual resolution",
			zap.String("conflict_id", conflict.ID),
			zap.String("internal_id", mapping.InternalID),
			zap.String("external_id", ent.ID),
		)
	}
}

// resolveWithCRM applies the CRM snapshot to the internal record.
func (e *Engine) resolveWithCRM(ctx context.Context, conn model.Connection, et model.EntityType, mapper *fieldmap.Mapper, mapping *model.EntityIdentityMapping, conflict *model.SyncConflict, ent model.CRMEntity, sum *summary) {
	if _, err := e.store.UpsertRecord(ctx, model.Record{
		ID:       mapping.InternalID,
		TenantID: conn.TenantID,
		Type:     et,
		Fields:   mapper.MapToInternal(et, ent.Fields),
	}); err != nil {
		e.recordFailure(ctx, conn, et, "conflict", ent.ID, err, sum)
		return
	}
	e.finishResolution(ctx, conn, et, mapping, conflict, model.ConflictUseCRM, sum)
}

// resolveWithInternal pushes the internal snapshot over the CRM record.
func (e *Engine) resolveWithInternal(ctx context.Context, crm connector.CRMConnector, conn model.Connection, et model.EntityType, mapper *fieldmap.Mapper, mapping *model.EntityIdentityMapping, conflict *model.SyncConflict, rec *model.Record, ent model.CRMEntity, sum *summary) {
	if _, err := crm.UpdateEntity(ctx, et, ent.ID, mapper.MapToExternal(et, rec.Fields)); err != nil {
		e.recordFailure(ctx, conn, et, "conflict", ent.ID, err, sum)
		return
	}
	e.finishResolution(ctx, conn, et, mapping, conflict, model.ConflictUseInternal, sum)
}

// ResolveManually applies an explicit resolution to an open conflict outside
// a sync run. The winning snapshot comes from the conflict record itself, so
// resolution is deterministic even if either side changed again since
// detection.
func (e *Engine) ResolveManually(ctx context.Context, crm connector.CRMConnector, conn model.Connection, conflict *model.SyncConflict, resolution model.ConflictPolicy) error {
	mappings, err := e.store.ListFieldMappings(ctx, conn.ID)
	if err != nil {
		return eris.Wrap(err, "syncengine: list field mappings")
	}
	mapper := fieldmap.NewMapper(mappings)
	et := conflict.EntityType

	switch resolution {
	case model.ConflictUseCRM:
		if _, err := e.store.UpsertRecord(ctx, model.Record{
			ID:       conflict.InternalID,
			TenantID: conn.TenantID,
			Type:     et,
			Fields:   mapper.MapToInternal(et, conflict.CRMData),
		}); err != nil {
			return eris.Wrap(err, "syncengine: apply crm snapshot")
		}
	case model.ConflictUseInternal:
		if _, err := crm.UpdateEntity(ctx, et, conflict.ExternalID, mapper.MapToExternal(et, conflict.InternalData)); err != nil {
			return eris.Wrap(err, "syncengine: push internal snapshot")
		}
	default:
		return eris.Errorf("syncengine: invalid resolution %q", resolution)
	}

	if err := e.store.ResolveConflict(ctx, conflict.ID, resolution); err != nil {
		return err
	}
	mapping, err := e.store.GetMappingByInternalID(ctx, conn.ID, et, conflict.InternalID)
	if err == nil && mapping != nil {
		if err := e.store.TouchIdentityMapping(ctx, mapping.ID, time.Now().UTC()); err != nil {
			zap.L().Warn("syncengine: touch mapping failed",
				zap.String("mapping_id", mapping.ID), zap.Error(err))
		}
	}
	e.audit(ctx, conn, et, "conflict", conflict.ExternalID, model.AuditOutcomeSuccess, "resolved "+string(resolution))
	return nil
}

func (e *Engine) finishResolution(ctx context.Context, conn model.Connection, et model.EntityType, mapping *model.EntityIdentityMapping, conflict *model.SyncConflict, resolution model.ConflictPolicy, sum *summary) {
	now := time.Now().UTC()
	if err := e.store.ResolveConflict(ctx, conflict.ID, resolution); err != nil {
		e.recordFailure(ctx, conn, et, "conflict", conflict.ExternalID, err, sum)
		return
	}
	if err := e.store.TouchIdentityMapping(ctx, mapping.ID, now); err != nil {
		zap.L().Warn("syncengine: touch mapping failed",
			zap.String("mapping_id", mapping.ID), zap.Error(err))
	}
	sum.add(func(s *model.SyncSummary) { s.Updated++ })
	e.audit(ctx, conn, et, "conflict", conflict.ExternalID, model.AuditOutcomeSuccess, "resolved "+string(resolution))
}
