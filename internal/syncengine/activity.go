package syncengine

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/connector"
	"github.com/sells-group/prospect-sync/internal/model"
)

// LogActivityToCRM logs an activity against the CRM counterpart of an
// internal entity. Advisory by design: when the entity has no identity
// mapping the call is skipped with a warning rather than creating an
// orphaned activity, and CRM errors are recorded but never propagated.
func (e *Engine) LogActivityToCRM(ctx context.Context, crm connector.CRMConnector, conn model.Connection, activityType string, et model.EntityType, relatedInternalID string, fields model.RawFields) {
	mapping, err := e.store.GetMappingByInternalID(ctx, conn.ID, et, relatedInternalID)
	if err != nil {
		zap.L().Warn("syncengine: activity mapping lookup failed",
			zap.String("internal_id", relatedInternalID),
			zap.Error(err),
		)
		e.audit(ctx, conn, et, "log_activity", relatedInternalID, model.AuditOutcomeFailure, err.Error())
		return
	}
	if mapping == nil {
		zap.L().Warn("syncengine: no identity mapping for activity, skipping",
			zap.String("internal_id", relatedInternalID),
			zap.String("activity_type", activityType),
		)
		e.audit(ctx, conn, et, "log_activity", relatedInternalID, model.AuditOutcomeSkipped, "no identity mapping")
		return
	}

	if _, err := crm.LogActivity(ctx, activityType, mapping.ExternalID, fields); err != nil {
		zap.L().Warn("syncengine: activity logging failed",
			zap.String("internal_id", relatedInternalID),
			zap.String("external_id", mapping.ExternalID),
			zap.String("activity_type", activityType),
			zap.Error(err),
		)
		e.audit(ctx, conn, et, "log_activity", relatedInternalID, model.AuditOutcomeFailure, err.Error())
		return
	}
	e.audit(ctx, conn, et, "log_activity", relatedInternalID, model.AuditOutcomeSuccess, activityType)
}
