package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-sync/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetConnection_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM connections WHERE id = \$1`).
		WithArgs("missing-conn").
		WillReturnError(pgx.ErrNoRows)

	conn, err := s.GetConnection(context.Background(), "missing-conn")
	require.NoError(t, err)
	assert.Nil(t, conn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListConnections_ActiveOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "tenant_id", "provider", "access_token", "refresh_token", "api_key",
		"base_url", "priority", "active", "conflict_policy", "last_sync_at", "created_at", "updated_at",
	}).AddRow("c1", "t1", "salesforce", ptr("tok"), (*string)(nil), (*string)(nil),
		ptr("https://acme.my.salesforce.com"), 1, true, "manual", (*time.Time)(nil), now, now)

	mock.ExpectQuery(`SELECT .+ FROM connections WHERE tenant_id = \$1 AND active ORDER BY priority, provider`).
		WithArgs("t1").
		WillReturnRows(rows)

	out, err := s.ListConnections(context.Background(), "t1", true)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "salesforce", out[0].Provider)
	assert.Equal(t, "tok", out[0].AccessToken)
	assert.Empty(t, out[0].RefreshToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateIdentityMapping_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO identity_mappings`).
		WithArgs(pgxmock.AnyArg(), "conn-1", "contact", "int-1", "ext-1", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "identity_mappings_connection_id_entity_type_internal_id_key"})

	_, err := s.CreateIdentityMapping(context.Background(), model.EntityIdentityMapping{
		ConnectionID: "conn-1",
		EntityType:   model.EntityContact,
		InternalID:   "int-1",
		ExternalID:   "ext-1",
	})
	assert.ErrorIs(t, err, ErrMappingExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateIdentityMapping_GeneratesID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO identity_mappings`).
		WithArgs(pgxmock.AnyArg(), "conn-1", "company", "int-2", "ext-2", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	m, err := s.CreateIdentityMapping(context.Background(), model.EntityIdentityMapping{
		ConnectionID: "conn-1",
		EntityType:   model.EntityCompany,
		InternalID:   "int-2",
		ExternalID:   "ext-2",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.LastSyncedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMappingByInternalID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM identity_mappings WHERE connection_id = \$1 AND entity_type = \$2 AND internal_id = \$3`).
		WithArgs("conn-1", "contact", "nope").
		WillReturnError(pgx.ErrNoRows)

	m, err := s.GetMappingByInternalID(context.Background(), "conn-1", model.EntityContact, "nope")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO records .+ ON CONFLICT \(type, id\) DO UPDATE`).
		WithArgs("rec-1", "t1", "contact", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec, err := s.UpsertRecord(context.Background(), model.Record{
		ID:       "rec-1",
		TenantID: "t1",
		Type:     model.EntityContact,
		Fields:   map[string]any{"email": "jane@acme.com"},
	})
	require.NoError(t, err)
	assert.False(t, rec.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, tenant_id, type, fields, created_at, updated_at FROM records WHERE type = \$1 AND id = \$2`).
		WithArgs("contact", "missing").
		WillReturnError(pgx.ErrNoRows)

	rec, err := s.GetRecord(context.Background(), model.EntityContact, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "tenant_id", "type", "fields", "created_at", "updated_at"}).
		AddRow("rec-1", "t1", "contact", []byte(`{"email":"jane@acme.com"}`), now, now)

	mock.ExpectQuery(`FROM records WHERE type = \$1 AND id = \$2`).
		WithArgs("contact", "rec-1").
		WillReturnRows(rows)

	rec, err := s.GetRecord(context.Background(), model.EntityContact, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "jane@acme.com", rec.Fields["email"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSignalRecord_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO signal_records .+ ON CONFLICT \(entity_id\) DO UPDATE`).
		WithArgs("ent-1", "t1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SaveSignalRecord(context.Background(), "t1", model.SignalRecord{
		EntityID: "ent-1",
		Metadata: model.SignalMetadata{EnrichedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendIntentSignals_CountsOnlyNewRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fresh := model.IntentSignal{Type: model.IntentFunding, Source: "newsdata", Confidence: 90, Timestamp: ts}
	dupe := model.IntentSignal{Type: model.IntentPageVisit, Source: "webhook", Confidence: 60, Timestamp: ts}

	mock.ExpectExec(`INSERT INTO intent_signals .+ ON CONFLICT \(entity_id, dedupe_key\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "t1", "ent-1", fresh.DedupeKey(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO intent_signals .+ ON CONFLICT \(entity_id, dedupe_key\) DO NOTHING`).
		WithArgs(pgxmock.AnyArg(), "t1", "ent-1", dupe.DedupeKey(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err := s.AppendIntentSignals(context.Background(), "t1", "ent-1", []model.IntentSignal{fresh, dupe})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteSyncJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_jobs SET status = \$1, summary = \$2, completed_at = \$3 WHERE id = \$4`).
		WithArgs("completed", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing-job").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteSyncJob(context.Background(), "missing-job", model.SyncCompleted, model.SyncSummary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync job not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveConflict_OnlyOpen(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_conflicts SET status = \$1, resolution = \$2, resolved_at = \$3 WHERE id = \$4 AND status = \$5`).
		WithArgs("resolved", "use_crm", pgxmock.AnyArg(), "conf-1", "open").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.ResolveConflict(context.Background(), "conf-1", model.ConflictUseCRM)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveConflict_AlreadyResolved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE sync_conflicts SET`).
		WithArgs("resolved", "use_internal", pgxmock.AnyArg(), "conf-done", "open").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ResolveConflict(context.Background(), "conf-done", model.ConflictUseInternal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open conflict not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAudit_BulkCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"sync_audit"},
		[]string{"id", "connection_id", "entity_type", "action", "entity_id", "outcome", "detail", "created_at"}).
		WillReturnResult(2)

	err := s.AppendAudit(context.Background(),
		model.SyncAudit{ConnectionID: "conn-1", EntityType: model.EntityContact, Action: "push_update", EntityID: "rec-1", Outcome: model.AuditOutcomeSuccess},
		model.SyncAudit{ConnectionID: "conn-1", EntityType: model.EntityContact, Action: "push_update", EntityID: "rec-2", Outcome: model.AuditOutcomeFailure, Detail: "rate limited"},
	)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendAudit_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.AppendAudit(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func ptr(s string) *string { return &s }
