package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/prospect-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and single-operator installs; Postgres is the production path.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS connections (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	provider        TEXT NOT NULL,
	access_token    TEXT NOT NULL DEFAULT '',
	refresh_token   TEXT NOT NULL DEFAULT '',
	api_key         TEXT NOT NULL DEFAULT '',
	base_url        TEXT NOT NULL DEFAULT '',
	priority        INTEGER NOT NULL DEFAULT 0,
	active          INTEGER NOT NULL DEFAULT 1,
	conflict_policy TEXT NOT NULL DEFAULT 'manual',
	last_sync_at    DATETIME,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_connections_tenant ON connections(tenant_id);

CREATE TABLE IF NOT EXISTS field_mappings (
	id             TEXT PRIMARY KEY,
	connection_id  TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	entity_type    TEXT NOT NULL,
	internal_field TEXT NOT NULL,
	external_field TEXT NOT NULL,
	transform      TEXT NOT NULL DEFAULT '',
	position       INTEGER NOT NULL DEFAULT 0,
	UNIQUE (connection_id, entity_type, internal_field)
);

CREATE TABLE IF NOT EXISTS identity_mappings (
	id             TEXT PRIMARY KEY,
	connection_id  TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	entity_type    TEXT NOT NULL,
	internal_id    TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	last_synced_at DATETIME NOT NULL,
	UNIQUE (connection_id, entity_type, internal_id),
	UNIQUE (connection_id, entity_type, external_id)
);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	fields     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (type, id)
);

CREATE INDEX IF NOT EXISTS idx_records_tenant ON records(tenant_id, type);

CREATE TABLE IF NOT EXISTS signal_records (
	entity_id   TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	data        TEXT NOT NULL,
	enriched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS intent_signals (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE (entity_id, dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_intent_signals_entity ON intent_signals(entity_id);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	failed     INTEGER NOT NULL DEFAULT 0,
	result     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_entity ON pipeline_runs(entity_id);

CREATE TABLE IF NOT EXISTS sync_jobs (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	direction     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	summary       TEXT,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_jobs_connection ON sync_jobs(connection_id, started_at DESC);

CREATE TABLE IF NOT EXISTS sync_conflicts (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	internal_id   TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	internal_data TEXT NOT NULL,
	crm_data      TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'open',
	resolution    TEXT NOT NULL DEFAULT '',
	detected_at   DATETIME NOT NULL,
	resolved_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_conflicts_open ON sync_conflicts(connection_id, status);

CREATE TABLE IF NOT EXISTS sync_audit (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	action        TEXT NOT NULL,
	entity_id     TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_audit_connection ON sync_audit(connection_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Connections ---

func (s *SQLiteStore) CreateConnection(ctx context.Context, conn model.Connection) (*model.Connection, error) {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.ConflictPolicy == "" {
		conn.ConflictPolicy = model.ConflictManual
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (id, tenant_id, provider, access_token, refresh_token, api_key, base_url, priority, active, conflict_policy, last_sync_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.TenantID, conn.Provider, conn.AccessToken, conn.RefreshToken,
		conn.APIKey, conn.BaseURL, conn.Priority, conn.Active, string(conn.ConflictPolicy),
		nullTime(conn.LastSyncAt), conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert connection")
	}
	return &conn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteConnection(row rowScanner) (*model.Connection, error) {
	var c model.Connection
	var lastSync sql.NullTime
	err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &c.AccessToken, &c.RefreshToken,
		&c.APIKey, &c.BaseURL, &c.Priority, &c.Active, &c.ConflictPolicy,
		&lastSync, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		c.LastSyncAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	c, err := scanSQLiteConnection(s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, provider, access_token, refresh_token, api_key, base_url, priority, active, conflict_policy, last_sync_at, created_at, updated_at
		 FROM connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get connection %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListConnections(ctx context.Context, tenantID string, activeOnly bool) ([]model.Connection, error) {
	query := `SELECT id, tenant_id, provider, access_token, refresh_token, api_key, base_url, priority, active, conflict_policy, last_sync_at, created_at, updated_at
	 FROM connections WHERE tenant_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority, provider`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list connections")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Connection
	for rows.Next() {
		c, err := scanSQLiteConnection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan connection")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list connections rows")
}

func (s *SQLiteStore) UpdateConnection(ctx context.Context, conn model.Connection) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET access_token = ?, refresh_token = ?, api_key = ?, base_url = ?,
		 priority = ?, active = ?, conflict_policy = ?, last_sync_at = ?, updated_at = ? WHERE id = ?`,
		conn.AccessToken, conn.RefreshToken, conn.APIKey, conn.BaseURL,
		conn.Priority, conn.Active, string(conn.ConflictPolicy), nullTime(conn.LastSyncAt),
		time.Now().UTC(), conn.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update connection %s", conn.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("connection not found: %s", conn.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete connection %s", id)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// --- Field mappings ---

func (s *SQLiteStore) ReplaceFieldMappings(ctx context.Context, connectionID string, et model.EntityType, mappings []model.FieldMapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace mappings")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM field_mappings WHERE connection_id = ? AND entity_type = ?`,
		connectionID, string(et),
	); err != nil {
		return eris.Wrap(err, "sqlite: clear field mappings")
	}

	for _, fm := range mappings {
		id := fm.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO field_mappings (id, connection_id, entity_type, internal_field, external_field, transform, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, connectionID, string(et), fm.InternalField, fm.ExternalField, fm.Transform, fm.Position,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert field mapping %s", fm.InternalField)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace mappings")
}

func (s *SQLiteStore) ListFieldMappings(ctx context.Context, connectionID string) ([]model.FieldMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, connection_id, entity_type, internal_field, external_field, transform, position
		 FROM field_mappings WHERE connection_id = ? ORDER BY entity_type, position`,
		connectionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list field mappings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FieldMapping
	for rows.Next() {
		var fm model.FieldMapping
		if err := rows.Scan(&fm.ID, &fm.ConnectionID, &fm.EntityType, &fm.InternalField,
			&fm.ExternalField, &fm.Transform, &fm.Position); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field mapping")
		}
		out = append(out, fm)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list field mappings rows")
}

// --- Identity mappings ---

func (s *SQLiteStore) CreateIdentityMapping(ctx context.Context, m model.EntityIdentityMapping) (*model.EntityIdentityMapping, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.LastSyncedAt.IsZero() {
		m.LastSyncedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_mappings (id, connection_id, entity_type, internal_id, external_id, last_synced_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConnectionID, string(m.EntityType), m.InternalID, m.ExternalID, m.LastSyncedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrMappingExists
		}
		return nil, eris.Wrap(err, "sqlite: insert identity mapping")
	}
	return &m, nil
}

func (s *SQLiteStore) getMapping(ctx context.Context, where string, args ...any) (*model.EntityIdentityMapping, error) {
	var m model.EntityIdentityMapping
	err := s.db.QueryRowContext(ctx,
		`SELECT id, connection_id, entity_type, internal_id, external_id, last_synced_at FROM identity_mappings WHERE `+where,
		args...,
	).Scan(&m.ID, &m.ConnectionID, &m.EntityType, &m.InternalID, &m.ExternalID, &m.LastSyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get identity mapping")
	}
	return &m, nil
}

func (s *SQLiteStore) GetMappingByInternalID(ctx context.Context, connectionID string, et model.EntityType, internalID string) (*model.EntityIdentityMapping, error) {
	return s.getMapping(ctx, `connection_id = ? AND entity_type = ? AND internal_id = ?`, connectionID, string(et), internalID)
}

func (s *SQLiteStore) GetMappingByExternalID(ctx context.Context, connectionID string, et model.EntityType, externalID string) (*model.EntityIdentityMapping, error) {
	return s.getMapping(ctx, `connection_id = ? AND entity_type = ? AND external_id = ?`, connectionID, string(et), externalID)
}

func (s *SQLiteStore) TouchIdentityMapping(ctx context.Context, id string, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_mappings SET last_synced_at = ? WHERE id = ?`, syncedAt.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: touch identity mapping %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("identity mapping not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteIdentityMapping(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identity_mappings WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete identity mapping %s", id)
}

// --- Records ---

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec model.Record) (*model.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal record fields")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, tenant_id, type, fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (type, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`,
		rec.ID, rec.TenantID, string(rec.Type), string(fieldsJSON), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert record %s", rec.ID)
	}
	return &rec, nil
}

func (s *SQLiteStore) BulkUpsertRecords(ctx context.Context, recs []model.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, tenant_id, type, fields, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (type, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare bulk upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var written int64
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		fieldsJSON, err := json.Marshal(rec.Fields)
		if err != nil {
			return written, eris.Wrap(err, "sqlite: marshal record fields")
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.TenantID, string(rec.Type), string(fieldsJSON), now, now); err != nil {
			return written, eris.Wrapf(err, "sqlite: bulk upsert record %s", rec.ID)
		}
		written++
	}

	return written, eris.Wrap(tx.Commit(), "sqlite: commit bulk upsert")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, et model.EntityType, id string) (*model.Record, error) {
	var rec model.Record
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, type, fields, created_at, updated_at FROM records WHERE type = ? AND id = ?`,
		string(et), id,
	).Scan(&rec.ID, &rec.TenantID, &rec.Type, &fieldsJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record fields")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT id, tenant_id, type, fields, created_at, updated_at FROM records WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		var rec model.Record
		var fieldsJSON string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Type, &fieldsJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record fields")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records rows")
}

// --- Signal records ---

func (s *SQLiteStore) SaveSignalRecord(ctx context.Context, tenantID string, rec model.SignalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal signal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO signal_records (entity_id, tenant_id, data, enriched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (entity_id) DO UPDATE SET data = excluded.data, enriched_at = excluded.enriched_at`,
		rec.EntityID, tenantID, string(data), rec.Metadata.EnrichedAt,
	)
	return eris.Wrapf(err, "sqlite: save signal record %s", rec.EntityID)
}

func (s *SQLiteStore) GetSignalRecord(ctx context.Context, entityID string) (*model.SignalRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM signal_records WHERE entity_id = ?`, entityID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get signal record %s", entityID)
	}

	var rec model.SignalRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal signal record")
	}
	return &rec, nil
}

func (s *SQLiteStore) AppendIntentSignals(ctx context.Context, tenantID, entityID string, signals []model.IntentSignal) (int, error) {
	added := 0
	for _, sig := range signals {
		data, err := json.Marshal(sig)
		if err != nil {
			return added, eris.Wrap(err, "sqlite: marshal intent signal")
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO intent_signals (id, tenant_id, entity_id, dedupe_key, data, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (entity_id, dedupe_key) DO NOTHING`,
			uuid.New().String(), tenantID, entityID, sig.DedupeKey(), string(data), time.Now().UTC(),
		)
		if err != nil {
			return added, eris.Wrap(err, "sqlite: insert intent signal")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

func (s *SQLiteStore) ListIntentSignals(ctx context.Context, entityID string) ([]model.IntentSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM intent_signals WHERE entity_id = ? ORDER BY json_extract(data, '$.timestamp')`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list intent signals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.IntentSignal
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan intent signal")
		}
		var sig model.IntentSignal
		if err := json.Unmarshal([]byte(data), &sig); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal intent signal")
		}
		out = append(out, sig)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list intent signals rows")
}

// --- Pipeline runs ---

func (s *SQLiteStore) SavePipelineRun(ctx context.Context, result model.PipelineResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal pipeline run")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, tenant_id, entity_id, failed, result, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		result.RunID, result.TenantID, result.EntityID, result.Failed, string(data), result.StartedAt,
	)
	return eris.Wrapf(err, "sqlite: save pipeline run %s", result.RunID)
}

func (s *SQLiteStore) GetPipelineRun(ctx context.Context, runID string) (*model.PipelineResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM pipeline_runs WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get pipeline run %s", runID)
	}

	var result model.PipelineResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal pipeline run")
	}
	return &result, nil
}

func (s *SQLiteStore) ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineResult, error) {
	query := `SELECT result FROM pipeline_runs WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.Failed != nil {
		query += ` AND failed = ?`
		args = append(args, *filter.Failed)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pipeline runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.PipelineResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pipeline run")
		}
		var result model.PipelineResult
		if err := json.Unmarshal([]byte(data), &result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal pipeline run")
		}
		out = append(out, result)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pipeline runs rows")
}

// --- Sync jobs ---

func (s *SQLiteStore) CreateSyncJob(ctx context.Context, job model.SyncJob) (*model.SyncJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.SyncPending
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_jobs (id, connection_id, entity_type, direction, mode, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ConnectionID, string(job.EntityType), string(job.Direction),
		string(job.Mode), string(job.Status), job.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert sync job")
	}
	return &job, nil
}

func (s *SQLiteStore) UpdateSyncJobStatus(ctx context.Context, jobID string, status model.SyncStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ? WHERE id = ?`, string(status), jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update sync job status %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sync job not found: %s", jobID)
	}
	return nil
}

func (s *SQLiteStore) CompleteSyncJob(ctx context.Context, jobID string, status model.SyncStatus, summary model.SyncSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sync summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_jobs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync job %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sync job not found: %s", jobID)
	}
	return nil
}

func scanSQLiteSyncJob(row rowScanner) (*model.SyncJob, error) {
	var job model.SyncJob
	var summaryJSON sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.ConnectionID, &job.EntityType, &job.Direction,
		&job.Mode, &job.Status, &summaryJSON, &job.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		var summary model.SyncSummary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal sync summary")
		}
		job.Summary = &summary
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func (s *SQLiteStore) GetSyncJob(ctx context.Context, jobID string) (*model.SyncJob, error) {
	job, err := scanSQLiteSyncJob(s.db.QueryRowContext(ctx,
		`SELECT id, connection_id, entity_type, direction, mode, status, summary, started_at, completed_at
		 FROM sync_jobs WHERE id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get sync job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ListSyncJobs(ctx context.Context, filter JobFilter) ([]model.SyncJob, error) {
	query := `SELECT id, connection_id, entity_type, direction, mode, status, summary, started_at, completed_at
	 FROM sync_jobs WHERE 1=1`
	var args []any
	if filter.ConnectionID != "" {
		query += ` AND connection_id = ?`
		args = append(args, filter.ConnectionID)
	}
	if filter.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, string(filter.EntityType))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync jobs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SyncJob
	for rows.Next() {
		job, err := scanSQLiteSyncJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync job")
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sync jobs rows")
}

// --- Conflicts ---

func (s *SQLiteStore) CreateConflict(ctx context.Context, c model.SyncConflict) (*model.SyncConflict, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.ConflictOpen
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	internalJSON, err := json.Marshal(c.InternalData)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal conflict internal data")
	}
	crmJSON, err := json.Marshal(c.CRMData)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal conflict crm data")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_conflicts (id, connection_id, entity_type, internal_id, external_id, internal_data, crm_data, status, resolution, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ConnectionID, string(c.EntityType), c.InternalID, c.ExternalID,
		string(internalJSON), string(crmJSON), string(c.Status), string(c.Resolution), c.DetectedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert conflict")
	}
	return &c, nil
}

func scanSQLiteConflict(row rowScanner) (*model.SyncConflict, error) {
	var c model.SyncConflict
	var internalJSON, crmJSON string
	var resolvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.ConnectionID, &c.EntityType, &c.InternalID, &c.ExternalID,
		&internalJSON, &crmJSON, &c.Status, &c.Resolution, &c.DetectedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(internalJSON), &c.InternalData); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal conflict internal data")
	}
	if err := json.Unmarshal([]byte(crmJSON), &c.CRMData); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal conflict crm data")
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*model.SyncConflict, error) {
	c, err := scanSQLiteConflict(s.db.QueryRowContext(ctx,
		`SELECT id, connection_id, entity_type, internal_id, external_id, internal_data, crm_data, status, resolution, detected_at, resolved_at
		 FROM sync_conflicts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get conflict %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, connectionID string, status model.ConflictStatus, limit int) ([]model.SyncConflict, error) {
	query := `SELECT id, connection_id, entity_type, internal_id, external_id, internal_data, crm_data, status, resolution, detected_at, resolved_at
	 FROM sync_conflicts WHERE 1=1`
	var args []any
	if connectionID != "" {
		query += ` AND connection_id = ?`
		args = append(args, connectionID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY detected_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SyncConflict
	for rows.Next() {
		c, err := scanSQLiteConflict(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list conflicts rows")
}

func (s *SQLiteStore) ResolveConflict(ctx context.Context, id string, resolution model.ConflictPolicy) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_conflicts SET status = ?, resolution = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		string(model.ConflictResolved), string(resolution), time.Now().UTC(), id, string(model.ConflictOpen),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve conflict %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("open conflict not found: %s", id)
	}
	return nil
}

// --- Audit trail ---

func (s *SQLiteStore) AppendAudit(ctx context.Context, entries ...model.SyncAudit) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO sync_audit (id, connection_id, entity_type, action, entity_id, outcome, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.ConnectionID, string(e.EntityType), e.Action, e.EntityID, e.Outcome, e.Detail, createdAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: append audit")
		}
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.SyncAudit, error) {
	query := `SELECT id, connection_id, entity_type, action, entity_id, outcome, detail, created_at FROM sync_audit WHERE 1=1`
	var args []any
	if filter.ConnectionID != "" {
		query += ` AND connection_id = ?`
		args = append(args, filter.ConnectionID)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, filter.EntityID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SyncAudit
	for rows.Next() {
		var e model.SyncAudit
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.EntityType, &e.Action, &e.EntityID, &e.Outcome, &e.Detail, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit rows")
}
