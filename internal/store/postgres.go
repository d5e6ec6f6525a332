package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/db"
	"github.com/sells-group/prospect-sync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_record":          `SELECT id, tenant_id, type, fields, created_at, updated_at FROM records WHERE type = $1 AND id = $2`,
	"get_signal_record":   `SELECT data FROM signal_records WHERE entity_id = $1`,
	"get_mapping_by_int":  `SELECT id, connection_id, entity_type, internal_id, external_id, last_synced_at FROM identity_mappings WHERE connection_id = $1 AND entity_type = $2 AND internal_id = $3`,
	"get_mapping_by_ext":  `SELECT id, connection_id, entity_type, internal_id, external_id, last_synced_at FROM identity_mappings WHERE connection_id = $1 AND entity_type = $2 AND external_id = $3`,
	"touch_mapping":       `UPDATE identity_mappings SET last_synced_at = $1 WHERE id = $2`,
	"insert_audit":        `INSERT INTO sync_audit (id, connection_id, entity_type, action, entity_id, outcome, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"insert_intent":       `INSERT INTO intent_signals (id, tenant_id, entity_id, dedupe_key, data, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (entity_id, dedupe_key) DO NOTHING`,
	"update_job_status":   `UPDATE sync_jobs SET status = $1 WHERE id = $2`,
	"complete_job":        `UPDATE sync_jobs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wires an existing pool; used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying database pool for subsystems needing direct
// query access (e.g., monitoring snapshots).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS connections (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id       TEXT NOT NULL,
	provider        TEXT NOT NULL,
	access_token    TEXT,
	refresh_token   TEXT,
	api_key         TEXT,
	base_url        TEXT,
	priority        INTEGER NOT NULL DEFAULT 0,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	conflict_policy TEXT NOT NULL DEFAULT 'manual',
	last_sync_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_connections_tenant ON connections(tenant_id);
CREATE INDEX IF NOT EXISTS idx_connections_tenant_active ON connections(tenant_id, active);

CREATE TABLE IF NOT EXISTS field_mappings (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	connection_id  TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	entity_type    TEXT NOT NULL,
	internal_field TEXT NOT NULL,
	external_field TEXT NOT NULL,
	transform      TEXT NOT NULL DEFAULT '',
	position       INTEGER NOT NULL DEFAULT 0,
	UNIQUE (connection_id, entity_type, internal_field)
);

CREATE TABLE IF NOT EXISTS identity_mappings (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	connection_id  TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	entity_type    TEXT NOT NULL,
	internal_id    TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	last_synced_at TIMESTAMPTZ NOT NULL,
	UNIQUE (connection_id, entity_type, internal_id),
	UNIQUE (connection_id, entity_type, external_id)
);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT NOT NULL,
	tenant_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	fields     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (type, id)
);

CREATE INDEX IF NOT EXISTS idx_records_tenant ON records(tenant_id, type);

CREATE TABLE IF NOT EXISTS signal_records (
	entity_id   TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	data        JSONB NOT NULL,
	enriched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS intent_signals (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id  TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	dedupe_key TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (entity_id, dedupe_key)
);

CREATE INDEX IF NOT EXISTS idx_intent_signals_entity ON intent_signals(entity_id);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	failed     BOOLEAN NOT NULL DEFAULT FALSE,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_entity ON pipeline_runs(entity_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_tenant ON pipeline_runs(tenant_id, created_at DESC);

CREATE TABLE IF NOT EXISTS sync_jobs (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	direction     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	summary       JSONB,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_sync_jobs_connection ON sync_jobs(connection_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs(status);

CREATE TABLE IF NOT EXISTS sync_conflicts (
	id            TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	internal_id   TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	internal_data JSONB NOT NULL,
	crm_data      JSONB NOT NULL,
	status        TEXT NOT NULL DEFAULT 'open',
	resolution    TEXT NOT NULL DEFAULT '',
	detected_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at   TIMESTAMPTZ
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
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sync_audit_connection ON sync_audit(connection_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_audit_entity ON sync_audit(entity_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Connections ---

const connectionColumns = `id, tenant_id, provider, access_token, refresh_token, api_key, base_url, priority, active, conflict_policy, last_sync_at, created_at, updated_at`

func scanConnection(row pgx.Row) (*model.Connection, error) {
	var c model.Connection
	var accessToken, refreshToken, apiKey, baseURL *string
	var lastSync *time.Time
	err := row.Scan(&c.ID, &c.TenantID, &c.Provider, &accessToken, &refreshToken,
		&apiKey, &baseURL, &c.Priority, &c.Active, &c.ConflictPolicy,
		&lastSync, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if accessToken != nil {
		c.AccessToken = *accessToken
	}
	if refreshToken != nil {
		c.RefreshToken = *refreshToken
	}
	if apiKey != nil {
		c.APIKey = *apiKey
	}
	if baseURL != nil {
		c.BaseURL = *baseURL
	}
	c.LastSyncAt = lastSync
	return &c, nil
}

func (s *PostgresStore) CreateConnection(ctx context.Context, conn model.Connection) (*model.Connection, error) {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.ConflictPolicy == "" {
		conn.ConflictPolicy = model.ConflictManual
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO connections (`+connectionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		conn.ID, conn.TenantID, conn.Provider, conn.AccessToken, conn.RefreshToken,
		conn.APIKey, conn.BaseURL, conn.Priority, conn.Active, string(conn.ConflictPolicy),
		conn.LastSyncAt, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert connection")
	}
	return &conn, nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	c, err := scanConnection(s.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get connection %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListConnections(ctx context.Context, tenantID string, activeOnly bool) ([]model.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE tenant_id = $1`
	if activeOnly {
		query += ` AND active`
	}
	query += ` ORDER BY priority, provider`

	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list connections")
	}
	defer rows.Close()

	var out []model.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan connection")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list connections rows")
}

func (s *PostgresStore) UpdateConnection(ctx context.Context, conn model.Connection) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE connections SET access_token = $1, refresh_token = $2, api_key = $3, base_url = $4,
		 priority = $5, active = $6, conflict_policy = $7, last_sync_at = $8, updated_at = $9 WHERE id = $10`,
		conn.AccessToken, conn.RefreshToken, conn.APIKey, conn.BaseURL,
		conn.Priority, conn.Active, string(conn.ConflictPolicy), conn.LastSyncAt,
		time.Now().UTC(), conn.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update connection %s", conn.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("connection not found: %s", conn.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete connection %s", id)
}

// --- Field mappings ---

func (s *PostgresStore) ReplaceFieldMappings(ctx context.Context, connectionID string, et model.EntityType, mappings []model.FieldMapping) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace mappings")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM field_mappings WHERE connection_id = $1 AND entity_type = $2`,
		connectionID, string(et),
	); err != nil {
		return eris.Wrap(err, "postgres: clear field mappings")
	}

	for _, fm := range mappings {
		id := fm.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO field_mappings (id, connection_id, entity_type, internal_field, external_field, transform, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, connectionID, string(et), fm.InternalField, fm.ExternalField, fm.Transform, fm.Position,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert field mapping %s", fm.InternalField)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace mappings")
}

func (s *PostgresStore) ListFieldMappings(ctx context.Context, connectionID string) ([]model.FieldMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, connection_id, entity_type, internal_field, external_field, transform, position
		 FROM field_mappings WHERE connection_id = $1 ORDER BY entity_type, position`,
		connectionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list field mappings")
	}
	defer rows.Close()

	var out []model.FieldMapping
	for rows.Next() {
		var fm model.FieldMapping
		if err := rows.Scan(&fm.ID, &fm.ConnectionID, &fm.EntityType, &fm.InternalField,
			&fm.ExternalField, &fm.Transform, &fm.Position); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field mapping")
		}
		out = append(out, fm)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list field mappings rows")
}

// --- Identity mappings ---

func (s *PostgresStore) CreateIdentityMapping(ctx context.Context, m model.EntityIdentityMapping) (*model.EntityIdentityMapping, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.LastSyncedAt.IsZero() {
		m.LastSyncedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_mappings (id, connection_id, entity_type, internal_id, external_id, last_synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConnectionID, string(m.EntityType), m.InternalID, m.ExternalID, m.LastSyncedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrMappingExists
		}
		return nil, eris.Wrap(err, "postgres: insert identity mapping")
	}
	return &m, nil
}

func scanIdentityMapping(row pgx.Row) (*model.EntityIdentityMapping, error) {
	var m model.EntityIdentityMapping
	err := row.Scan(&m.ID, &m.ConnectionID, &m.EntityType, &m.InternalID, &m.ExternalID, &m.LastSyncedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMappingByInternalID(ctx context.Context, connectionID string, et model.EntityType, internalID string) (*model.EntityIdentityMapping, error) {
	m, err := scanIdentityMapping(s.pool.QueryRow(ctx,
		`SELECT id, connection_id, entity_type, internal_id, external_id, last_synced_at
		 FROM identity_mappings WHERE connection_id = $1 AND entity_type = $2 AND internal_id = $3`,
		connectionID, string(et), internalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get mapping by internal id")
	}
	return m, nil
}

func (s *PostgresStore) GetMappingByExternalID(ctx context.Context, connectionID string, et model.EntityType, externalID string) (*model.EntityIdentityMapping, error) {
	m, err := scanIdentityMapping(s.pool.QueryRow(ctx,
		`SELECT id, connection_id, entity_type, internal_id, external_id, last_synced_at
		 FROM identity_mappings WHERE connection_id = $1 AND entity_type = $2 AND external_id = $3`,
		connectionID, string(et), externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get mapping by external id")
	}
	return m, nil
}

func (s *PostgresStore) TouchIdentityMapping(ctx context.Context, id string, syncedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identity_mappings SET last_synced_at = $1 WHERE id = $2`,
		syncedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: touch identity mapping %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("identity mapping not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteIdentityMapping(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM identity_mappings WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete identity mapping %s", id)
}

// --- Records ---

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec model.Record) (*model.Record, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal record fields")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, tenant_id, type, fields, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (type, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.TenantID, string(rec.Type), fieldsJSON, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert record %s", rec.ID)
	}
	return &rec, nil
}

// recordColumns are the upsert columns used by the bulk import path.
var recordColumns = []string{"id", "tenant_id", "type", "fields", "created_at", "updated_at"}

func (s *PostgresStore) BulkUpsertRecords(ctx context.Context, recs []model.Record) (int64, error) {
	rows := make([][]any, 0, len(recs))
	now := time.Now().UTC()
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		fieldsJSON, err := json.Marshal(rec.Fields)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal record fields")
		}
		rows = append(rows, []any{rec.ID, rec.TenantID, string(rec.Type), fieldsJSON, now, now})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "records",
		Columns:      recordColumns,
		ConflictKeys: []string{"type", "id"},
		UpdateCols:   []string{"fields", "updated_at"},
	}, rows)
}

func (s *PostgresStore) GetRecord(ctx context.Context, et model.EntityType, id string) (*model.Record, error) {
	var rec model.Record
	var fieldsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, type, fields, created_at, updated_at FROM records WHERE type = $1 AND id = $2`,
		string(et), id,
	).Scan(&rec.ID, &rec.TenantID, &rec.Type, &fieldsJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal record fields")
	}
	return &rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT id, tenant_id, type, fields, created_at, updated_at FROM records WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var rec model.Record
		var fieldsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Type, &fieldsJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record fields")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records rows")
}

// --- Signal records ---

func (s *PostgresStore) SaveSignalRecord(ctx context.Context, tenantID string, rec model.SignalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal signal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO signal_records (entity_id, tenant_id, data, enriched_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_id) DO UPDATE SET data = EXCLUDED.data, enriched_at = EXCLUDED.enriched_at`,
		rec.EntityID, tenantID, data, rec.Metadata.EnrichedAt,
	)
	return eris.Wrapf(err, "postgres: save signal record %s", rec.EntityID)
}

func (s *PostgresStore) GetSignalRecord(ctx context.Context, entityID string) (*model.SignalRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM signal_records WHERE entity_id = $1`, entityID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get signal record %s", entityID)
	}

	var rec model.SignalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal signal record")
	}
	return &rec, nil
}

func (s *PostgresStore) AppendIntentSignals(ctx context.Context, tenantID, entityID string, signals []model.IntentSignal) (int, error) {
	added := 0
	for _, sig := range signals {
		data, err := json.Marshal(sig)
		if err != nil {
			return added, eris.Wrap(err, "postgres: marshal intent signal")
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO intent_signals (id, tenant_id, entity_id, dedupe_key, data, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (entity_id, dedupe_key) DO NOTHING`,
			uuid.New().String(), tenantID, entityID, sig.DedupeKey(), data, time.Now().UTC(),
		)
		if err != nil {
			return added, eris.Wrap(err, "postgres: insert intent signal")
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

func (s *PostgresStore) ListIntentSignals(ctx context.Context, entityID string) ([]model.IntentSignal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM intent_signals WHERE entity_id = $1 ORDER BY (data->>'timestamp')`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list intent signals")
	}
	defer rows.Close()

	var out []model.IntentSignal
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan intent signal")
		}
		var sig model.IntentSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal intent signal")
		}
		out = append(out, sig)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list intent signals rows")
}

// --- Pipeline runs ---

func (s *PostgresStore) SavePipelineRun(ctx context.Context, result model.PipelineResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal pipeline run")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, tenant_id, entity_id, failed, result, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		result.RunID, result.TenantID, result.EntityID, result.Failed, data, result.StartedAt,
	)
	return eris.Wrapf(err, "postgres: save pipeline run %s", result.RunID)
}

func (s *PostgresStore) GetPipelineRun(ctx context.Context, runID string) (*model.PipelineResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM pipeline_runs WHERE id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get pipeline run %s", runID)
	}

	var result model.PipelineResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal pipeline run")
	}
	return &result, nil
}

func (s *PostgresStore) ListPipelineRuns(ctx context.Context, filter RunFilter) ([]model.PipelineResult, error) {
	query := `SELECT result FROM pipeline_runs WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if filter.Failed != nil {
		args = append(args, *filter.Failed)
		query += fmt.Sprintf(" AND failed = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pipeline runs")
	}
	defer rows.Close()

	var out []model.PipelineResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pipeline run")
		}
		var result model.PipelineResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pipeline run")
		}
		out = append(out, result)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pipeline runs rows")
}

// --- Sync jobs ---

func (s *PostgresStore) CreateSyncJob(ctx context.Context, job model.SyncJob) (*model.SyncJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.SyncPending
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_jobs (id, connection_id, entity_type, direction, mode, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.ConnectionID, string(job.EntityType), string(job.Direction),
		string(job.Mode), string(job.Status), job.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert sync job")
	}
	return &job, nil
}

func (s *PostgresStore) UpdateSyncJobStatus(ctx context.Context, jobID string, status model.SyncStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status = $1 WHERE id = $2`, string(status), jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update sync job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync job not found: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) CompleteSyncJob(ctx context.Context, jobID string, status model.SyncStatus, summary model.SyncSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sync summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_jobs SET status = $1, summary = $2, completed_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("sync job not found: %s", jobID)
	}
	return nil
}

func scanSyncJob(row pgx.Row) (*model.SyncJob, error) {
	var job model.SyncJob
	var summaryJSON []byte
	var completedAt *time.Time
	err := row.Scan(&job.ID, &job.ConnectionID, &job.EntityType, &job.Direction,
		&job.Mode, &job.Status, &summaryJSON, &job.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if len(summaryJSON) > 0 {
		var summary model.SyncSummary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sync summary")
		}
		job.Summary = &summary
	}
	job.CompletedAt = completedAt
	return &job, nil
}

func (s *PostgresStore) GetSyncJob(ctx context.Context, jobID string) (*model.SyncJob, error) {
	job, err := scanSyncJob(s.pool.QueryRow(ctx,
		`SELECT id, connection_id, entity_type, direction, mode, status, summary, started_at, completed_at
		 FROM sync_jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get sync job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ListSyncJobs(ctx context.Context, filter JobFilter) ([]model.SyncJob, error) {
	query := `SELECT id, connection_id, entity_type, direction, mode, status, summary, started_at, completed_at
	 FROM sync_jobs WHERE 1=1`
	var args []any
	if filter.ConnectionID != "" {
		args = append(args, filter.ConnectionID)
		query += fmt.Sprintf(" AND connection_id = $%d", len(args))
	}
	if filter.EntityType != "" {
		args = append(args, string(filter.EntityType))
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync jobs")
	}
	defer rows.Close()

	var out []model.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync job")
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sync jobs rows")
}

// --- Conflicts ---

func (s *PostgresStore) CreateConflict(ctx context.Context, c model.SyncConflict) (*model.SyncConflict, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal conflict internal data")
	}
	crmJSON, err := json.Marshal(c.CRMData)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal conflict crm data")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_conflicts (id, connection_id, entity_type, internal_id, external_id, internal_data, crm_data, status, resolution, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.ConnectionID, string(c.EntityType), c.InternalID, c.ExternalID,
		internalJSON, crmJSON, string(c.Status), string(c.Resolution), c.DetectedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert conflict")
	}
	return &c, nil
}

func scanConflict(row pgx.Row) (*model.SyncConflict, error) {
	var c model.SyncConflict
	var internalJSON, crmJSON []byte
	var resolvedAt *time.Time
	err := row.Scan(&c.ID, &c.ConnectionID, &c.EntityType, &c.InternalID, &c.ExternalID,
		&internalJSON, &crmJSON, &c.Status, &c.Resolution, &c.DetectedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(internalJSON, &c.InternalData); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal conflict internal data")
	}
	if err := json.Unmarshal(crmJSON, &c.CRMData); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal conflict crm data")
	}
	c.ResolvedAt = resolvedAt
	return &c, nil
}

const conflictColumns = `id, connection_id, entity_type, internal_id, external_id, internal_data, crm_data, status, resolution, detected_at, resolved_at`

func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*model.SyncConflict, error) {
	c, err := scanConflict(s.pool.QueryRow(ctx,
		`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get conflict %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, connectionID string, status model.ConflictStatus, limit int) ([]model.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE 1=1`
	var args []any
	if connectionID != "" {
		args = append(args, connectionID)
		query += fmt.Sprintf(" AND connection_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY detected_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var out []model.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list conflicts rows")
}

func (s *PostgresStore) ResolveConflict(ctx context.Context, id string, resolution model.ConflictPolicy) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_conflicts SET status = $1, resolution = $2, resolved_at = $3 WHERE id = $4 AND status = $5`,
		string(model.ConflictResolved), string(resolution), time.Now().UTC(), id, string(model.ConflictOpen),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve conflict %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("open conflict not found: %s", id)
	}
	return nil
}

// --- Audit trail ---

func (s *PostgresStore) AppendAudit(ctx context.Context, entries ...model.SyncAudit) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows = append(rows, []any{id, e.ConnectionID, string(e.EntityType), e.Action, e.EntityID, e.Outcome, e.Detail, createdAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "sync_audit",
		[]string{"id", "connection_id", "entity_type", "action", "entity_id", "outcome", "detail", "created_at"},
		rows)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.SyncAudit, error) {
	query := `SELECT id, connection_id, entity_type, action, entity_id, outcome, detail, created_at FROM sync_audit WHERE 1=1`
	var args []any
	if filter.ConnectionID != "" {
		args = append(args, filter.ConnectionID)
		query += fmt.Sprintf(" AND connection_id = $%d", len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}
	if filter.Outcome != "" {
		args = append(args, filter.Outcome)
		query += fmt.Sprintf(" AND outcome = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.SyncAudit
	for rows.Next() {
		var e model.SyncAudit
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.EntityType, &e.Action, &e.EntityID, &e.Outcome, &e.Detail, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit rows")
}
