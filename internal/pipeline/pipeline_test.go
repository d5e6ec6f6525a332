package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-sync/internal/connector"
	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/store"
)

// stubConnector is a canned-answer connector for orchestration tests.
type stubConnector struct {
	name   string
	scope  connector.Scope
	fields model.RawFields
	err    error
	calls  int
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Scope() connector.Scope { return s.scope }

func (s *stubConnector) TestConnection(_ context.Context) error { return nil }

func (s *stubConnector) Enrich(_ context.Context, _ model.Target) (model.RawFields, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.fields.Clone(), nil
}

type pipelineFixture struct {
	store    *store.SQLiteStore
	registry *connector.Registry
	enricher *Enricher
}

// newFixture seeds a store with one tenant connection per stub and a contact
// record, and wires an enricher over them. Stub priority follows slice order.
func newFixture(t *testing.T, email string, stubs ...*stubConnector) *pipelineFixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	registry := connector.NewRegistry()
	for i, stub := range stubs {
		registry.Register(stub.name, func(model.Connection) (connector.Connector, error) {
			return stub, nil
		})
		_, err := st.CreateConnection(ctx, model.Connection{
			TenantID: "t1",
			Provider: stub.name,
			APIKey:   "key",
			Priority: i + 1,
			Active:   true,
		})
		require.NoError(t, err)
	}

	_, err = st.UpsertRecord(ctx, model.Record{
		ID:       "e1",
		TenantID: "t1",
		Type:     model.EntityContact,
		Fields: map[string]any{
			"email":      email,
			"first_name": "Jane",
			"last_name":  "Doe",
		},
	})
	require.NoError(t, err)

	return &pipelineFixture{
		store:    st,
		registry: registry,
		enricher: NewEnricher(st, registry, DefaultConfig()),
	}
}

func sourceResult(t *testing.T, result *model.PipelineResult, source string) model.SourceResult {
	t.Helper()
	for _, sr := range result.SourceResults {
		if sr.Source == source {
			return sr
		}
	}
	t.Fatalf("no result for source %s", source)
	return model.SourceResult{}
}

func TestEnrichEntityMergesWaterfall(t *testing.T) {
	people := &stubConnector{
		name:  "people-data",
		scope: connector.ScopePerson,
		fields: model.RawFields{
			"title": "VP Sales",
			"phone": "555-1000",
		},
	}
	company := &stubConnector{
		name:  "company-data",
		scope: connector.ScopeCompany,
		fields: model.RawFields{
			"industry":       "SaaS",
			"employee_count": 220,
		},
	}
	fx := newFixture(t, "jane@acmeco.com", people, company)

	result, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.Equal(t, []string{"people-data", "company-data"}, result.SucceededSources())
	assert.Equal(t, 2, result.CreditsUsed)

	rec, err := fx.store.GetSignalRecord(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "VP Sales", rec.Professional.Title)
	assert.Equal(t, "555-1000", rec.Contact.Phone)
	assert.Equal(t, "SaaS", rec.Company.Industry)
	assert.Equal(t, 220, rec.Company.EmployeeCount)
	assert.Equal(t, "acmeco.com", rec.Company.Domain)
	assert.Equal(t, []string{"people-data", "company-data"}, rec.Metadata.Sources)
	// email + phone + title + industry + employee_count = 5 of 10 checklist
	// fields present.
	assert.Equal(t, 50, rec.Metadata.CompletenessScore)
	assert.Equal(t, 100, rec.Metadata.FreshnessScore)

	run, err := fx.store.GetPipelineRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "e1", run.EntityID)
}

func TestEnrichEntityPublicEmailSkipsCompanyScope(t *testing.T) {
	people := &stubConnector{
		name:   "people-data",
		scope:  connector.ScopePerson,
		fields: model.RawFields{"title": "VP Sales"},
	}
	company := &stubConnector{
		name:   "company-data",
		scope:  connector.ScopeCompany,
		fields: model.RawFields{"industry": "SaaS"},
	}
	fx := newFixture(t, "jane@gmail.com", people, company)

	result, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.Equal(t, []string{"people-data"}, result.SucceededSources())

	sr := sourceResult(t, result, "company-data")
	assert.True(t, sr.Skipped)
	assert.Equal(t, 0, sr.CreditsUsed)
	assert.Equal(t, 0, company.calls)
}

func TestEnrichEntityPartialFailure(t *testing.T) {
	people := &stubConnector{
		name:   "people-data",
		scope:  connector.ScopePerson,
		fields: model.RawFields{"title": "VP Sales"},
	}
	broken := &stubConnector{
		name:  "company-data",
		scope: connector.ScopeCompany,
		err:   eris.New("upstream 500"),
	}
	fx := newFixture(t, "jane@acmeco.com", people, broken)

	result, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)
	assert.False(t, result.Failed)
	assert.Equal(t, []string{"people-data"}, result.SucceededSources())

	sr := sourceResult(t, result, "company-data")
	assert.False(t, sr.Success)
	assert.Contains(t, sr.Error, "upstream 500")
	// A failed call consumes no credits.
	assert.Equal(t, 0, sr.CreditsUsed)
	assert.Equal(t, 1, result.CreditsUsed)

	rec, err := fx.store.GetSignalRecord(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "VP Sales", rec.Professional.Title)
}

func TestEnrichEntityAllSourcesFailed(t *testing.T) {
	broken := &stubConnector{
		name:  "people-data",
		scope: connector.ScopePerson,
		err:   eris.New("upstream 500"),
	}
	fx := newFixture(t, "jane@acmeco.com", broken)

	result, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)
	assert.True(t, result.Failed)
	assert.Equal(t, "all sources failed", result.Error)

	// No signal record is written for an all-failed run, but the run itself
	// is durable.
	rec, err := fx.store.GetSignalRecord(context.Background(), "e1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	run, err := fx.store.GetPipelineRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.Failed)
}

func TestEnrichEntityUnknownEntity(t *testing.T) {
	fx := newFixture(t, "jane@acmeco.com")

	_, err := fx.enricher.EnrichEntity(context.Background(), "t1", "missing")
	assert.Error(t, err)
}

func TestEnrichEntityIdempotentRerun(t *testing.T) {
	ts := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	news := &stubConnector{
		name:  "news-service",
		scope: connector.ScopeCompany,
		fields: model.RawFields{
			"news_items": []model.NewsItem{
				{Title: "Series B", URL: "https://news.example/a", PublishedAt: ts},
			},
			"intent_signals": []model.IntentSignal{
				{Type: model.IntentFunding, Source: "news-service", Confidence: 80, Timestamp: ts},
			},
		},
	}
	fx := newFixture(t, "jane@acmeco.com", news)

	first, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)
	second, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)

	assert.Equal(t, first.SucceededSources(), second.SucceededSources())

	// The signal log did not grow on the second run.
	signals, err := fx.store.ListIntentSignals(context.Background(), "e1")
	require.NoError(t, err)
	assert.Len(t, signals, 1)

	rec, err := fx.store.GetSignalRecord(context.Background(), "e1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Intent.Signals, 1)
	assert.Equal(t, model.StageAwareness, rec.Intent.BuyingStage)
	assert.Equal(t, 20, rec.Intent.Score) // funding 25 * 0.8
}

func TestEnrichEntityRateLimitBackoffRetries(t *testing.T) {
	limited := &flakyConnector{
		stubConnector: stubConnector{
			name:   "people-data",
			scope:  connector.ScopePerson,
			fields: model.RawFields{"title": "VP Sales"},
		},
		failures: 1,
		failWith: connector.NewRateLimitError("people-data", 10*time.Millisecond, eris.New("429")),
	}
	fx := newFixture(t, "jane@acmeco.com", &limited.stubConnector)
	fx.registry = connector.NewRegistry()
	fx.registry.Register("people-data", func(model.Connection) (connector.Connector, error) {
		return limited, nil
	})
	fx.enricher = NewEnricher(fx.store, fx.registry, DefaultConfig())

	result, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"people-data"}, result.SucceededSources())
	assert.Equal(t, 2, limited.calls)
}

func TestEnrichEntityRateLimitWaitOverBudget(t *testing.T) {
	limited := &flakyConnector{
		stubConnector: stubConnector{
			name:  "people-data",
			scope: connector.ScopePerson,
		},
		failures: 99,
		failWith: connector.NewRateLimitError("people-data", time.Hour, eris.New("429")),
	}
	fx := newFixture(t, "jane@acmeco.com", &limited.stubConnector)
	fx.registry = connector.NewRegistry()
	fx.registry.Register("people-data", func(model.Connection) (connector.Connector, error) {
		return limited, nil
	})
	fx.enricher = NewEnricher(fx.store, fx.registry, DefaultConfig())

	result, err := fx.enricher.EnrichEntity(context.Background(), "t1", "e1")
	require.NoError(t, err)
	assert.True(t, result.Failed)
	// The hour-long backoff was not attempted.
	assert.Equal(t, 1, limited.calls)
}

// flakyConnector fails its first N Enrich calls with a fixed error.
type flakyConnector struct {
	stubConnector
	failures int
	failWith error
}

func (f *flakyConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	if f.calls < f.failures {
		f.calls++
		return nil, f.failWith
	}
	return f.stubConnector.Enrich(ctx, target)
}
