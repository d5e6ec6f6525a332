package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/connector"
	"github.com/sells-group/prospect-sync/internal/cost"
	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/pipeline"
	"github.com/sells-group/prospect-sync/internal/store"
	"github.com/sells-group/prospect-sync/pkg/anthropic"
)

// appEnv bundles the store and connector registry shared by commands.
type appEnv struct {
	store    store.Store
	registry *connector.Registry
}

func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return &appEnv{store: st, registry: buildRegistry()}, nil
}

func (e *appEnv) Close() {
	_ = e.store.Close()
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres", "":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// buildRegistry registers every known provider. Registration order doubles as
// the default waterfall priority for connections that do not set one.
func buildRegistry() *connector.Registry {
	r := connector.NewRegistry()
	r.Register("people-data", connector.NewPeopleData)
	r.Register("company-data", connector.NewCompanyData)
	r.Register("profile-service", connector.NewProfile)
	r.Register("news-service", connector.NewNews)
	r.Register("tech-fingerprint", connector.NewTechStack)
	r.Register("hubspot", connector.NewHubSpot)
	r.Register("salesforce", connector.NewSalesforce)
	return r
}

func newEnricher(st store.Store, reg *connector.Registry) (*pipeline.Enricher, error) {
	pcfg := pipeline.DefaultConfig()
	if cfg.Pipeline.WeightsFile != "" {
		loaded, err := pipeline.LoadConfig(cfg.Pipeline.WeightsFile)
		if err != nil {
			return nil, eris.Wrap(err, "load pipeline weights")
		}
		pcfg = *loaded
	}
	if cfg.Pipeline.SourceTimeoutSecs > 0 {
		pcfg.SourceTimeoutSecs = cfg.Pipeline.SourceTimeoutSecs
	}
	if cfg.Pipeline.RunTimeoutSecs > 0 {
		pcfg.RunTimeoutSecs = cfg.Pipeline.RunTimeoutSecs
	}
	if cfg.Pipeline.MaxRateLimitWaitSecs > 0 {
		pcfg.MaxRateLimitWaitSecs = cfg.Pipeline.MaxRateLimitWaitSecs
	}

	rates := cost.DefaultRates()
	if cfg.Credits.Default > 0 {
		rates.Default = cfg.Credits.Default
	}
	for provider, credits := range cfg.Credits.PerCall {
		rates.PerCall[provider] = credits
	}

	opts := []pipeline.Option{pipeline.WithCostRates(rates)}
	if cfg.Anthropic.Key != "" {
		client := anthropic.NewClient(cfg.Anthropic.Key)
		opts = append(opts, pipeline.WithSynthesizer(pipeline.NewSynthesizer(client, cfg.Anthropic.Model)))
	}

	return pipeline.NewEnricher(st, reg, pcfg, opts...), nil
}

// crmConnector builds the CRM-capable connector for a connection.
func crmConnector(conn model.Connection) (connector.CRMConnector, error) {
	var (
		c   connector.Connector
		err error
	)
	switch conn.Provider {
	case "hubspot":
		c, err = connector.NewHubSpot(conn)
	case "salesforce":
		c, err = connector.NewSalesforce(conn)
	default:
		return nil, eris.Errorf("provider %q is not a CRM connector", conn.Provider)
	}
	if err != nil {
		return nil, err
	}
	crm, ok := c.(connector.CRMConnector)
	if !ok {
		return nil, eris.Errorf("provider %q does not implement the CRM contract", conn.Provider)
	}
	return crm, nil
}

func getConnection(ctx context.Context, st store.Store, id string) (*model.Connection, error) {
	conn, err := st.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, eris.Errorf("connection not found: %s", id)
	}
	return conn, nil
}
