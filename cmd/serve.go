package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/monitoring"
	"github.com/sells-group/prospect-sync/internal/pipeline"
	"github.com/sells-group/prospect-sync/internal/syncengine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enricher, err := newEnricher(env.store, env.registry)
		if err != nil {
			return err
		}

		srv := newServer(ctx, env, enricher)

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("webhook server listening", zap.Int("port", cfg.Server.Port))
			errCh <- httpSrv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		zap.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

// server holds the request handlers' shared dependencies. Webhook work runs
// asynchronously on baseCtx so an accepted request survives its HTTP context.
type server struct {
	env       *appEnv
	enricher  *pipeline.Enricher
	engine    *syncengine.Engine
	collector *monitoring.Collector
	tenantID  string
	lookback  int
	baseCtx   context.Context
}

func newServer(ctx context.Context, env *appEnv, enricher *pipeline.Enricher) *server {
	return &server{
		env:       env,
		enricher:  enricher,
		engine:    syncengine.New(env.store, cfg.Sync),
		collector: monitoring.NewCollector(env.store),
		tenantID:  cfg.Tenant.ID,
		lookback:  cfg.Monitoring.LookbackWindowHours,
		baseCtx:   ctx,
	}
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/webhook/enrich", s.handleEnrich)
	r.Post("/webhook/sync", s.handleSync)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.env.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context(), s.lookback)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to collect metrics"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity_id is required"})
		return
	}

	rec, err := s.env.store.GetRecord(r.Context(), model.EntityContact, req.EntityID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "entity not found"})
		return
	}

	go func() {
		result, err := s.enricher.EnrichEntity(s.baseCtx, s.tenantID, req.EntityID)
		if err != nil {
			zap.L().Error("webhook enrichment failed",
				zap.String("entity_id", req.EntityID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("webhook enrichment complete",
			zap.String("entity_id", req.EntityID),
			zap.String("run_id", result.RunID),
			zap.Strings("sources", result.SucceededSources()),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "entity_id": req.EntityID})
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID string `json:"connection_id"`
		EntityType   string `json:"entity_type"`
		Direction    string `json:"direction"`
		Since        string `json:"since,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ConnectionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "connection_id is required"})
		return
	}
	if req.EntityType == "" {
		req.EntityType = string(model.EntityContact)
	}
	direction := model.SyncDirection(req.Direction)
	if req.Direction == "" {
		direction = model.DirectionBidirectional
	}

	conn, err := s.env.store.GetConnection(r.Context(), req.ConnectionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if conn == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection not found"})
		return
	}

	crm, err := crmConnector(*conn)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var since time.Time
	if req.Since != "" {
		since, err = parseSince(req.Since, conn.LastSyncAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	go func() {
		et := model.EntityType(req.EntityType)
		var (
			job *model.SyncJob
			err error
		)
		if req.Since != "" {
			job, err = s.engine.IncrementalSync(s.baseCtx, crm, *conn, et, since)
		} else {
			job, err = s.engine.SyncEntityType(s.baseCtx, crm, *conn, et, direction)
		}
		if err != nil {
			zap.L().Error("webhook sync failed",
				zap.String("connection_id", req.ConnectionID),
				zap.Error(err),
			)
			return
		}
		zap.L().Info("webhook sync complete",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "connection_id": req.ConnectionID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
