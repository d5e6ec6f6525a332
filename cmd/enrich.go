package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/store"
)

var (
	enrichAll     bool
	enrichWorkers int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [entity-id...]",
	Short: "Run the enrichment waterfall for one or more prospects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if !enrichAll && len(args) == 0 {
			return eris.New("pass entity ids or --all")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		enricher, err := newEnricher(env.store, env.registry)
		if err != nil {
			return err
		}

		ids := args
		if enrichAll {
			records, err := env.store.ListRecords(ctx, store.RecordFilter{
				TenantID: cfg.Tenant.ID,
				Type:     model.EntityContact,
			})
			if err != nil {
				return eris.Wrap(err, "list contacts")
			}
			ids = ids[:0]
			for _, r := range records {
				ids = append(ids, r.ID)
			}
		}

		workers := enrichWorkers
		if workers <= 0 {
			workers = cfg.Pipeline.BatchWorkers
		}
		if workers <= 0 {
			workers = 1
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, id := range ids {
			g.Go(func() error {
				result, err := enricher.EnrichEntity(gctx, cfg.Tenant.ID, id)
				if err != nil {
					zap.L().Error("enrichment failed",
						zap.String("entity_id", id),
						zap.Error(err),
					)
					return nil
				}
				fields := []zap.Field{
					zap.String("entity_id", id),
					zap.String("run_id", result.RunID),
					zap.Strings("sources", result.SucceededSources()),
					zap.Int("credits", result.CreditsUsed),
					zap.Int64("duration_ms", result.DurationMS),
				}
				if result.Failed {
					zap.L().Warn("enrichment produced no data", fields...)
					return nil
				}
				zap.L().Info("enrichment complete", fields...)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("enrich batch done", zap.Int("entities", len(ids)))
		return nil
	},
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichAll, "all", false, "enrich every contact record for the tenant")
	enrichCmd.Flags().IntVar(&enrichWorkers, "workers", 0, "concurrent enrichments (default from config)")
	rootCmd.AddCommand(enrichCmd)
}
