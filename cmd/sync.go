package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/syncengine"
)

var (
	syncConnectionID string
	syncEntityType   string
	syncDirection    string
	syncSince        string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync one entity type with a CRM connection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		direction := model.SyncDirection(syncDirection)
		switch direction {
		case model.DirectionPull, model.DirectionPush, model.DirectionBidirectional:
		default:
			return eris.Errorf("invalid direction %q (pull, push, or bidirectional)", syncDirection)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		conn, err := getConnection(ctx, env.store, syncConnectionID)
		if err != nil {
			return err
		}
		crm, err := crmConnector(*conn)
		if err != nil {
			return err
		}

		engine := syncengine.New(env.store, cfg.Sync)
		et := model.EntityType(syncEntityType)

		var job *model.SyncJob
		if syncSince != "" {
			since, err := parseSince(syncSince, conn.LastSyncAt)
			if err != nil {
				return err
			}
			job, err = engine.IncrementalSync(ctx, crm, *conn, et, since)
			if err != nil {
				return err
			}
		} else {
			job, err = engine.SyncEntityType(ctx, crm, *conn, et, direction)
			if err != nil {
				return err
			}
		}

		fields := []zap.Field{
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		}
		if job.Summary != nil {
			fields = append(fields,
				zap.Int("pulled", job.Summary.Pulled),
				zap.Int("pushed", job.Summary.Pushed),
				zap.Int("created", job.Summary.Created),
				zap.Int("updated", job.Summary.Updated),
				zap.Int("failed", job.Summary.Failed),
				zap.Int("conflicts", job.Summary.Conflicts),
			)
		}
		zap.L().Info("sync finished", fields...)
		return nil
	},
}

// parseSince accepts an RFC 3339 timestamp, a duration like "24h", or the
// word "last" for the connection's recorded last sync time.
func parseSince(s string, lastSync *time.Time) (time.Time, error) {
	if s == "last" {
		if lastSync == nil {
			return time.Time{}, eris.New("connection has no recorded last sync, pass an explicit --since")
		}
		return *lastSync, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid --since %q (RFC 3339, duration, or \"last\")", s)
	}
	return t, nil
}

func init() {
	syncCmd.Flags().StringVar(&syncConnectionID, "connection", "", "connection id (required)")
	syncCmd.Flags().StringVar(&syncEntityType, "entity", "contact", "entity type (contact, company, lead)")
	syncCmd.Flags().StringVar(&syncDirection, "direction", "bidirectional", "pull, push, or bidirectional")
	syncCmd.Flags().StringVar(&syncSince, "since", "", "incremental sync watermark (RFC 3339, duration, or \"last\")")
	_ = syncCmd.MarkFlagRequired("connection")
	rootCmd.AddCommand(syncCmd)
}
