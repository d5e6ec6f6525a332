package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/syncengine"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var (
	conflictsConnection string
	conflictsLimit      int
	conflictsShowData   bool
)

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open conflicts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		conflicts, err := env.store.ListConflicts(ctx, conflictsConnection, model.ConflictOpen, conflictsLimit)
		if err != nil {
			return err
		}

		if conflictsShowData {
			return json.NewEncoder(os.Stdout).Encode(conflicts)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCONNECTION\tENTITY\tINTERNAL\tEXTERNAL\tDETECTED")
		for _, c := range conflicts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.ConnectionID, c.EntityType, c.InternalID, c.ExternalID,
				c.DetectedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var conflictsUse string

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id>",
	Short: "Resolve an open conflict with one side's data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var resolution model.ConflictPolicy
		switch conflictsUse {
		case "internal":
			resolution = model.ConflictUseInternal
		case "crm":
			resolution = model.ConflictUseCRM
		default:
			return eris.Errorf("invalid --use %q (internal or crm)", conflictsUse)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		conflict, err := env.store.GetConflict(ctx, args[0])
		if err != nil {
			return err
		}
		if conflict == nil {
			return eris.Errorf("conflict not found: %s", args[0])
		}
		if conflict.Status != model.ConflictOpen {
			return eris.Errorf("conflict %s is already %s", conflict.ID, conflict.Status)
		}

		conn, err := getConnection(ctx, env.store, conflict.ConnectionID)
		if err != nil {
			return err
		}
		crm, err := crmConnector(*conn)
		if err != nil {
			return err
		}

		engine := syncengine.New(env.store, cfg.Sync)
		if err := engine.ResolveManually(ctx, crm, *conn, conflict, resolution); err != nil {
			return err
		}

		zap.L().Info("conflict resolved",
			zap.String("conflict_id", conflict.ID),
			zap.String("resolution", string(resolution)),
		)
		return nil
	},
}

func init() {
	conflictsListCmd.Flags().StringVar(&conflictsConnection, "connection", "", "filter by connection id")
	conflictsListCmd.Flags().IntVar(&conflictsLimit, "limit", 50, "max conflicts to list")
	conflictsListCmd.Flags().BoolVar(&conflictsShowData, "json", false, "emit full conflict records as JSON")

	conflictsResolveCmd.Flags().StringVar(&conflictsUse, "use", "", "winning side: internal or crm (required)")
	_ = conflictsResolveCmd.MarkFlagRequired("use")

	conflictsCmd.AddCommand(conflictsListCmd, conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
