package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage provider and CRM connections",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections for the tenant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		conns, err := env.store.ListConnections(ctx, cfg.Tenant.ID, false)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tPRIORITY\tACTIVE\tPOLICY\tLAST SYNC")
		for _, c := range conns {
			lastSync := "-"
			if c.LastSyncAt != nil {
				lastSync = c.LastSyncAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\t%s\n",
				c.ID, c.Provider, c.Priority, c.Active, c.ConflictPolicy, lastSync)
		}
		return w.Flush()
	},
}

var (
	connProvider string
	connAPIKey   string
	connToken    string
	connBaseURL  string
	connPriority int
	connPolicy   string
)

var connectionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a connection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		known := false
		for _, p := range env.registry.Providers() {
			if p == connProvider {
				known = true
				break
			}
		}
		if !known {
			return eris.Errorf("unknown provider %q (known: %v)", connProvider, env.registry.Providers())
		}

		conn, err := env.store.CreateConnection(ctx, model.Connection{
			TenantID:       cfg.Tenant.ID,
			Provider:       connProvider,
			APIKey:         connAPIKey,
			AccessToken:    connToken,
			BaseURL:        connBaseURL,
			Priority:       connPriority,
			Active:         true,
			ConflictPolicy: model.ConflictPolicy(connPolicy),
		})
		if err != nil {
			return err
		}

		zap.L().Info("connection created",
			zap.String("id", conn.ID),
			zap.String("provider", conn.Provider),
		)
		return nil
	},
}

var connectionsDisableCmd = &cobra.Command{
	Use:   "disable <connection-id>",
	Short: "Deactivate a connection without deleting its mappings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		conn, err := getConnection(ctx, env.store, args[0])
		if err != nil {
			return err
		}
		conn.Active = false
		if err := env.store.UpdateConnection(ctx, *conn); err != nil {
			return err
		}

		zap.L().Info("connection disabled", zap.String("id", conn.ID))
		return nil
	},
}

var connectionsTestCmd = &cobra.Command{
	Use:   "test <connection-id>",
	Short: "Verify a connection's credentials against the provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		conn, err := getConnection(ctx, env.store, args[0])
		if err != nil {
			return err
		}
		crm, err := crmConnector(*conn)
		if err != nil {
			return err
		}
		if err := crm.TestConnection(ctx); err != nil {
			return eris.Wrapf(err, "connection %s failed", conn.ID)
		}

		zap.L().Info("connection ok",
			zap.String("id", conn.ID),
			zap.String("provider", conn.Provider),
		)
		return nil
	},
}

func init() {
	connectionsAddCmd.Flags().StringVar(&connProvider, "provider", "", "provider key (required)")
	connectionsAddCmd.Flags().StringVar(&connAPIKey, "api-key", "", "provider API key")
	connectionsAddCmd.Flags().StringVar(&connToken, "access-token", "", "OAuth access token")
	connectionsAddCmd.Flags().StringVar(&connBaseURL, "base-url", "", "provider base URL override")
	connectionsAddCmd.Flags().IntVar(&connPriority, "priority", 0, "waterfall priority (0 = registration order)")
	connectionsAddCmd.Flags().StringVar(&connPolicy, "conflict-policy", "manual", "use_internal, use_crm, or manual")
	_ = connectionsAddCmd.MarkFlagRequired("provider")

	connectionsCmd.AddCommand(connectionsListCmd, connectionsAddCmd, connectionsDisableCmd, connectionsTestCmd)
	rootCmd.AddCommand(connectionsCmd)
}
