package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/internal/registry"
	"github.com/sells-group/prospect-sync/pkg/notion"
)

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage field mappings for a connection",
}

var (
	mappingsConnection string
	mappingsEntity     string
	mappingsFile       string
	mappingsStamp      bool
)

var mappingsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import field mappings from Notion or a JSON file",
	Long:  "Replaces the field mappings of one (connection, entity type) with the Active rows of the Notion mapping database, or with a local JSON file when --file is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		conn, err := getConnection(ctx, env.store, mappingsConnection)
		if err != nil {
			return err
		}
		et := model.EntityType(mappingsEntity)

		var mappings []model.FieldMapping
		if mappingsFile != "" {
			mappings, err = registry.LoadMappingsFromFile(mappingsFile)
			if err != nil {
				return err
			}
		} else {
			if cfg.Notion.Token == "" {
				return eris.New("notion token is required (PROSPECT_NOTION_TOKEN) unless --file is set")
			}
			if cfg.Notion.FieldDB == "" {
				return eris.New("notion field DB ID is required (PROSPECT_NOTION_FIELD_DB)")
			}

			client := notion.NewClient(cfg.Notion.Token)
			mappings, err = registry.LoadFieldMappings(ctx, client, cfg.Notion.FieldDB)
			if err != nil {
				return err
			}

			if mappingsStamp {
				now := time.Now().UTC()
				for _, m := range mappings {
					if err := registry.StampImported(ctx, client, m.ID, now); err != nil {
						zap.L().Warn("mappings: stamp failed",
							zap.String("page_id", m.ID),
							zap.Error(err),
						)
					}
				}
			}
		}

		// Keep only rows for the requested entity type; file rows without a
		// type are taken as-is.
		kept := mappings[:0]
		for _, m := range mappings {
			if m.EntityType == "" || m.EntityType == et {
				m.EntityType = et
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			return eris.Errorf("no mappings found for entity type %q", et)
		}

		if err := env.store.ReplaceFieldMappings(ctx, conn.ID, et, kept); err != nil {
			return err
		}

		zap.L().Info("mappings imported",
			zap.String("connection_id", conn.ID),
			zap.String("entity_type", string(et)),
			zap.Int("count", len(kept)),
		)
		return nil
	},
}

var mappingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the field mappings of a connection",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mappings, err := env.store.ListFieldMappings(ctx, mappingsConnection)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENTITY\tINTERNAL\tEXTERNAL\tTRANSFORM\tPOSITION")
		for _, m := range mappings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
				m.EntityType, m.InternalField, m.ExternalField, m.Transform, m.Position)
		}
		return w.Flush()
	},
}

func init() {
	mappingsImportCmd.Flags().StringVar(&mappingsConnection, "connection", "", "connection id (required)")
	mappingsImportCmd.Flags().StringVar(&mappingsEntity, "entity", "contact", "entity type the mappings apply to")
	mappingsImportCmd.Flags().StringVar(&mappingsFile, "file", "", "JSON mappings file instead of Notion")
	mappingsImportCmd.Flags().BoolVar(&mappingsStamp, "stamp", false, "write the import timestamp back to Notion")
	_ = mappingsImportCmd.MarkFlagRequired("connection")

	mappingsListCmd.Flags().StringVar(&mappingsConnection, "connection", "", "connection id (required)")
	_ = mappingsListCmd.MarkFlagRequired("connection")

	mappingsCmd.AddCommand(mappingsImportCmd, mappingsListCmd)
	rootCmd.AddCommand(mappingsCmd)
}
