package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/ingest"
)

var (
	importPath  string
	importSheet string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import prospect seed records from an xlsx workbook or CSV",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var (
			header []string
			rows   [][]string
			err    error
		)
		switch strings.ToLower(filepath.Ext(importPath)) {
		case ".xlsx":
			header, rows, err = ingest.ReadWorkbook(importPath, ingest.WorkbookOptions{SheetName: importSheet})
		case ".csv":
			f, openErr := os.Open(importPath)
			if openErr != nil {
				return eris.Wrap(openErr, "open csv")
			}
			defer f.Close() //nolint:errcheck
			header, rows, err = ingest.ReadCSV(f)
		default:
			return eris.Errorf("unsupported file type %q (xlsx or csv)", filepath.Ext(importPath))
		}
		if err != nil {
			return err
		}

		records, skipped, err := ingest.RecordsFromRows(cfg.Tenant.ID, header, rows)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		written, err := env.store.BulkUpsertRecords(ctx, records)
		if err != nil {
			return eris.Wrap(err, "bulk upsert records")
		}

		zap.L().Info("import complete",
			zap.String("file", importPath),
			zap.Int64("written", written),
			zap.Int("skipped", skipped),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "file", "", "path to .xlsx or .csv file (required)")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "xlsx sheet name (default: first sheet)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
