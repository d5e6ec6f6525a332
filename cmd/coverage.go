package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-sync/internal/ci"
)

var (
	coverageThreshold float64
	coverageMarkdown  bool
	coverageBadge     bool
)

// coverageCmd backs the CI coverage gate: summarizes a profile per package
// and exits nonzero when the total falls below --threshold.
var coverageCmd = &cobra.Command{
	Use:   "coverage <profile>",
	Short: "Summarize a Go coverage profile per package",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck

		profile, err := ci.ParseProfile(f)
		if err != nil {
			return err
		}
		report := profile.Summarize("github.com/sells-group/prospect-sync")

		switch {
		case coverageBadge:
			fmt.Println(ci.FormatBadgeJSON(report))
		case coverageMarkdown:
			fmt.Print(ci.FormatMarkdown(report))
		default:
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tSTATEMENTS\tCOVERED\tPERCENT")
			for _, p := range report.Packages {
				fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\n", p.Package, p.Statements, p.Covered, p.Percent)
			}
			fmt.Fprintf(w, "total\t%d\t%d\t%.1f%%\n",
				report.Total.Statements, report.Total.Covered, report.Total.Percent)
			if err := w.Flush(); err != nil {
				return err
			}
		}

		if coverageThreshold > 0 {
			return ci.CheckThreshold(report, coverageThreshold)
		}
		return nil
	},
}

func init() {
	coverageCmd.Flags().Float64Var(&coverageThreshold, "threshold", 0, "fail when total coverage is below this percent")
	coverageCmd.Flags().BoolVar(&coverageMarkdown, "markdown", false, "emit a markdown table")
	coverageCmd.Flags().BoolVar(&coverageBadge, "badge", false, "emit shields.io badge JSON")
	rootCmd.AddCommand(coverageCmd)
}
