package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/pipeline"
	"github.com/sells-group/provenance-cli/internal/report"
)

var (
	assessFormat      string
	assessOutput      string
	assessInput       string
	assessConcurrency int
)

var assessCmd = &cobra.Command{
	Use:   "assess [product-id...]",
	Short: "Score authenticity confidence for one or more products",
	Long:  "Reads each product's ledger history, merges it into a timeline, scores it and prints the risk recommendation.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("assess"); err != nil {
			return err
		}
		if !report.ValidFormat(assessFormat) {
			return eris.Errorf("assess: unknown format %q (table, json, csv, xlsx)", assessFormat)
		}
		if assessFormat == report.FormatXLSX && assessOutput == "" {
			return eris.New("assess: --output is required for xlsx")
		}

		ids, err := collectProductIDs(args, assessInput)
		if err != nil {
			return err
		}

		env, err := initAssessor(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		items := env.Assessor.AssessBatch(ctx, ids, assessConcurrency)
		if err := writeAssessments(os.Stdout, assessFormat, assessOutput, items); err != nil {
			return err
		}
		return batchError(items)
	},
}

func init() {
	assessCmd.Flags().StringVar(&assessFormat, "format", report.FormatTable, "output format: table, json, csv or xlsx")
	assessCmd.Flags().StringVarP(&assessOutput, "output", "o", "", "write to this file instead of stdout")
	assessCmd.Flags().StringVar(&assessInput, "input", "", "read product ids from a .txt, .csv or .xlsx file")
	assessCmd.Flags().IntVar(&assessConcurrency, "concurrency", 4, "products assessed in parallel")
	rootCmd.AddCommand(assessCmd)
}

// collectProductIDs merges positional ids with ids read from input.
func collectProductIDs(args []string, input string) ([]string, error) {
	ids := append([]string(nil), args...)
	if input != "" {
		more, err := report.ReadProductIDs(input)
		if err != nil {
			return nil, err
		}
		ids = append(ids, more...)
	}
	if len(ids) == 0 {
		return nil, eris.New("assess: no product ids given")
	}
	return ids, nil
}

// writeAssessments renders items to output, or to stdout when output is
// empty.
func writeAssessments(stdout io.Writer, format, output string, items []pipeline.BatchItem) error {
	if format == report.FormatXLSX {
		return report.WriteXLSX(output, items)
	}
	if output == "" {
		return report.Write(stdout, format, items)
	}

	f, err := os.Create(output)
	if err != nil {
		return eris.Wrapf(err, "assess: create %s", output)
	}
	if err := report.Write(f, format, items); err != nil {
		_ = f.Close()
		return err
	}
	zap.L().Info("assessments written", zap.String("path", output), zap.Int("products", len(items)))
	return eris.Wrap(f.Close(), "assess: close output")
}

// batchError reports how many products could not be assessed at all.
// Incomplete timelines are not counted; they carry a critical assessment.
func batchError(items []pipeline.BatchItem) error {
	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return eris.Errorf("assess: %d of %d product(s) could not be assessed", failed, len(items))
}
