package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provenance-cli/internal/db"
	"github.com/sells-group/provenance-cli/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Maintain the Postgres ledger mirror",
}

var ledgerMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the ledger schema in ledger.database_url",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		src, closeFn, err := openLedgerMirror(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := src.Migrate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Ledger schema is up to date.")
		return nil
	},
}

var ledgerImportCmd = &cobra.Command{
	Use:   "import <fixture.yaml>",
	Short: "Load a YAML ledger fixture into the Postgres mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fx, err := ledger.LoadFixture(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		src, closeFn, err := openLedgerMirror(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := src.Migrate(ctx); err != nil {
			return err
		}
		stats, err := src.Import(ctx, fx.Fixture())
		if err != nil {
			return err
		}
		formatImportStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerMigrateCmd)
	ledgerCmd.AddCommand(ledgerImportCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func openLedgerMirror(ctx context.Context) (*ledger.PostgresSource, func(), error) {
	if cfg.Ledger.DatabaseURL == "" {
		return nil, nil, eris.New("ledger: ledger.database_url is required")
	}
	pool, err := db.Connect(ctx, cfg.Ledger.DatabaseURL, nil)
	if err != nil {
		return nil, nil, err
	}
	return ledger.NewPostgresSource(pool), pool.Close, nil
}

// formatImportStats writes per-table row counts in table name order.
func formatImportStats(out io.Writer, stats ledger.ImportStats) {
	tables := make([]string, 0, len(stats))
	for t := range stats {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tROWS")
	for _, t := range tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", t, stats[t])
	}
	_ = w.Flush()
}
