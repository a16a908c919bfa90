package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/monitoring"
	"github.com/sells-group/provenance-cli/internal/server"
)

var (
	servePort          int
	serveSweepInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the assessment and request API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		aenv, err := initAssessor(ctx, cfg)
		if err != nil {
			return err
		}
		defer aenv.Close()

		renv, err := initOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer renv.Close()

		if serveSweepInterval > 0 {
			go runSweeper(ctx, serveSweepInterval, renv.Orchestrator.SweepExpired)
		}

		collector := monitoring.NewCollector(renv.Store)
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := server.New(cfg.Server, aenv.Assessor, renv.Orchestrator,
			server.WithMetrics(collector, cfg.Monitoring.LookbackWindowHours))
		return srv.ListenAndServe(ctx, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveSweepInterval, "sweep-interval", time.Minute, "how often to expire timed-out requests (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

// resolvePort prefers the flag value over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// runSweeper calls sweep every interval until ctx is done.
func runSweeper(ctx context.Context, interval time.Duration, sweep func(context.Context) ([]string, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := sweep(ctx)
			if err != nil {
				zap.L().Warn("sweep failed", zap.Error(err))
				continue
			}
			if len(ids) > 0 {
				zap.L().Info("expired requests", zap.Int("count", len(ids)), zap.Strings("request_ids", ids))
			}
		}
	}
}
