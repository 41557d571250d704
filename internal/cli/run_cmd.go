package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajy121650/mailer-back/internal/metrics"
	"github.com/ajy121650/mailer-back/internal/sync"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync every valid account on the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(resolvedConfigPath())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := a.seedAccounts(ctx); err != nil {
			return err
		}

		sched, err := a.scheduler()
		if err != nil {
			return err
		}

		if addr := a.cfg.Metrics.Addr; addr != "" {
			go func() {
				if err := metrics.Serve(addr, a.registry); err != nil {
					a.logger.Error("metrics endpoint stopped", zap.String("addr", addr), zap.Error(err))
				}
			}()
		}

		go logReports(ctx, a.logger, sched.Reports())

		a.logger.Info("scheduler started",
			zap.Duration("interval", a.cfg.Sync.Interval),
			zap.Int("max_concurrent", a.cfg.Sync.MaxConcurrent))

		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.logger.Info("scheduler stopped")
		return nil
	},
}

// logReports writes one line per account run until ctx is done.
func logReports(ctx context.Context, logger *zap.Logger, reports <-chan sync.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-reports:
			fields := []zap.Field{zap.String("account_id", r.AccountID)}
			if r.Result != nil {
				fields = append(fields,
					zap.Int("ingested", r.Result.Ingested),
					zap.Int("known", r.Result.Known),
					zap.Int("skipped", len(r.Result.Skipped)),
					zap.Int("errors", len(r.Result.Errors)),
					zap.Duration("duration", r.Result.Duration))
			}
			switch {
			case r.AuthFailed:
				logger.Warn("account credentials rejected", append(fields, zap.Error(r.Err))...)
			case r.Err != nil:
				logger.Error("account run failed", append(fields, zap.Error(r.Err))...)
			default:
				logger.Info("account run finished", fields...)
			}
		}
	}
}
