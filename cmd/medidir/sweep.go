// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/medidir/medidir/internal/observability"
	"github.com/medidir/medidir/pkg/errutil"
)

// sweepResult counts the rows one sweep removed.
type sweepResult struct {
	Sessions int64
	Tokens   int64
}

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and tokens",
		Long: `Delete expired sessions and spent or expired single-use tokens once and
exit. The serve command runs the same sweep on session.sweep_interval.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, nil)
		},
	}
}

func runSweep(cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := deps.StorageOpener(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newServices(cfg, st, logger)
	if err != nil {
		return err
	}
	res, err := sweepOnce(ctx, svc, nil)
	if err != nil {
		return err
	}
	cmd.Printf("Removed %d expired sessions and %d tokens\n", res.Sessions, res.Tokens)
	return nil
}

// sweepOnce purges expired sessions and tokens. Both purges run even when
// the first fails; the first error is returned.
func sweepOnce(ctx context.Context, svc *services, metrics *observability.Metrics) (sweepResult, error) {
	var res sweepResult

	sessions, sessErr := svc.sessions.PurgeExpired(ctx)
	if sessErr == nil {
		res.Sessions = sessions
		metrics.RecordSessions(observability.EventPurged, int(sessions))
	}

	tokens, tokErr := svc.ledger.PurgeExpired(ctx)
	if tokErr == nil {
		res.Tokens = tokens
		metrics.RecordTokensPurged(int(tokens))
	}

	if sessErr != nil {
		return res, sessErr
	}
	return res, tokErr
}

// runSweeper calls sweepOnce every interval until ctx is done.
func runSweeper(ctx context.Context, interval time.Duration, svc *services, metrics *observability.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := sweepOnce(ctx, svc, metrics)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "sweep failed", err)
				continue
			}
			if res.Sessions > 0 || res.Tokens > 0 {
				logger.InfoContext(ctx, "sweep complete", "sessions", res.Sessions, "tokens", res.Tokens)
			}
		}
	}
}
