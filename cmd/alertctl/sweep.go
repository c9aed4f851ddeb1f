package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-alerts/pkg/notify"
	"github.com/shubham-shewale/market-alerts/pkg/sweeper"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one trigger sweep and one expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			notifier, closeNotifier := notify.Build(e.cfg, e.logger)
			defer func() {
				if err := closeNotifier(); err != nil {
					e.logger.Warn("Failed to close notifier", zap.Error(err))
				}
			}()

			// Expire first so the trigger pass sees the same picture the service would.
			expired, err := sweeper.NewExpirySweeper(e.alerts, e.logger, time.Now,
				sweeper.WithExpiryStoreTimeout(e.cfg.Sweeper.StoreTimeout)).Sweep(cmd.Context())
			if err != nil {
				return err
			}

			trigger := sweeper.NewTriggerSweeper(e.alerts, e.snapshots, notifier, e.logger,
				sweeper.WithSnapshotTimeout(e.cfg.Sweeper.SnapshotTimeout),
				sweeper.WithStoreTimeout(e.cfg.Sweeper.StoreTimeout),
				sweeper.WithNotifyTimeout(e.cfg.Sweeper.NotifyTimeout),
			)
			res, err := trigger.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d evaluated=%d triggered=%d already_handled=%d skipped=%d malformed=%d\n",
				expired, res.Evaluated, res.Triggered, res.AlreadyHandled, res.Skipped, res.Malformed)
			return nil
		},
	}
}
