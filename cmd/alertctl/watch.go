package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shubham-shewale/market-alerts/pkg/feedclient"
	"github.com/shubham-shewale/market-alerts/pkg/models"
	"github.com/shubham-shewale/market-alerts/pkg/reconciler"
	"github.com/shubham-shewale/market-alerts/pkg/snapshot"
)

func watchCmd() *cobra.Command {
	var (
		symbols   []string
		gateway   string
		refresh   time.Duration
		reconnect time.Duration
	)

	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Stream live prices for symbols through the gateway",
		Example: `  alertctl watch --symbols AAPL,TSLA`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if refresh <= 0 {
				return fmt.Errorf("--refresh must be positive, got %s", refresh)
			}
			if reconnect <= 0 {
				return fmt.Errorf("--reconnect must be positive, got %s", reconnect)
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if gateway == "" {
				gateway = cfg.Gateway.URL
			}
			keys := make([]string, 0, len(symbols))
			for _, s := range symbols {
				if s = models.NormalizeSymbol(s); s != "" {
					keys = append(keys, s)
				}
			}
			if len(keys) == 0 {
				return fmt.Errorf("at least one symbol is required")
			}

			out := &syncWriter{w: cmd.OutOrStdout()}
			agg := snapshot.NewAggregator(cfg.Sweeper.StaleAfter)

			src := feedclient.NewTable[models.Quote](gateway, models.TablePrices, keys)
			r := reconciler.New[models.Quote](models.TablePrices, src, logger,
				reconciler.WithObserver[models.Quote](func(ev reconciler.Event[models.Quote]) {
					if ev.Type == reconciler.Delete {
						return
					}
					fmt.Fprintln(out, formatDelta(agg.AggregateQuote(ev.Entity)))
				}),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			go func() {
				ticker := time.NewTicker(refresh)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						fmt.Fprintf(out, "-- %s (%s) --\n", time.Now().Format(time.TimeOnly), r.State())
						for _, q := range r.Items() {
							fmt.Fprintln(out, formatDelta(agg.AggregateQuote(q)))
						}
					}
				}
			}()

			reconciler.Supervise(ctx, r, reconnect, logger)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&symbols, "symbols", "s", nil, "Symbols to watch, comma separated")
	cmd.Flags().StringVar(&gateway, "gateway", "", "Gateway base URL (default gateway.url)")
	cmd.Flags().DurationVar(&refresh, "refresh", 10*time.Second, "Print the full table this often")
	cmd.Flags().DurationVar(&reconnect, "reconnect", 5*time.Second, "Retry interval after losing the stream")
	_ = cmd.MarkFlagRequired("symbols")
	return cmd
}

// formatDelta renders one line such as "AAPL  151.00  +1.00 (+0.67%)" with a STALE badge.
func formatDelta(d snapshot.Delta) string {
	sign := ""
	if d.ChangeAbsolute.IsPositive() {
		sign = "+"
	}
	line := fmt.Sprintf("%-6s %10s  %s%s (%s%s%%)",
		d.Symbol, d.Price.StringFixed(2),
		sign, d.ChangeAbsolute.StringFixed(2),
		sign, d.ChangePercent.StringFixed(2))
	if d.IsStale {
		line += "  STALE"
	}
	return line
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
