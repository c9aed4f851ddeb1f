package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shubham-shewale/market-alerts/pkg/models"
)

func watchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Manage a user's watchlist",
	}

	var user string
	cmd.PersistentFlags().StringVar(&user, "user", "", "User id")
	_ = cmd.MarkPersistentFlagRequired("user")

	addCmd := &cobra.Command{
		Use:   "add <symbol>...",
		Short: "Follow symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			for _, s := range args {
				entry := models.WatchlistEntry{UserID: user, Symbol: models.NormalizeSymbol(s)}
				added, err := e.watchlist.Add(cmd.Context(), entry)
				if err != nil {
					return err
				}
				if !added {
					fmt.Fprintf(cmd.OutOrStdout(), "%s already on watchlist\n", entry.Symbol)
				}
			}
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <symbol>...",
		Short: "Stop following symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			for _, s := range args {
				entry := models.WatchlistEntry{UserID: user, Symbol: models.NormalizeSymbol(s)}
				removed, err := e.watchlist.Remove(cmd.Context(), entry)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s not on watchlist\n", entry.Symbol)
				}
			}
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show followed symbols with their latest price",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.watchlist.List(cmd.Context(), user)
			if err != nil {
				return err
			}
			symbols := make([]string, 0, len(entries))
			for _, en := range entries {
				symbols = append(symbols, en.Symbol)
			}
			quotes, err := e.snapshots.Quotes(cmd.Context(), symbols)
			if err != nil {
				return err
			}
			bySymbol := make(map[string]models.Quote, len(quotes))
			for _, q := range quotes {
				bySymbol[q.Symbol] = q
			}

			for _, s := range symbols {
				q, ok := bySymbol[s]
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%-6s %10s\n", s, "-")
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-6s %10s\n", s, q.Current.Price.StringFixed(2))
			}
			return nil
		},
	}

	cmd.AddCommand(addCmd, removeCmd, listCmd)
	return cmd
}
