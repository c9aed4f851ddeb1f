package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shubham-shewale/market-alerts/pkg/condition"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

// buildAlert validates the inputs and returns a new active alert. A zero
// expiresIn means the alert never expires.
func buildAlert(owner, symbol, cond string, expiresIn time.Duration, now time.Time) (models.Alert, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return models.Alert{}, fmt.Errorf("owner is required")
	}
	if models.NormalizeSymbol(symbol) == "" {
		return models.Alert{}, fmt.Errorf("symbol is required")
	}
	if _, err := condition.Parse(cond); err != nil {
		return models.Alert{}, err
	}
	if expiresIn < 0 {
		return models.Alert{}, fmt.Errorf("expires-in must not be negative")
	}

	var expiresAt *time.Time
	if expiresIn > 0 {
		t := now.Add(expiresIn)
		expiresAt = &t
	}
	return models.NewAlert(owner, symbol, strings.TrimSpace(cond), now, expiresAt), nil
}

func createCmd() *cobra.Command {
	var (
		owner     string
		symbol    string
		cond      string
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a price alert",
		Example: `  alertctl create --owner u1 --symbol AAPL --condition "price > 150"
  alertctl create --owner u1 --symbol TSLA --condition "price<=200" --expires-in 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildAlert(owner, symbol, cond, expiresIn, time.Now())
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.alerts.Insert(cmd.Context(), a); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner (user) id")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Ticker symbol")
	cmd.Flags().StringVarP(&cond, "condition", "c", "", `Condition, e.g. "price > 150"`)
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expire the alert after this long (0 = never)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("condition")

	return cmd
}

func listCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts of an owner, or all active alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			var alerts []models.Alert
			if owner != "" {
				alerts, err = e.alerts.ListByOwner(cmd.Context(), owner)
			} else {
				alerts, err = e.alerts.ListActive(cmd.Context())
			}
			if err != nil {
				return err
			}
			printAlerts(cmd.OutOrStdout(), alerts)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner (user) id; empty lists every active alert")
	return cmd
}

func printAlerts(w io.Writer, alerts []models.Alert) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNER\tSYMBOL\tCONDITION\tSTATUS\tEXPIRES")
	for _, a := range alerts {
		expires := "-"
		if a.ExpiresAt != nil {
			expires = a.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.OwnerID, a.Symbol, a.Condition, a.Status, expires)
	}
	tw.Flush()
}

// importFile is the YAML layout accepted by "alertctl import".
type importFile struct {
	Alerts []importEntry `yaml:"alerts"`
}

type importEntry struct {
	Owner     string `yaml:"owner"`
	Symbol    string `yaml:"symbol"`
	Condition string `yaml:"condition"`
	ExpiresIn string `yaml:"expires_in"`
}

// parseImport decodes and validates every entry; nothing is returned unless all are valid.
func parseImport(r io.Reader, now time.Time) ([]models.Alert, error) {
	var f importFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(f.Alerts) == 0 {
		return nil, fmt.Errorf("no alerts in file")
	}

	out := make([]models.Alert, 0, len(f.Alerts))
	for i, entry := range f.Alerts {
		var expiresIn time.Duration
		if entry.ExpiresIn != "" {
			d, err := time.ParseDuration(entry.ExpiresIn)
			if err != nil {
				return nil, fmt.Errorf("alert %d: expires_in: %w", i+1, err)
			}
			expiresIn = d
		}
		a, err := buildAlert(entry.Owner, entry.Symbol, entry.Condition, expiresIn, now)
		if err != nil {
			return nil, fmt.Errorf("alert %d: %w", i+1, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func importCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk-create alerts from a YAML file",
		Example: `  alertctl import -f alerts.yaml

alerts.yaml:
  alerts:
    - owner: u1
      symbol: AAPL
      condition: "price > 150"
      expires_in: 24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(file)
			if err != nil {
				return err
			}
			defer fh.Close()

			alerts, err := parseImport(fh, time.Now())
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			for _, a := range alerts {
				if err := e.alerts.Insert(cmd.Context(), a); err != nil {
					return fmt.Errorf("insert %s %q: %w", a.Symbol, a.Condition, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d alerts\n", len(alerts))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
