// File: cmd/cost.go
package cmd

import (
	"github.com/spf13/cobra"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Report spend against the configured budgets",
}

var costSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the current cost ledger snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return printJSON(a.costs.Summary())
	},
}

var forecastDays int

var costForecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Project spend forward from the trailing 7-day average",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		forecast, err := a.costs.GetCostForecast(ctx, forecastDays)
		if err != nil {
			return err
		}
		return printJSON(forecast)
	},
}

func init() {
	costForecastCmd.Flags().IntVar(&forecastDays, "days", 30, "days to project ahead")
	costCmd.AddCommand(costSummaryCmd, costForecastCmd)
	rootCmd.AddCommand(costCmd)
}
