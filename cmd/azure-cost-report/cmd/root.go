// Package cmd provides the CLI commands for azure-cost-report.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-cost-report/internal/azure"
	"github.com/zgpcy/azure-cost-report/internal/collector"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/report"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "azure-cost-report",
	Short: "Year-to-date Azure spend and year-end forecast per subscription",
	Long: `azure-cost-report queries the Azure Cost Management API for the pre-tax
spend of every subscription since January 1, projects the year-end total
from the average monthly spend, and writes the result to an Excel workbook.

Examples:
  azure-cost-report report
  azure-cost-report report --through-month 6 --output-dir ./reports
  azure-cost-report serve --config config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

// Run executes the CLI and returns the process exit code. Errors are printed
// to stderr.
func Run(stderr io.Writer) int {
	if err := Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (defaults and AZURE_COST_* variables apply without one)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and builds the logger it asks for
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.NewWithOptions(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	return cfg, log, nil
}

// newRunner builds what the report and serve commands run. Tests replace it.
var newRunner = func(cfg *config.Config, log *logger.Logger) collector.Runner {
	return newAggregator(cfg, log)
}

// newAggregator wires the Azure implementations into a report aggregator
func newAggregator(cfg *config.Config, log *logger.Logger) *report.Aggregator {
	runner := azure.ExecRunner{}
	return report.NewAggregator(
		azure.NewSubscriptionLister(cfg, runner),
		azure.NewCredentialProvider(cfg, runner, log),
		azure.NewCostClient(cfg, log),
		cfg.Period.ThroughMonth,
		log,
	)
}
