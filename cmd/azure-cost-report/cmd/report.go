package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-cost-report/internal/collector"
	"github.com/zgpcy/azure-cost-report/internal/sink"
)

var (
	outputDir    string
	throughMonth int
	metricsFile  string
)

// reportCmd runs the report once and writes the workbook
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the cost workbook once",
	Long: `Enumerate subscriptions, query year-to-date costs, project the year end
and save <output-dir>/<prefix>_YYYYMMDD_HHMMSS.xlsx.

Subscriptions that fail keep their row with a marker such as "Auth Error"
or "HTTP Error 403" instead of amounts.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for the workbook (overrides output.directory)")
	reportCmd.Flags().IntVarP(&throughMonth, "through-month", "m", 0, "last month (1-12) of the YTD window, 0 for the last completed month")
	reportCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "also write run metrics to this Prometheus textfile")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("output-dir") {
		cfg.Output.Directory = outputDir
	}
	if cmd.Flags().Changed("through-month") {
		if throughMonth < 0 || throughMonth > 12 {
			return fmt.Errorf("--through-month must be between 0 and 12, got %d", throughMonth)
		}
		cfg.Period.ThroughMonth = throughMonth
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coll := collector.NewReportCollector(newRunner(cfg, log), cfg, log)
	rep := coll.Refresh(ctx)

	path, err := sink.NewXLSXSink(cfg, log).Save(rep)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report saved to: %s\n", path)

	if metricsFile != "" {
		if err := coll.WriteTextfile(metricsFile); err != nil {
			log.Error("Failed to write metrics file", "path", metricsFile, "error", err)
		} else {
			log.Info("Metrics file written", "path", metricsFile)
		}
	}
	return nil
}
