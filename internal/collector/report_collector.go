package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zgpcy/azure-cost-report/internal/clock"
	"github.com/zgpcy/azure-cost-report/internal/config"
	"github.com/zgpcy/azure-cost-report/internal/logger"
	"github.com/zgpcy/azure-cost-report/internal/provider"
	"github.com/zgpcy/azure-cost-report/internal/report"
	"github.com/zgpcy/azure-cost-report/internal/version"
)

// Runner produces a cost report
type Runner interface {
	Run(ctx context.Context) *report.Report
}

// ReportCollector implements prometheus.Collector over the latest cost report
type ReportCollector struct {
	runner   Runner
	cfg      *config.Config
	logger   *logger.Logger
	clock    clock.Clock // Time provider for testing
	provider string

	// Metrics
	ytdMetric                *prometheus.Desc
	forecastMetric           *prometheus.Desc
	subscriptionStatusMetric *prometheus.Desc
	upMetric                 *prometheus.Desc
	runDurationMetric        *prometheus.Desc
	errorsTotal              *prometheus.CounterVec
	lastRunTimeMetric        *prometheus.Desc
	rowCountMetric           *prometheus.Desc
	buildInfo                *prometheus.GaugeVec

	// State
	mu              sync.RWMutex
	lastReport      *report.Report
	lastError       error
	lastRun         time.Time
	lastRunDuration time.Duration
	refreshStarted  atomic.Bool // Prevent multiple refresh goroutines
	isReady         bool
}

// NewReportCollector creates a new ReportCollector
func NewReportCollector(runner Runner, cfg *config.Config, log *logger.Logger) *ReportCollector {
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azure_cost_report_errors_total",
			Help: "Total number of failed subscription lookups and listing failures since startup",
		},
		[]string{"kind"},
	)

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "azure_cost_report_build_info",
			Help: "Build version information",
		},
		[]string{"version", "git_commit", "build_date", "go_version"},
	)

	versionInfo := version.Info()
	buildInfo.With(prometheus.Labels{
		"version":    versionInfo["version"],
		"git_commit": versionInfo["git_commit"],
		"build_date": versionInfo["build_date"],
		"go_version": versionInfo["go_version"],
	}).Set(1)

	subscriptionLabels := []string{"provider", "subscription_name", "subscription_id", "currency", "through"}

	return &ReportCollector{
		runner:   runner,
		cfg:      cfg,
		logger:   log,
		clock:    clock.RealClock{},
		provider: string(provider.ProviderAzure),
		ytdMetric: prometheus.NewDesc(
			"azure_cost_ytd",
			"Pre-tax spend from January 1 through the end of the reporting month",
			subscriptionLabels,
			nil,
		),
		forecastMetric: prometheus.NewDesc(
			"azure_cost_forecast_year_end",
			"Year-end spend projected from the average monthly year-to-date spend",
			subscriptionLabels,
			nil,
		),
		subscriptionStatusMetric: prometheus.NewDesc(
			"azure_cost_subscription_status",
			"Outcome of the last lookup per subscription (1 for the current status label)",
			[]string{"provider", "subscription_name", "subscription_id", "status"},
			nil,
		),
		upMetric: prometheus.NewDesc(
			"up",
			"Was the last report run successful for every subscription (1 = success, 0 = failure)",
			[]string{"provider"},
			nil,
		),
		runDurationMetric: prometheus.NewDesc(
			"azure_cost_report_run_duration_seconds",
			"Duration of the last report run in seconds",
			[]string{"provider"},
			nil,
		),
		errorsTotal: errorsTotal,
		lastRunTimeMetric: prometheus.NewDesc(
			"azure_cost_report_last_run_timestamp_seconds",
			"Unix timestamp of the last report run",
			[]string{"provider"},
			nil,
		),
		rowCountMetric: prometheus.NewDesc(
			"azure_cost_report_rows",
			"Number of subscription rows in the last report",
			[]string{"provider"},
			nil,
		),
		buildInfo: buildInfo,
	}
}

// WithClock replaces the time source, used by tests
func (c *ReportCollector) WithClock(clk clock.Clock) *ReportCollector {
	c.clock = clk
	return c
}

// Describe implements prometheus.Collector
func (c *ReportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ytdMetric
	ch <- c.forecastMetric
	ch <- c.subscriptionStatusMetric
	ch <- c.upMetric
	ch <- c.runDurationMetric
	c.errorsTotal.Describe(ch)
	ch <- c.lastRunTimeMetric
	ch <- c.rowCountMetric
	c.buildInfo.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *ReportCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows := 0
	if c.lastReport != nil {
		rows = len(c.lastReport.Rows)
		through := fmt.Sprintf("%d-%02d", c.lastReport.Period.Year, int(c.lastReport.Period.ThroughMonth))

		for _, row := range c.lastReport.Rows {
			if row.YTD.IsAmount() {
				ch <- prometheus.MustNewConstMetric(
					c.ytdMetric,
					prometheus.GaugeValue,
					row.YTD.Amount.InexactFloat64(),
					c.provider, row.SubscriptionName, row.SubscriptionID, c.cfg.Currency, through,
				)
			}
			if row.Forecast.IsAmount() {
				ch <- prometheus.MustNewConstMetric(
					c.forecastMetric,
					prometheus.GaugeValue,
					row.Forecast.Amount.InexactFloat64(),
					c.provider, row.SubscriptionName, row.SubscriptionID, c.cfg.Currency, through,
				)
			}
			ch <- prometheus.MustNewConstMetric(
				c.subscriptionStatusMetric,
				prometheus.GaugeValue,
				1,
				c.provider, row.SubscriptionName, row.SubscriptionID, rowStatus(row),
			)
		}
	}

	upValue := 0.0
	if c.lastError == nil && c.lastReport != nil && c.lastReport.Summarize().Failed == 0 {
		upValue = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.upMetric, prometheus.GaugeValue, upValue, c.provider)

	ch <- prometheus.MustNewConstMetric(
		c.runDurationMetric,
		prometheus.GaugeValue,
		c.lastRunDuration.Seconds(),
		c.provider,
	)

	c.errorsTotal.Collect(ch)

	if !c.lastRun.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			c.lastRunTimeMetric,
			prometheus.GaugeValue,
			float64(c.lastRun.Unix()),
			c.provider,
		)
	}

	ch <- prometheus.MustNewConstMetric(c.rowCountMetric, prometheus.GaugeValue, float64(rows), c.provider)

	c.buildInfo.Collect(ch)
}

// rowStatus is "ok", "no_data", "non_numeric" or the error kind
func rowStatus(row report.Row) string {
	switch {
	case row.Err != nil:
		return row.Err.Kind.String()
	case row.YTD.IsAmount():
		return "ok"
	case row.YTD.Marker == report.MarkerNoData:
		return "no_data"
	case row.YTD.Marker == report.MarkerUnresolved:
		return "unresolved"
	default:
		return "non_numeric"
	}
}

// StartBackgroundRefresh runs a report now and then every refresh interval
// until ctx is cancelled. Uses atomic flag to prevent multiple refresh goroutines.
func (c *ReportCollector) StartBackgroundRefresh(ctx context.Context) {
	if !c.refreshStarted.CompareAndSwap(false, true) {
		c.logger.Warn("Background refresh already started, skipping")
		return
	}

	// Initial run
	c.Refresh(ctx)

	ticker := time.NewTicker(time.Duration(c.cfg.RefreshInterval) * time.Second)
	go func() {
		defer ticker.Stop()
		defer c.refreshStarted.Store(false) // Reset on exit
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Stopping background refresh")
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}()
}

// Refresh runs the report and replaces the cached one. The report is
// returned even when the subscription listing failed.
func (c *ReportCollector) Refresh(ctx context.Context) *report.Report {
	c.logger.Info("Refreshing cost report", "provider", c.provider)
	start := c.clock.Now()

	rep := c.runner.Run(ctx)
	duration := c.clock.Now().Sub(start)
	summary := rep.Summarize()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRun = start
	c.lastRunDuration = duration
	c.lastError = rep.ListingErr
	c.lastReport = rep

	for kind, n := range summary.ByKind {
		c.errorsTotal.With(prometheus.Labels{"kind": kind.String()}).Add(float64(n))
	}

	if rep.ListingErr != nil {
		c.errorsTotal.With(prometheus.Labels{"kind": provider.KindListing.String()}).Inc()
		c.logger.Error("Failed to refresh cost report", "provider", c.provider, "error", rep.ListingErr)
		c.isReady = false
		return rep
	}

	c.isReady = true
	c.logger.Info("Successfully refreshed cost report",
		"provider", c.provider,
		"rows", summary.Total,
		"failed", summary.Failed,
		"duration_seconds", duration.Seconds())
	return rep
}

// IsReady returns true if the last run could list subscriptions
func (c *ReportCollector) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isReady
}

// LastReport returns the most recent report, nil before the first run
func (c *ReportCollector) LastReport() *report.Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastReport
}

// LastError returns the listing error of the last run
func (c *ReportCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// LastRunTime returns the start time of the last run
func (c *ReportCollector) LastRunTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRun
}

// RowCount returns the number of rows in the cached report
func (c *ReportCollector) RowCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastReport == nil {
		return 0
	}
	return len(c.lastReport.Rows)
}

// WriteTextfile writes the collector's metrics in the node_exporter textfile format
func (c *ReportCollector) WriteTextfile(path string) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
