// Package collector exposes the latest cost report as Prometheus metrics.
//
// ReportCollector runs the report in the background at the configured refresh
// interval, caches the result and serves it on scrape. It implements the
// prometheus.Collector interface and guards the cached report with an RWMutex.
//
// The collector exposes the following metrics:
//   - azure_cost_ytd: year-to-date pre-tax spend per subscription
//   - azure_cost_forecast_year_end: run-rate projection of year-end spend per subscription
//   - azure_cost_subscription_status: outcome of the last lookup per subscription
//   - up: 1 when the last run listed subscriptions and none of them failed
//   - azure_cost_report_run_duration_seconds: duration of the last run
//   - azure_cost_report_errors_total: failed lookups by error kind
//   - azure_cost_report_last_run_timestamp_seconds: start of the last run
//   - azure_cost_report_rows: number of rows in the cached report
//   - azure_cost_report_build_info: build version information
//
// Subscriptions whose cells hold markers instead of amounts only appear in
// azure_cost_subscription_status.
//
// Example usage:
//
//	agg := report.NewAggregator(lister, creds, costs, cfg.Period.ThroughMonth, log)
//	c := collector.NewReportCollector(agg, cfg, log)
//	prometheus.MustRegister(c)
//	c.StartBackgroundRefresh(ctx)
//
// For one-shot runs, Refresh followed by WriteTextfile produces a file for the
// node_exporter textfile collector.
package collector
