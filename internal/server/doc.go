// Package server provides the HTTP surface of serve mode.
//
// Available endpoints:
//   - /            : status page with the cached report
//   - /report.xlsx : the cached report as a workbook download
//   - /metrics     : Prometheus metrics
//   - /health      : liveness probe (always returns 200)
//   - /ready       : readiness probe (200 once a run has listed subscriptions)
//
// Timeouts: 15 seconds to read a request, 60 seconds to write a response and
// 60 seconds of idle keep-alive.
package server
