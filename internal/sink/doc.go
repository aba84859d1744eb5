// Package sink renders a report as an Excel workbook.
//
// The workbook has a single sheet with a styled header row, one row per
// subscription, currency formatting for amounts, centred markers and column
// widths fitted to their contents.
package sink
