// Package report turns a list of subscriptions into report rows.
//
// The Aggregator drives every subscription through the same pipeline: fetch a
// token, query the year-to-date cost, project the year end. A failure at any
// step, including a panic, records a row carrying a marker string instead of
// amounts, so the report always has exactly one row per subscription.
package report
