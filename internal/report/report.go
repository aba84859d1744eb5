package report

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/zgpcy/azure-cost-report/internal/provider"
)

// Cell markers rendered instead of amounts
const (
	MarkerUnresolved     = "N/A"
	MarkerAuthContext    = "Auth Context Error"
	MarkerTokenFetch     = "Auth Error"
	MarkerTokenParse     = "Token Parse Error"
	MarkerUnexpectedAuth = "Unexpected Auth Error"
	MarkerNetwork        = "API Error"
	MarkerResponseParse  = "Parse Error"
	MarkerUnexpected     = "Unexpected Error"
	MarkerNoData         = "No Data"
	MarkerInsufficient   = "Insufficient Data"
)

// Value is a report cell: either an amount or a marker
type Value struct {
	Amount decimal.Decimal
	Marker string
}

// AmountValue wraps a monetary amount
func AmountValue(d decimal.Decimal) Value {
	return Value{Amount: d}
}

// MarkerValue wraps a marker string
func MarkerValue(marker string) Value {
	return Value{Marker: marker}
}

// IsAmount reports whether the cell holds a number
func (v Value) IsAmount() bool {
	return v.Marker == ""
}

// String renders the cell for logs and plain-text output
func (v Value) String() string {
	if v.IsAmount() {
		return v.Amount.StringFixed(2)
	}
	return v.Marker
}

// Row is one subscription's line in the report
type Row struct {
	SubscriptionName string
	SubscriptionID   string
	YTD              Value
	Forecast         Value
	// Err is the failure that produced the markers, nil for successful rows
	// and for rows without data.
	Err *provider.Error
}

// Report is the result of one run
type Report struct {
	Period      Period
	GeneratedAt time.Time
	Rows        []Row
	// ListingErr is set when subscriptions could not be enumerated
	ListingErr error
}

// Summary counts rows by outcome
type Summary struct {
	Total  int
	Costed int
	NoData int
	Failed int
	ByKind map[provider.ErrorKind]int
}

// Summarize tallies the rows of the report
func (r *Report) Summarize() Summary {
	failed := lo.Filter(r.Rows, func(row Row, _ int) bool { return row.Err != nil })
	return Summary{
		Total:  len(r.Rows),
		Costed: lo.CountBy(r.Rows, func(row Row) bool { return row.YTD.IsAmount() }),
		NoData: lo.CountBy(r.Rows, func(row Row) bool { return row.YTD.Marker == MarkerNoData }),
		Failed: len(failed),
		ByKind: lo.CountValuesBy(failed, func(row Row) provider.ErrorKind { return row.Err.Kind }),
	}
}

// MarkerFor maps a tagged failure to the marker shown in its row
func MarkerFor(err *provider.Error) string {
	if err == nil {
		return MarkerUnresolved
	}
	switch err.Kind {
	case provider.KindAuthContext:
		return MarkerAuthContext
	case provider.KindTokenFetch:
		return MarkerTokenFetch
	case provider.KindTokenParse:
		return MarkerTokenParse
	case provider.KindHTTPStatus:
		return fmt.Sprintf("HTTP Error %d", err.StatusCode)
	case provider.KindNetwork:
		return MarkerNetwork
	case provider.KindResponseParse:
		return MarkerResponseParse
	case provider.KindRateLimited, provider.KindCanceled:
		return MarkerUnresolved
	case provider.KindUnexpected:
		if err.Stage == provider.StageAuth {
			return MarkerUnexpectedAuth
		}
		return MarkerUnexpected
	default:
		return MarkerUnresolved
	}
}
