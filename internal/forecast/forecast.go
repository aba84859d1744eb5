// Package forecast projects year-end spend from a year-to-date total.
//
// The projection is a flat run rate: every remaining month is assumed to cost
// the average of the elapsed months. There is no seasonality, no clamping of
// negative totals (credits and refunds pass through) and no rounding.
package forecast

import "github.com/shopspring/decimal"

// MonthsInYear is the default horizon of a projection
const MonthsInYear = 12

// Result is a projected total, or the insufficient-data sentinel when OK is false
type Result struct {
	Value decimal.Decimal
	OK    bool
}

// Insufficient is returned when a projection cannot be made
var Insufficient = Result{}

// Project extrapolates ytd over a twelve month year
func Project(ytd decimal.NullDecimal, monthsElapsed int) Result {
	return RunRate(ytd, monthsElapsed, MonthsInYear)
}

// RunRate computes ytd + (ytd / monthsElapsed) * (monthsInYear - monthsElapsed),
// evaluated as ytd * monthsInYear / monthsElapsed so the only rounding is the
// final division. It requires monthsElapsed > 0 and a valid ytd, and never panics.
func RunRate(ytd decimal.NullDecimal, monthsElapsed, monthsInYear int) Result {
	if monthsElapsed <= 0 || !ytd.Valid {
		return Insufficient
	}

	elapsed := decimal.NewFromInt(int64(monthsElapsed))
	horizon := decimal.NewFromInt(int64(monthsInYear))

	return Result{
		Value: ytd.Decimal.Mul(horizon).Div(elapsed),
		OK:    true,
	}
}
