package report

import (
	"fmt"
	"time"
)

// Period is the year-to-date window a report covers
type Period struct {
	Year         int
	ThroughMonth time.Month
	From         time.Time
	To           time.Time
}

// NewPeriod resolves the reporting window relative to now. throughMonth 0 means
// the last completed month; in January that is December of the previous year.
func NewPeriod(now time.Time, throughMonth int) Period {
	now = now.UTC()
	year := now.Year()
	month := time.Month(throughMonth)

	if throughMonth <= 0 {
		month = now.Month() - 1
		if month == 0 {
			month = time.December
			year--
		}
	}
	if month > time.December {
		month = time.December
	}

	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	// day 0 of the following month is the last day of month
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	to := time.Date(year, month, lastDay, 23, 59, 59, 0, time.UTC)

	return Period{
		Year:         year,
		ThroughMonth: month,
		From:         from,
		To:           to,
	}
}

// MonthsElapsed is the number of months the YTD total covers
func (p Period) MonthsElapsed() int {
	return int(p.ThroughMonth)
}

// YTDHeader is the column title of the year-to-date amounts
func (p Period) YTDHeader() string {
	return fmt.Sprintf("YTD Spend through %s/%d", p.ThroughMonth, p.Year)
}

// ForecastHeader is the column title of the year-end projection
func (p Period) ForecastHeader() string {
	return fmt.Sprintf("Forecast through December/%d", p.Year)
}
