package metrics

import (
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// MonthlyReturn is the change in month-end equity against the previous
// month-end, in percent.
type MonthlyReturn struct {
	Year   int        `json:"year"`
	Month  time.Month `json:"month"`
	Return float64    `json:"return_pct"`
}

// MonthlyReturns takes the last equity sample of each calendar month (UTC)
// and reports the change from one month to the next. The first month has no
// predecessor and is omitted.
func MonthlyReturns(curve []domain.EquityPoint) []MonthlyReturn {
	type monthEnd struct {
		year   int
		month  time.Month
		equity float64
	}
	var ends []monthEnd
	for _, pt := range curve {
		ts := pt.Timestamp.UTC()
		y, m := ts.Year(), ts.Month()
		if n := len(ends); n > 0 && ends[n-1].year == y && ends[n-1].month == m {
			ends[n-1].equity = pt.TotalEquity
			continue
		}
		ends = append(ends, monthEnd{year: y, month: m, equity: pt.TotalEquity})
	}

	var out []MonthlyReturn
	for i := 1; i < len(ends); i++ {
		prev := ends[i-1].equity
		if prev == 0 {
			continue
		}
		out = append(out, MonthlyReturn{
			Year:   ends[i].year,
			Month:  ends[i].month,
			Return: (ends[i].equity - prev) / prev * 100,
		})
	}
	return out
}
