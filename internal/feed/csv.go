package feed

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

var csvColumns = []string{"timestamp", "open", "high", "low", "close", "volume", "funding_rate", "mark_price"}

// ParseCSV reads bars for symbol from r. The header row names the columns;
// timestamp and close are required, funding_rate and mark_price are optional.
// Timestamps are RFC 3339 strings or Unix epoch milliseconds.
func ParseCSV(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("feed: csv %s: read header: %w", symbol, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"timestamp", "close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("feed: csv %s: missing %q column", symbol, required)
		}
	}

	var bars []domain.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("feed: csv %s: line %d: %w", symbol, line, err)
		}
		bar, err := parseRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("feed: csv %s: line %d: %w", symbol, line, err)
		}
		bar.Symbol = symbol
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseRow(rec []string, col map[string]int) (domain.Bar, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(name string) (float64, error) {
		s := field(name)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", name, s, err)
		}
		return v, nil
	}

	ts, err := parseTimestamp(field("timestamp"))
	if err != nil {
		return domain.Bar{}, err
	}
	bar := domain.Bar{Time: ts}
	for _, c := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
		{"mark_price", &bar.MarkPrice},
	} {
		if *c.dst, err = num(c.name); err != nil {
			return domain.Bar{}, err
		}
	}
	if bar.Close <= 0 {
		return domain.Bar{}, fmt.Errorf("close must be positive, got %g", bar.Close)
	}
	if s := field("funding_rate"); s != "" {
		rate, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("funding_rate %q: %w", s, err)
		}
		bar.FundingRate = &rate
	}
	return bar, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", time.DateOnly} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognised format", s)
}

// EncodeCSV writes bars with the full column set.
func EncodeCSV(bars []domain.Bar) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvColumns); err != nil {
		return nil, err
	}
	for _, b := range bars {
		rate := ""
		if b.FundingRate != nil {
			rate = strconv.FormatFloat(*b.FundingRate, 'f', -1, 64)
		}
		mark := ""
		if b.MarkPrice > 0 {
			mark = strconv.FormatFloat(b.MarkPrice, 'f', -1, 64)
		}
		row := []string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
			rate,
			mark,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
