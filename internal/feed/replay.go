// Package feed replays historical bars as engine snapshots and loads those
// bars from files, object storage or Postgres.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// FundingInterval is the perpetual funding cadence. Settlements fall on the
// UTC 00:00, 08:00 and 16:00 boundaries.
const FundingInterval = 8 * time.Hour

// FundingTolerance is how far before a settlement boundary a funding print
// may be stamped and still count for that settlement.
const FundingTolerance = 10 * time.Minute

// DefaultLookback is the number of trailing bars handed to decision sources.
const DefaultLookback = 300

type fundingPoint struct {
	at   time.Time
	rate float64
	mark float64
}

type series struct {
	bars    []domain.Bar
	byTime  map[int64]int
	funding []fundingPoint
}

// ReplayFeed serves snapshots from in-memory bars. Settlement detection keeps
// state, so a ReplayFeed belongs to one run and must be read in time order.
type ReplayFeed struct {
	symbols    []string
	series     map[string]*series
	timestamps []time.Time
	lookback   int
	logger     *slog.Logger

	lastBoundary time.Time
}

// Option configures a ReplayFeed.
type Option func(*ReplayFeed)

// WithLookback sets how many trailing bars a snapshot carries.
func WithLookback(n int) Option {
	return func(f *ReplayFeed) {
		if n > 0 {
			f.lookback = n
		}
	}
}

// WithLogger sets the feed logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *ReplayFeed) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewReplayFeed indexes bars by symbol. Bars are sorted by time and later
// duplicates of a timestamp replace earlier ones. Funding prints are taken
// from bars that carry a FundingRate.
func NewReplayFeed(bars map[string][]domain.Bar, opts ...Option) (*ReplayFeed, error) {
	f := &ReplayFeed{
		series:   make(map[string]*series, len(bars)),
		lookback: DefaultLookback,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("component", "feed"))

	seen := make(map[int64]time.Time)
	for sym, raw := range bars {
		if len(raw) == 0 {
			continue
		}
		s := buildSeries(raw)
		f.series[sym] = s
		f.symbols = append(f.symbols, sym)
		for _, b := range s.bars {
			seen[b.Time.UnixNano()] = b.Time
		}
	}
	if len(f.symbols) == 0 {
		return nil, fmt.Errorf("feed: no bars loaded: %w", domain.ErrInvalidConfig)
	}
	sort.Strings(f.symbols)

	f.timestamps = make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		f.timestamps = append(f.timestamps, ts)
	}
	sort.Slice(f.timestamps, func(i, j int) bool { return f.timestamps[i].Before(f.timestamps[j]) })

	f.logger.Info("feed: bars indexed",
		slog.Int("symbols", len(f.symbols)),
		slog.Int("timestamps", len(f.timestamps)),
	)
	return f, nil
}

func buildSeries(raw []domain.Bar) *series {
	sorted := append([]domain.Bar(nil), raw...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	s := &series{byTime: make(map[int64]int, len(sorted))}
	for _, b := range sorted {
		key := b.Time.UnixNano()
		if i, dup := s.byTime[key]; dup {
			s.bars[i] = b
			continue
		}
		s.byTime[key] = len(s.bars)
		s.bars = append(s.bars, b)
	}
	for _, b := range s.bars {
		if b.FundingRate == nil {
			continue
		}
		mark := b.MarkPrice
		if mark <= 0 {
			mark = b.Close
		}
		s.funding = append(s.funding, fundingPoint{at: b.Time, rate: *b.FundingRate, mark: mark})
	}
	return s
}

// Symbols returns the symbols with at least one bar, sorted.
func (f *ReplayFeed) Symbols() []string {
	return append([]string(nil), f.symbols...)
}

// Timestamps returns every step-th distinct bar time across all symbols.
func (f *ReplayFeed) Timestamps(step int) []time.Time {
	if step < 1 {
		step = 1
	}
	out := make([]time.Time, 0, len(f.timestamps)/step+1)
	for i := 0; i < len(f.timestamps); i += step {
		out = append(out, f.timestamps[i])
	}
	return out
}

// Snapshot returns closes at ts. A symbol without a bar at ts carries its
// latest earlier close; a symbol with no bar yet is left out. Funding is
// attached on the first snapshot at or after each settlement boundary, for
// symbols with a print stamped in that window.
func (f *ReplayFeed) Snapshot(ctx context.Context, ts time.Time) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{
		Timestamp: ts,
		Prices:    make(map[string]float64, len(f.symbols)),
		History:   make(map[string][]domain.Bar, len(f.symbols)),
	}

	for _, sym := range f.symbols {
		s := f.series[sym]
		end := s.indexAtOrBefore(ts)
		if end < 0 {
			continue
		}
		bar := s.bars[end]
		if bar.Close <= 0 {
			return domain.Snapshot{}, fmt.Errorf("feed: %s close %g at %s: %w", sym, bar.Close, bar.Time, domain.ErrDataError)
		}
		snap.Prices[sym] = bar.Close
		start := end + 1 - f.lookback
		if start < 0 {
			start = 0
		}
		snap.History[sym] = s.bars[start : end+1 : end+1]
	}
	if len(snap.Prices) == 0 {
		return domain.Snapshot{}, fmt.Errorf("feed: no prices at %s: %w", ts, domain.ErrDataError)
	}

	if f.settles(ts) {
		snap.Funding = f.fundingAt(ts, snap.Prices)
	}
	return snap, nil
}

// settles reports whether ts is the first tick of a new funding window. The
// first tick of a run only settles when it sits exactly on a boundary.
func (f *ReplayFeed) settles(ts time.Time) bool {
	boundary := ts.UTC().Truncate(FundingInterval)
	var settle bool
	if f.lastBoundary.IsZero() {
		settle = ts.Equal(boundary)
	} else {
		settle = boundary.After(f.lastBoundary)
	}
	f.lastBoundary = boundary
	return settle
}

// fundingAt picks, per symbol, the latest print between FundingTolerance
// before the current boundary and ts. Older prints never settle again.
func (f *ReplayFeed) fundingAt(ts time.Time, prices map[string]float64) map[string]domain.Funding {
	from := ts.UTC().Truncate(FundingInterval).Add(-FundingTolerance)
	out := make(map[string]domain.Funding)
	for _, sym := range f.symbols {
		s := f.series[sym]
		i := sort.Search(len(s.funding), func(i int) bool { return s.funding[i].at.After(ts) }) - 1
		if i < 0 || s.funding[i].at.Before(from) {
			continue
		}
		fp := s.funding[i]
		mark := fp.mark
		if px, ok := prices[sym]; ok && !fp.at.Equal(ts) {
			mark = px
		}
		out[sym] = domain.Funding{Rate: fp.rate, MarkPrice: mark}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *series) indexAtOrBefore(ts time.Time) int {
	if i, ok := s.byTime[ts.UnixNano()]; ok {
		return i
	}
	return sort.Search(len(s.bars), func(i int) bool { return s.bars[i].Time.After(ts) }) - 1
}
