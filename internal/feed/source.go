package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

// Source loads the bars of one symbol within [from, to]. A zero bound is open.
type Source interface {
	Name() string
	Load(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error)
}

// LoadAll loads every symbol from src.
func LoadAll(ctx context.Context, src Source, symbols []string, from, to time.Time) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := src.Load(ctx, sym, from, to)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("feed: %s: no bars for %s in range: %w", src.Name(), sym, domain.ErrNotFound)
		}
		out[sym] = bars
	}
	return out, nil
}

func clip(bars []domain.Bar, from, to time.Time) []domain.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if !from.IsZero() && b.Time.Before(from) {
			continue
		}
		if !to.IsZero() && b.Time.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FileSource reads <Dir>/<symbol>.csv.
type FileSource struct {
	Dir string
}

func (s FileSource) Name() string { return "file" }

func (s FileSource) Load(_ context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	p := filepath.Join(s.Dir, symbol+".csv")
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("feed: file %s: %w", p, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("feed: file %s: %w", p, err)
	}
	defer f.Close()

	bars, err := ParseCSV(f, symbol)
	if err != nil {
		return nil, err
	}
	return clip(bars, from, to), nil
}

// BlobSource reads <Prefix>/<symbol>.csv from object storage.
type BlobSource struct {
	Reader domain.BlobReader
	Prefix string
}

func (s BlobSource) Name() string { return "s3" }

func (s BlobSource) Load(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	key := path.Join(s.Prefix, symbol+".csv")
	body, err := s.Reader.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("feed: blob %s: %w", key, err)
	}
	defer body.Close()

	bars, err := ParseCSV(body, symbol)
	if err != nil {
		return nil, err
	}
	return clip(bars, from, to), nil
}

// StoreSource reads bars from the bar store.
type StoreSource struct {
	Store domain.BarStore
}

func (s StoreSource) Name() string { return "postgres" }

func (s StoreSource) Load(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	bars, err := s.Store.Range(ctx, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("feed: store %s: %w", symbol, err)
	}
	return bars, nil
}

// CachedSource consults a bar cache before the wrapped source and fills it on
// a miss. Cache failures are logged and never fail the load.
type CachedSource struct {
	Source Source
	Cache  domain.BarCache
	Logger *slog.Logger
}

func (s CachedSource) Name() string { return s.Source.Name() }

// CacheKey identifies a series in the bar cache.
func CacheKey(source, symbol string, from, to time.Time) string {
	return fmt.Sprintf("bars:%s:%s:%d:%d", source, symbol, unixOrZero(from), unixOrZero(to))
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (s CachedSource) Load(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	key := CacheKey(s.Source.Name(), symbol, from, to)

	bars, err := s.Cache.GetBars(ctx, key)
	switch {
	case err == nil && len(bars) > 0:
		logger.Debug("feed: bar cache hit", slog.String("key", key), slog.Int("bars", len(bars)))
		return bars, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		logger.Warn("feed: bar cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	bars, err = s.Source.Load(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.SetBars(ctx, key, bars); err != nil {
		logger.Warn("feed: bar cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return bars, nil
}
