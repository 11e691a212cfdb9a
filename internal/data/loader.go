// Package data loads symbol series and basket membership from the local
// cache directory. It never fetches from a network source: a missing
// cache file is a DataError, not a fallback to generated bars.
package data

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/nifty-backtester/pkg/types"
)

// Loader resolves a symbol to its cached OHLCV series, keeping an
// in-memory cache so a basket that repeats a symbol (e.g. a benchmark also
// held in the basket) only reads the file once.
type Loader struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	dataDir string
	cache   map[string]*types.Series
}

// NewLoader returns a Loader rooted at dataDir (DATA_CACHE_DIR).
func NewLoader(logger *zap.Logger, dataDir string) *Loader {
	return &Loader{
		logger:  logger,
		dataDir: dataDir,
		cache:   make(map[string]*types.Series),
	}
}

// Load reads <dataDir>/<symbol>.csv, expecting a header row with
// date,open,high,low,close,volume columns in any order (case-insensitive).
func (l *Loader) Load(symbol string) (*types.Series, error) {
	l.mu.RLock()
	if cached, ok := l.cache[symbol]; ok {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	path := filepath.Join(l.dataDir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	series, err := parseSeriesCSV(symbol, f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[symbol] = series
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Debug("loaded series", zap.String("symbol", symbol), zap.Int("bars", series.Len()))
	}
	return series, nil
}

var csvColumns = map[string]int{"date": -1, "open": -1, "high": -1, "low": -1, "close": -1, "volume": -1}

func parseSeriesCSV(symbol string, f *os.File) (*types.Series, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty file")
	}
	header := strings.Split(scanner.Text(), ",")
	idx := make(map[string]int, len(csvColumns))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for name := range csvColumns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	series := &types.Series{Symbol: symbol}
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")

		ts, err := parseDate(fields[idx["date"]])
		if err != nil {
			return nil, fmt.Errorf("bad date %q: %w", fields[idx["date"]], err)
		}
		open, err := parseDecimal(fields[idx["open"]])
		if err != nil {
			return nil, fmt.Errorf("bad open %q: %w", fields[idx["open"]], err)
		}
		high, err := parseDecimal(fields[idx["high"]])
		if err != nil {
			return nil, fmt.Errorf("bad high %q: %w", fields[idx["high"]], err)
		}
		low, err := parseDecimal(fields[idx["low"]])
		if err != nil {
			return nil, fmt.Errorf("bad low %q: %w", fields[idx["low"]], err)
		}
		closeP, err := parseDecimal(fields[idx["close"]])
		if err != nil {
			return nil, fmt.Errorf("bad close %q: %w", fields[idx["close"]], err)
		}
		volume, err := parseDecimal(fields[idx["volume"]])
		if err != nil {
			return nil, fmt.Errorf("bad volume %q: %w", fields[idx["volume"]], err)
		}

		series.Bars = append(series.Bars, types.Bar{
			Timestamp: ts,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(series.Bars, func(i, j int) bool {
		return series.Bars[i].Timestamp.Before(series.Bars[j].Timestamp)
	})
	return series, nil
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", time.RFC3339, "01/02/2006"}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(f), nil
}

// LoadBasket reads a plain-text basket file: one symbol per line, blank
// lines and lines starting with "#" ignored.
func LoadBasket(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open basket file %s: %w", path, err)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("basket file %s contains no symbols", path)
	}
	return symbols, nil
}
