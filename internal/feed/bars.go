package feed

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/schema"
)

// LoadBars reads every CSV file matching pattern (doublestar syntax, e.g.
// "data/**/*.csv") and returns their bars ordered by time, then symbol.
//
// Files have a header row with timestamp, open, high, low, close and volume
// columns; an optional symbol column overrides the symbol taken from the
// file name (the part before the first "_" or ".").
func LoadBars(pattern string) ([]schema.Bar, error) {
	files, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no bar files match %s", pattern)
	}
	sort.Strings(files)

	var bars []schema.Bar
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", path)
		}
		got, err := ReadBars(f, SymbolFromPath(path))
		_ = f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		logs.Infof("bars loaded, file: %s, bars: %d", path, len(got))
		bars = append(bars, got...)
	}
	SortBars(bars)
	return bars, nil
}

// SymbolFromPath derives a symbol from a file name like "BTCUSDT_1h.csv".
func SymbolFromPath(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexAny(name, "_."); i > 0 {
		name = name[:i]
	}
	return strings.ToUpper(name)
}

// SortBars orders bars by time, then symbol.
func SortBars(bars []schema.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Time.Equal(bars[j].Time) {
			return bars[i].Time.Before(bars[j].Time)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
}

// ReadBars parses one CSV stream.
func ReadBars(r io.Reader, symbol string) ([]schema.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"open", "high", "low", "close"} {
		if _, ok := cols[need]; !ok {
			return nil, errors.Errorf("missing column %s", need)
		}
	}
	tsCol, ok := lookup(cols, "timestamp", "time", "date", "open_time")
	if !ok {
		return nil, errors.New("missing timestamp column")
	}

	var bars []schema.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		bar, err := parseBar(rec, cols, tsCol, symbol)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func lookup(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func parseBar(rec []string, cols map[string]int, tsCol int, symbol string) (schema.Bar, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	if tsCol >= len(rec) {
		return schema.Bar{}, errors.New("short record")
	}
	ts, err := ParseTime(rec[tsCol])
	if err != nil {
		return schema.Bar{}, err
	}
	if s := field("symbol"); s != "" {
		symbol = strings.ToUpper(s)
	}

	bar := schema.Bar{Symbol: symbol, Time: ts}
	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	} {
		raw := field(f.name)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return schema.Bar{}, errors.Wrapf(err, "parse %s", f.name)
		}
		*f.dst = v
	}
	if !bar.Open.IsPositive() || !bar.Close.IsPositive() {
		return schema.Bar{}, errors.Errorf("non-positive price, open: %s, close: %s", bar.Open, bar.Close)
	}
	return bar, nil
}

// ParseTime accepts unix seconds, unix milliseconds or a date string.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := cast.ToInt64E(raw); err == nil && isDigits(raw) {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	ts, err := cast.ToTimeE(raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse time %q", raw)
	}
	return ts.UTC(), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
