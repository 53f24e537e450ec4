// Package feed loads OHLCV bar data from CSV files into the engine's
// bar model. One file per symbol; the symbol is taken from the file
// name ("RELIANCE.csv" -> "RELIANCE").
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/backtrail/pkg/logging"
	"github.com/seenimoa/backtrail/pkg/models"
)

// Accepted timestamp layouts, tried in order. Unix epoch seconds and
// milliseconds are detected numerically before these.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006", // NSE bhavcopy style
}

// ReadBars parses a CSV stream into a validated, UTC-normalized bar
// series. The first row must be a header; column order is free but the
// header must name timestamp (or date/time) and the OHLCV fields.
// Unrecognized columns are ignored.
func ReadBars(symbol string, r io.Reader) ([]models.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, models.NewDataError(fmt.Sprintf("%s: reading CSV header: %v", symbol, err))
	}

	cols, err := mapColumns(symbol, header)
	if err != nil {
		return nil, err
	}

	var bars []models.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, models.NewDataError(fmt.Sprintf("%s: line %d: %v", symbol, line, err))
		}

		bar, err := parseRow(rec, cols)
		if err != nil {
			return nil, models.NewDataError(fmt.Sprintf("%s: line %d: %v", symbol, line, err))
		}
		bars = append(bars, bar)
	}

	bars = models.NormalizeBars(bars)
	if err := models.ValidateBars(symbol, bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// LoadFile reads one symbol's bars from a CSV file.
func LoadFile(symbol, path string) ([]models.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewDataError(fmt.Sprintf("%s: %v", symbol, err))
	}
	defer f.Close()
	return ReadBars(symbol, f)
}

// LoadDir loads every *.csv file in dir, keyed by the file's base name.
// Files that fail to parse are skipped with a warning so one bad file
// does not sink a portfolio run.
func LoadDir(dir string) (map[string][]models.Bar, error) {
	log := logging.GetLogger("feed")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, models.NewDataError(fmt.Sprintf("reading data dir %s: %v", dir, err))
	}

	data := make(map[string][]models.Bar)
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		symbol := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		bars, err := LoadFile(symbol, filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable data file")
			continue
		}
		data[symbol] = bars
		log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("loaded bar series")
	}

	if len(data) == 0 {
		return nil, models.NewDataError(fmt.Sprintf("no usable CSV files in %s", dir))
	}
	return data, nil
}

// columnMap maps CSV column indices to bar fields. -1 means absent.
type columnMap struct {
	ts, open, high, low, close, volume int
}

func mapColumns(symbol string, header []string) (columnMap, error) {
	cols := columnMap{ts: -1, open: -1, high: -1, low: -1, close: -1, volume: -1}
	adjClose := -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "timestamp", "date", "time", "datetime":
			cols.ts = i
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.close = i
		case "adj close", "adj_close":
			adjClose = i
		case "volume":
			cols.volume = i
		}
	}
	// A plain close column wins over adjusted wherever it appears.
	if cols.close == -1 {
		cols.close = adjClose
	}
	if cols.ts == -1 {
		return cols, models.NewDataError(fmt.Sprintf("%s: no timestamp column in header %v", symbol, header))
	}
	for _, c := range []struct {
		idx  int
		name string
	}{{cols.open, "open"}, {cols.high, "high"}, {cols.low, "low"}, {cols.close, "close"}} {
		if c.idx == -1 {
			return cols, models.NewDataError(fmt.Sprintf("%s: no %s column in header %v", symbol, c.name, header))
		}
	}
	return cols, nil
}

func parseRow(rec []string, cols columnMap) (models.Bar, error) {
	var bar models.Bar
	max := cols.ts
	for _, i := range []int{cols.open, cols.high, cols.low, cols.close, cols.volume} {
		if i > max {
			max = i
		}
	}
	if len(rec) <= max {
		return bar, fmt.Errorf("row has %d fields, need %d", len(rec), max+1)
	}

	ts, err := parseTimestamp(rec[cols.ts])
	if err != nil {
		return bar, err
	}
	bar.Timestamp = ts

	if bar.Open, err = parseFloat(rec[cols.open], "open"); err != nil {
		return bar, err
	}
	if bar.High, err = parseFloat(rec[cols.high], "high"); err != nil {
		return bar, err
	}
	if bar.Low, err = parseFloat(rec[cols.low], "low"); err != nil {
		return bar, err
	}
	if bar.Close, err = parseFloat(rec[cols.close], "close"); err != nil {
		return bar, err
	}
	if cols.volume != -1 {
		if bar.Volume, err = parseFloat(rec[cols.volume], "volume"); err != nil {
			return bar, err
		}
	}
	return bar, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	// Epoch seconds or milliseconds.
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func parseFloat(s, field string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", field, s)
	}
	return v, nil
}
