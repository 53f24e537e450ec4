package feed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/backtrail/pkg/models"
)

const sampleCSV = `date,open,high,low,close,volume
2024-01-01,100,105,99,104,1000
2024-01-02,104,110,103,108,1500
2024-01-03,108,109,101,102,900
`

func TestReadBars(t *testing.T) {
	bars, err := ReadBars("AAA", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	if bars[0].Open != 100 || bars[0].Close != 104 || bars[0].Volume != 1000 {
		t.Errorf("first bar = %+v", bars[0])
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !bars[1].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", bars[1].Timestamp, want)
	}
	if bars[1].Timestamp.Location() != time.UTC {
		t.Error("timestamps must be normalized to UTC")
	}
}

func TestReadBarsColumnOrderIsFree(t *testing.T) {
	src := "Close,Volume,Timestamp,Low,High,Open\n" +
		"104,1000,2024-01-01,99,105,100\n"
	bars, err := ReadBars("AAA", strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if bars[0].Open != 100 || bars[0].High != 105 || bars[0].Low != 99 || bars[0].Close != 104 {
		t.Errorf("bar = %+v", bars[0])
	}
}

func TestReadBarsPlainCloseWinsOverAdjusted(t *testing.T) {
	// Adjusted close listed before plain close must not shadow it.
	src := "Adj Close,Date,Open,High,Low,Close,Volume\n" +
		"95,2024-01-01,100,105,99,104,1000\n"
	bars, err := ReadBars("AAA", strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if bars[0].Close != 104 {
		t.Errorf("close = %v, want plain close 104", bars[0].Close)
	}
}

func TestReadBarsAdjCloseFallback(t *testing.T) {
	src := "date,open,high,low,adj_close,volume\n" +
		"2024-01-01,100,105,99,104,1000\n"
	bars, err := ReadBars("AAA", strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if bars[0].Close != 104 {
		t.Errorf("close = %v, want adjusted fallback 104", bars[0].Close)
	}
}

func TestReadBarsEpochTimestamps(t *testing.T) {
	src := "timestamp,open,high,low,close,volume\n" +
		"1704067200,100,101,99,100,10\n" + // 2024-01-01T00:00:00Z in seconds
		"1704153600000,100,101,99,100,10\n" // next day in milliseconds
	bars, err := ReadBars("AAA", strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if !bars[0].Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("epoch seconds parsed as %v", bars[0].Timestamp)
	}
	if !bars[1].Timestamp.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("epoch millis parsed as %v", bars[1].Timestamp)
	}
}

func TestReadBarsRejectsOutOfOrder(t *testing.T) {
	src := "date,open,high,low,close,volume\n" +
		"2024-01-02,100,101,99,100,10\n" +
		"2024-01-01,100,101,99,100,10\n"
	_, err := ReadBars("AAA", strings.NewReader(src))
	var derr *models.DataError
	if !errors.As(err, &derr) {
		t.Fatalf("got %v, want DataError", err)
	}
}

func TestReadBarsRejectsMissingColumns(t *testing.T) {
	_, err := ReadBars("AAA", strings.NewReader("date,open,close\n2024-01-01,1,2\n"))
	var derr *models.DataError
	if !errors.As(err, &derr) {
		t.Fatalf("got %v, want DataError", err)
	}
	if !strings.Contains(err.Error(), "high") {
		t.Errorf("error %q should name the missing column", err)
	}
}

func TestReadBarsRejectsBadValue(t *testing.T) {
	src := "date,open,high,low,close,volume\n2024-01-01,1,2,0.5,garbage,10\n"
	if _, err := ReadBars("AAA", strings.NewReader(src)); err == nil {
		t.Error("expected parse error for non-numeric close")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("AAA.csv", sampleCSV)
	write("BBB.csv", sampleCSV)
	write("broken.csv", "not,a,bar,file\n1,2,3,4\n")
	write("notes.txt", "ignored")

	data, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 {
		t.Fatalf("got %d symbols, want 2 (broken and non-CSV files skipped)", len(data))
	}
	if len(data["AAA"]) != 3 || len(data["BBB"]) != 3 {
		t.Errorf("bars per symbol: AAA=%d BBB=%d", len(data["AAA"]), len(data["BBB"]))
	}
}

func TestLoadDirEmpty(t *testing.T) {
	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Error("expected error for directory without CSV files")
	}
}
