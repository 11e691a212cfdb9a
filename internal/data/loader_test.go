package data_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlas-quant/nifty-backtester/internal/data"
)

func writeCSV(t *testing.T, dir, symbol, contents string) {
	t.Helper()
	path := filepath.Join(dir, symbol+".csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoaderParsesCSVSeries(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "RELIANCE", "date,open,high,low,close,volume\n"+
		"2023-01-02,100,105,99,104,1000000\n"+
		"2023-01-03,104,108,103,107,1100000\n")

	l := data.NewLoader(nil, dir)
	series, err := l.Load("RELIANCE")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if series.Len() != 2 {
		t.Fatalf("expected 2 bars, got %d", series.Len())
	}
	if series.Bars[0].Close.String() != "104" {
		t.Errorf("unexpected first close: %s", series.Bars[0].Close)
	}
}

func TestLoaderCaseInsensitiveHeader(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "TCS", "Date,Open,High,Low,Close,Volume\n2023-01-02,100,105,99,104,1000000\n")

	l := data.NewLoader(nil, dir)
	series, err := l.Load("TCS")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if series.Len() != 1 {
		t.Fatalf("expected 1 bar, got %d", series.Len())
	}
}

func TestLoaderMissingFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	l := data.NewLoader(nil, dir)
	if _, err := l.Load("NOPE"); err == nil {
		t.Fatal("expected an error for a missing cache file")
	}
}

func TestLoaderMissingColumnReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "BAD", "date,open,high,low,close\n2023-01-02,100,105,99,104\n")

	l := data.NewLoader(nil, dir)
	if _, err := l.Load("BAD"); err == nil {
		t.Fatal("expected an error for a missing volume column")
	}
}

func TestLoadBasketSkipsCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nifty50.txt")
	contents := "# NIFTY 50 basket\n\nRELIANCE\nTCS\n\n# benchmark below\nNIFTYBEES\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write basket file: %v", err)
	}

	symbols, err := data.LoadBasket(path)
	if err != nil {
		t.Fatalf("LoadBasket: %v", err)
	}
	want := []string{"RELIANCE", "TCS", "NIFTYBEES"}
	if len(symbols) != len(want) {
		t.Fatalf("expected %d symbols, got %d: %v", len(want), len(symbols), symbols)
	}
	for i, s := range want {
		if symbols[i] != s {
			t.Errorf("symbol %d: got %q, want %q", i, symbols[i], s)
		}
	}
}

func TestLoadBasketEmptyFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, []byte("# nothing here\n"), 0o644); err != nil {
		t.Fatalf("write basket file: %v", err)
	}
	if _, err := data.LoadBasket(path); err == nil {
		t.Fatal("expected an error for an empty basket file")
	}
}
