package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"backsim/internal/logging"
	"backsim/internal/types"
)

// timestampFormats are tried in order when parsing the timestamp column
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05.000",
	time.RFC3339,
	"2006/01/02 15:04:05",
	"2006-01-02",
}

var requiredColumns = []string{"timestamp", "open", "high", "low", "close", "volume"}

// Loader reads OHLCV bar series from CSV files in a data directory
type Loader struct {
	dataDirectory string
	logger        *logging.Logger
}

// NewLoader creates a loader reading from the given directory
func NewLoader(dataDirectory string, logger *logging.Logger) *Loader {
	return &Loader{
		dataDirectory: dataDirectory,
		logger:        logger,
	}
}

// LoadSymbols loads the bar series for every symbol, keyed by symbol.
// Bars outside [start, end] are dropped; each series comes back sorted by
// timestamp.
func (l *Loader) LoadSymbols(symbols []string, start, end time.Time) (map[string][]types.Bar, error) {
	if l.dataDirectory == "" {
		return nil, fmt.Errorf("data directory must be specified")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols specified")
	}

	series := make(map[string][]types.Bar, len(symbols))
	for _, symbol := range symbols {
		bars, err := l.LoadSymbol(symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load data for symbol %s: %w", symbol, err)
		}
		series[symbol] = bars
	}
	return series, nil
}

// LoadSymbol loads one symbol's bars from its CSV file
func (l *Loader) LoadSymbol(symbol string, start, end time.Time) ([]types.Bar, error) {
	// Try multiple CSV filename formats
	csvFiles := []string{
		filepath.Join(l.dataDirectory, symbol+".csv"),
		filepath.Join(l.dataDirectory, strings.ToLower(symbol)+".csv"),
		filepath.Join(l.dataDirectory, strings.ToUpper(symbol)+".csv"),
	}

	var file *os.File
	var err error
	for _, csvFile := range csvFiles {
		file, err = os.Open(csvFile)
		if err == nil {
			l.logger.Infof("Loading data from: %s", csvFile)
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("CSV file not found for symbol %s (tried: %v)", symbol, csvFiles)
	}
	defer file.Close()

	bars, err := l.readBars(file, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no data found for symbol %s in range %s to %s",
			symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	l.logger.Infof("Loaded %d bars for %s from %s to %s",
		len(bars), symbol,
		bars[0].Timestamp.Format(time.RFC3339),
		bars[len(bars)-1].Timestamp.Format(time.RFC3339))
	return bars, nil
}

// readBars parses a CSV stream into bars, skipping malformed rows
func (l *Loader) readBars(r io.Reader, symbol string, start, end time.Time) ([]types.Bar, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if !validateHeader(header) {
		return nil, fmt.Errorf("invalid CSV header format. Required columns: %v", requiredColumns)
	}

	var bars []types.Bar
	lineNumber := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record at line %d: %w", lineNumber, err)
		}
		lineNumber++

		if len(record) < len(requiredColumns) {
			continue
		}

		bar, err := parseRecord(record, symbol)
		if err != nil {
			l.logger.Warnf("Skipping line %d due to parse error: %v", lineNumber, err)
			continue
		}

		if !bar.Timestamp.Before(start) && !bar.Timestamp.After(end) {
			bars = append(bars, bar)
		}
	}
	return bars, nil
}

// validateHeader checks that every required column is present
func validateHeader(header []string) bool {
	if len(header) < len(requiredColumns) {
		return false
	}

	headerLower := make([]string, len(header))
	for i, h := range header {
		headerLower[i] = strings.ToLower(strings.TrimSpace(h))
	}

	for _, req := range requiredColumns {
		found := false
		for _, h := range headerLower {
			if h == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// parseRecord parses one CSV row into a bar and validates its OHLC shape
func parseRecord(record []string, symbol string) (types.Bar, error) {
	var timestamp time.Time
	var err error

	timestampStr := strings.TrimSpace(record[0])
	for _, format := range timestampFormats {
		timestamp, err = time.Parse(format, timestampStr)
		if err == nil {
			break
		}
	}
	if err != nil {
		// Fall back to unix seconds or milliseconds
		if epoch, convErr := strconv.ParseInt(timestampStr, 10, 64); convErr == nil {
			if epoch > 1e12 {
				timestamp = time.UnixMilli(epoch).UTC()
			} else {
				timestamp = time.Unix(epoch, 0).UTC()
			}
		} else {
			return types.Bar{}, fmt.Errorf("invalid timestamp format: %s", timestampStr)
		}
	}

	open, err := parseFloat(record[1])
	if err != nil {
		return types.Bar{}, fmt.Errorf("invalid open price: %s", record[1])
	}
	high, err := parseFloat(record[2])
	if err != nil {
		return types.Bar{}, fmt.Errorf("invalid high price: %s", record[2])
	}
	low, err := parseFloat(record[3])
	if err != nil {
		return types.Bar{}, fmt.Errorf("invalid low price: %s", record[3])
	}
	closePrice, err := parseFloat(record[4])
	if err != nil {
		return types.Bar{}, fmt.Errorf("invalid close price: %s", record[4])
	}
	volume, err := parseFloat(record[5])
	if err != nil {
		return types.Bar{}, fmt.Errorf("invalid volume: %s", record[5])
	}

	bar := types.NewBar(symbol, timestamp, open, high, low, closePrice, volume)
	if !bar.IsValid() {
		return types.Bar{}, fmt.Errorf("invalid OHLC relationships: O=%.2f H=%.2f L=%.2f C=%.2f",
			open, high, low, closePrice)
	}
	return bar, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
