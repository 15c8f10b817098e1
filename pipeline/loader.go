package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyDataset  = errors.New("dataset has no header")
)

// missingTokens are cell values read as a missing value.
var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}

// LoadCSV reads the trip dataset at path.
func LoadCSV(path string) ([]TripRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	records, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return records, nil
}

// ReadCSV parses trip rows from r. Columns outside the trip schema are ignored,
// and a leading UTF-8 or UTF-16 byte order mark is stripped.
func ReadCSV(r io.Reader) ([]TripRecord, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyDataset
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	positions := make(map[string]int, len(header))
	for i, name := range header {
		positions[strings.TrimSpace(name)] = i
	}
	columns := RequiredColumns()
	for _, column := range columns {
		if _, ok := positions[column]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, column)
		}
	}

	records := make([]TripRecord, 0, 1024)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var record TripRecord
		for _, column := range columns {
			value, err := parseCell(row, positions[column])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, column, err)
			}
			record.set(column, value)
		}
		records = append(records, record)
	}
	return records, nil
}

func parseCell(row []string, idx int) (float64, error) {
	if idx >= len(row) {
		return math.NaN(), nil
	}
	cell := strings.TrimSpace(row[idx])
	if _, missing := missingTokens[strings.ToLower(cell)]; missing {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}
