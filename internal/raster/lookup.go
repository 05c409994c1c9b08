package raster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// LookupTable maps integer category codes to factor values.
type LookupTable struct {
	Name        string
	KeyColumn   string
	ValueColumn string
	Values      map[int]float64
}

// JoinReport summarises a lookup join.
type JoinReport struct {
	Joined int
	// Missing counts cells per code that had no table entry.
	Missing map[int]int
}

// MissingCodes returns the codes without a table entry, sorted.
func (r JoinReport) MissingCodes() []int {
	codes := make([]int, 0, len(r.Missing))
	for c := range r.Missing {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// Join replaces each valid category code with its table value. Codes absent
// from the table become no-data and are reported.
func Join(codes *Grid, table *LookupTable) (*Grid, JoinReport) {
	report := JoinReport{Missing: make(map[int]int)}
	out := Map(codes, func(v float64) float64 {
		code := int(math.Round(v))
		val, ok := table.Values[code]
		if !ok {
			report.Missing[code]++
			return math.NaN()
		}
		report.Joined++
		return val
	})
	return out, report
}

// ReadLookupCSV loads a lookup table from CSV with a header row naming the
// key and value columns.
func ReadLookupCSV(r io.Reader, name, keyColumn, valueColumn string) (*LookupTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}
	keyIdx, valIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case keyColumn:
			keyIdx = i
		case valueColumn:
			valIdx = i
		}
	}
	if keyIdx < 0 || valIdx < 0 {
		return nil, fmt.Errorf("%s: columns %s and %s required, have %v", name, keyColumn, valueColumn, header)
	}

	table := &LookupTable{Name: name, KeyColumn: keyColumn, ValueColumn: valueColumn, Values: make(map[int]float64)}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, line, err)
		}
		key, err := strconv.ParseFloat(strings.TrimSpace(rec[keyIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: key %q: %w", name, line, rec[keyIdx], err)
		}
		raw := strings.TrimSpace(rec[valIdx])
		if raw == "" {
			continue
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: value %q: %w", name, line, raw, err)
		}
		table.Values[int(math.Round(key))] = val
	}
	return table, nil
}
