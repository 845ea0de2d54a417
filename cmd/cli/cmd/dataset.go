package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// dataset is a typed view of a CSV file: numeric and factor predictor
// columns plus an optional response column.
type dataset struct {
	numNames []string
	facNames []string

	numBlock [][]float64 // column-major
	facBlock [][]int     // column-major, 0-based codes
	facCard  []int
	facLevel [][]string // code -> original label

	response    []float64
	responseCtg []int
	ctgLabels   []string
	nRow        int
}

// rowsNum returns the numeric block row-major, as prediction consumes it.
func (d *dataset) rowsNum() [][]float64 {
	if len(d.numBlock) == 0 {
		return nil
	}
	out := make([][]float64, d.nRow)
	for i := 0; i < d.nRow; i++ {
		row := make([]float64, len(d.numBlock))
		for j, col := range d.numBlock {
			row[j] = col[i]
		}
		out[i] = row
	}
	return out
}

// rowsFac returns the factor block row-major.
func (d *dataset) rowsFac() [][]int {
	if len(d.facBlock) == 0 {
		return nil
	}
	out := make([][]int, d.nRow)
	for i := 0; i < d.nRow; i++ {
		row := make([]int, len(d.facBlock))
		for j, col := range d.facBlock {
			row[j] = col[i]
		}
		out[i] = row
	}
	return out
}

// loadCSV reads a headered CSV. Columns named in factorCols are re-encoded
// as 0-based codes in first-appearance order; responseCol, when nonempty,
// is split off as the response (categorical when classify is set).
func loadCSV(path, responseCol string, factorCols []string, classify bool) (*dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("dataset %s has no data rows", path)
	}

	header := records[0]
	rows := records[1:]
	nRow := len(rows)

	isFactor := make(map[string]bool, len(factorCols))
	for _, name := range factorCols {
		isFactor[strings.TrimSpace(name)] = true
	}

	d := &dataset{nRow: nRow}
	ctgCode := map[string]int{}

	for colIdx, name := range header {
		switch {
		case name == responseCol && classify:
			d.responseCtg = make([]int, nRow)
			for i, rec := range rows {
				label := rec[colIdx]
				code, ok := ctgCode[label]
				if !ok {
					code = len(ctgCode)
					ctgCode[label] = code
					d.ctgLabels = append(d.ctgLabels, label)
				}
				d.responseCtg[i] = code
			}
		case name == responseCol:
			d.response = make([]float64, nRow)
			for i, rec := range rows {
				v, err := strconv.ParseFloat(rec[colIdx], 64)
				if err != nil {
					return nil, fmt.Errorf("row %d: response %q not numeric", i+1, rec[colIdx])
				}
				d.response[i] = v
			}
		case isFactor[name]:
			codes := make([]int, nRow)
			levelCode := map[string]int{}
			var levels []string
			for i, rec := range rows {
				label := rec[colIdx]
				code, ok := levelCode[label]
				if !ok {
					code = len(levelCode)
					levelCode[label] = code
					levels = append(levels, label)
				}
				codes[i] = code
			}
			d.facNames = append(d.facNames, name)
			d.facBlock = append(d.facBlock, codes)
			d.facCard = append(d.facCard, len(levels))
			d.facLevel = append(d.facLevel, levels)
		default:
			col := make([]float64, nRow)
			for i, rec := range rows {
				v, err := strconv.ParseFloat(rec[colIdx], 64)
				if err != nil {
					return nil, fmt.Errorf("row %d: column %q value %q not numeric (declare it with --factors?)", i+1, name, rec[colIdx])
				}
				col[i] = v
			}
			d.numNames = append(d.numNames, name)
			d.numBlock = append(d.numBlock, col)
		}
	}

	return d, nil
}

// predNames lists predictor names in index order: numeric then factor.
func (d *dataset) predNames() []string {
	return append(append([]string{}, d.numNames...), d.facNames...)
}
