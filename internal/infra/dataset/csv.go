package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/synapseshield/shield/internal/domain"
)

// ReadCSV reads a CSV table with a header row. The canonical feature columns
// may appear in any order among other columns. Rows whose feature cells do
// not parse as numbers are skipped.
func ReadCSV(r io.Reader) (domain.Dataset, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Dataset{}, fmt.Errorf("csv has no header: %w", domain.ErrEmptyDataset)
		}
		return domain.Dataset{}, fmt.Errorf("read csv header: %w", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	cols := make([]int, len(domain.Features))
	for j, name := range domain.Features {
		i, ok := pos[name]
		if !ok {
			return domain.Dataset{}, fmt.Errorf("csv header lacks %q: %w", name, domain.ErrFeatureMismatch)
		}
		cols[j] = i
	}
	idCol := -1
	for _, k := range idKeys {
		if i, ok := pos[k]; ok {
			idCol = i
			break
		}
	}

	ds := domain.NewDataset()
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("read csv: %w", err)
		}
		row, ok := parseRow(record, cols, idCol)
		if !ok {
			continue // Skip malformed rows
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func parseRow(record []string, cols []int, idCol int) (domain.Row, bool) {
	row := domain.Row{Values: make([]float64, len(cols))}
	for j, i := range cols {
		if i >= len(record) {
			return row, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return row, false
		}
		row.Values[j] = v
	}
	if idCol >= 0 && idCol < len(record) {
		row.ID = strings.TrimSpace(record[idCol])
	}
	return row, true
}
