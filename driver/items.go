package driver

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"psi"
)

const (
	ColumnItem  = 0
	ColumnLabel = 1
)

// LoadItemsFile reads a CSV file of items with optional labels.
func LoadItemsFile(filename string) ([]psi.Item, [][]byte, error) {
	if len(filename) == 0 {
		return nil, nil, fmt.Errorf("missing items filename")
	}
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open items file %s: %w", filename, err)
	}
	defer file.Close()
	return LoadItems(file)
}

// LoadItems parses one item per record, with the label in the second
// column. Items are hashed with psi.ItemFromString. Labels is nil when no
// record has a label column.
func LoadItems(f io.Reader) ([]psi.Item, [][]byte, error) {
	r := csv.NewReader(f)
	r.Comment = '#'
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}

	items := make([]psi.Item, 0, len(records))
	labels := make([][]byte, 0, len(records))
	labeled := false
	for row, rec := range records {
		if len(rec) > 2 {
			return nil, nil, fmt.Errorf("row #%d has %d columns", row, len(rec))
		}
		items = append(items, psi.ItemFromString(rec[ColumnItem]))
		var lbl []byte
		if len(rec) > ColumnLabel {
			lbl = []byte(rec[ColumnLabel])
			labeled = true
		}
		labels = append(labels, lbl)
	}
	if !labeled {
		labels = nil
	}
	return items, labels, nil
}
