package converter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

// Converter prepares tabular data for the AutoML engine
type Converter struct{}

// NewConverter creates a new converter instance
func NewConverter() *Converter {
	return &Converter{}
}

// BuildTrainingCSV projects a raw CSV dataset to the selected feature columns
// plus the target column. An empty feature selection means use all columns, in
// which case the raw bytes pass through unchanged. Column order follows the
// dataset header. The target column must exist.
func (c *Converter) BuildTrainingCSV(raw []byte, features []string, target string) ([]byte, error) {
	if target == "" {
		return nil, fmt.Errorf("target column is required")
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	if _, ok := index[target]; !ok {
		return nil, fmt.Errorf("target column %q not found in dataset", target)
	}

	if len(features) == 0 {
		return raw, nil
	}

	// Keep the header's column order; append target if not selected
	keep := make(map[string]bool, len(features)+1)
	for _, f := range features {
		if _, ok := index[f]; !ok {
			return nil, fmt.Errorf("selected feature %q not found in dataset", f)
		}
		keep[f] = true
	}
	keep[target] = true

	var cols []int
	for i, name := range header {
		if keep[name] {
			cols = append(cols, i)
		}
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	out := make([]string, len(cols))
	for j, i := range cols {
		out[j] = header[i]
	}
	if err := writer.Write(out); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		for j, i := range cols {
			if i < len(record) {
				out[j] = record[i]
			} else {
				out[j] = ""
			}
		}
		if err := writer.Write(out); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// RowToCSV materializes a single prediction input row as a two-line CSV
// (header plus values) suitable for uploading as a transient frame.
// Columns are emitted in sorted key order so the output is stable.
func (c *Converter) RowToCSV(input map[string]interface{}) ([]byte, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("input row is empty")
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = fmt.Sprintf("%v", input[k])
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(keys); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := writer.Write(values); err != nil {
		return nil, fmt.Errorf("failed to write CSV row: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// CountRowsAndColumns inspects a raw CSV dataset and returns the number of
// data rows (excluding the header) and columns.
func (c *Converter) CountRowsAndColumns(raw []byte) (int, int, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	rows := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read CSV row: %w", err)
		}
		rows++
	}
	return rows, len(header), nil
}
