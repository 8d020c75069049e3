package mapping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Table is the raw tabular form of the mapping configuration.
type Table struct {
	Header  []string
	Records [][]string
}

// Rows converts the table into Rows, failing with a ConfigError when a
// required column is missing from the header. Cells beyond a short record
// read as empty.
func (t Table) Rows() ([]Row, error) {
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		name := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}

	cell := func(rec []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	rows := make([]Row, 0, len(t.Records))
	for _, rec := range t.Records {
		rows = append(rows, Row{
			Segment:     cell(rec, ColSegment),
			SegmentID:   cell(rec, ColSegmentID),
			ChildOBR:    cell(rec, ColChildOBR),
			Attribute:   cell(rec, ColAttribute),
			HL7Key:      cell(rec, ColHL7Key),
			Identifier:  cell(rec, ColIdentifier),
			DisplayName: cell(rec, ColDisplayName),
			DataType:    cell(rec, ColDataType),
			Unit:        cell(rec, ColUnit),
			Sequence:    cell(rec, ColSequence),
		})
	}
	return rows, nil
}

// CompileTable validates the header and compiles the table.
func CompileTable(t Table) (*CompiledConfig, error) {
	rows, err := t.Rows()
	if err != nil {
		return nil, err
	}
	return Compile(rows)
}

// ReadCSV reads a mapping table whose first record is the header.
func ReadCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, &ConfigError{Reason: "mapping table is empty"}
	}
	if err != nil {
		return Table{}, fmt.Errorf("mapping: read header: %w", err)
	}

	t := Table{Header: header}
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("mapping: read record: %w", err)
		}
		if isBlank(rec) {
			continue
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}

// LoadCSVFile reads and compiles a mapping CSV file.
func LoadCSVFile(path string) (*CompiledConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: open %s: %w", path, err)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, err
	}
	return CompileTable(t)
}

func isBlank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
