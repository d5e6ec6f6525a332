package ingest

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// ReadCSV reads a CSV stream and returns the header row and all data rows.
// Variable-width rows are tolerated; RecordsFromRows handles short rows.
func ReadCSV(r io.Reader) (header []string, rows [][]string, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: read csv row")
		}
		if first {
			header = record
			first = false
			continue
		}
		rows = append(rows, record)
	}

	if first {
		return nil, nil, eris.New("ingest: csv is empty")
	}
	return header, rows, nil
}
