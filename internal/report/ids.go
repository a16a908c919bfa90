// Package report reads product id lists and renders assessment results as
// text, JSON, CSV or XLSX.
package report

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadProductIDs loads product ids from the first column of a .csv or .xlsx
// file, or one per line from any other file. A leading "product_id" or "id"
// header, blank cells and repeats are skipped.
func ReadProductIDs(path string) ([]string, error) {
	var (
		cells []string
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		cells, err = firstColumnXLSX(path)
	case ".csv":
		cells, err = firstColumnFile(path, firstColumnCSV)
	default:
		cells, err = firstColumnFile(path, lines)
	}
	if err != nil {
		return nil, err
	}
	return cleanIDs(cells), nil
}

func cleanIDs(cells []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var ids []string
	for i, c := range cells {
		c = strings.TrimSpace(c)
		if i == 0 && isHeader(c) {
			continue
		}
		if c == "" || strings.HasPrefix(c, "#") || !seen.Add(c) {
			continue
		}
		ids = append(ids, c)
	}
	return ids
}

func isHeader(c string) bool {
	c = strings.ToLower(c)
	return c == "product_id" || c == "id"
}

func firstColumnFile(path string, read func(io.Reader) ([]string, error)) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	cells, err := read(f)
	if err != nil {
		return nil, eris.Wrapf(err, "report: read %s", path)
	}
	return cells, nil
}

func firstColumnCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.Comment = '#'

	var cells []string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return cells, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) > 0 {
			cells = append(cells, rec[0])
		}
	}
}

func lines(r io.Reader) ([]string, error) {
	var cells []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		cells = append(cells, sc.Text())
	}
	return cells, sc.Err()
}

func firstColumnXLSX(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("report: %s has no sheets", path)
	}
	var cells []string
	for _, row := range f.Sheets[0].Rows {
		if row == nil || len(row.Cells) == 0 {
			continue
		}
		cells = append(cells, row.Cells[0].String())
	}
	return cells, nil
}
