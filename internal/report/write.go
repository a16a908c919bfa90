package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/pipeline"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
)

// Columns is the flat layout shared by the CSV and XLSX outputs.
var Columns = []string{
	"product_id", "status", "score", "risk_tier", "action", "summary", "data_quality", "error",
}

// ValidFormat reports whether f is a known output format.
func ValidFormat(f string) bool {
	switch f {
	case FormatTable, FormatJSON, FormatCSV, FormatXLSX:
		return true
	}
	return false
}

// row is one flattened batch item. score is nil when no assessment exists.
type row struct {
	cells []string
	score *float64
}

func flatten(item pipeline.BatchItem) row {
	r := row{cells: make([]string, len(Columns))}
	r.cells[0] = item.ProductID
	if item.Err != nil {
		r.cells[7] = item.Err.Error()
		return r
	}
	res := item.Result
	if res.Snapshot != nil {
		r.cells[1] = string(res.Snapshot.Status)
	}
	if a := res.Assessment; a != nil {
		score := a.Score
		r.score = &score
		r.cells[2] = strconv.FormatFloat(a.Score, 'f', 2, 64)
		r.cells[3] = string(a.RiskTier)
		r.cells[6] = strings.Join(a.DataQuality, "; ")
	}
	r.cells[4] = string(res.Recommendation.Action)
	r.cells[5] = res.Recommendation.Summary
	if res.Err != nil {
		r.cells[7] = res.Err.Error()
	}
	return r
}

// Write renders items to w in a text format. XLSX needs a file; use
// WriteXLSX.
func Write(w io.Writer, format string, items []pipeline.BatchItem) error {
	switch format {
	case FormatTable, "":
		return writeTable(w, items)
	case FormatJSON:
		return writeJSON(w, items)
	case FormatCSV:
		return writeCSV(w, items)
	case FormatXLSX:
		return eris.New("report: xlsx output needs --output")
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

func writeTable(out io.Writer, items []pipeline.BatchItem) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PRODUCT\tSTATUS\tSCORE\tTIER\tACTION\tNOTES")
	_, _ = fmt.Fprintln(w, "-------\t------\t-----\t----\t------\t-----")
	for _, item := range items {
		r := flatten(item)
		notes := r.cells[7]
		if notes == "" && r.cells[6] != "" {
			notes = fmt.Sprintf("%d data quality issue(s)", strings.Count(r.cells[6], "; ")+1)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.cells[0], r.cells[1], r.cells[2], r.cells[3], r.cells[4], notes)
	}
	return eris.Wrap(w.Flush(), "report: flush table")
}

type jsonItem struct {
	ProductID string           `json:"product_id"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind model.ErrorKind  `json:"error_kind,omitempty"`
}

func writeJSON(w io.Writer, items []pipeline.BatchItem) error {
	out := make([]jsonItem, len(items))
	for i, item := range items {
		out[i] = jsonItem{ProductID: item.ProductID, Result: item.Result}
		switch {
		case item.Err != nil:
			out[i].Error = item.Err.Error()
			out[i].ErrorKind = model.KindOf(item.Err)
		case item.Result != nil && item.Result.Err != nil:
			out[i].Error = item.Result.Err.Error()
			out[i].ErrorKind = item.Result.ErrorKind
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(out), "report: encode json")
}

func writeCSV(w io.Writer, items []pipeline.BatchItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, item := range items {
		if err := cw.Write(flatten(item).cells); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

// WriteXLSX saves items to an XLSX workbook with one "assessments" sheet.
// Scores are numeric cells.
func WriteXLSX(path string, items []pipeline.BatchItem) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("assessments")
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}
	for _, item := range items {
		r := flatten(item)
		xr := sheet.AddRow()
		for i, c := range r.cells {
			cell := xr.AddCell()
			if i == 2 && r.score != nil {
				cell.SetFloat(*r.score)
				continue
			}
			cell.SetString(c)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}
