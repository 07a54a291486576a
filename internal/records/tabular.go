package records

import (
	"encoding/csv"
	"io"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/opportunity-planner/internal/model"
)

type column int

const (
	colID column = iota
	colName
	colCurrent
	colPotential
	colAdditional
	colGrowth
)

// headerAliases maps normalized header text to a column.
var headerAliases = map[string]column{
	"id":               colID,
	"serviceid":        colID,
	"name":             colName,
	"service":          colName,
	"servicename":      colName,
	"current":          colCurrent,
	"currentvalue":     colCurrent,
	"currentrevenue":   colCurrent,
	"potential":        colPotential,
	"potentialvalue":   colPotential,
	"potentialrevenue": colPotential,
	"additional":       colAdditional,
	"additionalvalue":  colAdditional,
	"delta":            colAdditional,
	"growth":           colGrowth,
	"growthpercentage": colGrowth,
	"growthpct":        colGrowth,
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "csv: read rows")
	}
	return rows, nil
}

// readXLSX returns the rows of the first sheet.
func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: file has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// fromRows converts a header row plus data rows into records. Blank rows are
// skipped; unknown columns are ignored.
func fromRows(rows [][]string) ([]model.ServiceOpportunity, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	index := make(map[column]int)
	for i, h := range rows[0] {
		if col, ok := headerAliases[normalizeHeader(h)]; ok {
			if _, dup := index[col]; !dup {
				index[col] = i
			}
		}
	}
	if _, ok := index[colName]; !ok {
		if _, ok := index[colID]; !ok {
			return nil, eris.New("records: header needs an id or name column")
		}
	}
	_, hasCurrent := index[colCurrent]
	_, hasAdditional := index[colAdditional]
	if !hasCurrent && !hasAdditional {
		return nil, eris.New("records: header needs a current or additional value column")
	}

	var out []model.ServiceOpportunity
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		line := n + 2
		cell := func(c column) string {
			i, ok := index[c]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rec := model.ServiceOpportunity{ID: cell(colID), Name: cell(colName)}
		for _, f := range []struct {
			col column
			dst *float64
		}{
			{colCurrent, &rec.CurrentValue},
			{colPotential, &rec.PotentialValue},
			{colAdditional, &rec.AdditionalValue},
			{colGrowth, &rec.GrowthPercentage},
		} {
			raw := strings.TrimSuffix(cell(f.col), "%")
			if raw == "" {
				continue
			}
			v, err := model.ParseAmount(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "records: row %d", line)
			}
			*f.dst = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
