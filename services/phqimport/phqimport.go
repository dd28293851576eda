// Package phqimport reads PHQ-9 screening spreadsheets into import rows.
package phqimport

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/student"
)

// MaxRows is the maximum number of data rows of a spreadsheet.
const MaxRows = 5000

// Header is the expected header row; prefix, q9a and q9b are optional.
var Header = []string{
	"studentId", "prefix", "firstName", "lastName", "class",
	"q1", "q2", "q3", "q4", "q5", "q6", "q7", "q8", "q9", "q9a", "q9b",
}

var optional = map[string]bool{"prefix": true, "q9a": true, "q9b": true}

var (
	ErrNoSheet     = core.NewValidationError(errors.New("ไฟล์ไม่มีแผ่นงาน"))
	ErrNoRows      = core.NewValidationError(errors.New("ไม่พบข้อมูลนักเรียนในไฟล์"))
	ErrTooManyRows = core.NewValidationError(fmt.Errorf("ไฟล์มีข้อมูลเกิน %d แถว", MaxRows))
)

// Sheet is a parsed spreadsheet. Lines holds the spreadsheet row number of each row.
type Sheet struct {
	Rows   []student.ImportRow
	Lines  []int
	Errors []student.RowError
}

// Parse reads the first sheet of an xlsx file. Rows that cannot be parsed
// are reported in Sheet.Errors with their spreadsheet row number.
func Parse(r io.Reader) (Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Sheet{}, core.NewValidationError(errors.Wrap(err, "อ่านไฟล์ Excel ไม่ได้"))
	}
	defer f.Close()

	name := f.GetSheetName(0)
	if name == "" {
		return Sheet{}, ErrNoSheet
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return Sheet{}, errors.Wrap(err, "reading rows")
	}
	return parseRows(rows)
}

func parseRows(rows [][]string) (Sheet, error) {
	if len(rows) < 2 {
		return Sheet{}, ErrNoRows
	}
	if len(rows)-1 > MaxRows {
		return Sheet{}, ErrTooManyRows
	}
	cols, err := columns(rows[0])
	if err != nil {
		return Sheet{}, err
	}

	var sheet Sheet
	for i, cells := range rows[1:] {
		line := i + 2
		if blank(cells) {
			continue
		}
		row, err := parseRow(cols, cells)
		if err != nil {
			sheet.Errors = append(sheet.Errors, student.RowError{Row: line, StudentCode: row.StudentCode, Message: err.Error()})
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
		sheet.Lines = append(sheet.Lines, line)
	}
	if len(sheet.Rows) == 0 && len(sheet.Errors) == 0 {
		return Sheet{}, ErrNoRows
	}
	return sheet, nil
}

// columns maps the header names to their column index.
func columns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(Header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, want := range Header {
			if h == strings.ToLower(want) {
				cols[want] = i
			}
		}
	}
	var missing []core.FieldError
	for _, want := range Header {
		if _, ok := cols[want]; !ok && !optional[want] {
			missing = append(missing, core.FieldError{Field: want, Error: "ไม่พบคอลัมน์ " + want})
		}
	}
	if len(missing) > 0 {
		return nil, core.NewValidationError(errors.New("หัวตารางไม่ถูกต้อง"), missing...)
	}
	return cols, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cell(cols map[string]int, cells []string, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

func parseRow(cols map[string]int, cells []string) (student.ImportRow, error) {
	row := student.ImportRow{
		StudentCode: cell(cols, cells, "studentId"),
		Prefix:      cell(cols, cells, "prefix"),
		FirstName:   cell(cols, cells, "firstName"),
		LastName:    cell(cols, cells, "lastName"),
		Class:       cell(cols, cells, "class"),
	}

	scores := []*int{
		&row.Q1, &row.Q2, &row.Q3, &row.Q4, &row.Q5, &row.Q6, &row.Q7, &row.Q8, &row.Q9,
	}
	for i, dst := range scores {
		name := "q" + strconv.Itoa(i+1)
		v := cell(cols, cells, name)
		n, err := strconv.Atoi(v)
		if err != nil {
			if f, ferr := strconv.ParseFloat(v, 64); ferr == nil && f == float64(int(f)) {
				n, err = int(f), nil
			}
		}
		if err != nil {
			return row, fmt.Errorf("%s: คะแนนไม่ถูกต้อง (%q)", name, v)
		}
		*dst = n
	}

	var err error
	if row.Q9a, err = parseBool(cell(cols, cells, "q9a")); err != nil {
		return row, fmt.Errorf("q9a: %v", err)
	}
	if row.Q9b, err = parseBool(cell(cols, cells, "q9b")); err != nil {
		return row, fmt.Errorf("q9b: %v", err)
	}
	return row, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "", "0", "false", "no", "n", "ไม่", "ไม่ใช่":
		return false, nil
	case "1", "true", "yes", "y", "ใช่":
		return true, nil
	}
	return false, fmt.Errorf("ค่าไม่ถูกต้อง (%q)", v)
}

// Merge maps the row numbers of an import summary back to spreadsheet
// lines and adds the parse errors, ordered by line.
func (s Sheet) Merge(summary student.ImportSummary) student.ImportSummary {
	errs := make([]student.RowError, 0, len(summary.Errors)+len(s.Errors))
	for _, e := range summary.Errors {
		if e.Row >= 1 && e.Row <= len(s.Lines) {
			e.Row = s.Lines[e.Row-1]
		}
		errs = append(errs, e)
	}
	errs = append(errs, s.Errors...)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Row < errs[j].Row })
	summary.Errors = errs
	return summary
}

// Template returns an empty spreadsheet with the header row.
func Template() (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, h := range Header {
		cellName, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cellName, h); err != nil {
			return nil, err
		}
	}
	return f, nil
}
