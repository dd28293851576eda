package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/trezcool/phqcare/core/access"
	"github.com/trezcool/phqcare/core/student"
	"github.com/trezcool/phqcare/services/phqimport"
)

var importFs = afero.NewOsFs() // mockable

// importPHQ imports a spreadsheet on behalf of the system.
func (cli *commandLine) importPHQ(schoolID string, year, round int, path string) error {
	f, err := importFs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sheet, err := phqimport.Parse(f)
	if err != nil {
		return err
	}
	summary := student.ImportSummary{}
	if len(sheet.Rows) > 0 {
		batch := student.ImportBatch{AcademicYear: year, Round: round, Rows: sheet.Rows}
		if summary, err = cli.studentSvc.Import(context.Background(), access.SystemAdmin{UserID: "admin-cli"}, schoolID, batch); err != nil {
			return err
		}
	}
	summary = sheet.Merge(summary)

	fmt.Fprintf(cli.out, "imported %d (created %d, updated %d)\n", summary.Imported, summary.Created, summary.Updated)
	for level, n := range summary.ByRisk {
		fmt.Fprintf(cli.out, "  %s: %d\n", level, n)
	}
	for _, e := range summary.Errors {
		fmt.Fprintf(cli.out, "row %d: %s\n", e.Row, e.Message)
	}
	return nil
}
