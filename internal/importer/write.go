package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/ngirimana/finindex/internal/domain"
)

// ExportFileName is the download name of the ranking table.
const ExportFileName = "african-fintech-index.csv"

// ExportHeader is the column row of the ranking export.
var ExportHeader = []string{
	"Country",
	"Year",
	"Final Score",
	"Literacy Rate",
	"Digital Infrastructure",
	"Investment",
	"Fintech Companies",
	"Population",
	"GDP (Billion USD)",
}

// ImportHeader is the column row an import file is expected to carry.
var ImportHeader = []string{
	"id", "name", "year", "literacyRate", "digitalInfrastructure", "investment",
	"population", "gdp", "fintechCompanies",
}

const notAvailable = "N/A"

// ExportRows formats records as the ranking table, in the given order.
func ExportRows(records []domain.CountryRecord) [][]string {
	out := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{
			r.Name,
			strconv.Itoa(r.Year),
			fixed1(r.FinalScore),
			fixed1(r.LiteracyRate),
			fixed1(r.DigitalInfrastructure),
			fixed1(r.Investment),
			notAvailable,
			notAvailable,
			notAvailable,
		}
		if r.FintechCompanies != nil {
			row[6] = strconv.FormatInt(*r.FintechCompanies, 10)
		}
		if r.Population != nil && *r.Population > 0 {
			row[7] = strconv.FormatFloat(float64(*r.Population)/1e6, 'f', 1, 64) + "M"
		}
		if r.GDP != nil && *r.GDP > 0 {
			row[8] = strconv.FormatFloat(*r.GDP, 'f', 1, 64)
		}
		out = append(out, row)
	}
	return out
}

func fixed1(p *float64) string {
	if p == nil {
		return notAvailable
	}
	return strconv.FormatFloat(*p, 'f', 1, 64)
}

// ImportRows formats records in the import layout so an export can be fed
// back through Validate.
func ImportRows(records []domain.CountryRecord) [][]string {
	opt := func(p *float64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatFloat(*p, 'f', -1, 64)
	}
	optInt := func(p *int64) string {
		if p == nil {
			return ""
		}
		return strconv.FormatInt(*p, 10)
	}
	out := make([][]string, 0, len(records))
	for _, r := range records {
		out = append(out, []string{
			r.ID, r.Name, strconv.Itoa(r.Year),
			opt(r.LiteracyRate), opt(r.DigitalInfrastructure), opt(r.Investment),
			optInt(r.Population), opt(r.GDP), optInt(r.FintechCompanies),
		})
	}
	return out
}

// WriteTable writes header and rows in the given format.
func WriteTable(w io.Writer, format Format, header []string, rows [][]string) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, header, rows)
	case FormatXLSX:
		return writeXLSX(w, header, rows)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

const sheetName = "Index"

func writeXLSX(w io.Writer, header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	put := func(rowNum int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		line := make([]interface{}, len(values))
		for i, v := range values {
			line[i] = v
		}
		return f.SetSheetRow(sheetName, cell, &line)
	}

	if err := put(1, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	for i, row := range rows {
		if err := put(i+2, row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
