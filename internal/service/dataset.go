package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/finapi"
	"github.com/ngirimana/finindex/internal/importer"
	"github.com/ngirimana/finindex/internal/listview"
	"github.com/ngirimana/finindex/internal/scoring"
)

// DatasetService serves the country-data views and their maintenance.
type DatasetService struct {
	api    *finapi.API
	gate   gate
	logger *slog.Logger
}

// RankedRecord is one row of the ranking table.
type RankedRecord struct {
	domain.CountryRecord
	Rank     int          `json:"rank"`
	Band     scoring.Band `json:"band"`
	Startups int          `json:"startups"`
}

// YearView is the ranking table of one year.
type YearView struct {
	Year    int                   `json:"year"`
	Years   []int                 `json:"years"`
	Sort    listview.SortSpec     `json:"sort"`
	Rows    []RankedRecord        `json:"rows"`
	Summary domain.DatasetSummary `json:"summary"`
	Legend  []scoring.Band        `json:"legend"`
	// CountsError is set when startup counts could not be loaded; the table
	// is still served.
	CountsError string `json:"countsError,omitempty"`
}

// Years lists the years with data, newest first.
func (s *DatasetService) Years(ctx context.Context) ([]int, error) {
	return s.api.FetchAvailableYears(ctx)
}

// LatestYear is the newest year with data, or fallback when there is none.
func (s *DatasetService) LatestYear(ctx context.Context, fallback int) int {
	years, err := s.api.FetchAvailableYears(ctx)
	if err != nil || len(years) == 0 {
		return fallback
	}
	return years[0]
}

// YearView builds the ranking table for year. On error the last good rows
// are still returned.
func (s *DatasetService) YearView(ctx context.Context, year int, spec listview.SortSpec) (YearView, error) {
	rows, err := s.api.FetchByYear(ctx, year)
	years, _ := s.api.FetchAvailableYears(ctx)
	sorted, spec := listview.CountryTable(rows, spec)

	view := YearView{
		Year:    year,
		Years:   years,
		Sort:    spec,
		Rows:    make([]RankedRecord, len(sorted)),
		Summary: domain.Summarize(sorted),
		Legend:  scoring.Bands(),
	}
	if view.Years == nil {
		view.Years = []int{}
	}

	counts := map[string]int{}
	list, cErr := s.api.FetchStartupCountsByYear(ctx, year)
	if cErr != nil {
		view.CountsError = Failure(cErr, "Failed to load startup counts").Message
	}
	for _, c := range list {
		counts[c.Country] = c.Count
	}
	for i, r := range sorted {
		view.Rows[i] = RankedRecord{CountryRecord: r, Rank: i + 1, Band: scoring.Classify(r.FinalScore), Startups: counts[r.Name]}
	}
	return view, err
}

// Trend returns the rows charted for the selected year: every year up to and
// including it, or every row when none qualifies. countries narrows the
// result when not empty. Rows are ordered by country then year ascending.
func (s *DatasetService) Trend(ctx context.Context, year int, countries []string) ([]domain.CountryRecord, error) {
	all, err := s.api.FetchAll(ctx)
	rows := listview.Filter(all, func(r domain.CountryRecord) bool { return r.Year <= year })
	if len(rows) == 0 {
		rows = append([]domain.CountryRecord(nil), all...)
	}
	if len(countries) > 0 {
		want := make(map[string]struct{}, len(countries))
		for _, c := range countries {
			want[c] = struct{}{}
		}
		rows = listview.Filter(rows, func(r domain.CountryRecord) bool {
			_, ok := want[r.Name]
			return ok
		})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].Year < rows[j].Year
	})
	return rows, err
}

// Countries lists the country names present in the dataset.
func (s *DatasetService) Countries(ctx context.Context) ([]string, error) {
	all, err := s.api.FetchAll(ctx)
	out := domain.Countries(all)
	if out == nil {
		out = []string{}
	}
	return out, err
}

// Resolve maps (name, year) keys onto persisted ids using the all-years
// snapshot. Keys that match nothing are reported as a validation error
// wrapping ErrNotFound.
func (s *DatasetService) Resolve(ctx context.Context, keys []domain.RecordKey) ([]string, error) {
	all, err := s.api.FetchAll(ctx)
	if err != nil && len(all) == 0 {
		return nil, err
	}
	index := make(map[domain.RecordKey]string, len(all))
	for _, r := range all {
		if r.ObjectID != "" {
			index[r.Key()] = r.ObjectID
		}
	}
	ids := make([]string, 0, len(keys))
	var unknown []string
	for _, k := range keys {
		id, ok := index[k]
		if !ok {
			unknown = append(unknown, k.String())
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, &ValidationError{Message: "No valid records found to delete", Problems: unknown, Err: ErrNotFound}
	}
	if len(unknown) > 0 {
		return nil, &ValidationError{Message: "Some selected records no longer exist", Problems: unknown, Err: ErrNotFound}
	}
	return ids, nil
}

// DeleteAll clears the dataset.
func (s *DatasetService) DeleteAll(ctx context.Context, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionDeleteCountryData); err != nil {
		return Failure(err, ""), err
	}
	if err := confirm(ctx, c, "Are you sure you want to clear all stored data? This action cannot be undone."); err != nil {
		return Failure(err, ""), err
	}
	res, err := s.api.DeleteAll(ctx)
	if err != nil {
		return Failure(err, "Failed to clear data"), err
	}
	s.logger.Info("dataset cleared", "deleted", res.DeletedCount)
	return Success(fmt.Sprintf("All data cleared. %d records deleted. Before: %s, After: %s",
		res.DeletedCount, countOrDash(res.BeforeCount), countOrDash(res.AfterCount))), nil
}

func countOrDash(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

// DeleteByYear removes one year of data.
func (s *DatasetService) DeleteByYear(ctx context.Context, year int, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionDeleteCountryData); err != nil {
		return Failure(err, ""), err
	}
	prompt := fmt.Sprintf("Are you sure you want to delete all data for year %d? This action cannot be undone.", year)
	if err := confirm(ctx, c, prompt); err != nil {
		return Failure(err, ""), err
	}
	res, err := s.api.DeleteByYear(ctx, year)
	if err != nil {
		return Failure(err, "Failed to delete data by year"), err
	}
	return Success(fmt.Sprintf("Successfully deleted %d records for year %d", res.DeletedCount, year)), nil
}

// DeleteByCountry removes every year of one country.
func (s *DatasetService) DeleteByCountry(ctx context.Context, country string, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionDeleteCountryData); err != nil {
		return Failure(err, ""), err
	}
	country = strings.TrimSpace(country)
	if country == "" {
		err := invalid("Select a country to delete")
		return Failure(err, ""), err
	}
	prompt := fmt.Sprintf("Are you sure you want to delete all data for %s? This action cannot be undone.", country)
	if err := confirm(ctx, c, prompt); err != nil {
		return Failure(err, ""), err
	}
	res, err := s.api.DeleteByCountry(ctx, country)
	if err != nil {
		return Failure(err, "Failed to delete data by country"), err
	}
	return Success(fmt.Sprintf("Successfully deleted %d records for %s", res.DeletedCount, country)), nil
}

// DeleteSelected removes the records identified by keys.
func (s *DatasetService) DeleteSelected(ctx context.Context, keys []domain.RecordKey, c Confirmer) (Notice, error) {
	if _, err := s.gate.require(domain.ActionDeleteCountryData); err != nil {
		return Failure(err, ""), err
	}
	if len(keys) == 0 {
		err := invalid("No records selected")
		return Failure(err, ""), err
	}
	prompt := fmt.Sprintf("Are you sure you want to delete %d selected records? This action cannot be undone.", len(keys))
	if err := confirm(ctx, c, prompt); err != nil {
		return Failure(err, ""), err
	}
	ids, err := s.Resolve(ctx, keys)
	if err != nil {
		return Failure(err, "Failed to delete selected records"), err
	}
	res, err := s.api.DeleteSelective(ctx, ids)
	if err != nil {
		return Failure(err, "Failed to delete selected records"), err
	}
	return Success(fmt.Sprintf("Successfully deleted %d selected records", res.DeletedCount)), nil
}

// ImportReport is the outcome of a bulk import.
type ImportReport struct {
	Notice     Notice                `json:"notice"`
	Validation importer.Result       `json:"validation"`
	Summary    domain.DatasetSummary `json:"summary"`
}

// Import validates rows, uploads them when every row passes and reports the
// refreshed dataset. Nothing is sent when validation fails.
func (s *DatasetService) Import(ctx context.Context, rows []importer.Row, targetYear int) (ImportReport, error) {
	if _, err := s.gate.require(domain.ActionUploadCountryData); err != nil {
		return ImportReport{Notice: Failure(err, "")}, err
	}
	report := ImportReport{Validation: importer.Validate(rows, targetYear)}
	if !report.Validation.IsValid {
		err := invalid("Validation failed", report.Validation.Errors...)
		report.Notice = Failure(err, "")
		return report, err
	}

	if _, err := s.api.BulkUpload(ctx, report.Validation.ValidData); err != nil {
		report.Notice = Failure(err, "Failed to upload data to backend")
		return report, err
	}
	latest, err := s.api.FetchAll(ctx)
	if err != nil {
		report.Notice = Failure(err, "Failed to upload or fetch data")
		return report, err
	}
	report.Summary = domain.Summarize(latest)
	years := make([]string, len(report.Summary.Years))
	for i, y := range report.Summary.Years {
		years[i] = strconv.Itoa(y)
	}
	report.Notice = Success(fmt.Sprintf("Successfully imported %d countries", report.Summary.Records),
		"Years included: "+strings.Join(years, ", "),
		fmt.Sprintf("Total fintech companies: %d", report.Summary.FintechCompanies),
	)
	s.logger.Info("dataset imported", "rows", len(report.Validation.ValidData), "records", report.Summary.Records)
	return report, nil
}

// ImportFile reads a CSV or XLSX file and imports it.
func (s *DatasetService) ImportFile(ctx context.Context, name string, r io.Reader, targetYear int) (ImportReport, error) {
	if _, err := s.gate.require(domain.ActionUploadCountryData); err != nil {
		return ImportReport{Notice: Failure(err, "")}, err
	}
	table, err := importer.Read(name, r)
	if err != nil {
		vErr := invalid("Failed to process file", err.Error())
		return ImportReport{Notice: Failure(vErr, "")}, vErr
	}
	return s.Import(ctx, table.Rows, targetYear)
}

// Export writes the ranking table of year in the requested format.
func (s *DatasetService) Export(ctx context.Context, w io.Writer, year int, spec listview.SortSpec, format importer.Format) error {
	rows, err := s.api.FetchByYear(ctx, year)
	if err != nil {
		return err
	}
	sorted, _ := listview.CountryTable(rows, spec)
	return importer.WriteTable(w, format, importer.ExportHeader, importer.ExportRows(sorted))
}

// Legend returns the score bands of the map legend.
func (s *DatasetService) Legend() []scoring.Band {
	return scoring.Bands()
}
