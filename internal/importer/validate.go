// Package importer reads country-data and startup spreadsheets, validates
// country-data rows before upload and writes the ranking table back out.
package importer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/scoring"
)

// Row is one parsed line keyed by column header. Values are strings when read
// from a file but may be numbers when rows come from JSON.
type Row map[string]any

// Result of validating a batch. Errors are per row; ValidData holds the rows
// that passed even when others failed, but a batch is only uploaded when
// IsValid is true.
type Result struct {
	IsValid   bool                   `json:"isValid"`
	Errors    []string               `json:"errors"`
	ValidData []domain.CountryRecord `json:"validData"`
}

// Year bounds accepted in an import file.
const (
	MinYear = 2000
	MaxYear = 2030
)

var (
	requiredFields = []string{"name", "literacyRate", "digitalInfrastructure", "investment"}
	scoreFields    = []string{"literacyRate", "digitalInfrastructure", "investment"}
)

// Validate checks rows against the import schema. Rows without a year get
// targetYear. Row numbers in messages are 1-based and the first failing rule
// is the only one reported for a row.
func Validate(rows []Row, targetYear int) Result {
	res := Result{Errors: []string{}, ValidData: []domain.CountryRecord{}}
	if len(rows) == 0 {
		res.Errors = append(res.Errors, "File is empty or has no valid data rows")
		return res
	}

	seen := make(map[domain.RecordKey]int, len(rows))
	for i, row := range rows {
		n := i + 1
		rec, msg := validateRow(row, targetYear)
		if msg != "" {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: %s", n, msg))
			continue
		}
		if _, dup := seen[rec.Key()]; dup {
			res.Errors = append(res.Errors, fmt.Sprintf("Row %d: Duplicate entry for %s", n, rec.Key()))
			continue
		}
		seen[rec.Key()] = n
		res.ValidData = append(res.ValidData, rec)
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

func validateRow(row Row, targetYear int) (domain.CountryRecord, string) {
	var missing []string
	for _, f := range requiredFields {
		if !present(row[f]) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return domain.CountryRecord{}, "Missing required fields: " + strings.Join(missing, ", ")
	}

	scores := make([]float64, len(scoreFields))
	var invalid []string
	for i, f := range scoreFields {
		v, ok := number(row[f])
		if !ok || v < 0 || v > 100 {
			invalid = append(invalid, f)
			continue
		}
		scores[i] = v
	}
	if len(invalid) > 0 {
		return domain.CountryRecord{}, "Invalid numeric values (must be 0-100): " + strings.Join(invalid, ", ")
	}

	year := targetYear
	if present(row["year"]) {
		v, ok := integer(row["year"])
		if !ok || v < MinYear || v > MaxYear {
			return domain.CountryRecord{}, fmt.Sprintf("Invalid year (must be between %d-%d)", MinYear, MaxYear)
		}
		year = int(v)
	}

	rec := domain.CountryRecord{
		Name:                  strings.TrimSpace(text(row["name"])),
		Year:                  year,
		LiteracyRate:          domain.Float(scores[0]),
		DigitalInfrastructure: domain.Float(scores[1]),
		Investment:            domain.Float(scores[2]),
		FinalScore:            domain.Float(scoring.Derive(scores[0], scores[1], scores[2])),
	}

	if present(row["fintechCompanies"]) {
		v, ok := integer(row["fintechCompanies"])
		if !ok || v < 0 {
			return domain.CountryRecord{}, "Invalid fintech companies count (must be a positive number)"
		}
		rec.FintechCompanies = domain.Int(v)
	}
	if present(row["population"]) {
		v, ok := number(row["population"])
		if !ok || v < 0 {
			return domain.CountryRecord{}, "Invalid population (must be a non-negative number)"
		}
		rec.Population = domain.Int(int64(math.Round(v)))
	}
	if present(row["gdp"]) {
		v, ok := number(row["gdp"])
		if !ok || v < 0 {
			return domain.CountryRecord{}, "Invalid GDP (must be a non-negative number)"
		}
		rec.GDP = domain.Float(v)
	}

	rec.ID = strings.TrimSpace(text(row["id"]))
	if rec.ID == "" {
		rec.ID = strings.ToUpper(prefix(rec.Name, 2))
	}
	return rec, ""
}

// present treats nil and blank strings as missing; zero is a value.
func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// integer accepts whole numbers only; "12" and 12.0 pass, "12.5" does not.
func integer(v any) (int64, bool) {
	f, ok := number(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
