package domain

import (
	"fmt"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// CountryRecord is one country's metrics for one year.
type CountryRecord struct {
	ObjectID              string   `json:"_id,omitempty"`
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Year                  int      `json:"year"`
	LiteracyRate          *float64 `json:"literacyRate"`
	DigitalInfrastructure *float64 `json:"digitalInfrastructure"`
	Investment            *float64 `json:"investment"`
	FinalScore            *float64 `json:"finalScore"`
	Population            *int64   `json:"population,omitempty"`
	GDP                   *float64 `json:"gdp,omitempty"`
	FintechCompanies      *int64   `json:"fintechCompanies,omitempty"`
}

// RecordKey identifies a record within a snapshot. Names may contain hyphens,
// so the key is a struct rather than a joined string.
type RecordKey struct {
	Name string `json:"name"`
	Year int    `json:"year"`
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s (%d)", k.Name, k.Year)
}

// Key returns the (name, year) identity of the record.
func (r CountryRecord) Key() RecordKey {
	return RecordKey{Name: r.Name, Year: r.Year}
}

// DedupeRecords drops repeated (name, year) pairs, keeping the first occurrence.
func DedupeRecords(records []CountryRecord) []CountryRecord {
	seen := make(map[RecordKey]struct{}, len(records))
	out := make([]CountryRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortByName orders records by country name using English collation, then by
// year descending. The sort is stable.
func SortByName(records []CountryRecord) {
	col := collate.New(language.English, collate.IgnoreCase)
	sort.SliceStable(records, func(i, j int) bool {
		if c := col.CompareString(records[i].Name, records[j].Name); c != 0 {
			return c < 0
		}
		return records[i].Year > records[j].Year
	})
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// FloatValue treats a missing value as zero.
func FloatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// IntValue treats a missing value as zero.
func IntValue(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
