package listview

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ngirimana/finindex/internal/domain"
)

// StartupFilter is the directory's filter bar.
type StartupFilter struct {
	Search  string `json:"search" form:"search"`
	Country string `json:"country" form:"country"`
	Sector  string `json:"sector" form:"sector"`
}

// Active reports whether any filter is set.
func (f StartupFilter) Active() bool {
	return f.Search != "" || f.Country != "" || f.Sector != ""
}

// Signature changes whenever the filter does; pagers reset on it.
func (f StartupFilter) Signature() string {
	return strings.Join([]string{strings.ToLower(f.Search), f.Country, strings.ToLower(f.Sector)}, "\x1f")
}

// StartupPage is one rendering of the directory.
type StartupPage struct {
	Items    []domain.Startup `json:"items"`
	Matched  int              `json:"matched"`
	Total    int              `json:"total"`
	HasMore  bool             `json:"hasMore"`
	Filtered bool             `json:"filtered"`
	Sectors  []string         `json:"sectors"`
	Pager    Pager            `json:"pager"`
}

var startupKeys = map[string]Key[domain.Startup]{
	"foundedYear": func(s domain.Startup) float64 { return float64(s.FoundedYear) },
	"addedAt": func(s domain.Startup) float64 {
		if s.AddedAt.IsZero() {
			return 0
		}
		return float64(s.AddedAt.UnixMilli())
	},
}

// FilterStartups applies the directory filter: search over name, description
// and website; exact country; sector substring.
func FilterStartups(startups []domain.Startup, f StartupFilter) []domain.Startup {
	return Filter(startups,
		Search(f.Search,
			func(s domain.Startup) string { return s.Name },
			func(s domain.Startup) string { return s.Description },
			func(s domain.Startup) string { return s.Website },
		),
		Equals(f.Country, func(s domain.Startup) string { return s.Country }),
		AnyContains(f.Sector, func(s domain.Startup) []string { return s.Sector }),
	)
}

// StartupDirectory renders the public directory: approved startups only,
// newest founded first.
func StartupDirectory(startups []domain.Startup, f StartupFilter, pager Pager) StartupPage {
	approved := Filter(startups, func(s domain.Startup) bool {
		return s.VerificationStatus == domain.StatusApproved
	})
	matched := Sort(FilterStartups(approved, f), SortSpec{Field: "foundedYear", Dir: Desc}, startupKeys)
	pager = pager.Apply(f.Signature())
	items, more := Page(matched, pager.Visible)
	return StartupPage{
		Items:    items,
		Matched:  len(matched),
		Total:    len(approved),
		HasMore:  more,
		Filtered: f.Active(),
		Sectors:  SectorCatalogue(approved),
		Pager:    pager,
	}
}

// PendingStep is the page step of the admin review queue.
const PendingStep = 3

// PendingQueue pages the review queue. The pager resets whenever the queue
// length changes.
func PendingQueue(pending []domain.Startup, pager Pager) StartupPage {
	if pager.Step <= 0 {
		pager.Step = PendingStep
	}
	pager = pager.Apply(strconv.Itoa(len(pending)))
	items, more := Page(pending, pager.Visible)
	return StartupPage{
		Items:   items,
		Matched: len(pending),
		Total:   len(pending),
		HasMore: more,
		Sectors: []string{},
		Pager:   pager,
	}
}

// SectorCatalogue is the sorted union of every startup's sectors.
func SectorCatalogue(startups []domain.Startup) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, s := range startups {
		for _, sec := range s.Sector {
			if _, ok := seen[sec]; ok {
				continue
			}
			seen[sec] = struct{}{}
			out = append(out, sec)
		}
	}
	sort.Strings(out)
	return out
}

// CountryKeys are the sortable columns of the country table.
var CountryKeys = map[string]Key[domain.CountryRecord]{
	"finalScore":            func(r domain.CountryRecord) float64 { return domain.FloatValue(r.FinalScore) },
	"literacyRate":          func(r domain.CountryRecord) float64 { return domain.FloatValue(r.LiteracyRate) },
	"digitalInfrastructure": func(r domain.CountryRecord) float64 { return domain.FloatValue(r.DigitalInfrastructure) },
	"investment":            func(r domain.CountryRecord) float64 { return domain.FloatValue(r.Investment) },
	"fintechCompanies":      func(r domain.CountryRecord) float64 { return float64(domain.IntValue(r.FintechCompanies)) },
	"population":            func(r domain.CountryRecord) float64 { return float64(domain.IntValue(r.Population)) },
	"gdp":                   func(r domain.CountryRecord) float64 { return domain.FloatValue(r.GDP) },
	"year":                  func(r domain.CountryRecord) float64 { return float64(r.Year) },
}

// DefaultCountrySort ranks by final score, best first.
var DefaultCountrySort = SortSpec{Field: "finalScore", Dir: Desc}

// CountryTable sorts records for the ranking table. An unknown field falls
// back to the default sort.
func CountryTable(records []domain.CountryRecord, spec SortSpec) ([]domain.CountryRecord, SortSpec) {
	if _, ok := CountryKeys[spec.Field]; !ok {
		spec = DefaultCountrySort
	}
	if spec.Dir != Asc {
		spec.Dir = Desc
	}
	return Sort(records, spec, CountryKeys), spec
}
