package listview

import (
	"reflect"
	"testing"

	"github.com/ngirimana/finindex/internal/domain"
)

func startup(name, country string, year int, status domain.VerificationStatus, sectors ...string) domain.Startup {
	return domain.Startup{
		Name:               name,
		Country:            country,
		FoundedYear:        year,
		Sector:             sectors,
		VerificationStatus: status,
		Description:        name + " builds financial tools",
		Website:            "https://" + name + ".example",
	}
}

func names(items []domain.Startup) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.Name
	}
	return out
}

func TestFilterEmptyInput(t *testing.T) {
	got := FilterStartups(nil, StartupFilter{Search: "pay", Country: "Kenya"})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}
}

func TestFilterWithoutPredicatesKeepsEverything(t *testing.T) {
	items := []domain.Startup{
		startup("b", "Ghana", 2019, domain.StatusApproved),
		startup("a", "Kenya", 2020, domain.StatusApproved),
	}
	got := FilterStartups(items, StartupFilter{})
	if !reflect.DeepEqual(names(got), []string{"b", "a"}) {
		t.Fatalf("expected input order, got %v", names(got))
	}
}

func TestStartupPredicates(t *testing.T) {
	items := []domain.Startup{
		startup("Paystack", "Nigeria", 2015, domain.StatusApproved, "Payments", "API"),
		startup("M-Kopa", "Kenya", 2011, domain.StatusApproved, "Energy", "Credit"),
		startup("Wave", "Senegal", 2018, domain.StatusApproved, "Mobile Money"),
	}

	if got := names(FilterStartups(items, StartupFilter{Search: "PAYSTACK.example"})); !reflect.DeepEqual(got, []string{"Paystack"}) {
		t.Fatalf("search should match website ignoring case, got %v", got)
	}
	if got := names(FilterStartups(items, StartupFilter{Country: "kenya"})); len(got) != 0 {
		t.Fatalf("country match is exact, got %v", got)
	}
	if got := names(FilterStartups(items, StartupFilter{Sector: "money"})); !reflect.DeepEqual(got, []string{"Wave"}) {
		t.Fatalf("sector is a substring match, got %v", got)
	}
	if got := names(FilterStartups(items, StartupFilter{Search: "tools", Sector: "cred"})); !reflect.DeepEqual(got, []string{"M-Kopa"}) {
		t.Fatalf("predicates combine with AND, got %v", got)
	}
}

func TestSortToggle(t *testing.T) {
	spec := DefaultCountrySort
	spec = spec.Toggle("finalScore")
	if spec.Dir != Asc {
		t.Fatalf("re-selecting the field should flip to asc, got %s", spec.Dir)
	}
	spec = spec.Toggle("finalScore")
	if spec.Dir != Desc {
		t.Fatalf("second toggle should flip back, got %s", spec.Dir)
	}
	spec = spec.Toggle("investment").Toggle("investment").Toggle("gdp")
	if spec.Field != "gdp" || spec.Dir != Desc {
		t.Fatalf("a new field starts descending, got %+v", spec)
	}
}

func TestSortIsStableAndTreatsMissingAsZero(t *testing.T) {
	records := []domain.CountryRecord{
		{Name: "Chad", FinalScore: nil},
		{Name: "Kenya", FinalScore: domain.Float(70)},
		{Name: "Benin", FinalScore: domain.Float(0)},
		{Name: "Ghana", FinalScore: domain.Float(70)},
	}
	got, spec := CountryTable(records, SortSpec{})
	if spec != DefaultCountrySort {
		t.Fatalf("unknown field should fall back to the default sort, got %+v", spec)
	}
	want := []string{"Kenya", "Ghana", "Chad", "Benin"}
	for i, r := range got {
		if r.Name != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], r.Name)
		}
	}
	if records[0].Name != "Chad" {
		t.Fatalf("input must not be reordered")
	}
}

func TestFilterCommutesWithSort(t *testing.T) {
	items := []domain.Startup{
		startup("Flutterwave", "Nigeria", 2016, domain.StatusApproved, "Payments"),
		startup("Chipper", "Uganda", 2018, domain.StatusApproved, "Payments"),
		startup("Kuda", "Nigeria", 2019, domain.StatusApproved, "Banking"),
		startup("Paga", "Nigeria", 2009, domain.StatusApproved, "Payments"),
	}
	f := StartupFilter{Country: "Nigeria"}
	spec := SortSpec{Field: "foundedYear", Dir: Desc}

	a := Sort(FilterStartups(items, f), spec, startupKeys)
	b := FilterStartups(Sort(items, spec, startupKeys), f)
	if !reflect.DeepEqual(names(a), names(b)) {
		t.Fatalf("filter/sort should commute: %v vs %v", names(a), names(b))
	}
}

func TestStartupDirectoryPaging(t *testing.T) {
	var items []domain.Startup
	for i := 0; i < 14; i++ {
		items = append(items, startup(string(rune('a'+i)), "Kenya", 2000+i, domain.StatusApproved, "Payments"))
	}
	items = append(items, startup("hidden", "Kenya", 2030, domain.StatusPending))

	page := StartupDirectory(items, StartupFilter{}, NewPager(DefaultStep))
	if len(page.Items) != 6 || !page.HasMore || page.Total != 14 {
		t.Fatalf("unexpected first page: %d items, more=%v total=%d", len(page.Items), page.HasMore, page.Total)
	}
	if page.Items[0].Name != "n" {
		t.Fatalf("newest founded should come first, got %s", page.Items[0].Name)
	}

	page = StartupDirectory(items, StartupFilter{}, page.Pager.More().More())
	if len(page.Items) != 14 || page.HasMore {
		t.Fatalf("expected everything after two more steps, got %d", len(page.Items))
	}

	page = StartupDirectory(items, StartupFilter{Search: "a"}, page.Pager)
	if page.Pager.Visible != DefaultStep {
		t.Fatalf("a filter change should reset the pager, got %d", page.Pager.Visible)
	}
	if !page.Filtered {
		t.Fatalf("page should report an active filter")
	}
	if !reflect.DeepEqual(page.Sectors, []string{"Payments"}) {
		t.Fatalf("unexpected sector catalogue %v", page.Sectors)
	}
}

func TestPendingQueueResetsOnLengthChange(t *testing.T) {
	pending := make([]domain.Startup, 7)
	page := PendingQueue(pending, Pager{})
	if len(page.Items) != PendingStep {
		t.Fatalf("expected %d items, got %d", PendingStep, len(page.Items))
	}
	page = PendingQueue(pending, page.Pager.More())
	if len(page.Items) != 6 {
		t.Fatalf("expected 6 items, got %d", len(page.Items))
	}
	page = PendingQueue(pending[:5], page.Pager)
	if len(page.Items) != PendingStep {
		t.Fatalf("queue change should reset paging, got %d", len(page.Items))
	}
}

func TestSectorCatalogue(t *testing.T) {
	items := []domain.Startup{
		startup("a", "", 0, domain.StatusApproved, "Payments", "Lending"),
		startup("b", "", 0, domain.StatusApproved, "Insurance", "Payments"),
	}
	if got := SectorCatalogue(items); !reflect.DeepEqual(got, []string{"Insurance", "Lending", "Payments"}) {
		t.Fatalf("unexpected catalogue %v", got)
	}
}
