package finapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/ngirimana/finindex/internal/cache"
	"github.com/ngirimana/finindex/internal/domain"
	"github.com/ngirimana/finindex/internal/isocode"
	"github.com/ngirimana/finindex/internal/remote"
)

// Cache keys of the country-data queries.
const (
	KeyAllCountryData = "countryData/all"
	KeyYears          = "countryData/years"
)

// KeyCountryDataByYear is the cache key of FetchByYear(year).
func KeyCountryDataByYear(year int) string {
	return "countryData/year/" + strconv.Itoa(year)
}

// KeyStartupCounts is the cache key of FetchStartupCountsByYear(year).
func KeyStartupCounts(year int) string {
	return "startupCounts/year/" + strconv.Itoa(year)
}

func yearTag(year int) cache.Tag {
	return cache.Tag{Type: TagCountryData, ID: "YEAR-" + strconv.Itoa(year)}
}

// FetchAll returns every country-year record, normalized. Each record is
// tagged by its _id and the snapshot as a whole by LIST.
func (a *API) FetchAll(ctx context.Context) ([]domain.CountryRecord, error) {
	return cache.Query(ctx, a.cache, KeyAllCountryData, func(ctx context.Context) ([]domain.CountryRecord, []cache.Tag, error) {
		var rows []domain.CountryRecord
		if err := a.getJSON(ctx, "country-data", &rows); err != nil {
			return nil, nil, err
		}
		rows = isocode.NormalizeRecords(rows)
		tags := make([]cache.Tag, 0, len(rows)+1)
		for _, r := range rows {
			if r.ObjectID != "" {
				tags = append(tags, cache.Tag{Type: TagCountryData, ID: r.ObjectID})
			}
		}
		tags = append(tags, cache.Tag{Type: TagCountryData, ID: IDList})
		return rows, tags, nil
	})
}

// FetchByYear returns the normalized records of one year.
func (a *API) FetchByYear(ctx context.Context, year int) ([]domain.CountryRecord, error) {
	return cache.Query(ctx, a.cache, KeyCountryDataByYear(year), func(ctx context.Context) ([]domain.CountryRecord, []cache.Tag, error) {
		resp, err := a.do(ctx, remote.Request{
			Method: http.MethodGet,
			Path:   "country-data",
			Query:  url.Values{"year": []string{strconv.Itoa(year)}},
		})
		if err != nil {
			return nil, nil, err
		}
		var rows []domain.CountryRecord
		if err := resp.Decode(&rows); err != nil {
			return nil, nil, err
		}
		return isocode.NormalizeRecords(rows), []cache.Tag{yearTag(year)}, nil
	})
}

// FetchAvailableYears returns the years with data, newest first.
func (a *API) FetchAvailableYears(ctx context.Context) ([]int, error) {
	return cache.Query(ctx, a.cache, KeyYears, func(ctx context.Context) ([]int, []cache.Tag, error) {
		var years []int
		if err := a.getJSON(ctx, "country-data/years", &years); err != nil {
			return nil, nil, err
		}
		return domain.YearsDesc(years), []cache.Tag{{Type: TagYears, ID: IDList}}, nil
	})
}

// FetchStartupCountsByYear returns approved startup counts per country.
func (a *API) FetchStartupCountsByYear(ctx context.Context, year int) ([]domain.StartupCount, error) {
	return cache.Query(ctx, a.cache, KeyStartupCounts(year), func(ctx context.Context) ([]domain.StartupCount, []cache.Tag, error) {
		resp, err := a.do(ctx, remote.Request{
			Method: http.MethodGet,
			Path:   "startups/counts",
			Query:  url.Values{"year": []string{strconv.Itoa(year)}},
		})
		if err != nil {
			return nil, nil, err
		}
		var counts []domain.StartupCount
		if err := resp.Decode(&counts); err != nil {
			return nil, nil, err
		}
		return counts, []cache.Tag{{Type: TagStartupCounts, ID: "YEAR-" + strconv.Itoa(year)}}, nil
	})
}

var yearsListTag = cache.Tag{Type: TagYears, ID: IDList}

// DeleteAll removes every country-data record.
func (a *API) DeleteAll(ctx context.Context) (domain.DeleteResult, error) {
	var res domain.DeleteResult
	err := a.mutate(ctx, remote.Request{Method: http.MethodDelete, Path: "country-data/delete-all"}, &res,
		cache.TypeTag(TagCountryData), yearsListTag)
	return res, err
}

// DeleteByYear removes one year. Cached views of other years stay valid.
func (a *API) DeleteByYear(ctx context.Context, year int) (domain.DeleteResult, error) {
	var res domain.DeleteResult
	err := a.mutate(ctx, remote.Request{
		Method: http.MethodDelete,
		Path:   "country-data/delete-by-year/" + strconv.Itoa(year),
	}, &res,
		yearTag(year), cache.Tag{Type: TagCountryData, ID: IDList}, yearsListTag)
	return res, err
}

// DeleteByCountry removes every year of one country. The country may appear
// in any year view, so the whole type is invalidated.
func (a *API) DeleteByCountry(ctx context.Context, name string) (domain.DeleteResult, error) {
	if name == "" {
		return domain.DeleteResult{}, fmt.Errorf("country name is required")
	}
	var res domain.DeleteResult
	err := a.mutate(ctx, remote.Request{
		Method: http.MethodDelete,
		Path:   "country-data/delete-by-country/" + url.PathEscape(name),
	}, &res,
		cache.TypeTag(TagCountryData), yearsListTag)
	return res, err
}

// DeleteSelective removes records by _id. Year views are invalidated for the
// years the ids are known to belong to; unknown ids widen the invalidation to
// every country-data query.
func (a *API) DeleteSelective(ctx context.Context, ids []string) (domain.DeleteResult, error) {
	if len(ids) == 0 {
		return domain.DeleteResult{}, fmt.Errorf("no records selected")
	}
	if err := validateIDs(ids); err != nil {
		return domain.DeleteResult{}, err
	}

	var res domain.DeleteResult
	err := a.mutate(ctx, remote.Request{
		Method: http.MethodDelete,
		Path:   "country-data/delete-selective",
		Body:   map[string]any{"ids": ids},
	}, &res, a.selectiveTags(ids)...)
	return res, err
}

func (a *API) selectiveTags(ids []string) []cache.Tag {
	snapshot, ok := a.cache.Peek(KeyAllCountryData)
	rows, _ := snapshot.([]domain.CountryRecord)
	if !ok {
		return []cache.Tag{cache.TypeTag(TagCountryData), yearsListTag}
	}

	yearOf := make(map[string]int, len(rows))
	for _, r := range rows {
		yearOf[r.ObjectID] = r.Year
	}
	tags := []cache.Tag{{Type: TagCountryData, ID: IDList}, yearsListTag}
	years := make(map[int]struct{})
	for _, id := range ids {
		year, known := yearOf[id]
		if !known {
			return []cache.Tag{cache.TypeTag(TagCountryData), yearsListTag}
		}
		tags = append(tags, cache.Tag{Type: TagCountryData, ID: id})
		years[year] = struct{}{}
	}
	ordered := make([]int, 0, len(years))
	for y := range years {
		ordered = append(ordered, y)
	}
	sort.Ints(ordered)
	for _, y := range ordered {
		tags = append(tags, yearTag(y))
	}
	return tags
}

// BulkUploadResult is the API's acknowledgement of a bulk upload.
type BulkUploadResult struct {
	Message  string `json:"message"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
}

// BulkUpload submits validated records. The API may replace or merge the
// dataset, so every country-data query is invalidated.
func (a *API) BulkUpload(ctx context.Context, records []domain.CountryRecord) (BulkUploadResult, error) {
	if len(records) == 0 {
		return BulkUploadResult{}, fmt.Errorf("no records to upload")
	}
	var raw json.RawMessage
	err := a.mutate(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   "country-data/bulk",
		Body:   map[string]any{"data": records},
	}, &raw, cache.TypeTag(TagCountryData), yearsListTag)
	if err != nil {
		return BulkUploadResult{}, err
	}
	// The acknowledgement shape varies between API versions; counts are
	// informational only.
	var res BulkUploadResult
	_ = json.Unmarshal(raw, &res)
	return res, nil
}
