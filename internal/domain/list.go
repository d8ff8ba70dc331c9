package domain

import "sort"

// DeleteResult reports how many country-data records a delete removed.
type DeleteResult struct {
	DeletedCount int  `json:"deletedCount"`
	BeforeCount  *int `json:"beforeCount,omitempty"`
	AfterCount   *int `json:"afterCount,omitempty"`
}

// DatasetSummary describes an uploaded batch of country-data records.
type DatasetSummary struct {
	Records          int   `json:"records"`
	Years            []int `json:"years"`
	FintechCompanies int64 `json:"fintechCompanies"`
}

// Summarize counts records, collects years (newest first) and totals the
// fintech company counts.
func Summarize(records []CountryRecord) DatasetSummary {
	summary := DatasetSummary{Records: len(records), Years: []int{}}
	seen := make(map[int]struct{})
	for _, r := range records {
		if _, ok := seen[r.Year]; !ok {
			seen[r.Year] = struct{}{}
			summary.Years = append(summary.Years, r.Year)
		}
		summary.FintechCompanies += IntValue(r.FintechCompanies)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(summary.Years)))
	return summary
}

// Countries returns the unique country names in the records, sorted.
func Countries(records []CountryRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

// YearsDesc returns the distinct years in descending order.
func YearsDesc(years []int) []int {
	seen := make(map[int]struct{}, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// NewsArticle is a financial news item.
type NewsArticle struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	URLToImage  string     `json:"urlToImage,omitempty"`
	PublishedAt Timestamp  `json:"publishedAt"`
	Source      NewsSource `json:"source"`
	Author      string     `json:"author,omitempty"`
	Content     string     `json:"content,omitempty"`
}

// NewsSource names the publisher of an article.
type NewsSource struct {
	Name string `json:"name"`
}
