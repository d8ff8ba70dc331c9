// Package listview filters, sorts and pages in-memory lists for the views.
package listview

import (
	"sort"
	"strings"
)

// Predicate keeps an item when it returns true.
type Predicate[T any] func(T) bool

// Search matches items where any of fields contains term, ignoring case.
// An empty term matches everything.
func Search[T any](term string, fields ...func(T) string) Predicate[T] {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	return func(item T) bool {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f(item)), term) {
				return true
			}
		}
		return false
	}
}

// Equals matches items whose field equals want exactly. An empty want
// matches everything.
func Equals[T any](want string, field func(T) string) Predicate[T] {
	if want == "" {
		return nil
	}
	return func(item T) bool { return field(item) == want }
}

// AnyContains matches items where some element of the list field contains
// needle, ignoring case. An empty needle matches everything.
func AnyContains[T any](needle string, list func(T) []string) Predicate[T] {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return nil
	}
	return func(item T) bool {
		for _, v := range list(item) {
			if strings.Contains(strings.ToLower(v), needle) {
				return true
			}
		}
		return false
	}
}

// Filter returns the items matching every predicate, in their original
// order. Nil predicates are ignored. The input is never modified.
func Filter[T any](items []T, preds ...Predicate[T]) []T {
	active := make([]Predicate[T], 0, len(preds))
	for _, p := range preds {
		if p != nil {
			active = append(active, p)
		}
	}
	out := make([]T, 0, len(items))
next:
	for _, item := range items {
		for _, p := range active {
			if !p(item) {
				continue next
			}
		}
		out = append(out, item)
	}
	return out
}

// Direction of a sort.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection defaults to Desc for anything but "asc".
func ParseDirection(v string) Direction {
	if strings.EqualFold(v, string(Asc)) {
		return Asc
	}
	return Desc
}

// SortSpec names the sort field and direction.
type SortSpec struct {
	Field string    `json:"field"`
	Dir   Direction `json:"direction"`
}

// Toggle is the result of selecting field: the same field flips direction,
// another field starts descending.
func (s SortSpec) Toggle(field string) SortSpec {
	if field == s.Field {
		if s.Dir == Asc {
			return SortSpec{Field: field, Dir: Desc}
		}
		return SortSpec{Field: field, Dir: Asc}
	}
	return SortSpec{Field: field, Dir: Desc}
}

// Key extracts a numeric sort key. Missing values should return 0.
type Key[T any] func(T) float64

// Sort returns a sorted copy of items. The sort is stable so items with equal
// keys keep their relative order. An unknown field leaves the order as is.
func Sort[T any](items []T, spec SortSpec, keys map[string]Key[T]) []T {
	out := append(make([]T, 0, len(items)), items...)
	key, ok := keys[spec.Field]
	if !ok {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		if spec.Dir == Asc {
			return a < b
		}
		return a > b
	})
	return out
}

// Page returns the first n items and whether more remain.
func Page[T any](items []T, n int) ([]T, bool) {
	if n < 0 {
		n = 0
	}
	if n >= len(items) {
		return items, false
	}
	return items[:n], true
}
