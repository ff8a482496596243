package records

import (
	"sort"
	"time"
)

// UnknownDate is the group key for records with a missing or malformed
// timestamp.
const UnknownDate DateKey = "Unknown Date"

// DateKey is a calendar day "YYYY-MM-DD" or UnknownDate.
type DateKey string

// DateKeyOf extracts the day portion of a FHIR dateTime string.
func DateKeyOf(ts string) DateKey {
	if len(ts) < 10 {
		return UnknownDate
	}
	day := ts[:10]
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return UnknownDate
	}
	return DateKey(day)
}

// DateGroups maps a day to its records in source order.
type DateGroups[R any] map[DateKey][]R

// DateGroup is one day of records.
type DateGroup[R any] struct {
	Key     DateKey `json:"date"`
	Records []R     `json:"records"`
}

// GroupByDate partitions records by the day of dateOf(record). The relative
// order of records within a day is preserved.
func GroupByDate[R any](records []R, dateOf func(R) string) DateGroups[R] {
	groups := make(DateGroups[R])
	for _, r := range records {
		key := DateKeyOf(dateOf(r))
		groups[key] = append(groups[key], r)
	}
	return groups
}

// SortedKeys returns keys newest first; UnknownDate always sorts last.
func (g DateGroups[R]) SortedKeys() []DateKey {
	keys := make([]DateKey, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a == UnknownDate {
			return false
		}
		if b == UnknownDate {
			return true
		}
		return a > b
	})
	return keys
}

// Ordered returns the groups in SortedKeys order.
func (g DateGroups[R]) Ordered() []DateGroup[R] {
	out := make([]DateGroup[R], 0, len(g))
	for _, k := range g.SortedKeys() {
		out = append(out, DateGroup[R]{Key: k, Records: g[k]})
	}
	return out
}

// Flatten concatenates the groups in SortedKeys order.
func (g DateGroups[R]) Flatten() []R {
	var out []R
	for _, k := range g.SortedKeys() {
		out = append(out, g[k]...)
	}
	return out
}
