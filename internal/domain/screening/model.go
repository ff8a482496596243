package screening

import (
	"fmt"
	"strings"
	"time"
)

// State is the active tobacco-screening workflow state.
type State string

const (
	// Hidden means no screening prompt is shown.
	Hidden State = "hidden"
	// ConfirmNoChange asks the clinician to confirm a stale prior answer.
	ConfirmNoChange State = "confirm_no_change"
	// FreshEntry asks the clinician to record a new answer.
	FreshEntry State = "fresh_entry"
)

const (
	// DefaultStaleAfter is how old a prior screening may be before it must be
	// reconfirmed when no reference date is set.
	DefaultStaleAfter = 365 * 24 * time.Hour
	// DefaultReferenceOffset is the fixed UTC offset used for reference dates
	// and generated timestamps.
	DefaultReferenceOffset = "-10:00"
)

// Population names read from the first measure group.
const (
	PopulationDenominator = "denominator"
	PopulationNumerator   = "numerator"
)

// Population is one named count of a measure group.
type Population struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type MeasureGroup struct {
	Populations []Population `json:"populations"`
}

// MeasureResult is a validated measure evaluation for one subject. Counts
// are never negative.
type MeasureResult struct {
	Groups []MeasureGroup `json:"groups"`
}

// FirstGroupCount returns the count of the named population in the first
// group, matching names without regard to case. Absent means 0.
func (r MeasureResult) FirstGroupCount(name string) int {
	if len(r.Groups) == 0 {
		return 0
	}
	for _, p := range r.Groups[0].Populations {
		if strings.EqualFold(p.Name, name) {
			return p.Count
		}
	}
	return 0
}

// DecisionInput carries the time context of a decision.
type DecisionInput struct {
	Now time.Time
	// ReferenceDate is a "YYYY-MM-DD" encounter date, or "" for none.
	ReferenceDate string
	// Zone is the reference offset; nil means DefaultReferenceOffset.
	Zone       *time.Location
	StaleAfter time.Duration
}

func (in DecisionInput) zone() *time.Location {
	if in.Zone != nil {
		return in.Zone
	}
	return DefaultZone()
}

func (in DecisionInput) staleAfter() time.Duration {
	if in.StaleAfter > 0 {
		return in.StaleAfter
	}
	return DefaultStaleAfter
}

// DefaultZone returns the fixed zone for DefaultReferenceOffset.
func DefaultZone() *time.Location {
	loc, _ := ParseOffset(DefaultReferenceOffset)
	return loc
}

// ParseOffset parses a "+HH:MM" or "-HH:MM" offset into a fixed zone.
func ParseOffset(s string) (*time.Location, error) {
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return nil, fmt.Errorf("invalid utc offset %q: want ±HH:MM", s)
	}
	hh, ok := twoDigits(s[1:3])
	if !ok || hh > 14 {
		return nil, fmt.Errorf("invalid utc offset hours in %q", s)
	}
	mm, ok := twoDigits(s[4:6])
	if !ok || mm > 59 {
		return nil, fmt.Errorf("invalid utc offset minutes in %q", s)
	}
	secs := hh*3600 + mm*60
	if s[0] == '-' {
		secs = -secs
	}
	return time.FixedZone("UTC"+s, secs), nil
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}
