package screening

import (
	"time"

	"github.com/ehr/caregap/internal/platform/fhir"
)

// Decide derives the workflow state from a measure result and the latest
// screening observation. Rules apply in order:
//
//  1. no one in the denominator: Hidden
//  2. numerator satisfied: Hidden
//  3. no usable prior observation: FreshEntry
//  4. prior observation older than StaleCutoff: ConfirmNoChange
//  5. otherwise Hidden
func Decide(result MeasureResult, latest *fhir.Observation, in DecisionInput) State {
	if result.FirstGroupCount(PopulationDenominator) == 0 {
		return Hidden
	}
	if result.FirstGroupCount(PopulationNumerator) > 0 {
		return Hidden
	}
	if latest == nil {
		return FreshEntry
	}
	effective, ok := ParseDateTime(latest.EffectiveAt())
	if !ok {
		return FreshEntry
	}
	if effective.Before(StaleCutoff(in)) {
		return ConfirmNoChange
	}
	return Hidden
}

// StaleCutoff is midnight of the reference date in the reference zone, or
// Now minus StaleAfter when no valid reference date is set.
func StaleCutoff(in DecisionInput) time.Time {
	if in.ReferenceDate != "" {
		if d, err := time.ParseInLocation("2006-01-02", in.ReferenceDate, in.zone()); err == nil {
			return d
		}
	}
	return in.Now.Add(-in.staleAfter())
}

// LatestObservation returns the observation with the greatest effective
// time. Observations without a parseable time are ignored. Equal times are
// resolved in favour of the lexicographically greatest id. Returns nil when
// nothing qualifies.
func LatestObservation(obs []fhir.Observation) *fhir.Observation {
	var (
		best   *fhir.Observation
		bestAt time.Time
	)
	for i := range obs {
		at, ok := ParseDateTime(obs[i].EffectiveAt())
		if !ok {
			continue
		}
		switch {
		case best == nil, at.After(bestAt):
		case at.Equal(bestAt) && obs[i].ID > best.ID:
		default:
			continue
		}
		best, bestAt = &obs[i], at
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}
