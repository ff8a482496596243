package screening

// NeedsQualifyingEncounter reports whether every population of every group
// counts zero, meaning the subject has no qualifying encounter in the
// measurement period. A result without groups has no nonzero count and
// opens the gate.
func NeedsQualifyingEncounter(result MeasureResult) bool {
	for _, g := range result.Groups {
		for _, p := range g.Populations {
			if p.Count != 0 {
				return false
			}
		}
	}
	return true
}
