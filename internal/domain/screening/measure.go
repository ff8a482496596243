package screening

import (
	"github.com/ehr/caregap/internal/platform/fhir"
)

// MeasureResultFromReport validates a MeasureReport into a MeasureResult.
// A nil report yields an empty result. Missing or negative counts become 0.
// A population is named by its first coding display, else the coding code,
// else the concept text.
func MeasureResultFromReport(report *fhir.MeasureReport) MeasureResult {
	if report == nil {
		return MeasureResult{}
	}
	res := MeasureResult{Groups: make([]MeasureGroup, 0, len(report.Group))}
	for _, g := range report.Group {
		group := MeasureGroup{Populations: make([]Population, 0, len(g.Population))}
		for _, p := range g.Population {
			count := 0
			if p.Count != nil && *p.Count > 0 {
				count = *p.Count
			}
			group.Populations = append(group.Populations, Population{Name: populationName(p.Code), Count: count})
		}
		res.Groups = append(res.Groups, group)
	}
	return res
}

func populationName(c *fhir.CodeableConcept) string {
	if c == nil {
		return ""
	}
	if len(c.Coding) > 0 {
		if c.Coding[0].Display != "" {
			return c.Coding[0].Display
		}
		if c.Coding[0].Code != "" {
			return c.Coding[0].Code
		}
	}
	return c.Text
}

// MeasureSummary is the display form of a measure evaluation.
type MeasureSummary struct {
	Status      string         `json:"status,omitempty"`
	PeriodStart string         `json:"period_start,omitempty"`
	PeriodEnd   string         `json:"period_end,omitempty"`
	Groups      []MeasureGroup `json:"groups"`
}

// Summarize builds the dashboard summary of a report. Period bounds are
// reduced to their date portion.
func Summarize(report *fhir.MeasureReport) MeasureSummary {
	s := MeasureSummary{Groups: MeasureResultFromReport(report).Groups}
	if report == nil {
		return s
	}
	s.Status = report.Status
	if report.Period != nil {
		s.PeriodStart = datePart(report.Period.Start)
		s.PeriodEnd = datePart(report.Period.End)
	}
	return s
}

func datePart(ts string) string {
	if len(ts) > 10 {
		return ts[:10]
	}
	return ts
}
