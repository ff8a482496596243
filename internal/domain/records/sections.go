package records

import (
	"sort"
	"strings"

	"github.com/ehr/caregap/internal/platform/fhir"
)

const (
	statusSeparator      = " — "
	vaccineDisplayLength = 60
)

// PatientBanner is the header line of the dashboard.
type PatientBanner struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BirthDate string `json:"birth_date,omitempty"`
	Gender    string `json:"gender,omitempty"`
}

type LabRow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
	Date  string `json:"date,omitempty"`
}

type ProcedureDay struct {
	Date       DateKey         `json:"date"`
	Procedures []ProcedureNode `json:"procedures"`
}

type ConditionRow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Label  string `json:"label"`
}

type MedicationRow struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Dose   string `json:"dose"`
	Status string `json:"status"`
}

type AllergyRow struct {
	ID          string `json:"id"`
	Substance   string `json:"substance"`
	Status      string `json:"status"`
	Criticality string `json:"criticality,omitempty"`
	Label       string `json:"label"`
}

type FamilyConditionRow struct {
	Condition string `json:"condition"`
	Outcome   string `json:"outcome,omitempty"`
}

type FamilyHistoryRow struct {
	ID           string               `json:"id"`
	Relationship string               `json:"relationship"`
	Conditions   []FamilyConditionRow `json:"conditions"`
}

type ImmunizationRow struct {
	ID      string `json:"id"`
	Vaccine string `json:"vaccine"`
	Site    string `json:"site,omitempty"`
	Date    string `json:"date,omitempty"`
}

// Chart holds every display section of a patient dashboard. A nil or empty
// section means the records were absent or could not be fetched.
type Chart struct {
	Patient       *PatientBanner      `json:"patient,omitempty"`
	Labs          []DateGroup[LabRow] `json:"labs"`
	Procedures    []ProcedureDay      `json:"procedures"`
	Conditions    []ConditionRow      `json:"conditions"`
	Medications   []MedicationRow     `json:"medications"`
	Allergies     []AllergyRow        `json:"allergies"`
	FamilyHistory []FamilyHistoryRow  `json:"family_history"`
	Immunizations []ImmunizationRow   `json:"immunizations"`
}

// BuildPatientBanner renders the first name entry of the patient.
func BuildPatientBanner(p fhir.Patient) PatientBanner {
	b := PatientBanner{ID: p.ID, BirthDate: p.BirthDate, Gender: p.Gender, Name: UnknownLabel}
	if len(p.Name) > 0 {
		n := p.Name[0]
		full := strings.TrimSpace(strings.Join(n.Given, " ") + " " + n.Family)
		if full == "" {
			full = strings.TrimSpace(n.Text)
		}
		if full != "" {
			b.Name = full
		}
	}
	return b
}

// BuildLabs keeps observations with a numeric value and groups them by day,
// newest first.
func BuildLabs(obs []fhir.Observation) []DateGroup[LabRow] {
	rows := make([]LabRow, 0, len(obs))
	for _, o := range obs {
		if o.ValueQuantity == nil || o.ValueQuantity.Value == nil {
			continue
		}
		rows = append(rows, LabRow{
			ID:    o.ID,
			Name:  DisplayText(&o.Code),
			Value: FormatQuantity(o.ValueQuantity),
			Date:  o.EffectiveAt(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date > rows[j].Date })
	return GroupByDate(rows, func(r LabRow) string { return r.Date }).Ordered()
}

// BuildProcedures groups procedures by performed day, newest first, and
// resolves the part-of hierarchy within each day.
func BuildProcedures(procs []fhir.Procedure) []ProcedureDay {
	sorted := append([]fhir.Procedure(nil), procs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PerformedAt() > sorted[j].PerformedAt() })

	groups := GroupByDate(sorted, func(p fhir.Procedure) string { return p.PerformedAt() })
	days := make([]ProcedureDay, 0, len(groups))
	for _, g := range groups.Ordered() {
		days = append(days, ProcedureDay{Date: g.Key, Procedures: ResolveHierarchy(g.Records)})
	}
	return days
}

// BuildConditions lists conditions that are not resolved.
func BuildConditions(conds []fhir.Condition) []ConditionRow {
	rows := make([]ConditionRow, 0, len(conds))
	for _, c := range conds {
		if c.ClinicalStatus.HasCode("", "resolved") {
			continue
		}
		name := DisplayText(&c.Code)
		status := StatusDisplay(c.ClinicalStatus)
		rows = append(rows, ConditionRow{ID: c.ID, Name: name, Status: status, Label: WithStatus(name, status)})
	}
	return rows
}

// BuildMedications lists active medication statements with their dose.
func BuildMedications(meds []fhir.MedicationStatement) []MedicationRow {
	rows := make([]MedicationRow, 0, len(meds))
	for _, m := range meds {
		if m.Status != "active" {
			continue
		}
		rows = append(rows, MedicationRow{
			ID:     m.ID,
			Name:   DisplayText(m.MedicationCodeableConcept),
			Dose:   FormatQuantity(firstDose(m.Dosage)),
			Status: m.Status,
		})
	}
	return rows
}

func firstDose(dosage []fhir.Dosage) *fhir.Quantity {
	if len(dosage) == 0 || len(dosage[0].DoseAndRate) == 0 {
		return nil
	}
	return dosage[0].DoseAndRate[0].DoseQuantity
}

func BuildAllergies(allergies []fhir.AllergyIntolerance) []AllergyRow {
	rows := make([]AllergyRow, 0, len(allergies))
	for _, a := range allergies {
		substance := DisplayText(&a.Code)
		status := StatusDisplay(a.ClinicalStatus)
		rows = append(rows, AllergyRow{
			ID:          a.ID,
			Substance:   substance,
			Status:      status,
			Criticality: a.Criticality,
			Label:       WithStatus(substance, status),
		})
	}
	return rows
}

// BuildFamilyHistory strips SNOMED "(disorder)" and "(qualifier value)"
// tags from relationships, conditions and outcomes.
func BuildFamilyHistory(history []fhir.FamilyMemberHistory) []FamilyHistoryRow {
	rows := make([]FamilyHistoryRow, 0, len(history))
	for _, h := range history {
		row := FamilyHistoryRow{
			ID:           h.ID,
			Relationship: stripFamilyTags(DisplayText(&h.Relationship)),
			Conditions:   make([]FamilyConditionRow, 0, len(h.Condition)),
		}
		for _, c := range h.Condition {
			fc := FamilyConditionRow{Condition: stripFamilyTags(DisplayText(&c.Code))}
			if c.Outcome != nil {
				fc.Outcome = stripFamilyTags(DisplayText(c.Outcome))
			}
			row.Conditions = append(row.Conditions, fc)
		}
		rows = append(rows, row)
	}
	return rows
}

func stripFamilyTags(s string) string {
	return StripSemanticTag(s, "disorder", "qualifier value")
}

// BuildImmunizations lists immunizations newest first with the vaccine name
// shortened for display.
func BuildImmunizations(imms []fhir.Immunization) []ImmunizationRow {
	rows := make([]ImmunizationRow, 0, len(imms))
	for _, im := range imms {
		row := ImmunizationRow{
			ID:      im.ID,
			Vaccine: Truncate(DisplayText(&im.VaccineCode), vaccineDisplayLength),
			Date:    im.OccurrenceDateTime,
		}
		if im.Site != nil {
			row.Site = DisplayText(im.Site)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date > rows[j].Date })
	return rows
}

// StatusDisplay renders a clinical status concept: first coding display,
// else its code, else "Unknown".
func StatusDisplay(status *fhir.CodeableConcept) string {
	if status == nil {
		return UnknownLabel
	}
	if len(status.Coding) > 0 {
		c := status.Coding[0]
		if c.Display != "" {
			return c.Display
		}
		if c.Code != "" {
			return c.Code
		}
	}
	if status.Text != "" {
		return status.Text
	}
	return UnknownLabel
}

// WithStatus appends " — status" unless the status is unknown.
func WithStatus(name, status string) string {
	if status == "" || status == UnknownLabel {
		return name
	}
	return name + statusSeparator + status
}
