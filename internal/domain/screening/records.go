package screening

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/caregap/internal/platform/fhir"
	"github.com/ehr/caregap/pkg/fhirmodels"
)

var (
	ErrEncounterDateRequired = errors.New("encounter date is required")
	ErrEncounterCodeRequired = errors.New("encounter procedure code is required")
	ErrEncounterDateInvalid  = errors.New("encounter date must be YYYY-MM-DD")
)

// SmokingStatusAnswers is the answer set offered for a fresh screening entry.
var SmokingStatusAnswers = []fhir.Coding{
	{System: fhirmodels.SystemSNOMED, Code: "266927001", Display: "Current every day smoker"},
	{System: fhirmodels.SystemSNOMED, Code: "8517006", Display: "Former smoker"},
	{System: fhirmodels.SystemSNOMED, Code: "266919005", Display: "Never smoked tobacco (finding)"},
	{System: fhirmodels.SystemSNOMED, Code: "266928000", Display: "Unknown if ever smoked"},
}

// LookupSmokingStatus returns the answer coding for a SNOMED code.
func LookupSmokingStatus(code string) (fhir.Coding, bool) {
	for _, c := range SmokingStatusAnswers {
		if c.Code == code {
			return c, true
		}
	}
	return fhir.Coding{}, false
}

// EncounterCode is a selectable visit code with its display text.
type EncounterCode struct {
	Code    string `json:"code"`
	Display string `json:"display"`
}

// VisitCodes lists the CPT and HCPCS codes accepted for a qualifying visit.
var VisitCodes = []EncounterCode{
	{"99384", "Initial preventive medicine evaluation, age 12 through 17 years"},
	{"99385", "Initial preventive medicine evaluation, age 18-39 years"},
	{"99394", "Periodic preventive medicine reevaluation, age 12 through 17 years"},
	{"99395", "Periodic preventive medicine reevaluation, age 18-39 years"},
	{"G0438", "Annual wellness visit; includes a personalized prevention plan of service (pps), initial visit"},
	{"G0439", "Annual wellness visit, includes a personalized prevention plan of service (pps), subsequent visit"},
}

// DiagnosisCodes lists the ICD-10-CM reasons offered for a qualifying visit.
var DiagnosisCodes = []EncounterCode{
	{"Z00.00", "Encounter for general adult medical examination without abnormal findings"},
	{"Z00.01", "Encounter for general adult medical examination with abnormal findings"},
	{"Z00.121", "Encounter for routine child health examination with abnormal findings"},
	{"Z00.129", "Encounter for routine child health examination without abnormal findings"},
}

func lookupCode(codes []EncounterCode, code string) string {
	for _, c := range codes {
		if c.Code == code {
			return c.Display
		}
	}
	return ""
}

// BuildConfirmation copies a prior screening observation as a new record
// effective at the given time. The copy has no id and carries the smoking
// status profile.
func BuildConfirmation(prior fhir.Observation, effective string) fhir.Observation {
	obs := prior
	obs.ResourceType = fhir.ResourceObservation
	obs.ID = ""
	obs.Meta = &fhir.Meta{Profile: []string{fhirmodels.ProfileSmokingStatus}}
	obs.EffectiveDateTime = effective
	obs.EffectivePeriod = nil
	obs.EffectiveInstant = ""
	obs.Issued = ""
	return obs
}

// ConfirmationTime is 08:00 on the reference date, or on today's date in
// the zone when no reference date is set, rendered with the zone offset.
func ConfirmationTime(referenceDate string, now time.Time, zone *time.Location) string {
	if zone == nil {
		zone = DefaultZone()
	}
	day, err := time.ParseInLocation("2006-01-02", referenceDate, zone)
	if err != nil {
		n := now.In(zone)
		day = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, zone)
	}
	return day.Add(8 * time.Hour).Format(time.RFC3339)
}

// BuildFreshEntry creates a new smoking status observation for the subject.
func BuildFreshEntry(subjectID string, answer fhir.Coding, now time.Time) fhir.Observation {
	return fhir.Observation{
		ResourceType: fhir.ResourceObservation,
		Status:       "final",
		Category: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{
				System:  fhirmodels.SystemObservationCategory,
				Code:    fhirmodels.ObsCategorySocialHistory,
				Display: "Social History",
			}},
		}},
		Code: fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  fhirmodels.SystemLOINC,
				Code:    fhirmodels.LOINCTobaccoSmokingStatus,
				Display: "Tobacco smoking status",
			}},
			Text: "Tobacco smoking status",
		},
		Subject:           &fhir.Reference{Reference: "Patient/" + subjectID},
		EffectiveDateTime: now.Format(time.RFC3339),
		ValueCodeableConcept: &fhir.CodeableConcept{
			Coding: []fhir.Coding{answer},
			Text:   answer.Display,
		},
	}
}

// EncounterRequest describes a qualifying visit to record.
type EncounterRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Code      string `json:"cpt" validate:"required"`
	Diagnosis string `json:"icd10"`
}

// BuildEncounter creates a finished ambulatory encounter lasting from 08:00
// to 08:20 on the requested date in zone. Codes starting with "G" are coded
// as HCPCS, all others as CPT.
func BuildEncounter(subjectID string, req EncounterRequest, zone *time.Location) (fhir.Encounter, error) {
	if zone == nil {
		zone = DefaultZone()
	}
	if req.Date == "" {
		return fhir.Encounter{}, ErrEncounterDateRequired
	}
	day, err := time.ParseInLocation("2006-01-02", req.Date, zone)
	if err != nil {
		return fhir.Encounter{}, fmt.Errorf("%w: %q", ErrEncounterDateInvalid, req.Date)
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return fhir.Encounter{}, ErrEncounterCodeRequired
	}

	system := fhirmodels.SystemCPT
	if strings.HasPrefix(strings.ToUpper(code), "G") {
		system = fhirmodels.SystemHCPCS
	}

	start := day.Add(8 * time.Hour)
	enc := fhir.Encounter{
		ResourceType: fhir.ResourceEncounter,
		Meta:         &fhir.Meta{Profile: []string{fhirmodels.ProfileQICoreEncounter}},
		Status:       fhirmodels.EncounterStatusFinished,
		Class: fhir.Coding{
			System:  fhirmodels.SystemActCode,
			Code:    fhirmodels.EncounterClassAmbulatory,
			Display: "ambulatory",
		},
		Type: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: system, Code: code, Display: lookupCode(VisitCodes, code)}},
		}},
		Subject: &fhir.Reference{Reference: "Patient/" + subjectID},
		Period: &fhir.Period{
			Start: start.Format(time.RFC3339),
			End:   start.Add(20 * time.Minute).Format(time.RFC3339),
		},
	}
	if dx := strings.TrimSpace(req.Diagnosis); dx != "" {
		enc.ReasonCode = []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: fhirmodels.SystemICD10CM, Code: dx, Display: lookupCode(DiagnosisCodes, dx)}},
		}}
	}
	return enc, nil
}
