package fhir

// Resource type names used in request paths.
const (
	ResourceObservation         = "Observation"
	ResourceProcedure           = "Procedure"
	ResourceCondition           = "Condition"
	ResourceMedicationStatement = "MedicationStatement"
	ResourceAllergyIntolerance  = "AllergyIntolerance"
	ResourceFamilyMemberHistory = "FamilyMemberHistory"
	ResourceImmunization        = "Immunization"
	ResourcePatient             = "Patient"
	ResourceEncounter           = "Encounter"
	ResourceMeasureReport       = "MeasureReport"
	ResourceCarePlan            = "CarePlan"
)

// Submittable is a resource that can be created on the exchange server.
type Submittable interface {
	FHIRResourceType() string
}

type Observation struct {
	ResourceType         string            `json:"resourceType"`
	ID                   string            `json:"id,omitempty"`
	Meta                 *Meta             `json:"meta,omitempty"`
	Status               string            `json:"status,omitempty"`
	Category             []CodeableConcept `json:"category,omitempty"`
	Code                 CodeableConcept   `json:"code"`
	Subject              *Reference        `json:"subject,omitempty"`
	Encounter            *Reference        `json:"encounter,omitempty"`
	EffectiveDateTime    string            `json:"effectiveDateTime,omitempty"`
	EffectivePeriod      *Period           `json:"effectivePeriod,omitempty"`
	EffectiveInstant     string            `json:"effectiveInstant,omitempty"`
	Issued               string            `json:"issued,omitempty"`
	ValueQuantity        *Quantity         `json:"valueQuantity,omitempty"`
	ValueCodeableConcept *CodeableConcept  `json:"valueCodeableConcept,omitempty"`
	ValueString          string            `json:"valueString,omitempty"`
}

func (Observation) FHIRResourceType() string { return ResourceObservation }

// EffectiveAt returns the clinically relevant time of the observation:
// effectiveDateTime, else effectiveInstant, else the start of
// effectivePeriod. Empty when none is present.
func (o *Observation) EffectiveAt() string {
	switch {
	case o.EffectiveDateTime != "":
		return o.EffectiveDateTime
	case o.EffectiveInstant != "":
		return o.EffectiveInstant
	case o.EffectivePeriod != nil:
		return o.EffectivePeriod.Start
	}
	return ""
}

type Procedure struct {
	ResourceType      string          `json:"resourceType"`
	ID                string          `json:"id,omitempty"`
	Status            string          `json:"status,omitempty"`
	Code              CodeableConcept `json:"code"`
	Subject           *Reference      `json:"subject,omitempty"`
	PerformedDateTime string          `json:"performedDateTime,omitempty"`
	PerformedPeriod   *Period         `json:"performedPeriod,omitempty"`
	PartOf            []Reference     `json:"partOf,omitempty"`
}

// PerformedAt returns performedDateTime, else performedPeriod.start.
func (p *Procedure) PerformedAt() string {
	if p.PerformedDateTime != "" {
		return p.PerformedDateTime
	}
	if p.PerformedPeriod != nil {
		return p.PerformedPeriod.Start
	}
	return ""
}

type Condition struct {
	ResourceType       string           `json:"resourceType"`
	ID                 string           `json:"id,omitempty"`
	ClinicalStatus     *CodeableConcept `json:"clinicalStatus,omitempty"`
	VerificationStatus *CodeableConcept `json:"verificationStatus,omitempty"`
	Code               CodeableConcept  `json:"code"`
	Subject            *Reference       `json:"subject,omitempty"`
	OnsetDateTime      string           `json:"onsetDateTime,omitempty"`
	RecordedDate       string           `json:"recordedDate,omitempty"`
}

type MedicationStatement struct {
	ResourceType              string           `json:"resourceType"`
	ID                        string           `json:"id,omitempty"`
	Status                    string           `json:"status,omitempty"`
	MedicationCodeableConcept *CodeableConcept `json:"medicationCodeableConcept,omitempty"`
	Subject                   *Reference       `json:"subject,omitempty"`
	EffectiveDateTime         string           `json:"effectiveDateTime,omitempty"`
	EffectivePeriod           *Period          `json:"effectivePeriod,omitempty"`
	Dosage                    []Dosage         `json:"dosage,omitempty"`
}

type Dosage struct {
	Text        string        `json:"text,omitempty"`
	DoseAndRate []DoseAndRate `json:"doseAndRate,omitempty"`
}

type DoseAndRate struct {
	DoseQuantity *Quantity `json:"doseQuantity,omitempty"`
}

type AllergyIntolerance struct {
	ResourceType   string           `json:"resourceType"`
	ID             string           `json:"id,omitempty"`
	ClinicalStatus *CodeableConcept `json:"clinicalStatus,omitempty"`
	Code           CodeableConcept  `json:"code"`
	Criticality    string           `json:"criticality,omitempty"`
	Patient        *Reference       `json:"patient,omitempty"`
	RecordedDate   string           `json:"recordedDate,omitempty"`
}

type FamilyMemberHistory struct {
	ResourceType string                         `json:"resourceType"`
	ID           string                         `json:"id,omitempty"`
	Status       string                         `json:"status,omitempty"`
	Patient      *Reference                     `json:"patient,omitempty"`
	Date         string                         `json:"date,omitempty"`
	Relationship CodeableConcept                `json:"relationship"`
	Condition    []FamilyMemberHistoryCondition `json:"condition,omitempty"`
}

type FamilyMemberHistoryCondition struct {
	Code    CodeableConcept  `json:"code"`
	Outcome *CodeableConcept `json:"outcome,omitempty"`
}

type Immunization struct {
	ResourceType       string           `json:"resourceType"`
	ID                 string           `json:"id,omitempty"`
	Status             string           `json:"status,omitempty"`
	VaccineCode        CodeableConcept  `json:"vaccineCode"`
	Patient            *Reference       `json:"patient,omitempty"`
	OccurrenceDateTime string           `json:"occurrenceDateTime,omitempty"`
	Site               *CodeableConcept `json:"site,omitempty"`
}

type Patient struct {
	ResourceType string      `json:"resourceType"`
	ID           string      `json:"id,omitempty"`
	Name         []HumanName `json:"name,omitempty"`
	Gender       string      `json:"gender,omitempty"`
	BirthDate    string      `json:"birthDate,omitempty"`
}

type Encounter struct {
	ResourceType string            `json:"resourceType"`
	ID           string            `json:"id,omitempty"`
	Meta         *Meta             `json:"meta,omitempty"`
	Status       string            `json:"status"`
	Class        Coding            `json:"class"`
	Type         []CodeableConcept `json:"type,omitempty"`
	Subject      *Reference        `json:"subject,omitempty"`
	Period       *Period           `json:"period,omitempty"`
	ReasonCode   []CodeableConcept `json:"reasonCode,omitempty"`
}

func (Encounter) FHIRResourceType() string { return ResourceEncounter }

type MeasureReport struct {
	ResourceType string               `json:"resourceType"`
	ID           string               `json:"id,omitempty"`
	Status       string               `json:"status,omitempty"`
	Type         string               `json:"type,omitempty"`
	Measure      string               `json:"measure,omitempty"`
	Subject      *Reference           `json:"subject,omitempty"`
	Period       *Period              `json:"period,omitempty"`
	Group        []MeasureReportGroup `json:"group,omitempty"`
}

type MeasureReportGroup struct {
	ID         string                    `json:"id,omitempty"`
	Code       *CodeableConcept          `json:"code,omitempty"`
	Population []MeasureReportPopulation `json:"population,omitempty"`
}

type MeasureReportPopulation struct {
	Code  *CodeableConcept `json:"code,omitempty"`
	Count *int             `json:"count,omitempty"`
}

// CarePlan is the result of PlanDefinition/$apply. Only the contained
// request groups and their actions are decoded.
type CarePlan struct {
	ResourceType string             `json:"resourceType"`
	ID           string             `json:"id,omitempty"`
	Status       string             `json:"status,omitempty"`
	Subject      *Reference         `json:"subject,omitempty"`
	Contained    []ContainedRequest `json:"contained,omitempty"`
}

type ContainedRequest struct {
	ResourceType string       `json:"resourceType"`
	ID           string       `json:"id,omitempty"`
	Action       []PlanAction `json:"action,omitempty"`
}

type PlanAction struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// FirstAction returns the first action of the first contained resource.
func (c *CarePlan) FirstAction() (PlanAction, bool) {
	if c == nil || len(c.Contained) == 0 || len(c.Contained[0].Action) == 0 {
		return PlanAction{}, false
	}
	return c.Contained[0].Action[0], true
}

// SubmitAck describes a created resource as reported by the server.
type SubmitAck struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	VersionID    string `json:"versionId,omitempty"`
	Location     string `json:"location,omitempty"`
	StatusCode   int    `json:"status"`
}
