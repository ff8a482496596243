package fhirmodels

// Common FHIR value set constants used across the application.

// EncounterStatus values per FHIR R4.
const (
	EncounterStatusPlanned    = "planned"
	EncounterStatusInProgress = "in-progress"
	EncounterStatusFinished   = "finished"
	EncounterStatusCancelled  = "cancelled"
)

// EncounterClass codes per FHIR R4 v3-ActCode.
const (
	EncounterClassAmbulatory = "AMB"
	EncounterClassVirtual    = "VR"
)

// ObservationCategory codes.
const (
	ObsCategoryVitalSigns    = "vital-signs"
	ObsCategoryLaboratory    = "laboratory"
	ObsCategorySocialHistory = "social-history"
)

// ConditionClinicalStatus codes.
const (
	ConditionActive   = "active"
	ConditionResolved = "resolved"
)

// Code systems.
const (
	SystemLOINC               = "http://loinc.org"
	SystemSNOMED              = "http://snomed.info/sct"
	SystemICD10CM             = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemCPT                 = "http://www.ama-assn.org/go/cpt"
	SystemHCPCS               = "http://www.cms.gov/Medicare/Coding/HCPCSReleaseCodeSets"
	SystemActCode             = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	SystemObservationCategory = "http://terminology.hl7.org/CodeSystem/observation-category"
)

// Profiles.
const (
	ProfileSmokingStatus   = "http://hl7.org/fhir/us/core/StructureDefinition/us-core-smokingstatus"
	ProfileQICoreEncounter = "http://hl7.org/fhir/us/qicore/StructureDefinition/qicore-encounter"
)

// LOINC codes.
const (
	LOINCTobaccoSmokingStatus = "72166-2"
)
