package screening

import (
	"errors"
	"testing"
	"time"

	"github.com/ehr/caregap/internal/platform/fhir"
	"github.com/ehr/caregap/pkg/fhirmodels"
)

func TestLookupSmokingStatus(t *testing.T) {
	c, ok := LookupSmokingStatus("266919005")
	if !ok || c.Display != "Never smoked tobacco (finding)" || c.System != fhirmodels.SystemSNOMED {
		t.Errorf("unexpected coding: %+v", c)
	}
	if _, ok := LookupSmokingStatus("12345"); ok {
		t.Error("expected unknown code to be rejected")
	}
}

func TestBuildConfirmation(t *testing.T) {
	prior := fhir.Observation{
		ResourceType:      "Observation",
		ID:                "old-1",
		Meta:              &fhir.Meta{VersionID: "3"},
		Status:            "final",
		Code:              fhir.CodeableConcept{Coding: []fhir.Coding{{Code: "72166-2"}}},
		EffectiveDateTime: "2023-01-01",
		ValueCodeableConcept: &fhir.CodeableConcept{
			Coding: []fhir.Coding{{Code: "8517006", Display: "Former smoker"}},
		},
	}
	effective := ConfirmationTime("2025-03-04", now, nil)
	if effective != "2025-03-04T08:00:00-10:00" {
		t.Fatalf("unexpected effective time %q", effective)
	}

	obs := BuildConfirmation(prior, effective)
	if obs.ID != "" {
		t.Error("expected id to be cleared")
	}
	if obs.Meta == nil || len(obs.Meta.Profile) != 1 || obs.Meta.Profile[0] != fhirmodels.ProfileSmokingStatus {
		t.Errorf("expected smoking status profile, got %+v", obs.Meta)
	}
	if obs.EffectiveDateTime != effective || obs.ValueCodeableConcept.Coding[0].Code != "8517006" {
		t.Errorf("unexpected copy: %+v", obs)
	}
	if prior.ID != "old-1" || prior.Meta.VersionID != "3" {
		t.Error("prior observation must not be modified")
	}
}

func TestConfirmationTime_Today(t *testing.T) {
	// 2025-06-15T05:00Z is still 2025-06-14 at -10:00.
	n := time.Date(2025, 6, 15, 5, 0, 0, 0, time.UTC)
	if got := ConfirmationTime("", n, nil); got != "2025-06-14T08:00:00-10:00" {
		t.Errorf("got %q", got)
	}
}

func TestBuildFreshEntry(t *testing.T) {
	answer, _ := LookupSmokingStatus("266919005")
	obs := BuildFreshEntry("p1", answer, now)

	if obs.Status != "final" || obs.Subject.Reference != "Patient/p1" {
		t.Errorf("unexpected observation: %+v", obs)
	}
	if !obs.Code.HasCode(fhirmodels.SystemLOINC, "72166-2") {
		t.Error("expected LOINC 72166-2")
	}
	if len(obs.Category) != 1 || obs.Category[0].Coding[0].Code != "social-history" {
		t.Errorf("unexpected category: %+v", obs.Category)
	}
	if obs.ValueCodeableConcept.Text != "Never smoked tobacco (finding)" {
		t.Errorf("unexpected value text %q", obs.ValueCodeableConcept.Text)
	}
	if obs.EffectiveDateTime != "2025-06-15T12:00:00Z" {
		t.Errorf("unexpected effective %q", obs.EffectiveDateTime)
	}
}

func TestBuildEncounter(t *testing.T) {
	enc, err := BuildEncounter("p1", EncounterRequest{Date: "2025-04-02", Code: "G0439", Diagnosis: "Z00.00"}, nil)
	if err != nil {
		t.Fatalf("BuildEncounter: %v", err)
	}
	if enc.Status != "finished" || enc.Class.Code != "AMB" {
		t.Errorf("unexpected status/class: %s %+v", enc.Status, enc.Class)
	}
	typ := enc.Type[0].Coding[0]
	if typ.System != fhirmodels.SystemHCPCS {
		t.Errorf("expected HCPCS system for G code, got %s", typ.System)
	}
	if typ.Display != "Annual wellness visit, includes a personalized prevention plan of service (pps), subsequent visit" {
		t.Errorf("unexpected display %q", typ.Display)
	}
	if enc.Period.Start != "2025-04-02T08:00:00-10:00" || enc.Period.End != "2025-04-02T08:20:00-10:00" {
		t.Errorf("unexpected period: %+v", enc.Period)
	}
	if enc.ReasonCode[0].Coding[0].Code != "Z00.00" {
		t.Errorf("unexpected reason: %+v", enc.ReasonCode)
	}
	if enc.Meta.Profile[0] != fhirmodels.ProfileQICoreEncounter {
		t.Errorf("unexpected profile: %+v", enc.Meta)
	}

	cpt, err := BuildEncounter("p1", EncounterRequest{Date: "2025-04-02", Code: "99395"}, nil)
	if err != nil {
		t.Fatalf("BuildEncounter: %v", err)
	}
	if cpt.Type[0].Coding[0].System != fhirmodels.SystemCPT || len(cpt.ReasonCode) != 0 {
		t.Errorf("unexpected cpt encounter: %+v", cpt)
	}
}

func TestBuildEncounter_Validation(t *testing.T) {
	if _, err := BuildEncounter("p1", EncounterRequest{Code: "99395"}, nil); !errors.Is(err, ErrEncounterDateRequired) {
		t.Errorf("expected ErrEncounterDateRequired, got %v", err)
	}
	if _, err := BuildEncounter("p1", EncounterRequest{Date: "2025-04-02"}, nil); !errors.Is(err, ErrEncounterCodeRequired) {
		t.Errorf("expected ErrEncounterCodeRequired, got %v", err)
	}
	if _, err := BuildEncounter("p1", EncounterRequest{Date: "04/02/2025", Code: "99395"}, nil); err == nil {
		t.Error("expected error for malformed date")
	}
}
