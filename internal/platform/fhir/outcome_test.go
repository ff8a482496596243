package fhir

import (
	"testing"
)

func TestOutcomeError_Diagnostics(t *testing.T) {
	err := &OutcomeError{
		StatusCode: 422,
		Operation:  "create",
		Outcome: &OperationOutcome{
			ResourceType: "OperationOutcome",
			Issue: []OperationOutcomeIssue{
				{Severity: IssueSeverityError, Code: IssueTypeInvalid, Diagnostics: "subject is required"},
				{Severity: IssueSeverityError, Code: IssueTypeInvalid, Details: &CodeableConcept{Text: "code is unknown"}},
				{Severity: IssueSeverityWarning, Code: IssueTypeProcessing},
			},
		},
	}

	if got := err.Diagnostics(); got != "subject is required; code is unknown" {
		t.Errorf("unexpected diagnostics %q", got)
	}
	if want := "fhir create: status 422: subject is required; code is unknown"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestOutcomeError_Temporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		err := &OutcomeError{StatusCode: tt.status}
		if got := err.Temporary(); got != tt.want {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, got)
		}
	}
}
