package fhir

import (
	"fmt"
	"strings"
)

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes used by this client.
const (
	IssueTypeInvalid    = "invalid"
	IssueTypeNotFound   = "not-found"
	IssueTypeProcessing = "processing"
	IssueTypeThrottled  = "throttled"
	IssueTypeException  = "exception"
)

// OutcomeError is returned when the record-exchange server answers with a
// non-success status. Outcome is nil when the body was not an
// OperationOutcome.
type OutcomeError struct {
	StatusCode int
	Operation  string
	Outcome    *OperationOutcome
}

func (e *OutcomeError) Error() string {
	msg := e.Diagnostics()
	if msg == "" {
		msg = "no diagnostics"
	}
	return fmt.Sprintf("fhir %s: status %d: %s", e.Operation, e.StatusCode, msg)
}

// Diagnostics joins the diagnostics of every issue in the outcome.
func (e *OutcomeError) Diagnostics() string {
	if e.Outcome == nil {
		return ""
	}
	parts := make([]string, 0, len(e.Outcome.Issue))
	for _, issue := range e.Outcome.Issue {
		switch {
		case issue.Diagnostics != "":
			parts = append(parts, issue.Diagnostics)
		case issue.Details != nil && issue.Details.Text != "":
			parts = append(parts, issue.Details.Text)
		}
	}
	return strings.Join(parts, "; ")
}

// Temporary reports whether the status suggests a retry could succeed.
func (e *OutcomeError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
