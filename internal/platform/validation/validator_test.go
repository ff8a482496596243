package validation

import (
	"strings"
	"testing"
)

type visit struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Code string `json:"cpt" validate:"required"`
	Kind string `json:"kind,omitempty" validate:"omitempty,oneof=a b"`
}

func TestValidator_Valid(t *testing.T) {
	if err := New().Validate(&visit{Date: "2025-04-02", Code: "99395"}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestValidator_UsesJSONNames(t *testing.T) {
	err := New().Validate(&visit{Date: "04/02/2025"})
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "date must match 2006-01-02") {
		t.Errorf("expected date message, got %q", msg)
	}
	if !strings.Contains(msg, "cpt is required") {
		t.Errorf("expected cpt message, got %q", msg)
	}
}

func TestValidator_OneOf(t *testing.T) {
	err := New().Validate(&visit{Date: "2025-04-02", Code: "x", Kind: "c"})
	if err == nil || err.Error() != "kind must be one of a, b" {
		t.Errorf("expected oneof message, got %v", err)
	}
}
