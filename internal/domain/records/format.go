package records

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ehr/caregap/internal/platform/fhir"
)

const (
	// UnknownLabel is shown when a concept carries no readable text.
	UnknownLabel = "Unknown"
	// NoValue is shown for an absent quantity.
	NoValue = "—"
)

// DisplayText returns the concept text, else the first coding display,
// else "Unknown".
func DisplayText(concept *fhir.CodeableConcept) string {
	if concept == nil {
		return UnknownLabel
	}
	if t := strings.TrimSpace(concept.Text); t != "" {
		return t
	}
	return CodingDisplay(concept.Coding)
}

// CodingDisplay returns the display of the first coding or "Unknown".
func CodingDisplay(codings []fhir.Coding) string {
	if len(codings) == 0 {
		return UnknownLabel
	}
	if d := strings.TrimSpace(codings[0].Display); d != "" {
		return d
	}
	return UnknownLabel
}

// FormatQuantity renders "<value> <unit>", or "—" when the value is absent.
func FormatQuantity(q *fhir.Quantity) string {
	if q == nil || q.Value == nil {
		return NoValue
	}
	v := strconv.FormatFloat(*q.Value, 'f', -1, 64)
	return strings.TrimSpace(v + " " + q.Unit)
}

// StripSemanticTag removes one trailing parenthesised qualifier such as
// "(procedure)" when it matches one of tags, ignoring case. Surrounding
// whitespace is trimmed.
func StripSemanticTag(s string, tags ...string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasSuffix(trimmed, ")") {
		return trimmed
	}
	open := strings.LastIndex(trimmed, "(")
	if open < 0 {
		return trimmed
	}
	tag := strings.TrimSpace(trimmed[open+1 : len(trimmed)-1])
	for _, want := range tags {
		if strings.EqualFold(tag, want) {
			return strings.TrimSpace(trimmed[:open])
		}
	}
	return trimmed
}

// Truncate shortens s to at most n runes followed by "...". Strings that
// already fit are returned unchanged.
func Truncate(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
