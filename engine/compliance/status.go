package compliance

import (
	"encoding/json"
	"strings"

	"github.com/complimo/complimo/engine/domain"
)

// OverallStatus is the verdict over a whole evaluation.
type OverallStatus string

const (
	Compliant          OverallStatus = "COMPLIANT"
	NonCompliant       OverallStatus = "NON_COMPLIANT"
	CannotBeDetermined OverallStatus = "CANNOT_BE_DETERMINED"
)

// ClassifyText classifies free-form evaluation text by substring, for
// results produced as prose rather than records. Evaluations that yield
// records use Overall instead, which is what the pipeline calls.
func ClassifyText(text string) OverallStatus {
	switch {
	case strings.Contains(text, "No compliance issues detected"):
		return Compliant
	case strings.Contains(text, "Error"):
		return CannotBeDetermined
	default:
		return NonCompliant
	}
}

// Overall derives the verdict from records. No records cannot be judged.
func Overall(records []domain.ComplianceRecord) OverallStatus {
	if len(records) == 0 {
		return CannotBeDetermined
	}
	for _, r := range records {
		if r.Status == domain.StatusNonCompliant {
			return NonCompliant
		}
	}
	return Compliant
}

// Issues returns the non-compliant records.
func Issues(records []domain.ComplianceRecord) []domain.ComplianceRecord {
	var out []domain.ComplianceRecord
	for _, r := range records {
		if r.Status == domain.StatusNonCompliant {
			out = append(out, r)
		}
	}
	return out
}

// FinalAnswer renders the one-paragraph summary shown to users.
func FinalAnswer(status OverallStatus, records []domain.ComplianceRecord) string {
	switch status {
	case Compliant:
		return "The data is compliant with all relevant regulations."
	case NonCompliant:
		b, _ := json.MarshalIndent(Issues(records), "", "  ")
		return "COMPLIANCE ISSUES FOUND:\n" + string(b)
	default:
		return "Compliance status cannot be determined with the available information."
	}
}
