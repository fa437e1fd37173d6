package domain

import (
	"fmt"
	"strings"
)

// CheckConsistency compares the latest vitals with the recorded examination.
// Findings are advisory and never block a sign-off.
func CheckConsistency(p *Patient) []string {
	checks := []string{}
	sys := p.ClinicalFile.Sections.Systemic

	var spo2, pulse *float64
	if p.Vitals != nil {
		spo2, pulse = p.Vitals.SpO2, p.Vitals.Pulse
	}

	if spo2 != nil && *spo2 > 0 && *spo2 < 94 && strings.Contains(strings.ToLower(sys.RS.Text()), "clear") {
		checks = append(checks, fmt.Sprintf("SpO2 is low (%v%%) but Respiratory System examination is recorded as 'Clear'.", *spo2))
	}

	if pulse != nil && *pulse > 0 && *pulse < 60 && strings.Contains(strings.ToLower(sys.CVS.Text()), "normal") {
		checks = append(checks, fmt.Sprintf("Bradycardia (%v bpm) detected but CVS exam marked as normal.", *pulse))
	}

	gpe := strings.ToLower(p.ClinicalFile.Sections.GPE.Remarks + " " + p.ClinicalFile.Sections.GPE.AISummary)
	if p.Gender == GenderMale && strings.Contains(gpe, "pregnan") {
		checks = append(checks, "Patient is Male but GPE mentions pregnancy.")
	}

	return checks
}
