package domain

import (
	"fmt"
	"time"

	"github.com/medflow/platform/internal/shared/types"
)

// TriageLevel is the coarse urgency classification of a patient
type TriageLevel string

const (
	TriageRed    TriageLevel = "Red"
	TriageYellow TriageLevel = "Yellow"
	TriageGreen  TriageLevel = "Green"
	TriageNone   TriageLevel = "None"
)

// Valid reports whether l is a known triage level
func (l TriageLevel) Valid() bool {
	switch l {
	case TriageRed, TriageYellow, TriageGreen, TriageNone:
		return true
	}
	return false
}

// Triage is derived from vitals and never edited directly
type Triage struct {
	Level   TriageLevel `json:"level"`
	Reasons []string    `json:"reasons"`
}

// VitalsMeasurements is one set of readings. A nil field was not measured.
type VitalsMeasurements struct {
	Pulse     *float64 `json:"pulse,omitempty"`
	BPSys     *float64 `json:"bp_sys,omitempty"`
	BPDia     *float64 `json:"bp_dia,omitempty"`
	RR        *float64 `json:"rr,omitempty"`
	SpO2      *float64 `json:"spo2,omitempty"`
	TempC     *float64 `json:"temp_c,omitempty"`
	Glucose   *float64 `json:"glucose,omitempty"`
	PainScore *float64 `json:"pain_score,omitempty"`
}

// IsEmpty reports whether no reading is present
func (m VitalsMeasurements) IsEmpty() bool {
	return m.Pulse == nil && m.BPSys == nil && m.BPDia == nil && m.RR == nil &&
		m.SpO2 == nil && m.TempC == nil && m.Glucose == nil && m.PainScore == nil
}

// Merge overlays the readings present in other onto m
func (m VitalsMeasurements) Merge(other VitalsMeasurements) VitalsMeasurements {
	pick := func(dst, src *float64) *float64 {
		if src != nil {
			v := *src
			return &v
		}
		return dst
	}
	return VitalsMeasurements{
		Pulse:     pick(m.Pulse, other.Pulse),
		BPSys:     pick(m.BPSys, other.BPSys),
		BPDia:     pick(m.BPDia, other.BPDia),
		RR:        pick(m.RR, other.RR),
		SpO2:      pick(m.SpO2, other.SpO2),
		TempC:     pick(m.TempC, other.TempC),
		Glucose:   pick(m.Glucose, other.Glucose),
		PainScore: pick(m.PainScore, other.PainScore),
	}
}

// Validate rejects physiologically impossible readings
func (m VitalsMeasurements) Validate() error {
	checks := []struct {
		name     string
		v        *float64
		min, max float64
	}{
		{"pulse", m.Pulse, 0, 350},
		{"bp_sys", m.BPSys, 0, 350},
		{"bp_dia", m.BPDia, 0, 250},
		{"rr", m.RR, 0, 120},
		{"spo2", m.SpO2, 0, 100},
		{"temp_c", m.TempC, 20, 46},
		{"glucose", m.Glucose, 0, 2000},
		{"pain_score", m.PainScore, 0, 10},
	}
	for _, c := range checks {
		if c.v != nil && (*c.v < c.min || *c.v > c.max) {
			return fmt.Errorf("%s must be between %v and %v", c.name, c.min, c.max)
		}
	}
	return nil
}

// VitalsSource tags where a reading came from
type VitalsSource string

const (
	VitalsSourceManual VitalsSource = "manual"
	VitalsSourceDevice VitalsSource = "device"
)

// VitalsRecord is an immutable reading in the patient's vitals history
type VitalsRecord struct {
	ID           types.ID           `json:"vital_id"`
	PatientID    types.ID           `json:"patient_id"`
	RecordedAt   time.Time          `json:"recorded_at"`
	RecordedBy   string             `json:"recorded_by"`
	Source       VitalsSource       `json:"source"`
	Measurements VitalsMeasurements `json:"measurements"`
	Observations string             `json:"observations,omitempty"`
}

// Evaluate derives a triage level from a set of readings.
// Red-tier rules are checked first; once any fires the Yellow tier is skipped.
func Evaluate(m VitalsMeasurements) Triage {
	var reasons []string
	level := TriageGreen

	if m.SpO2 != nil && *m.SpO2 < 90 {
		level = TriageRed
		reasons = append(reasons, fmt.Sprintf("Low SpO2 (%v%%)", *m.SpO2))
	}
	if m.BPSys != nil && *m.BPSys < 90 {
		level = TriageRed
		reasons = append(reasons, fmt.Sprintf("Low Systolic BP (%v mmHg)", *m.BPSys))
	}

	if level != TriageRed {
		if m.RR != nil && *m.RR > 24 {
			level = TriageYellow
			reasons = append(reasons, fmt.Sprintf("High Respiratory Rate (%v/min)", *m.RR))
		}
		if m.Pulse != nil && *m.Pulse > 120 {
			level = TriageYellow
			reasons = append(reasons, fmt.Sprintf("High Heart Rate (%v bpm)", *m.Pulse))
		}
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "Vitals are stable.")
	}

	return Triage{Level: level, Reasons: reasons}
}

// Float is a helper for building measurement sets
func Float(v float64) *float64 {
	return &v
}
