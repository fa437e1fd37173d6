package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// SectionKey names a clinical file section
type SectionKey string

const (
	SectionHistory  SectionKey = "history"
	SectionGPE      SectionKey = "gpe"
	SectionSystemic SectionKey = "systemic"
)

// Valid reports whether k names a known section
func (k SectionKey) Valid() bool {
	return k == SectionHistory || k == SectionGPE || k == SectionSystemic
}

// Sections holds the authoritative clinical data of a file
type Sections struct {
	History  HistorySection      `json:"history"`
	GPE      GeneralExamSection  `json:"gpe"`
	Systemic SystemicExamSection `json:"systemic"`
}

// SectionPatch is a partial update to exactly one section
type SectionPatch interface {
	Section() SectionKey
	Validate() error
	apply(s *Sections)
}

// --- History ---

// AllergySeverity grades an allergic reaction
type AllergySeverity string

const (
	SeverityMild     AllergySeverity = "Mild"
	SeverityModerate AllergySeverity = "Moderate"
	SeveritySevere   AllergySeverity = "Severe"
)

type Allergy struct {
	Substance string          `json:"substance"`
	Reaction  string          `json:"reaction"`
	Severity  AllergySeverity `json:"severity"`
}

// HistorySection is the history-taking part of the clinical file
type HistorySection struct {
	ChiefComplaint            string            `json:"chief_complaint"`
	Duration                  string            `json:"duration"`
	HPI                       string            `json:"hpi"`
	AssociatedSymptoms        []string          `json:"associated_symptoms"`
	PastMedicalHistory        string            `json:"past_medical_history"`
	PastSurgicalHistory       string            `json:"past_surgical_history"`
	DrugHistory               string            `json:"drug_history"`
	AllergyHistory            []Allergy         `json:"allergy_history"`
	FamilyHistory             string            `json:"family_history"`
	PersonalSocialHistory     string            `json:"personal_social_history"`
	MenstrualObstetricHistory string            `json:"menstrual_obstetric_history"`
	SocioeconomicLifestyle    string            `json:"socioeconomic_lifestyle"`
	ReviewOfSystems           map[string]string `json:"review_of_systems,omitempty"`
}

// HistoryTextFields are the free-text history fields that follow-up
// questions and history composition can target
var HistoryTextFields = []string{
	"chief_complaint", "duration", "hpi", "past_medical_history", "past_surgical_history",
	"drug_history", "family_history", "personal_social_history",
	"menstrual_obstetric_history", "socioeconomic_lifestyle",
}

// TextField returns the value of a free-text history field
func (h *HistorySection) TextField(field string) (string, bool) {
	p := h.textFieldPtr(field)
	if p == nil {
		return "", false
	}
	return *p, true
}

// SetTextField writes a free-text history field
func (h *HistorySection) SetTextField(field, value string) bool {
	p := h.textFieldPtr(field)
	if p == nil {
		return false
	}
	*p = value
	return true
}

func (h *HistorySection) textFieldPtr(field string) *string {
	switch field {
	case "chief_complaint":
		return &h.ChiefComplaint
	case "duration":
		return &h.Duration
	case "hpi":
		return &h.HPI
	case "past_medical_history":
		return &h.PastMedicalHistory
	case "past_surgical_history":
		return &h.PastSurgicalHistory
	case "drug_history":
		return &h.DrugHistory
	case "family_history":
		return &h.FamilyHistory
	case "personal_social_history":
		return &h.PersonalSocialHistory
	case "menstrual_obstetric_history":
		return &h.MenstrualObstetricHistory
	case "socioeconomic_lifestyle":
		return &h.SocioeconomicLifestyle
	}
	return nil
}

// HistoryPatch carries the history fields to change. Nil means not supplied.
type HistoryPatch struct {
	ChiefComplaint            *string           `json:"chief_complaint,omitempty"`
	Duration                  *string           `json:"duration,omitempty"`
	HPI                       *string           `json:"hpi,omitempty"`
	AssociatedSymptoms        []string          `json:"associated_symptoms,omitempty"`
	PastMedicalHistory        *string           `json:"past_medical_history,omitempty"`
	PastSurgicalHistory       *string           `json:"past_surgical_history,omitempty"`
	DrugHistory               *string           `json:"drug_history,omitempty"`
	AllergyHistory            []Allergy         `json:"allergy_history,omitempty"`
	FamilyHistory             *string           `json:"family_history,omitempty"`
	PersonalSocialHistory     *string           `json:"personal_social_history,omitempty"`
	MenstrualObstetricHistory *string           `json:"menstrual_obstetric_history,omitempty"`
	SocioeconomicLifestyle    *string           `json:"socioeconomic_lifestyle,omitempty"`
	ReviewOfSystems           map[string]string `json:"review_of_systems,omitempty"`
}

func (p HistoryPatch) Section() SectionKey { return SectionHistory }

func (p HistoryPatch) Validate() error {
	for _, a := range p.AllergyHistory {
		if a.Substance == "" {
			return fmt.Errorf("allergy substance is required")
		}
		switch a.Severity {
		case "", SeverityMild, SeverityModerate, SeveritySevere:
		default:
			return fmt.Errorf("invalid allergy severity %q", a.Severity)
		}
	}
	return nil
}

func (p HistoryPatch) apply(s *Sections) {
	h := &s.History
	setString(&h.ChiefComplaint, p.ChiefComplaint)
	setString(&h.Duration, p.Duration)
	setString(&h.HPI, p.HPI)
	setString(&h.PastMedicalHistory, p.PastMedicalHistory)
	setString(&h.PastSurgicalHistory, p.PastSurgicalHistory)
	setString(&h.DrugHistory, p.DrugHistory)
	setString(&h.FamilyHistory, p.FamilyHistory)
	setString(&h.PersonalSocialHistory, p.PersonalSocialHistory)
	setString(&h.MenstrualObstetricHistory, p.MenstrualObstetricHistory)
	setString(&h.SocioeconomicLifestyle, p.SocioeconomicLifestyle)
	if p.AssociatedSymptoms != nil {
		h.AssociatedSymptoms = slices.Clone(p.AssociatedSymptoms)
	}
	if p.AllergyHistory != nil {
		h.AllergyHistory = slices.Clone(p.AllergyHistory)
	}
	if p.ReviewOfSystems != nil {
		if h.ReviewOfSystems == nil {
			h.ReviewOfSystems = make(map[string]string, len(p.ReviewOfSystems))
		}
		maps.Copy(h.ReviewOfSystems, p.ReviewOfSystems)
	}
}

// --- General physical examination ---

// ExamFlags are the classic GPE signs
type ExamFlags struct {
	Pallor          bool `json:"pallor"`
	Icterus         bool `json:"icterus"`
	Cyanosis        bool `json:"cyanosis"`
	Clubbing        bool `json:"clubbing"`
	Lymphadenopathy bool `json:"lymphadenopathy"`
	Edema           bool `json:"edema"`
}

// ExamFlagsPatch changes individual flags
type ExamFlagsPatch struct {
	Pallor          *bool `json:"pallor,omitempty"`
	Icterus         *bool `json:"icterus,omitempty"`
	Cyanosis        *bool `json:"cyanosis,omitempty"`
	Clubbing        *bool `json:"clubbing,omitempty"`
	Lymphadenopathy *bool `json:"lymphadenopathy,omitempty"`
	Edema           *bool `json:"edema,omitempty"`
}

// GeneralExamSection is the general physical examination
type GeneralExamSection struct {
	GeneralAppearance string             `json:"general_appearance"`
	Vitals            VitalsMeasurements `json:"vitals"`
	Build             string             `json:"build"`
	Hydration         string             `json:"hydration"`
	Flags             ExamFlags          `json:"flags"`
	HeightCM          *float64           `json:"height_cm,omitempty"`
	WeightKG          *float64           `json:"weight_kg,omitempty"`
	BMI               *float64           `json:"bmi,omitempty"`
	Remarks           string             `json:"remarks"`
	AISummary         string             `json:"ai_generated_summary,omitempty"`
}

// GeneralExamPatch changes GPE fields. Flags and Vitals merge field by field.
type GeneralExamPatch struct {
	GeneralAppearance *string             `json:"general_appearance,omitempty"`
	Vitals            *VitalsMeasurements `json:"vitals,omitempty"`
	Build             *string             `json:"build,omitempty"`
	Hydration         *string             `json:"hydration,omitempty"`
	Flags             *ExamFlagsPatch     `json:"flags,omitempty"`
	HeightCM          *float64            `json:"height_cm,omitempty"`
	WeightKG          *float64            `json:"weight_kg,omitempty"`
	Remarks           *string             `json:"remarks,omitempty"`
}

var (
	appearances = []string{"", "well", "ill", "toxic", "cachectic"}
	builds      = []string{"", "normal", "obese", "cachectic"}
	hydrations  = []string{"", "normal", "mild", "moderate", "severe"}
)

func (p GeneralExamPatch) Section() SectionKey { return SectionGPE }

func (p GeneralExamPatch) Validate() error {
	if p.GeneralAppearance != nil && !slices.Contains(appearances, *p.GeneralAppearance) {
		return fmt.Errorf("invalid general_appearance %q", *p.GeneralAppearance)
	}
	if p.Build != nil && !slices.Contains(builds, *p.Build) {
		return fmt.Errorf("invalid build %q", *p.Build)
	}
	if p.Hydration != nil && !slices.Contains(hydrations, *p.Hydration) {
		return fmt.Errorf("invalid hydration %q", *p.Hydration)
	}
	if p.HeightCM != nil && (*p.HeightCM <= 0 || *p.HeightCM > 300) {
		return fmt.Errorf("height_cm out of range")
	}
	if p.WeightKG != nil && (*p.WeightKG <= 0 || *p.WeightKG > 700) {
		return fmt.Errorf("weight_kg out of range")
	}
	if p.Vitals != nil {
		return p.Vitals.Validate()
	}
	return nil
}

func (p GeneralExamPatch) apply(s *Sections) {
	g := &s.GPE
	setString(&g.GeneralAppearance, p.GeneralAppearance)
	setString(&g.Build, p.Build)
	setString(&g.Hydration, p.Hydration)
	setString(&g.Remarks, p.Remarks)
	if p.Vitals != nil {
		g.Vitals = g.Vitals.Merge(*p.Vitals)
	}
	if p.Flags != nil {
		setBool(&g.Flags.Pallor, p.Flags.Pallor)
		setBool(&g.Flags.Icterus, p.Flags.Icterus)
		setBool(&g.Flags.Cyanosis, p.Flags.Cyanosis)
		setBool(&g.Flags.Clubbing, p.Flags.Clubbing)
		setBool(&g.Flags.Lymphadenopathy, p.Flags.Lymphadenopathy)
		setBool(&g.Flags.Edema, p.Flags.Edema)
	}
	if p.HeightCM != nil {
		g.HeightCM = Float(*p.HeightCM)
	}
	if p.WeightKG != nil {
		g.WeightKG = Float(*p.WeightKG)
	}
	if g.HeightCM != nil && g.WeightKG != nil {
		m := *g.HeightCM / 100
		g.BMI = Float(math.Round(*g.WeightKG/(m*m)*10) / 10)
	}
}

// --- Systemic examination ---

// SystemExam is the examination of one organ system
type SystemExam struct {
	Autofill     bool   `json:"autofill,omitempty"`
	Inspection   string `json:"inspection"`
	Palpation    string `json:"palpation"`
	Percussion   string `json:"percussion"`
	Auscultation string `json:"auscultation"`
	Summary      string `json:"summary"`
}

// Text joins every finding of the system
func (e *SystemExam) Text() string {
	if e == nil {
		return ""
	}
	return e.Inspection + " " + e.Palpation + " " + e.Percussion + " " + e.Auscultation + " " + e.Summary
}

type SystemExamPatch struct {
	Autofill     *bool   `json:"autofill,omitempty"`
	Inspection   *string `json:"inspection,omitempty"`
	Palpation    *string `json:"palpation,omitempty"`
	Percussion   *string `json:"percussion,omitempty"`
	Auscultation *string `json:"auscultation,omitempty"`
	Summary      *string `json:"summary,omitempty"`
}

func (p *SystemExamPatch) mergeInto(e **SystemExam) {
	if p == nil {
		return
	}
	if *e == nil {
		*e = &SystemExam{}
	}
	t := *e
	setBool(&t.Autofill, p.Autofill)
	setString(&t.Inspection, p.Inspection)
	setString(&t.Palpation, p.Palpation)
	setString(&t.Percussion, p.Percussion)
	setString(&t.Auscultation, p.Auscultation)
	setString(&t.Summary, p.Summary)
}

// SystemicExamSection holds the per-system examinations
type SystemicExamSection struct {
	CVS     *SystemExam `json:"cvs,omitempty"`
	RS      *SystemExam `json:"rs,omitempty"`
	CNS     *SystemExam `json:"cns,omitempty"`
	Abdomen *SystemExam `json:"abdomen,omitempty"`
	MSK     *SystemExam `json:"msk,omitempty"`
	Skin    *SystemExam `json:"skin,omitempty"`
	Other   *SystemExam `json:"other,omitempty"`
}

type SystemicExamPatch struct {
	CVS     *SystemExamPatch `json:"cvs,omitempty"`
	RS      *SystemExamPatch `json:"rs,omitempty"`
	CNS     *SystemExamPatch `json:"cns,omitempty"`
	Abdomen *SystemExamPatch `json:"abdomen,omitempty"`
	MSK     *SystemExamPatch `json:"msk,omitempty"`
	Skin    *SystemExamPatch `json:"skin,omitempty"`
	Other   *SystemExamPatch `json:"other,omitempty"`
}

func (p SystemicExamPatch) Section() SectionKey { return SectionSystemic }

func (p SystemicExamPatch) Validate() error { return nil }

func (p SystemicExamPatch) apply(s *Sections) {
	x := &s.Systemic
	p.CVS.mergeInto(&x.CVS)
	p.RS.mergeInto(&x.RS)
	p.CNS.mergeInto(&x.CNS)
	p.Abdomen.mergeInto(&x.Abdomen)
	p.MSK.mergeInto(&x.MSK)
	p.Skin.mergeInto(&x.Skin)
	p.Other.mergeInto(&x.Other)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
