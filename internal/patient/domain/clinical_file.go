package domain

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/medflow/platform/internal/shared/types"
)

// FileStatus is the sign-off state of a clinical file
type FileStatus string

const (
	FileStatusDraft  FileStatus = "draft"
	FileStatusSigned FileStatus = "signed"
)

// Suggestion fields a clinician can accept into the history section
const (
	SuggestChiefComplaint     = "chief_complaint"
	SuggestDuration           = "duration"
	SuggestAssociatedSymptoms = "associated_symptoms"
	SuggestStructuredHPI      = "structured_hpi"
	SuggestPastMedicalHistory = "past_medical_history"
	SuggestAllergyHistory     = "allergy_history"
	SuggestFamilyHistory      = "family_history"
)

// FollowUpQuestion is an advisor question that helps complete a history field
type FollowUpQuestion struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	AnswerType   string   `json:"answer_type"`
	QuickOptions []string `json:"quick_options,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`
}

// HistorySuggestion is the pending advisor proposal for the history section.
// It is never merged into the section without an explicit accept.
type HistorySuggestion struct {
	ChiefComplaint     *string   `json:"chief_complaint,omitempty"`
	Duration           *string   `json:"duration,omitempty"`
	AssociatedSymptoms []string  `json:"associated_symptoms,omitempty"`
	StructuredHPI      *string   `json:"structured_hpi,omitempty"`
	PastMedicalHistory *string   `json:"past_medical_history,omitempty"`
	AllergyHistory     []Allergy `json:"allergy_history,omitempty"`
	FamilyHistory      *string   `json:"family_history,omitempty"`

	FollowUpQuestions map[string][]FollowUpQuestion `json:"followUpQuestions,omitempty"`
	FollowUpAnswers   map[string]map[string]string  `json:"followUpAnswers,omitempty"`
}

// IsEmpty reports whether nothing is pending
func (s *HistorySuggestion) IsEmpty() bool {
	return s.ChiefComplaint == nil && s.Duration == nil && s.AssociatedSymptoms == nil &&
		s.StructuredHPI == nil && s.PastMedicalHistory == nil && s.AllergyHistory == nil &&
		s.FamilyHistory == nil && len(s.FollowUpQuestions) == 0 && len(s.FollowUpAnswers) == 0
}

// ClinicalFile is the structured intake record of one encounter
type ClinicalFile struct {
	ID        types.ID   `json:"id"`
	PatientID types.ID   `json:"patient_id"`
	Status    FileStatus `json:"status"`
	SignedAt  *time.Time `json:"signed_at,omitempty"`
	SignedBy  string     `json:"signed_by,omitempty"`

	AISummary                 string   `json:"ai_summary,omitempty"`
	MissingInfo               []string `json:"missing_info,omitempty"`
	CrossCheckInconsistencies []string `json:"cross_check_inconsistencies,omitempty"`

	Suggestions HistorySuggestion `json:"ai_suggestions"`
	Sections    Sections          `json:"sections"`
}

// NewClinicalFile creates a draft file seeded with the presenting complaint
func NewClinicalFile(patientID types.ID, complaint string) ClinicalFile {
	return ClinicalFile{
		ID:        types.NewID(),
		PatientID: patientID,
		Status:    FileStatusDraft,
		Sections: Sections{
			History: HistorySection{ChiefComplaint: complaint},
		},
	}
}

func (f *ClinicalFile) IsSigned() bool {
	return f.Status == FileStatusSigned
}

// UpdateSection merges patch into its section. A signed file is left
// untouched and false is returned.
func (f *ClinicalFile) UpdateSection(patch SectionPatch) bool {
	if f.IsSigned() {
		return false
	}
	patch.apply(&f.Sections)
	return true
}

// RecordSuggestion stores an advisor proposal next to the authoritative data.
// Fields present in s replace pending ones; follow-up Q&A is kept.
func (f *ClinicalFile) RecordSuggestion(s HistorySuggestion) bool {
	if f.IsSigned() {
		return false
	}
	cur := &f.Suggestions
	if s.ChiefComplaint != nil {
		cur.ChiefComplaint = s.ChiefComplaint
	}
	if s.Duration != nil {
		cur.Duration = s.Duration
	}
	if s.AssociatedSymptoms != nil {
		cur.AssociatedSymptoms = slices.Clone(s.AssociatedSymptoms)
	}
	if s.StructuredHPI != nil {
		cur.StructuredHPI = s.StructuredHPI
	}
	if s.PastMedicalHistory != nil {
		cur.PastMedicalHistory = s.PastMedicalHistory
	}
	if s.AllergyHistory != nil {
		cur.AllergyHistory = slices.Clone(s.AllergyHistory)
	}
	if s.FamilyHistory != nil {
		cur.FamilyHistory = s.FamilyHistory
	}
	return true
}

// AcceptSuggestion copies one pending suggestion into the history section
// and clears it. Allergies are appended; structured_hpi lands in hpi.
func (f *ClinicalFile) AcceptSuggestion(field string) (any, error) {
	if f.IsSigned() {
		return nil, errSignedFile()
	}

	s := &f.Suggestions
	h := &f.Sections.History

	var accepted any
	switch field {
	case SuggestChiefComplaint:
		if s.ChiefComplaint == nil {
			return nil, errNoSuggestion(field)
		}
		h.ChiefComplaint, accepted, s.ChiefComplaint = *s.ChiefComplaint, *s.ChiefComplaint, nil
	case SuggestDuration:
		if s.Duration == nil {
			return nil, errNoSuggestion(field)
		}
		h.Duration, accepted, s.Duration = *s.Duration, *s.Duration, nil
	case SuggestAssociatedSymptoms:
		if s.AssociatedSymptoms == nil {
			return nil, errNoSuggestion(field)
		}
		h.AssociatedSymptoms, accepted, s.AssociatedSymptoms = s.AssociatedSymptoms, s.AssociatedSymptoms, nil
	case SuggestStructuredHPI:
		if s.StructuredHPI == nil {
			return nil, errNoSuggestion(field)
		}
		h.HPI, accepted, s.StructuredHPI = *s.StructuredHPI, *s.StructuredHPI, nil
	case SuggestPastMedicalHistory:
		if s.PastMedicalHistory == nil {
			return nil, errNoSuggestion(field)
		}
		h.PastMedicalHistory, accepted, s.PastMedicalHistory = *s.PastMedicalHistory, *s.PastMedicalHistory, nil
	case SuggestAllergyHistory:
		if s.AllergyHistory == nil {
			return nil, errNoSuggestion(field)
		}
		h.AllergyHistory = append(h.AllergyHistory, s.AllergyHistory...)
		accepted, s.AllergyHistory = s.AllergyHistory, nil
	case SuggestFamilyHistory:
		if s.FamilyHistory == nil {
			return nil, errNoSuggestion(field)
		}
		h.FamilyHistory, accepted, s.FamilyHistory = *s.FamilyHistory, *s.FamilyHistory, nil
	default:
		return nil, errInvalid("unknown suggestion field %q", field)
	}

	return accepted, nil
}

// ClearSuggestions drops every pending suggestion, including follow-up Q&A
func (f *ClinicalFile) ClearSuggestions() {
	f.Suggestions = HistorySuggestion{}
}

// SetFollowUpQuestions stores advisor questions for a history field
func (f *ClinicalFile) SetFollowUpQuestions(field string, questions []FollowUpQuestion) bool {
	if f.IsSigned() {
		return false
	}
	if f.Suggestions.FollowUpQuestions == nil {
		f.Suggestions.FollowUpQuestions = make(map[string][]FollowUpQuestion)
	}
	f.Suggestions.FollowUpQuestions[field] = questions
	return true
}

// AnswerFollowUp records the clinician's answer to a pending question
func (f *ClinicalFile) AnswerFollowUp(field, questionID, answer string) error {
	if f.IsSigned() {
		return errSignedFile()
	}
	found := false
	for _, q := range f.Suggestions.FollowUpQuestions[field] {
		if q.ID == questionID {
			found = true
			break
		}
	}
	if !found {
		return errInvalid("no follow-up question %q for field %q", questionID, field)
	}

	if f.Suggestions.FollowUpAnswers == nil {
		f.Suggestions.FollowUpAnswers = make(map[string]map[string]string)
	}
	if f.Suggestions.FollowUpAnswers[field] == nil {
		f.Suggestions.FollowUpAnswers[field] = make(map[string]string)
	}
	f.Suggestions.FollowUpAnswers[field][questionID] = answer
	return nil
}

// AnsweredQuestions maps question text to answer for a field, in question order
func (f *ClinicalFile) AnsweredQuestions(field string) ([]string, map[string]string) {
	answers := f.Suggestions.FollowUpAnswers[field]
	var order []string
	out := make(map[string]string, len(answers))
	for _, q := range f.Suggestions.FollowUpQuestions[field] {
		if a, ok := answers[q.ID]; ok {
			order = append(order, q.Text)
			out[q.Text] = a
		}
	}
	return order, out
}

// ApplyComposedHistory writes a composed paragraph to a history field and
// clears that field's follow-up Q&A
func (f *ClinicalFile) ApplyComposedHistory(field, paragraph string) error {
	if f.IsSigned() {
		return errSignedFile()
	}
	if !f.Sections.History.SetTextField(field, paragraph) {
		return errInvalid("unknown history field %q", field)
	}
	delete(f.Suggestions.FollowUpQuestions, field)
	delete(f.Suggestions.FollowUpAnswers, field)
	return nil
}

// CheckMissingInfo lists documentation gaps in a section and stores them
func (f *ClinicalFile) CheckMissingInfo(section SectionKey) []string {
	missing := []string{}
	if section == SectionHistory {
		if len(f.Sections.History.AllergyHistory) == 0 {
			missing = append(missing, "Allergies are not documented.")
		}
		if strings.TrimSpace(f.Sections.History.PastMedicalHistory) == "" {
			missing = append(missing, "Past Medical History is empty.")
		}
	}
	f.MissingInfo = missing
	return missing
}

// LocalCrossCheck runs the rule-based consistency checks between sections
func (f *ClinicalFile) LocalCrossCheck() []string {
	var findings []string
	temp := f.Sections.GPE.Vitals.TempC
	if historyMentions(f.Sections.History, "fever") && temp != nil && *temp > 0 && *temp < 37.5 {
		findings = append(findings, "History mentions 'fever', but current temperature in GPE is normal. Please verify.")
	}
	return findings
}

func historyMentions(h HistorySection, word string) bool {
	parts := []string{
		h.ChiefComplaint, h.Duration, h.HPI, h.PastMedicalHistory, h.PastSurgicalHistory,
		h.DrugHistory, h.FamilyHistory, h.PersonalSocialHistory, h.MenstrualObstetricHistory,
		h.SocioeconomicLifestyle, strings.Join(h.AssociatedSymptoms, " "),
	}
	for _, k := range slices.Sorted(maps.Keys(h.ReviewOfSystems)) {
		parts = append(parts, k, h.ReviewOfSystems[k])
	}
	return strings.Contains(strings.ToLower(strings.Join(parts, " ")), word)
}

// SignOff locks the file. There is no way back to draft.
func (f *ClinicalFile) SignOff(actorID string, at time.Time) error {
	if f.IsSigned() {
		return errAlreadySigned("clinical_file", f.ID)
	}
	if strings.TrimSpace(f.Sections.History.ChiefComplaint) == "" {
		return errMissingComplaint()
	}

	f.Status = FileStatusSigned
	f.SignedAt = &at
	f.SignedBy = actorID
	return nil
}
