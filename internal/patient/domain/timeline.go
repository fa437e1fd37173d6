package domain

import (
	"time"

	"github.com/medflow/platform/internal/shared/types"
)

// TimelineKind distinguishes timeline entries
type TimelineKind string

const (
	TimelineTeamNote  TimelineKind = "TeamNote"
	TimelineChecklist TimelineKind = "Checklist"
)

type ChecklistItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// TimelineEntry is a team note or a checklist on the patient timeline
type TimelineEntry struct {
	ID        types.ID     `json:"id"`
	Kind      TimelineKind `json:"type"`
	PatientID types.ID     `json:"patient_id"`
	AuthorID  string       `json:"author_id"`
	Timestamp time.Time    `json:"timestamp"`

	// TeamNote
	Content      string `json:"content,omitempty"`
	IsEscalation bool   `json:"is_escalation,omitempty"`

	// Checklist
	Title string          `json:"title,omitempty"`
	Items []ChecklistItem `json:"items,omitempty"`
}
