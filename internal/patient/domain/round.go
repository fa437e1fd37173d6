package domain

import (
	"slices"
	"time"

	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

type RoundStatus string

const (
	RoundDraft  RoundStatus = "draft"
	RoundSigned RoundStatus = "signed"
)

type RoundPlan struct {
	Text         string     `json:"text"`
	LinkedOrders []types.ID `json:"linked_orders"`
}

// Round is one ward-round progress note in SOAP form
type Round struct {
	ID            types.ID    `json:"round_id"`
	PatientID     types.ID    `json:"patient_id"`
	DoctorID      string      `json:"doctor_id"`
	CreatedAt     time.Time   `json:"created_at"`
	Status        RoundStatus `json:"status"`
	Subjective    string      `json:"subjective"`
	Objective     string      `json:"objective"`
	Assessment    string      `json:"assessment"`
	Plan          RoundPlan   `json:"plan"`
	LinkedResults []string    `json:"linked_results"`
	SignedBy      string      `json:"signed_by,omitempty"`
	SignedAt      *time.Time  `json:"signed_at,omitempty"`

	AcknowledgedContradictions []string `json:"acknowledged_contradictions,omitempty"`
}

// RoundPatch merges into a draft round. Nil means not supplied.
type RoundPatch struct {
	Subjective    *string    `json:"subjective,omitempty"`
	Objective     *string    `json:"objective,omitempty"`
	Assessment    *string    `json:"assessment,omitempty"`
	PlanText      *string    `json:"plan_text,omitempty"`
	LinkedOrders  []types.ID `json:"linked_orders,omitempty"`
	LinkedResults []string   `json:"linked_results,omitempty"`
}

func newRound(patientID types.ID, doctorID string, at time.Time) Round {
	return Round{
		ID:            types.NewID(),
		PatientID:     patientID,
		DoctorID:      doctorID,
		CreatedAt:     at,
		Status:        RoundDraft,
		Plan:          RoundPlan{LinkedOrders: []types.ID{}},
		LinkedResults: []string{},
	}
}

// Update merges patch into the draft
func (r *Round) Update(patch RoundPatch) ([]string, error) {
	if r.Status == RoundSigned {
		return nil, errors.IllegalTransition("round", string(RoundSigned), "modify")
	}

	var changed []string
	for _, f := range []struct {
		name string
		dst  *string
		src  *string
	}{
		{"subjective", &r.Subjective, patch.Subjective},
		{"objective", &r.Objective, patch.Objective},
		{"assessment", &r.Assessment, patch.Assessment},
		{"plan_text", &r.Plan.Text, patch.PlanText},
	} {
		if f.src != nil {
			setString(f.dst, f.src)
			changed = append(changed, f.name)
		}
	}
	if patch.LinkedOrders != nil {
		r.Plan.LinkedOrders = slices.Clone(patch.LinkedOrders)
		changed = append(changed, "linked_orders")
	}
	if patch.LinkedResults != nil {
		r.LinkedResults = slices.Clone(patch.LinkedResults)
		changed = append(changed, "linked_results")
	}
	return changed, nil
}

// SignOff locks the round, recording the warnings the clinician saw
func (r *Round) SignOff(actorID string, at time.Time, acknowledged []string) error {
	if r.Status == RoundSigned {
		return errAlreadySigned("round", r.ID)
	}
	r.Status = RoundSigned
	r.SignedBy = actorID
	r.SignedAt = &at
	r.AcknowledgedContradictions = slices.Clone(acknowledged)
	return nil
}
