package workflow

import (
	"context"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
)

// OpenDraftRound returns the patient's draft round, starting one if none
// is open. At most one draft exists per patient.
func (s *Service) OpenDraftRound(ctx context.Context, actorID string, id types.ID) (domain.Round, error) {
	var r domain.Round
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		r, _, err = p.OpenDraftRound(actorID)
		return err
	})
	return r, err
}

// UpdateRound merges SOAP fields into a draft round
func (s *Service) UpdateRound(ctx context.Context, actorID string, id, roundID types.ID, patch domain.RoundPatch) (domain.Round, error) {
	var r domain.Round
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		r, err = p.UpdateRound(actorID, roundID, patch)
		return err
	})
	return r, err
}

// PrecheckRound returns the consistency warnings a clinician should see
// before signing a round. It never changes the patient.
func (s *Service) PrecheckRound(ctx context.Context, id, roundID types.ID) ([]string, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}

	found := false
	for _, r := range p.Rounds {
		if r.ID != roundID {
			continue
		}
		if r.Status != domain.RoundDraft {
			return nil, errors.AlreadySigned("round", roundID.String())
		}
		found = true
	}
	if !found {
		return nil, errors.NotFound("round", roundID.String())
	}

	return domain.CheckConsistency(p), nil
}

// SignOffRound signs a round. The warnings the clinician acknowledged are
// recorded with the sign-off; they never block it.
func (s *Service) SignOffRound(ctx context.Context, actorID string, id, roundID types.ID, acknowledged []string) (domain.Round, error) {
	var r domain.Round
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		r, err = p.SignOffRound(actorID, roundID, acknowledged)
		return err
	})
	if err != nil {
		return domain.Round{}, err
	}

	metrics.RecordRoundSigned()
	return r, nil
}

// --- Timeline ---

// AddTeamNote posts a note to the patient timeline
func (s *Service) AddTeamNote(ctx context.Context, actorID string, id types.ID, content string, escalation bool) (domain.TimelineEntry, error) {
	var e domain.TimelineEntry
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		e, err = p.AddTeamNote(actorID, content, escalation)
		return err
	})
	if err == nil && escalation {
		s.log.Warn().Str("patient_id", id.String()).Str("actor_id", actorID).Msg("escalation note posted")
	}
	return e, err
}

// AddChecklist posts a checklist to the patient timeline
func (s *Service) AddChecklist(ctx context.Context, actorID string, id types.ID, title string, items []string) (domain.TimelineEntry, error) {
	var e domain.TimelineEntry
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		e, err = p.AddChecklist(actorID, title, items)
		return err
	})
	return e, err
}

// ToggleChecklistItem flips one checklist item
func (s *Service) ToggleChecklistItem(ctx context.Context, actorID string, id, checklistID types.ID, index int) (domain.TimelineEntry, error) {
	var e domain.TimelineEntry
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		e, err = p.ToggleChecklistItem(actorID, checklistID, index)
		return err
	})
	return e, err
}
