package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
)

// Warnings surfaced to the clinician
const (
	WarnFileSignedNoop         = "Clinical file is signed; the update was not applied."
	WarnSuggestionsUnavailable = "AI suggestions are unavailable right now."
	WarnSuggestionsDiscarded   = "The clinical file was signed before AI suggestions arrived; they were discarded."
	WarnSummaryUnavailable     = "AI summary is unavailable right now."
	WarnCrossCheckLocalOnly    = "AI cross-check is unavailable; only local rules were applied."
	WarnQuestionsUnavailable   = "AI follow-up questions are unavailable right now."
	WarnComposedLocally        = "AI composition is unavailable; the answers were composed locally."
	WarnOrderSuggestionsFailed = "AI order suggestions are unavailable; the clinical file was signed without them."
)

// UpdateSection merges a partial section update. On a signed file the
// update is a no-op reported as a warning.
func (s *Service) UpdateSection(ctx context.Context, actorID string, id types.ID, patch domain.SectionPatch) (Result, error) {
	applied := false
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		applied, err = p.UpdateSection(actorID, patch)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Patient: p}
	if !applied {
		res.warn(WarnFileSignedNoop)
	}
	return res, nil
}

// RequestHistorySuggestions asks the advisor to structure the HPI into
// suggestion fields. The suggestions are never applied without an accept.
func (s *Service) RequestHistorySuggestions(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := ensureDraftFile(p); err != nil {
		return Result{}, err
	}

	hpi := p.ClinicalFile.Sections.History.HPI
	if strings.TrimSpace(hpi) == "" {
		hpi = p.ClinicalFile.Sections.History.ChiefComplaint
	}

	suggestion, err := s.advisor.StructureHistory(ctx, hpi)
	if err != nil {
		res := Result{Patient: p}
		res.degrade(WarnSuggestionsUnavailable)
		return res, nil
	}

	recorded := false
	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		recorded = p.RecordSuggestion(actorID, suggestion)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Patient: p}
	if !recorded {
		res.warn(WarnSuggestionsDiscarded)
	}
	return res, nil
}

// AcceptSuggestion copies one pending suggestion into the history section
func (s *Service) AcceptSuggestion(ctx context.Context, actorID string, id types.ID, field string) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.AcceptSuggestion(actorID, field)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// ClearSuggestions rejects every pending suggestion of a section
func (s *Service) ClearSuggestions(ctx context.Context, actorID string, id types.ID, section domain.SectionKey) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.ClearSuggestions(actorID, section)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// CheckMissingInfo stores and returns the documentation gaps of a section
func (s *Service) CheckMissingInfo(ctx context.Context, actorID string, id types.ID, section domain.SectionKey) ([]string, error) {
	var missing []string
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		missing, err = p.CheckMissingInfo(actorID, section)
		return err
	})
	return missing, err
}

// CrossCheckFile combines the local consistency rules with the advisor's
// findings. Without the advisor only local findings are stored.
func (s *Service) CrossCheckFile(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return Result{}, err
	}

	var res Result
	remote, err := s.advisor.CrossCheck(ctx, p.ClinicalFile.Sections)
	if err != nil {
		res.degrade(WarnCrossCheckLocalOnly)
		remote = nil
	}

	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		// Local rules run on the committed file, not the pre-call snapshot
		findings := p.ClinicalFile.LocalCrossCheck()
		for _, f := range remote {
			if f = strings.TrimSpace(f); f != "" && !slices.Contains(findings, f) {
				findings = append(findings, f)
			}
		}
		p.SetCrossCheck(actorID, findings)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res.Patient = p
	return res, nil
}

// SummarizeClinicalFile stores the advisor's summary of the file
func (s *Service) SummarizeClinicalFile(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return Result{}, err
	}

	summary, err := s.advisor.SummarizeFile(ctx, p.ClinicalFile.Sections)
	if err != nil {
		res := Result{Patient: p}
		res.degrade(WarnSummaryUnavailable)
		return res, nil
	}

	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		p.SetFileSummary(actorID, summary)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// RequestFollowUpQuestions asks the advisor for questions that would
// complete a history field
func (s *Service) RequestFollowUpQuestions(ctx context.Context, actorID string, id types.ID, field, seed string) (Result, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := ensureDraftFile(p); err != nil {
		return Result{}, err
	}
	current, ok := p.ClinicalFile.Sections.History.TextField(field)
	if !ok {
		return Result{}, errors.Validation(fmt.Sprintf("unknown history field %q", field), map[string]string{"field": field})
	}
	if strings.TrimSpace(seed) == "" {
		seed = current
	}

	questions, err := s.advisor.FollowUpQuestions(ctx, field, seed)
	if err != nil {
		res := Result{Patient: p}
		res.degrade(WarnQuestionsUnavailable)
		return res, nil
	}

	stored := false
	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		stored = p.SetFollowUpQuestions(actorID, field, questions)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Patient: p}
	if !stored {
		res.warn(WarnSuggestionsDiscarded)
	}
	return res, nil
}

// AnswerFollowUp records the clinician's answer to a follow-up question
func (s *Service) AnswerFollowUp(ctx context.Context, actorID string, id types.ID, field, questionID, answer string) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.AnswerFollowUp(actorID, field, questionID, answer)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// ComposeHistory turns a field's answered follow-up questions into a
// paragraph written to that field. Without the advisor the paragraph is
// composed locally.
func (s *Service) ComposeHistory(ctx context.Context, actorID string, id types.ID, field string) (Result, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if err := ensureDraftFile(p); err != nil {
		return Result{}, err
	}
	seed, ok := p.ClinicalFile.Sections.History.TextField(field)
	if !ok {
		return Result{}, errors.Validation(fmt.Sprintf("unknown history field %q", field), map[string]string{"field": field})
	}
	order, answers := p.ClinicalFile.AnsweredQuestions(field)
	if len(order) == 0 {
		return Result{}, errors.Validation("no follow-up questions have been answered", map[string]string{"field": field})
	}

	var res Result
	paragraph, err := s.advisor.ComposeHistory(ctx, field, seed, answers)
	if err != nil || strings.TrimSpace(paragraph) == "" {
		paragraph = composeLocally(seed, order, answers)
		res.degrade(WarnComposedLocally)
	}

	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.ApplyComposedHistory(actorID, field, paragraph)
	})
	if err != nil {
		return Result{}, err
	}

	res.Patient = p
	return res, nil
}

// composeLocally joins the answers in question order
func composeLocally(seed string, order []string, answers map[string]string) string {
	parts := make([]string, 0, len(order))
	for _, q := range order {
		parts = append(parts, answers[q])
	}
	return fmt.Sprintf("Based on the initial report of \"%s\", the following was noted: %s.", seed, strings.Join(parts, ". "))
}

// SignOffFile irreversibly signs the clinical file and seeds AI-suggested
// draft orders. A failed suggestion request leaves the sign-off in place
// and marks the result degraded. Once the file is signed the seeding no
// longer follows the caller's cancellation.
func (s *Service) SignOffFile(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.SignOffFile(actorID)
	})
	if err != nil {
		return Result{}, err
	}
	metrics.RecordClinicalFileSigned()
	s.log.Info().Str("patient_id", id.String()).Str("actor_id", actorID).Msg("clinical file signed")

	res := Result{Patient: p}
	ctx = context.WithoutCancel(ctx)

	suggested, err := s.advisor.SuggestOrders(ctx, p.ClinicalFile.Sections)
	if err != nil {
		res.degrade(WarnOrderSuggestionsFailed)
		return res, nil
	}
	if len(suggested) == 0 {
		return res, nil
	}

	var skipped []string
	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		for _, req := range suggested {
			if req.AIProvenance == nil {
				req.AIProvenance = &domain.AIProvenance{}
			}
			if _, err := p.CreateOrder(AdvisorActor, req); err != nil {
				skipped = append(skipped, fmt.Sprintf("Suggested order %q was skipped: %v", req.Label, err))
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("patient_id", id.String()).Msg("failed to store suggested orders")
		res.degrade(WarnOrderSuggestionsFailed)
		return res, nil
	}

	res.Patient = p
	for _, w := range skipped {
		res.warn(w)
	}
	return res, nil
}

func ensureDraftFile(p *domain.Patient) error {
	if p.IsDischarged() {
		return errors.IllegalTransition("patient", string(domain.StatusDischarged), "modify")
	}
	if p.ClinicalFile.IsSigned() {
		return errors.IllegalTransition("clinical_file", string(domain.FileStatusSigned), "modify")
	}
	return nil
}
