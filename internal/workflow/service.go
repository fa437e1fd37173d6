// Package workflow is the patient workflow orchestrator. It serializes every
// mutation of a patient, turns the aggregate's audit intents into audit
// events in acceptance order, and keeps advisor calls off the critical path.
package workflow

import (
	"context"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/medflow/platform/internal/advisor"
	"github.com/medflow/platform/internal/audit"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/events"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
	"github.com/rs/zerolog"
)

// AdvisorActor is recorded as the actor of changes the advisor makes without
// a clinician in the loop
const AdvisorActor = "system:advisor"

const eventSource = "workflow"

// Registration sources
const (
	SourceReception = "reception"
	SourceHIS       = "his"
)

// Result is the outcome of a workflow operation. Degraded advisor outcomes
// are reported as warnings, never as errors.
type Result struct {
	Patient  *domain.Patient `json:"patient"`
	Warnings []string        `json:"warnings,omitempty"`
	Degraded bool            `json:"degraded"`
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) degrade(msg string) {
	r.Degraded = true
	r.warn(msg)
}

// Service is the patient workflow orchestrator
type Service struct {
	repo    domain.Repository
	trail   *audit.Trail
	advisor advisor.Advisor
	bus     events.EventBus
	log     zerolog.Logger

	locks *patientLocks
	wg    sync.WaitGroup
}

// NewService creates a new workflow service. bus may be nil.
func NewService(repo domain.Repository, trail *audit.Trail, adv advisor.Advisor, bus events.EventBus, log zerolog.Logger) *Service {
	if adv == nil {
		adv = advisor.Disabled{}
	}
	return &Service{
		repo:    repo,
		trail:   trail,
		advisor: adv,
		bus:     bus,
		log:     log.With().Str("component", "workflow").Logger(),
		locks:   newPatientLocks(),
	}
}

// Wait blocks until background advisor work has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// mutate runs fn on a private copy of the patient while holding the
// patient's lock. The copy is committed only when fn succeeds.
func (s *Service) mutate(ctx context.Context, id types.ID, fn func(p *domain.Patient) error) (*domain.Patient, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	before := p.Status
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.commit(ctx, p, false); err != nil {
		return nil, err
	}

	if p.Status != before {
		metrics.RecordPatientStatusChange(string(before), string(p.Status))
	}
	return p, nil
}

// commit persists p, appends its audit intents to the trail and publishes
// its integration events. The audit events are prepared before the write so
// that a trail failure leaves the repository untouched. Caller holds the
// patient's lock.
func (s *Service) commit(ctx context.Context, p *domain.Patient, created bool) error {
	changes := p.TakeChanges()
	raised := p.TakeEvents()
	if !created && len(changes) == 0 && len(raised) == 0 {
		return nil
	}

	pending, err := s.trail.Prepare(ctx, p.ID, changes...)
	if err != nil {
		s.log.Error().Err(err).Str("patient_id", p.ID.String()).Msg("failed to prepare audit events")
		return errors.Wrap(err, "failed to prepare audit events")
	}

	if created {
		err = s.repo.Save(ctx, p)
	} else {
		err = s.repo.Update(ctx, p)
	}
	if err != nil {
		return err
	}

	if _, err := s.trail.Commit(pending); err != nil {
		s.log.Error().Err(err).Str("patient_id", p.ID.String()).Msg("failed to append audit events")
		return errors.Wrap(err, "failed to append audit events")
	}

	s.publish(ctx, p.ID, raised)
	return nil
}

// publish hands integration events to the bus. Delivery is best effort.
func (s *Service) publish(ctx context.Context, patientID types.ID, raised []domain.Event) {
	if s.bus == nil || len(raised) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	reqID := middleware.GetReqID(ctx)

	for _, e := range raised {
		data := map[string]any{"entity_id": e.EntityID}
		for k, v := range e.Data {
			data[k] = v
		}
		event := events.NewEvent(e.Type, eventSource, patientID, data).WithActor(e.Actor)
		if reqID != "" {
			event = event.WithCorrelation(reqID)
		}

		if err := s.bus.Publish(ctx, event); err != nil {
			s.log.Warn().Err(err).
				Str("patient_id", patientID.String()).
				Str("event_type", e.Type).
				Msg("failed to publish event")
		}
	}
}

// snapshot reads the latest committed patient without taking its lock
func (s *Service) snapshot(ctx context.Context, id types.ID) (*domain.Patient, error) {
	return s.repo.FindByID(ctx, id)
}

// --- Registration and status ---

// Register creates a patient and asks the advisor to classify the complaint
// in the background. Feeds that carry an external reference are deduplicated.
func (s *Service) Register(ctx context.Context, actorID string, reg domain.Registration, source string) (Result, error) {
	if reg.ExternalRef != "" {
		_, err := s.repo.FindByExternalRef(ctx, reg.ExternalRef)
		if err == nil {
			return Result{}, errors.Conflict("patient with external reference " + reg.ExternalRef + " is already registered")
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return Result{}, err
		}
	}

	p, err := domain.NewPatient(reg, actorID)
	if err != nil {
		return Result{}, err
	}

	unlock := s.locks.lock(p.ID)
	err = s.commit(ctx, p, true)
	unlock()
	if err != nil {
		return Result{}, err
	}

	if source == "" {
		source = SourceReception
	}
	metrics.RecordPatientRegistered(source)
	s.log.Info().
		Str("patient_id", p.ID.String()).
		Str("actor_id", actorID).
		Str("source", source).
		Msg("patient registered")

	s.classifyInBackground(ctx, p.ID, p.Complaint)
	return Result{Patient: p}, nil
}

// classifyInBackground stores the advisor's routing suggestion once it
// arrives. A failed call stores the Unknown/None fallback instead.
func (s *Service) classifyInBackground(ctx context.Context, id types.ID, complaint string) {
	ctx = context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		t, err := s.advisor.Classify(ctx, complaint)
		if err != nil {
			s.log.Warn().Err(err).Str("patient_id", id.String()).Msg("complaint classification unavailable, using fallback")
			t = domain.AITriage{Department: domain.DeptUnknown, SuggestedTriage: domain.TriageNone, Confidence: 0}
		}

		_, err = s.mutate(ctx, id, func(p *domain.Patient) error {
			p.SetAITriage(AdvisorActor, t)
			return nil
		})
		if err != nil {
			s.log.Error().Err(err).Str("patient_id", id.String()).Msg("failed to store complaint classification")
		}
	}()
}

// UpdateComplaint replaces the presenting complaint
func (s *Service) UpdateComplaint(ctx context.Context, actorID string, id types.ID, text string) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.UpdateComplaint(actorID, text)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// RecordVitals records a reading and re-triages the patient
func (s *Service) RecordVitals(ctx context.Context, actorID string, id types.ID, m domain.VitalsMeasurements, source domain.VitalsSource, observations string) (Result, error) {
	var rec domain.VitalsRecord
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		rec, err = p.RecordVitals(actorID, m, source, observations)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordVitals(string(rec.Source), string(p.Triage.Level))
	if p.Triage.Level == domain.TriageRed {
		s.log.Warn().
			Str("patient_id", p.ID.String()).
			Strs("reasons", p.Triage.Reasons).
			Msg("patient triaged red")
	}
	return Result{Patient: p}, nil
}

// StartTreatment moves the patient into treatment
func (s *Service) StartTreatment(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.StartTreatment(actorID)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// Discharge moves the patient to the terminal Discharged status
func (s *Service) Discharge(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.Discharge(actorID)
	})
	if err != nil {
		return Result{}, err
	}
	s.log.Info().Str("patient_id", p.ID.String()).Str("actor_id", actorID).Msg("patient discharged")
	return Result{Patient: p}, nil
}

// --- Reads ---

// Get returns the latest committed snapshot of a patient
func (s *Service) Get(ctx context.Context, id types.ID) (*domain.Patient, error) {
	return s.snapshot(ctx, id)
}

// List lists patients, newest registration first
func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]domain.Patient, int, error) {
	return s.repo.List(ctx, filter)
}

// AuditTrail returns the patient's audit events in acceptance order
func (s *Service) AuditTrail(ctx context.Context, id types.ID) ([]audit.AuditEvent, error) {
	if _, err := s.snapshot(ctx, id); err != nil {
		return nil, err
	}
	return s.trail.ForPatient(ctx, id)
}
