package workflow

import (
	"context"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
)

// CreateOrder adds a draft order. The clinical file must be signed.
func (s *Service) CreateOrder(ctx context.Context, actorID string, id types.ID, req domain.OrderRequest) (domain.Order, error) {
	var o domain.Order
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		o, err = p.CreateOrder(actorID, req)
		return err
	})
	return o, err
}

// UpdateOrder edits an order that is not closed
func (s *Service) UpdateOrder(ctx context.Context, actorID string, id, orderID types.ID, patch domain.OrderPatch) (domain.Order, error) {
	var o domain.Order
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		o, err = p.UpdateOrder(actorID, orderID, patch)
		return err
	})
	return o, err
}

// TransitionOrder moves an order along its lifecycle. Orders reaching sent
// are dispatched downstream through the event bus.
func (s *Service) TransitionOrder(ctx context.Context, actorID string, id, orderID types.ID, to domain.OrderStatus, result *domain.ResultRef) (domain.Order, error) {
	var (
		o    domain.Order
		from domain.OrderStatus
	)
	_, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		current, err := p.FindOrder(orderID)
		if err != nil {
			return err
		}
		from = current.Status
		o, err = p.TransitionOrder(actorID, orderID, to, result)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	metrics.RecordOrderTransition(string(o.Category), string(from), string(o.Status))
	return o, nil
}

// AcceptSuggested sends the listed AI-suggested drafts. Orders that are not
// drafts are skipped, so repeating the call changes nothing.
func (s *Service) AcceptSuggested(ctx context.Context, actorID string, id types.ID, orderIDs []types.ID) (Result, []types.ID, error) {
	var sent []types.ID
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		sent, err = p.AcceptSuggested(actorID, orderIDs)
		return err
	})
	if err != nil {
		return Result{}, nil, err
	}

	recordSent(p, sent)
	return Result{Patient: p}, sent, nil
}

// SendAllDrafts sends every draft order of one category
func (s *Service) SendAllDrafts(ctx context.Context, actorID string, id types.ID, category domain.OrderCategory) (Result, []types.ID, error) {
	var sent []types.ID
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		var err error
		sent, err = p.SendAllDrafts(actorID, category)
		return err
	})
	if err != nil {
		return Result{}, nil, err
	}

	recordSent(p, sent)
	if len(sent) > 0 {
		s.log.Info().
			Str("patient_id", id.String()).
			Str("actor_id", actorID).
			Str("category", string(category)).
			Int("sent", len(sent)).
			Msg("draft orders sent")
	}
	return Result{Patient: p}, sent, nil
}

func recordSent(p *domain.Patient, sent []types.ID) {
	for _, orderID := range sent {
		if o, err := p.FindOrder(orderID); err == nil {
			metrics.RecordOrderTransition(string(o.Category), string(domain.OrderDraft), string(domain.OrderSent))
		}
	}
}
