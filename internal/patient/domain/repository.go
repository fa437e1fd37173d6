package domain

import (
	"context"
	"strings"

	"github.com/medflow/platform/internal/shared/types"
)

// Repository defines the interface for patient persistence. Implementations
// return copies; callers never share a *Patient with the store.
type Repository interface {
	Save(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	FindByID(ctx context.Context, id types.ID) (*Patient, error)
	FindByExternalRef(ctx context.Context, ref string) (*Patient, error)
	List(ctx context.Context, filter ListFilter) ([]Patient, int, error)
}

// ListFilter defines filters for listing patients
type ListFilter struct {
	Status *Status      `json:"status,omitempty"`
	Triage *TriageLevel `json:"triage,omitempty"`
	Search string       `json:"search,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// Matches reports whether p passes the status, triage and search filters
func (f ListFilter) Matches(p *Patient) bool {
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.Triage != nil && p.Triage.Level != *f.Triage {
		return false
	}
	if f.Search != "" && !containsFold(p.Name+" "+p.Ref+" "+p.Complaint, f.Search) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
