package infrastructure

import (
	"context"
	"sort"
	"sync"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

// MemoryRepository keeps patients in process memory. It is used in
// development without a database and in tests. Every read and write goes
// through a deep copy so callers never alias stored state.
type MemoryRepository struct {
	mu       sync.RWMutex
	patients map[types.ID]*domain.Patient
	external map[string]types.ID
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients: make(map[types.ID]*domain.Patient),
		external: make(map[string]types.ID),
	}
}

// Save stores a new patient
func (r *MemoryRepository) Save(_ context.Context, p *domain.Patient) error {
	c, err := p.Clone()
	if err != nil {
		return errors.Wrap(err, "failed to save patient")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patients[p.ID]; ok {
		return errors.Conflict("patient already exists")
	}
	if p.ExternalRef != "" {
		if _, ok := r.external[p.ExternalRef]; ok {
			return errors.Conflict("patient already exists")
		}
		r.external[p.ExternalRef] = p.ID
	}
	r.patients[p.ID] = c
	return nil
}

// Update replaces a stored patient
func (r *MemoryRepository) Update(_ context.Context, p *domain.Patient) error {
	c, err := p.Clone()
	if err != nil {
		return errors.Wrap(err, "failed to update patient")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patients[p.ID]; !ok {
		return errors.NotFound("patient", p.ID.String())
	}
	r.patients[p.ID] = c
	return nil
}

// FindByID returns a copy of the stored patient
func (r *MemoryRepository) FindByID(_ context.Context, id types.ID) (*domain.Patient, error) {
	r.mu.RLock()
	p, ok := r.patients[id]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("patient", id.String())
	}
	return p.Clone()
}

// FindByExternalRef returns a copy of the patient registered under ref
func (r *MemoryRepository) FindByExternalRef(ctx context.Context, ref string) (*domain.Patient, error) {
	r.mu.RLock()
	id, ok := r.external[ref]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("patient", ref)
	}
	return r.FindByID(ctx, id)
}

// List returns matching patients, newest registration first
func (r *MemoryRepository) List(_ context.Context, filter domain.ListFilter) ([]domain.Patient, int, error) {
	r.mu.RLock()
	var matched []*domain.Patient
	for _, p := range r.patients {
		if filter.Matches(p) {
			matched = append(matched, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RegisteredAt.Equal(matched[j].RegisteredAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].RegisteredAt.After(matched[j].RegisteredAt)
	})

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := min(start+pageSize(filter.Limit), total)

	out := make([]domain.Patient, 0, end-start)
	for _, p := range matched[start:end] {
		c, err := p.Clone()
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to list patients")
		}
		out = append(out, *c)
	}
	return out, total, nil
}
