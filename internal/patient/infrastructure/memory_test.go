package infrastructure

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, name, complaint string) *domain.Patient {
	t.Helper()
	p, err := domain.NewPatient(domain.Registration{
		Name: name, Age: 30, Gender: domain.GenderOther, Complaint: complaint,
	}, "reception")
	require.NoError(t, err)
	return p
}

func TestMemoryRepositorySaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := register(t, "Ana", "headache")

	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, domain.StatusWaitingForTriage, got.Status)

	// Mutating the returned copy must not touch the store
	got.Name = "changed"
	again, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", again.Name)

	err = repo.Save(ctx, p)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = repo.FindByID(ctx, types.NewID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMemoryRepositoryUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := register(t, "Ana", "headache")
	require.NoError(t, repo.Save(ctx, p))

	_, err := p.RecordVitals("nurse", domain.VitalsMeasurements{Pulse: domain.Float(80)}, domain.VitalsSourceManual, "")
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, p))

	got, err := repo.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingForDoctor, got.Status)
	assert.Len(t, got.VitalsHistory, 1)

	missing := register(t, "Bo", "cough")
	err = repo.Update(ctx, missing)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMemoryRepositoryFindByExternalRef(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	p, err := domain.NewPatient(domain.Registration{
		Name: "Ana", Age: 30, Gender: domain.GenderFemale, Complaint: "fall", ExternalRef: "HIS-42",
	}, "his")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, p))

	got, err := repo.FindByExternalRef(ctx, "HIS-42")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = repo.FindByExternalRef(ctx, "HIS-43")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestMemoryRepositoryList(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		p := register(t, fmt.Sprintf("Patient %d", i), "fever")
		p.RegisteredAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			_, err := p.RecordVitals("nurse", domain.VitalsMeasurements{SpO2: domain.Float(85)}, "", "")
			require.NoError(t, err)
		}
		require.NoError(t, repo.Save(ctx, p))
	}

	all, total, err := repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, "Patient 4", all[0].Name)
	assert.Equal(t, "Patient 0", all[4].Name)

	red := domain.TriageRed
	reds, total, err := repo.List(ctx, domain.ListFilter{Triage: &red})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, p := range reds {
		assert.Equal(t, domain.TriageRed, p.Triage.Level)
	}

	waiting := domain.StatusWaitingForTriage
	_, total, err = repo.List(ctx, domain.ListFilter{Status: &waiting})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	page, total, err := repo.List(ctx, domain.ListFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, page, 1)

	found, _, err := repo.List(ctx, domain.ListFilter{Search: "patient 3"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Patient 3", found[0].Name)
}
