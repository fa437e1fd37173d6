package his

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medflow/platform/internal/audit"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/patient/infrastructure"
	"github.com/medflow/platform/internal/shared/config"
	"github.com/medflow/platform/internal/shared/logger"
	"github.com/medflow/platform/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu         sync.Mutex
	admissions []Admission
	calls      []time.Time
	err        error
}

func (s *fakeSource) Admissions(_ context.Context, since time.Time) ([]Admission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, since)
	if s.err != nil {
		return nil, s.err
	}
	var out []Admission
	for _, a := range s.admissions {
		if !a.AdmittedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeSource) Ping(context.Context) error { return nil }
func (s *fakeSource) Close() error               { return nil }

// flakyRegistrar fails the first failures calls with an unclassified error
type flakyRegistrar struct {
	Registrar
	failures int
}

func (r *flakyRegistrar) Register(ctx context.Context, actor string, reg domain.Registration, source string) (workflow.Result, error) {
	if r.failures > 0 {
		r.failures--
		return workflow.Result{}, fmt.Errorf("database unavailable")
	}
	return r.Registrar.Register(ctx, actor, reg, source)
}

func admission(id string, at time.Time, reason string) Admission {
	return Admission{
		AdmissionID: id,
		AdmittedAt:  at,
		Name:        " Marko Petrović ",
		BirthDate:   sql.NullTime{Time: time.Date(1980, 6, 15, 0, 0, 0, 0, time.UTC), Valid: true},
		GenderCode:  "m",
		Reason:      sql.NullString{String: reason, Valid: reason != ""},
	}
}

func newService() (*workflow.Service, *infrastructure.MemoryRepository) {
	repo := infrastructure.NewMemoryRepository()
	return workflow.NewService(repo, audit.NewTrail(), nil, nil, logger.Nop()), repo
}

func TestToRegistration(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reg := ToRegistration(admission("A-1", at, " chest pain "))

	assert.Equal(t, "Marko Petrović", reg.Name)
	assert.Equal(t, 45, reg.Age)
	assert.Equal(t, domain.GenderMale, reg.Gender)
	assert.Equal(t, "chest pain", reg.Complaint)
	assert.Equal(t, "his:A-1", reg.ExternalRef)
}

func TestMapGender(t *testing.T) {
	tests := []struct {
		code string
		want domain.Gender
	}{
		{"M", domain.GenderMale},
		{"f", domain.GenderFemale},
		{"Z", domain.GenderFemale},
		{"", domain.GenderOther},
		{"X", domain.GenderOther},
	}

	for _, tt := range tests {
		if got := mapGender(tt.code); got != tt.want {
			t.Errorf("mapGender(%q): expected %s, got %s", tt.code, tt.want, got)
		}
	}
}

func TestPollRegistersOnce(t *testing.T) {
	svc, repo := newService()
	defer svc.Wait()

	base := time.Now().Add(-time.Minute)
	src := &fakeSource{admissions: []Admission{
		admission("A-1", base, "fever"),
		admission("A-2", base.Add(time.Second), "abdominal pain"),
	}}
	a := New(config.HISConfig{PollInterval: time.Hour}, src, svc, logger.Nop())
	a.lastPoll = base.Add(-time.Hour)

	ctx := context.Background()
	require.NoError(t, a.Poll(ctx))
	require.NoError(t, a.Poll(ctx))

	_, total, err := repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	p, err := repo.FindByExternalRef(ctx, "his:A-2")
	require.NoError(t, err)
	assert.Equal(t, "abdominal pain", p.Complaint)

	require.Len(t, src.calls, 2)
	assert.Equal(t, base.Add(time.Second), src.calls[1])
}

func TestPollSkipsInvalidAdmissions(t *testing.T) {
	svc, repo := newService()
	defer svc.Wait()

	base := time.Now().Add(-time.Minute)
	src := &fakeSource{admissions: []Admission{
		admission("A-1", base, ""),
		admission("A-2", base.Add(time.Second), "syncope"),
	}}
	a := New(config.HISConfig{}, src, svc, logger.Nop())
	a.lastPoll = base.Add(-time.Hour)

	require.NoError(t, a.Poll(context.Background()))

	_, total, err := repo.List(context.Background(), domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestPollRetriesFailedRegistration(t *testing.T) {
	svc, repo := newService()
	defer svc.Wait()

	base := time.Now().Add(-time.Minute)
	src := &fakeSource{admissions: []Admission{
		admission("A-1", base, "fever"),
		admission("A-2", base.Add(time.Second), "cough"),
	}}
	reg := &flakyRegistrar{Registrar: svc, failures: 1}
	a := New(config.HISConfig{}, src, reg, logger.Nop())
	start := base.Add(-time.Hour)
	a.lastPoll = start

	ctx := context.Background()
	require.NoError(t, a.Poll(ctx))
	assert.Equal(t, start, a.lastPoll)

	require.NoError(t, a.Poll(ctx))
	_, total, err := repo.List(ctx, domain.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestPollSourceError(t *testing.T) {
	svc, _ := newService()
	a := New(config.HISConfig{}, &fakeSource{err: fmt.Errorf("login failed")}, svc, logger.Nop())

	if err := a.Poll(context.Background()); err == nil {
		t.Error("Expected source error to be returned")
	}
}

func TestStartStop(t *testing.T) {
	svc, _ := newService()
	a := New(config.HISConfig{PollInterval: time.Hour}, &fakeSource{}, svc, logger.Nop())
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))
	require.Error(t, a.Start(ctx))
	require.NoError(t, a.Health(ctx))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
	require.Error(t, a.Health(ctx))
}

func TestConnString(t *testing.T) {
	s := ConnString(config.HISConfig{Host: "his.local", Port: 1433, Database: "ER", User: "feed", Password: "p@ss;word", Encrypt: true})

	assert.True(t, strings.HasPrefix(s, "sqlserver://feed:"))
	assert.Contains(t, s, "his.local:1433")
	assert.Contains(t, s, "database=ER")
	assert.Contains(t, s, "encrypt=true")
}
