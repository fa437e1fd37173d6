package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/platform/internal/audit"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/patient/infrastructure"
	"github.com/medflow/platform/internal/shared/auth"
	"github.com/medflow/platform/internal/shared/events"
	"github.com/medflow/platform/internal/shared/logger"
	"github.com/medflow/platform/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	doctor = &auth.User{ID: "dr.grey", Roles: []string{auth.RoleDoctor}}
	intern = &auth.User{ID: "intern.1", Roles: []string{auth.RoleIntern}}
)

func newTestRouter(t *testing.T) (chi.Router, *workflow.Service) {
	t.Helper()
	svc := workflow.NewService(
		infrastructure.NewMemoryRepository(),
		audit.NewTrail(),
		nil,
		events.NewMemoryBus(),
		logger.Nop(),
	)
	t.Cleanup(svc.Wait)
	return NewHandler(svc).Routes(), svc
}

func do(t *testing.T, router http.Handler, method, path string, user *auth.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func registerPatient(t *testing.T, router http.Handler) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/", intern, domain.Registration{
		Name: "Jane Roe", Age: 41, Gender: domain.GenderFemale, Complaint: "fever",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res struct {
		Patient struct {
			ID string `json:"id"`
		} `json:"patient"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res.Patient.ID
}

func TestRegisterAndGet(t *testing.T) {
	router, _ := newTestRouter(t)
	id := registerPatient(t, router)

	rec := do(t, router, http.MethodGet, "/"+id+"/", intern, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/", intern, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Total)
}

func TestRegisterValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/", intern, domain.Registration{Name: "No Complaint", Age: 3, Gender: domain.GenderOther})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d: %s", http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestOrderGateAndSignOff(t *testing.T) {
	router, _ := newTestRouter(t)
	id := registerPatient(t, router)
	order := domain.OrderRequest{Category: domain.CategoryInvestigation, SubType: "CBC"}

	tests := []struct {
		name   string
		method string
		path   string
		user   *auth.User
		body   any
		status int
	}{
		{"order before sign-off", http.MethodPost, "/" + id + "/orders/", doctor, order, http.StatusPreconditionFailed},
		{"intern cannot sign", http.MethodPost, "/" + id + "/clinical-file/signoff", intern, nil, http.StatusForbidden},
		{"anonymous cannot sign", http.MethodPost, "/" + id + "/clinical-file/signoff", nil, nil, http.StatusUnauthorized},
		{"doctor signs", http.MethodPost, "/" + id + "/clinical-file/signoff", doctor, nil, http.StatusOK},
		{"second sign-off", http.MethodPost, "/" + id + "/clinical-file/signoff", doctor, nil, http.StatusConflict},
		{"order after sign-off", http.MethodPost, "/" + id + "/orders/", intern, order, http.StatusCreated},
		{"send drafts", http.MethodPost, "/" + id + "/orders/send-drafts", intern, SendDraftsRequest{Category: domain.CategoryInvestigation}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.user, tt.body)
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSignOffReportsDegraded(t *testing.T) {
	router, _ := newTestRouter(t)
	id := registerPatient(t, router)

	rec := do(t, router, http.MethodPost, "/"+id+"/clinical-file/signoff", doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res workflow.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{workflow.WarnOrderSuggestionsFailed}, res.Warnings)
}

func TestBadRequests(t *testing.T) {
	router, _ := newTestRouter(t)
	id := registerPatient(t, router)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"bad patient id", http.MethodGet, "/not-a-uuid/", http.StatusBadRequest},
		{"unknown patient", http.MethodGet, "/7a1f6f0e-2c1d-4d59-9a43-3f4b1f3f0c11/", http.StatusNotFound},
		{"unknown section", http.MethodPatch, "/" + id + "/clinical-file/sections/feet", http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/?status=Asleep", http.StatusBadRequest},
		{"bad checklist index", http.MethodPost, "/" + id + "/checklists/7a1f6f0e-2c1d-4d59-9a43-3f4b1f3f0c11/items/x/toggle", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, intern, map[string]any{})
			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestVitalsAndSummary(t *testing.T) {
	router, svc := newTestRouter(t)
	id := registerPatient(t, router)

	rec := do(t, router, http.MethodPost, "/"+id+"/vitals", intern, VitalsRequest{
		Measurements: domain.VitalsMeasurements{SpO2: domain.Float(88)},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res workflow.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, domain.TriageRed, res.Patient.Triage.Level)
	assert.Equal(t, domain.StatusWaitingForDoctor, res.Patient.Status)

	rec = do(t, router, http.MethodGet, "/"+id+"/vitals/summary", intern, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	assert.Equal(t, workflow.VitalsSummaryNotEnoughData, summary["summary"])

	svc.Wait()
	rec = do(t, router, http.MethodGet, "/"+id+"/audit", doctor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&trail))
	assert.Equal(t, 3, trail.Total)
}
