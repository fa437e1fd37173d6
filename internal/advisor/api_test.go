package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerClassify(t *testing.T) {
	stub := &stubAdvisor{classify: func(context.Context, string) (domain.AITriage, error) {
		return domain.AITriage{Department: domain.DeptOrthopedics, SuggestedTriage: domain.TriageGreen, Confidence: 0.8}, nil
	}}
	h := NewHandler(stub)

	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(`{"complaint":"twisted ankle"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.AITriage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, domain.DeptOrthopedics, got.Department)
}

func TestHandlerClassifyErrors(t *testing.T) {
	h := NewHandler(NewGuard(Disabled{}, testGuardConfig(), nil, logger.Nop()))

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"empty complaint", `{"complaint":"  "}`, http.StatusBadRequest},
		{"advisor unavailable", `{"complaint":"fever"}`, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandlerHealth(t *testing.T) {
	h := NewHandler(Disabled{})

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
