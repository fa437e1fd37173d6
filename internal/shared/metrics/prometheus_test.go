package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestNormalizePath tests that ids are replaced with placeholders
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/api/v1/patients", "/api/v1/patients"},
		{"/api/v1/patients/6f1c2a9e-1111-4222-8333-944455556666/vitals", "/api/v1/patients/:id/vitals"},
		{"/api/v1/patients/6f1c2a9e-1111-4222-8333-944455556666/checklists/6f1c2a9e-1111-4222-8333-944455556667/items/2/toggle",
			"/api/v1/patients/:id/checklists/:id/items/:n/toggle"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

// TestMiddlewareCapturesStatus tests that the wrapped writer records the status
func TestMiddlewareCapturesStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected %d, got %d", http.StatusTeapot, rec.Code)
	}
}
