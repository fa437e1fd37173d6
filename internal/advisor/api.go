package advisor

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/platform/internal/shared/errors"
)

// Handler provides HTTP handlers for the advisor module
type Handler struct {
	advisor Advisor
}

// NewHandler creates a new advisor handler
func NewHandler(advisor Advisor) *Handler {
	return &Handler{advisor: advisor}
}

// Routes registers the advisor routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/classify", h.Classify)
	r.Get("/health", h.HealthCheck)

	return r
}

// Classify handles ad-hoc complaint classification from the triage desk
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	if strings.TrimSpace(req.Complaint) == "" {
		writeError(w, errors.BadRequest("complaint is required"))
		return
	}

	result, err := h.advisor.Classify(r.Context(), req.Complaint)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HealthCheck checks advisor service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	err := h.advisor.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
