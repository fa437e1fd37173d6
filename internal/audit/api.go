package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/platform/internal/shared/auth"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the audit module
type Handler struct {
	trail *Trail
}

// NewHandler creates a new audit handler
func NewHandler(trail *Trail) *Handler {
	return &Handler{trail: trail}
}

// Routes registers the audit routes. Only doctors and admins may read trails.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleDoctor, auth.RoleAdmin))

	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/verify", h.Verify)
		r.Get("/export.xlsx", h.Export)
	})

	return r
}

// ListEvents returns a patient's audit trail, oldest first
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := h.trail.ForPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []AuditEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"total": len(events),
	})
}

// Verify recomputes the patient's hash chain
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.trail.Verify(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Export downloads the patient's audit trail as a spreadsheet
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	patientID, err := patientIDParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := h.trail.ForPatient(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := ExportXLSX(&buf, patientID, events); err != nil {
		writeError(w, errors.Internal(err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%s.xlsx"`, patientID))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func patientIDParam(r *http.Request) (types.ID, error) {
	id, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		return "", errors.BadRequest("invalid patient ID")
	}
	return id, nil
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
