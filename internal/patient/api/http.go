package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/auth"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
	"github.com/medflow/platform/internal/workflow"
)

// Handler provides HTTP handlers for the patient module
type Handler struct {
	svc *workflow.Service
}

// NewHandler creates a new patient handler
func NewHandler(svc *workflow.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the patient routes. Every clinician may document;
// signing anything requires a doctor.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	signer := auth.RequireRoles(auth.RoleDoctor, auth.RoleAdmin)

	r.Get("/", h.ListPatients)
	r.Post("/", h.RegisterPatient)

	r.Route("/{patientID}", func(r chi.Router) {
		r.Get("/", h.GetPatient)
		r.Put("/complaint", h.UpdateComplaint)
		r.Post("/vitals", h.RecordVitals)
		r.Get("/vitals/summary", h.SummarizeVitals)
		r.Post("/status/treatment", h.StartTreatment)
		r.With(signer).Post("/status/discharge", h.Discharge)

		// Clinical file
		r.Route("/clinical-file", func(r chi.Router) {
			r.Patch("/sections/{section}", h.UpdateSection)
			r.Post("/suggestions", h.RequestSuggestions)
			r.Post("/suggestions/{field}/accept", h.AcceptSuggestion)
			r.Delete("/suggestions/{section}", h.ClearSuggestions)
			r.Post("/missing-info/{section}", h.CheckMissingInfo)
			r.Post("/cross-check", h.CrossCheck)
			r.Post("/summary", h.Summarize)
			r.Post("/follow-up/{field}", h.RequestFollowUp)
			r.Post("/follow-up/{field}/answers", h.AnswerFollowUp)
			r.Post("/follow-up/{field}/compose", h.ComposeHistory)
			r.With(signer).Post("/signoff", h.SignOffFile)
		})

		// Orders
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Post("/accept", h.AcceptSuggested)
			r.Post("/send-drafts", h.SendDrafts)
			r.Patch("/{orderID}", h.UpdateOrder)
			r.Post("/{orderID}/transition", h.TransitionOrder)
		})

		// Rounds
		r.Route("/rounds", func(r chi.Router) {
			r.Post("/draft", h.OpenDraftRound)
			r.Patch("/{roundID}", h.UpdateRound)
			r.Get("/{roundID}/precheck", h.PrecheckRound)
			r.With(signer).Post("/{roundID}/signoff", h.SignOffRound)
		})

		// Timeline
		r.Post("/notes", h.AddTeamNote)
		r.Post("/checklists", h.AddChecklist)
		r.Post("/checklists/{checklistID}/items/{index}/toggle", h.ToggleChecklistItem)

		// Generated documents
		r.Post("/overview", h.GenerateOverview)
		r.Post("/discharge-summary", h.GenerateDischargeSummary)
		r.With(signer).Post("/discharge-summary/finalize", h.FinalizeDischargeSummary)

		r.Get("/audit", h.AuditTrail)
	})

	return r
}

// --- Request types ---

type ComplaintRequest struct {
	Complaint string `json:"complaint"`
}

type VitalsRequest struct {
	Measurements domain.VitalsMeasurements `json:"measurements"`
	Source       domain.VitalsSource       `json:"source"`
	Observations string                    `json:"observations,omitempty"`
}

type AnswerRequest struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

type FollowUpRequest struct {
	Seed string `json:"seed,omitempty"`
}

type TransitionRequest struct {
	Status    domain.OrderStatus `json:"status"`
	ResultRef *domain.ResultRef  `json:"resultRef,omitempty"`
}

type AcceptOrdersRequest struct {
	OrderIDs []types.ID `json:"order_ids"`
}

type SendDraftsRequest struct {
	Category domain.OrderCategory `json:"category"`
}

type SignOffRoundRequest struct {
	AcknowledgedContradictions []string `json:"acknowledged_contradictions"`
}

type TeamNoteRequest struct {
	Content      string `json:"content"`
	IsEscalation bool   `json:"is_escalation"`
}

type ChecklistRequest struct {
	Title string   `json:"title"`
	Items []string `json:"items"`
}

type FinalizeRequest struct {
	Text string `json:"text"`
}

// --- Patients ---

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ListFilter{Search: q.Get("search")}

	if s := q.Get("status"); s != "" {
		status := domain.Status(s)
		if !status.Valid() {
			writeError(w, errors.BadRequest("invalid status"))
			return
		}
		filter.Status = &status
	}
	if t := q.Get("triage"); t != "" {
		level := domain.TriageLevel(t)
		if !level.Valid() {
			writeError(w, errors.BadRequest("invalid triage level"))
			return
		}
		filter.Triage = &level
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, errors.BadRequest("invalid limit"))
			return
		}
		filter.Limit = limit
	}
	if o := q.Get("offset"); o != "" {
		offset, err := strconv.Atoi(o)
		if err != nil || offset < 0 {
			writeError(w, errors.BadRequest("invalid offset"))
			return
		}
		filter.Offset = offset
	}

	patients, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if patients == nil {
		patients = []domain.Patient{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  patients,
		"total": total,
	})
}

func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req domain.Registration
	if !decode(w, r, &req) {
		return
	}

	res, err := h.svc.Register(r.Context(), actor(r), req, workflow.SourceReception)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}

	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateComplaint(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req ComplaintRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.UpdateComplaint(r.Context(), actor(r), id, req.Complaint)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) RecordVitals(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req VitalsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.RecordVitals(r.Context(), actor(r), id, req.Measurements, req.Source, req.Observations)
	respond(w, http.StatusCreated, res, err)
}

func (h *Handler) SummarizeVitals(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	text, err := h.svc.SummarizeVitals(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": text})
}

func (h *Handler) StartTreatment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.StartTreatment(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) Discharge(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.Discharge(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

// --- Clinical file ---

func (h *Handler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}

	var patch domain.SectionPatch
	switch domain.SectionKey(chi.URLParam(r, "section")) {
	case domain.SectionHistory:
		var p domain.HistoryPatch
		if !decode(w, r, &p) {
			return
		}
		patch = p
	case domain.SectionGPE:
		var p domain.GeneralExamPatch
		if !decode(w, r, &p) {
			return
		}
		patch = p
	case domain.SectionSystemic:
		var p domain.SystemicExamPatch
		if !decode(w, r, &p) {
			return
		}
		patch = p
	default:
		writeError(w, errors.BadRequest("unknown section"))
		return
	}

	res, err := h.svc.UpdateSection(r.Context(), actor(r), id, patch)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) RequestSuggestions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.RequestHistorySuggestions(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) AcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.AcceptSuggestion(r.Context(), actor(r), id, chi.URLParam(r, "field"))
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) ClearSuggestions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	section := domain.SectionKey(chi.URLParam(r, "section"))
	res, err := h.svc.ClearSuggestions(r.Context(), actor(r), id, section)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) CheckMissingInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	section := domain.SectionKey(chi.URLParam(r, "section"))

	missing, err := h.svc.CheckMissingInfo(r.Context(), actor(r), id, section)
	if err != nil {
		writeError(w, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"missing": missing})
}

func (h *Handler) CrossCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.CrossCheckFile(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.SummarizeClinicalFile(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) RequestFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req FollowUpRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := h.svc.RequestFollowUpQuestions(r.Context(), actor(r), id, chi.URLParam(r, "field"), req.Seed)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) AnswerFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req AnswerRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.AnswerFollowUp(r.Context(), actor(r), id, chi.URLParam(r, "field"), req.QuestionID, req.Answer)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) ComposeHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.ComposeHistory(r.Context(), actor(r), id, chi.URLParam(r, "field"))
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) SignOffFile(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.SignOffFile(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

// --- Orders ---

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req domain.OrderRequest
	if !decode(w, r, &req) {
		return
	}
	// Provenance is set by the advisor path only
	req.AIProvenance = nil

	res, err := h.svc.CreateOrder(r.Context(), actor(r), id, req)
	respond(w, http.StatusCreated, res, err)
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}
	var patch domain.OrderPatch
	if !decode(w, r, &patch) {
		return
	}
	res, err := h.svc.UpdateOrder(r.Context(), actor(r), id, orderID, patch)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	orderID, ok := idParam(w, r, "orderID")
	if !ok {
		return
	}
	var req TransitionRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.TransitionOrder(r.Context(), actor(r), id, orderID, req.Status, req.ResultRef)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) AcceptSuggested(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req AcceptOrdersRequest
	if !decode(w, r, &req) {
		return
	}

	res, sent, err := h.svc.AcceptSuggested(r.Context(), actor(r), id, req.OrderIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sentResponse(res, sent))
}

func (h *Handler) SendDrafts(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req SendDraftsRequest
	if !decode(w, r, &req) {
		return
	}

	res, sent, err := h.svc.SendAllDrafts(r.Context(), actor(r), id, req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sentResponse(res, sent))
}

func sentResponse(res workflow.Result, sent []types.ID) map[string]any {
	if sent == nil {
		sent = []types.ID{}
	}
	return map[string]any{
		"patient": res.Patient,
		"sent":    sent,
	}
}

// --- Rounds ---

func (h *Handler) OpenDraftRound(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.OpenDraftRound(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) UpdateRound(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	roundID, ok := idParam(w, r, "roundID")
	if !ok {
		return
	}
	var patch domain.RoundPatch
	if !decode(w, r, &patch) {
		return
	}
	res, err := h.svc.UpdateRound(r.Context(), actor(r), id, roundID, patch)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) PrecheckRound(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	roundID, ok := idParam(w, r, "roundID")
	if !ok {
		return
	}

	warnings, err := h.svc.PrecheckRound(r.Context(), id, roundID)
	if err != nil {
		writeError(w, err)
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (h *Handler) SignOffRound(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	roundID, ok := idParam(w, r, "roundID")
	if !ok {
		return
	}
	var req SignOffRoundRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	res, err := h.svc.SignOffRound(r.Context(), actor(r), id, roundID, req.AcknowledgedContradictions)
	respond(w, http.StatusOK, res, err)
}

// --- Timeline ---

func (h *Handler) AddTeamNote(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req TeamNoteRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.AddTeamNote(r.Context(), actor(r), id, req.Content, req.IsEscalation)
	respond(w, http.StatusCreated, res, err)
}

func (h *Handler) AddChecklist(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req ChecklistRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.AddChecklist(r.Context(), actor(r), id, req.Title, req.Items)
	respond(w, http.StatusCreated, res, err)
}

func (h *Handler) ToggleChecklistItem(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	checklistID, ok := idParam(w, r, "checklistID")
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid item index"))
		return
	}
	res, err := h.svc.ToggleChecklistItem(r.Context(), actor(r), id, checklistID, index)
	respond(w, http.StatusOK, res, err)
}

// --- Documents ---

func (h *Handler) GenerateOverview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.GenerateOverview(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) GenerateDischargeSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	res, err := h.svc.GenerateDischargeSummary(r.Context(), actor(r), id)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) FinalizeDischargeSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	var req FinalizeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.FinalizeDischargeSummary(r.Context(), actor(r), id, req.Text)
	respond(w, http.StatusOK, res, err)
}

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "patientID")
	if !ok {
		return
	}
	events, err := h.svc.AuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"total": len(events),
	})
}

// --- Helpers ---

// actor returns the authenticated clinician. Routes are mounted behind the
// auth middleware, so a missing user only happens in tests.
func actor(r *http.Request) string {
	if user := auth.GetUser(r.Context()); user != nil {
		return user.ID
	}
	return "anonymous"
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, name))
	if err != nil {
		writeError(w, errors.BadRequest("invalid "+name))
		return "", false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, v)
}

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
