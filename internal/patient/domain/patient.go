package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

// Status is the workflow stage of a patient
type Status string

const (
	StatusWaitingForTriage Status = "Waiting for Triage"
	StatusWaitingForDoctor Status = "Waiting for Doctor"
	StatusInTreatment      Status = "In Treatment"
	StatusDischarged       Status = "Discharged"
)

func (s Status) Valid() bool {
	switch s {
	case StatusWaitingForTriage, StatusWaitingForDoctor, StatusInTreatment, StatusDischarged:
		return true
	}
	return false
}

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// Department is where the advisor would route a complaint
type Department string

const (
	DeptCardiology      Department = "Cardiology"
	DeptOrthopedics     Department = "Orthopedics"
	DeptGeneralMedicine Department = "General Medicine"
	DeptObstetrics      Department = "Obstetrics"
	DeptNeurology       Department = "Neurology"
	DeptEmergency       Department = "Emergency"
	DeptUnknown         Department = "Unknown"
)

func (d Department) Valid() bool {
	switch d {
	case DeptCardiology, DeptOrthopedics, DeptGeneralMedicine, DeptObstetrics,
		DeptNeurology, DeptEmergency, DeptUnknown:
		return true
	}
	return false
}

// AITriage is the advisor's routing suggestion for the complaint
type AITriage struct {
	Department      Department  `json:"department"`
	SuggestedTriage TriageLevel `json:"suggested_triage"`
	Confidence      float64     `json:"confidence"`
	FromCache       bool        `json:"fromCache,omitempty"`
}

// Overview is the generated at-a-glance summary of a patient
type Overview struct {
	Summary        string    `json:"summary"`
	VitalsSnapshot string    `json:"vitalsSnapshot"`
	ActiveOrders   string    `json:"activeOrders"`
	RecentResults  string    `json:"recentResults"`
	GeneratedAt    time.Time `json:"generated_at"`
}

type DischargeSummary struct {
	Draft       string     `json:"draft"`
	Finalized   string     `json:"finalized,omitempty"`
	FinalizedBy string     `json:"finalized_by,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Registration is the demographic data captured at reception
type Registration struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Gender      Gender `json:"gender"`
	Phone       string `json:"phone"`
	Complaint   string `json:"complaint"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// Validate checks the registration data
func (r *Registration) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Complaint = strings.TrimSpace(r.Complaint)
	if r.Name == "" {
		return errInvalid("name is required")
	}
	if r.Age < 0 || r.Age > 150 {
		return errInvalid("age must be between 0 and 150")
	}
	switch r.Gender {
	case GenderMale, GenderFemale, GenderOther:
	default:
		return errInvalid("invalid gender %q", r.Gender)
	}
	if r.Complaint == "" {
		return errInvalid("complaint is required")
	}
	return nil
}

// Patient is the aggregate root of the clinical workflow
type Patient struct {
	ID          types.ID `json:"id"`
	Ref         string   `json:"ref"`
	ExternalRef string   `json:"external_ref,omitempty"`
	Name        string   `json:"name"`
	Age         int      `json:"age"`
	Gender      Gender   `json:"gender"`
	Phone       string   `json:"phone"`
	Complaint   string   `json:"complaint"`
	Status      Status   `json:"status"`

	Vitals        *VitalsMeasurements `json:"vitals,omitempty"`
	VitalsHistory []VitalsRecord      `json:"vitalsHistory"`
	Triage        Triage              `json:"triage"`
	AITriage      *AITriage           `json:"aiTriage,omitempty"`

	Timeline         []TimelineEntry   `json:"timeline"`
	Overview         *Overview         `json:"overview,omitempty"`
	ClinicalFile     ClinicalFile      `json:"clinicalFile"`
	Orders           []Order           `json:"orders"`
	Rounds           []Round           `json:"rounds"`
	DischargeSummary *DischargeSummary `json:"dischargeSummary,omitempty"`

	RegisteredAt time.Time `json:"registrationTime"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Pending audit intents and integration events, not persisted
	changes []Change
	events  []Event
}

var now = func() time.Time { return time.Now().UTC() }

// NewPatient registers a patient in Waiting for Triage with no triage level
func NewPatient(reg Registration, actorID string) (*Patient, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	t := now()
	id := types.NewID()
	p := &Patient{
		ID:            id,
		Ref:           id.Ref("PAT"),
		ExternalRef:   reg.ExternalRef,
		Name:          reg.Name,
		Age:           reg.Age,
		Gender:        reg.Gender,
		Phone:         reg.Phone,
		Complaint:     reg.Complaint,
		Status:        StatusWaitingForTriage,
		VitalsHistory: []VitalsRecord{},
		Triage:        Triage{Level: TriageNone, Reasons: []string{}},
		Timeline:      []TimelineEntry{},
		ClinicalFile:  NewClinicalFile(id, reg.Complaint),
		Orders:        []Order{},
		Rounds:        []Round{},
		RegisteredAt:  t,
		UpdatedAt:     t,
	}

	p.record(actorID, ActionCreate, EntityPatientRecord, id.String(), map[string]any{
		"name":      reg.Name,
		"complaint": reg.Complaint,
	})
	p.raise(actorID, EventPatientRegistered, id.String(), map[string]any{"ref": p.Ref})

	return p, nil
}

// IsDischarged reports whether the patient reached the terminal status
func (p *Patient) IsDischarged() bool {
	return p.Status == StatusDischarged
}

func (p *Patient) ensureActive() error {
	if p.IsDischarged() {
		return errDischarged()
	}
	return nil
}

// UpdateComplaint replaces the presenting complaint text
func (p *Patient) UpdateComplaint(actorID, text string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errInvalid("complaint is required")
	}

	p.Complaint = text
	p.UpdatedAt = now()
	p.record(actorID, ActionModify, EntityPatientRecord, p.ID.String(), map[string]any{
		"field":        "chiefComplaint",
		"finalContent": text,
	})
	return nil
}

// SetAITriage stores the advisor's routing suggestion once. Returns false
// when a suggestion is already present or the patient was discharged.
func (p *Patient) SetAITriage(actorID string, t AITriage) bool {
	if p.AITriage != nil || p.IsDischarged() {
		return false
	}
	p.AITriage = &t
	p.UpdatedAt = now()
	p.record(actorID, ActionCreate, EntityPatientRecord, p.ID.String(), map[string]any{
		"field":      "aiTriage",
		"from":       "ai_suggestion",
		"department": string(t.Department),
		"suggested":  string(t.SuggestedTriage),
		"confidence": t.Confidence,
	})
	return true
}

// RecordVitals prepends a reading, recomputes triage and, on the first
// reading only, moves the patient from Waiting for Triage to Waiting for Doctor
func (p *Patient) RecordVitals(actorID string, m VitalsMeasurements, source VitalsSource, observations string) (VitalsRecord, error) {
	if err := p.ensureActive(); err != nil {
		return VitalsRecord{}, err
	}
	if m.IsEmpty() {
		return VitalsRecord{}, errInvalid("at least one measurement is required")
	}
	if err := m.Validate(); err != nil {
		return VitalsRecord{}, errInvalid("%v", err)
	}
	if source == "" {
		source = VitalsSourceManual
	}
	if source != VitalsSourceManual && source != VitalsSourceDevice {
		return VitalsRecord{}, errInvalid("invalid vitals source %q", source)
	}

	t := now()
	first := len(p.VitalsHistory) == 0
	rec := VitalsRecord{
		ID:           types.NewID(),
		PatientID:    p.ID,
		RecordedAt:   t,
		RecordedBy:   actorID,
		Source:       source,
		Measurements: m,
		Observations: observations,
	}

	p.VitalsHistory = append([]VitalsRecord{rec}, p.VitalsHistory...)
	snapshot := m
	p.Vitals = &snapshot
	p.Triage = Evaluate(m)

	payload := map[string]any{
		"source":       string(source),
		"triage_level": string(p.Triage.Level),
		"reasons":      p.Triage.Reasons,
	}
	if first && p.Status == StatusWaitingForTriage {
		p.Status = StatusWaitingForDoctor
		payload["old_status"] = string(StatusWaitingForTriage)
		payload["new_status"] = string(StatusWaitingForDoctor)
	}
	p.UpdatedAt = t

	p.record(actorID, ActionCreate, EntityVitals, rec.ID.String(), payload)
	p.raise(actorID, EventPatientTriaged, rec.ID.String(), map[string]any{"level": string(p.Triage.Level)})
	return rec, nil
}

// StartTreatment is the operator-driven move into In Treatment
func (p *Patient) StartTreatment(actorID string) error {
	return p.changeStatus(actorID, StatusInTreatment)
}

// Discharge moves the patient to the terminal Discharged status
func (p *Patient) Discharge(actorID string) error {
	if err := p.changeStatus(actorID, StatusDischarged); err != nil {
		return err
	}
	p.raise(actorID, EventPatientDischarged, p.ID.String(), nil)
	return nil
}

func (p *Patient) changeStatus(actorID string, to Status) error {
	if p.IsDischarged() || p.Status == to {
		return errors.IllegalTransition("patient", string(p.Status), string(to))
	}

	from := p.Status
	p.Status = to
	p.UpdatedAt = now()
	p.record(actorID, ActionModify, EntityPatientRecord, p.ID.String(), map[string]any{
		"old_status": string(from),
		"new_status": string(to),
	})
	return nil
}

// --- Clinical file ---

func sectionEntity(k SectionKey) Entity {
	if k == SectionHistory {
		return EntityHistorySection
	}
	return EntityClinicalFile
}

// UpdateSection merges a partial section update. On a signed file nothing
// changes and false is returned without an error.
func (p *Patient) UpdateSection(actorID string, patch SectionPatch) (bool, error) {
	if err := p.ensureActive(); err != nil {
		return false, err
	}
	if err := patch.Validate(); err != nil {
		return false, errInvalid("%v", err)
	}
	if !p.ClinicalFile.UpdateSection(patch) {
		return false, nil
	}

	p.UpdatedAt = now()
	p.record(actorID, ActionModify, sectionEntity(patch.Section()), p.ClinicalFile.ID.String(), map[string]any{
		"section":      string(patch.Section()),
		"finalContent": patch,
	})
	return true, nil
}

// RecordSuggestion stores an advisor proposal for the history section
func (p *Patient) RecordSuggestion(actorID string, s HistorySuggestion) bool {
	if p.IsDischarged() || !p.ClinicalFile.RecordSuggestion(s) {
		return false
	}
	p.UpdatedAt = now()
	p.record(actorID, ActionCreate, EntityHistorySection, p.ClinicalFile.ID.String(), map[string]any{
		"from":               "ai_suggestion",
		"originalSuggestion": s,
	})
	return true
}

// AcceptSuggestion copies one suggestion field into the history section
func (p *Patient) AcceptSuggestion(actorID, field string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	accepted, err := p.ClinicalFile.AcceptSuggestion(field)
	if err != nil {
		return err
	}

	p.UpdatedAt = now()
	p.record(actorID, ActionAccept, EntityHistorySection, p.ClinicalFile.ID.String(), map[string]any{
		"field":        field,
		"finalContent": accepted,
	})
	return nil
}

// ClearSuggestions rejects every pending suggestion of a section
func (p *Patient) ClearSuggestions(actorID string, section SectionKey) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	if section != SectionHistory {
		return errInvalid("section %q has no suggestions", section)
	}
	if p.ClinicalFile.Suggestions.IsEmpty() {
		return nil
	}

	p.ClinicalFile.ClearSuggestions()
	p.UpdatedAt = now()
	p.record(actorID, ActionReject, EntityHistorySection, p.ClinicalFile.ID.String(), map[string]any{
		"section": string(section),
	})
	return nil
}

// CheckMissingInfo stores and returns documentation gaps of a section
func (p *Patient) CheckMissingInfo(actorID string, section SectionKey) ([]string, error) {
	if !section.Valid() {
		return nil, errInvalid("unknown section %q", section)
	}
	missing := p.ClinicalFile.CheckMissingInfo(section)
	p.UpdatedAt = now()
	p.record(actorID, ActionView, EntityClinicalFile, p.ClinicalFile.ID.String(), map[string]any{
		"check":    "missing_info",
		"section":  string(section),
		"findings": missing,
	})
	return missing, nil
}

// SetCrossCheck stores cross-check findings on the file
func (p *Patient) SetCrossCheck(actorID string, findings []string) {
	if findings == nil {
		findings = []string{}
	}
	p.ClinicalFile.CrossCheckInconsistencies = findings
	p.UpdatedAt = now()
	p.record(actorID, ActionView, EntityClinicalFile, p.ClinicalFile.ID.String(), map[string]any{
		"check":    "cross_check",
		"findings": findings,
	})
}

// SetFileSummary stores the advisor summary of the clinical file
func (p *Patient) SetFileSummary(actorID, summary string) bool {
	if p.IsDischarged() {
		return false
	}
	p.ClinicalFile.AISummary = summary
	p.UpdatedAt = now()
	p.record(actorID, ActionCreate, EntityClinicalFile, p.ClinicalFile.ID.String(), map[string]any{
		"field": "aiSummary",
		"from":  "ai_suggestion",
	})
	return true
}

// SetFollowUpQuestions stores advisor questions for a history field
func (p *Patient) SetFollowUpQuestions(actorID, field string, questions []FollowUpQuestion) bool {
	if p.IsDischarged() || !p.ClinicalFile.SetFollowUpQuestions(field, questions) {
		return false
	}
	p.UpdatedAt = now()
	p.record(actorID, ActionCreate, EntityHistorySection, p.ClinicalFile.ID.String(), map[string]any{
		"field":     field,
		"from":      "ai_suggestion",
		"questions": len(questions),
	})
	return true
}

// AnswerFollowUp records an answer to a follow-up question
func (p *Patient) AnswerFollowUp(actorID, field, questionID, answer string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	if err := p.ClinicalFile.AnswerFollowUp(field, questionID, answer); err != nil {
		return err
	}
	p.UpdatedAt = now()
	p.record(actorID, ActionModify, EntityHistorySection, p.ClinicalFile.ID.String(), map[string]any{
		"field":       field,
		"question_id": questionID,
	})
	return nil
}

// ApplyComposedHistory writes a composed paragraph into a history field
func (p *Patient) ApplyComposedHistory(actorID, field, paragraph string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	if err := p.ClinicalFile.ApplyComposedHistory(field, paragraph); err != nil {
		return err
	}
	p.UpdatedAt = now()
	p.record(actorID, ActionAccept, EntityHistorySection, p.ClinicalFile.ID.String(), map[string]any{
		"field":        field,
		"from":         "ai_composition",
		"finalContent": paragraph,
	})
	return nil
}

// SignOffFile irreversibly signs the clinical file
func (p *Patient) SignOffFile(actorID string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	if err := p.ClinicalFile.SignOff(actorID, now()); err != nil {
		return err
	}

	p.UpdatedAt = now()
	p.record(actorID, ActionSignoff, EntityClinicalFile, p.ClinicalFile.ID.String(), nil)
	p.raise(actorID, EventClinicalFileSigned, p.ClinicalFile.ID.String(), nil)
	return nil
}

// --- Orders ---

// FindOrder returns the order with id
func (p *Patient) FindOrder(id types.ID) (*Order, error) {
	for i := range p.Orders {
		if p.Orders[i].ID == id {
			return &p.Orders[i], nil
		}
	}
	return nil, errors.NotFound("order", id.String())
}

// CreateOrder adds a draft order. The clinical file must be signed.
func (p *Patient) CreateOrder(actorID string, d OrderRequest) (Order, error) {
	if err := p.ensureActive(); err != nil {
		return Order{}, err
	}
	if !p.ClinicalFile.IsSigned() {
		return Order{}, errors.FileNotSigned(p.ID.String())
	}
	if err := d.Validate(); err != nil {
		return Order{}, err
	}

	o := newOrder(p.ID, actorID, d, now())
	p.Orders = append(p.Orders, o)
	p.UpdatedAt = o.CreatedAt

	payload := map[string]any{
		"category": string(o.Category),
		"label":    o.Label,
		"priority": string(o.Priority),
	}
	if o.IsAISuggested() {
		payload["from"] = "ai_suggestion"
		payload["rationale"] = o.AIProvenance.Rationale
	}
	p.record(actorID, ActionCreate, EntityOrder, o.ID.String(), payload)
	return o, nil
}

// TransitionOrder moves one order along its lifecycle
func (p *Patient) TransitionOrder(actorID string, id types.ID, to OrderStatus, result *ResultRef) (Order, error) {
	if err := p.ensureActive(); err != nil {
		return Order{}, err
	}
	if !to.Valid() {
		return Order{}, errInvalid("invalid order status %q", to)
	}
	o, err := p.FindOrder(id)
	if err != nil {
		return Order{}, err
	}

	from := o.Status
	if err := o.Transition(to, actorID, now(), result); err != nil {
		return Order{}, err
	}

	action := ActionModify
	if to == OrderCancelled {
		action = ActionCancel
	}
	p.UpdatedAt = o.Meta.LastModified
	p.record(actorID, action, EntityOrder, o.ID.String(), map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	p.raiseOrder(actorID, o)
	return *o, nil
}

// UpdateOrder edits a non-closed order
func (p *Patient) UpdateOrder(actorID string, id types.ID, patch OrderPatch) (Order, error) {
	if err := p.ensureActive(); err != nil {
		return Order{}, err
	}
	o, err := p.FindOrder(id)
	if err != nil {
		return Order{}, err
	}

	changed, err := o.Update(patch, actorID, now())
	if err != nil {
		return Order{}, err
	}
	if len(changed) == 0 {
		return *o, nil
	}

	p.UpdatedAt = o.Meta.LastModified
	p.record(actorID, ActionModify, EntityOrder, o.ID.String(), map[string]any{
		"updates": patch,
		"fields":  changed,
	})
	return *o, nil
}

// AcceptSuggested sends the listed AI-suggested drafts. Orders that are not
// drafts, not AI-suggested or unknown are skipped.
func (p *Patient) AcceptSuggested(actorID string, ids []types.ID) ([]types.ID, error) {
	if err := p.ensureActive(); err != nil {
		return nil, err
	}

	var sent []types.ID
	for i := range p.Orders {
		o := &p.Orders[i]
		if !slices.Contains(ids, o.ID) || o.Status != OrderDraft || !o.IsAISuggested() {
			continue
		}
		p.sendDraft(actorID, o, "ai_suggestion")
		sent = append(sent, o.ID)
	}
	return sent, nil
}

// SendAllDrafts sends every draft of one category. One audit intent is
// recorded per order sent.
func (p *Patient) SendAllDrafts(actorID string, category OrderCategory) ([]types.ID, error) {
	if err := p.ensureActive(); err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, errInvalid("invalid order category %q", category)
	}

	var sent []types.ID
	for i := range p.Orders {
		o := &p.Orders[i]
		if o.Category != category || o.Status != OrderDraft {
			continue
		}
		p.sendDraft(actorID, o, "bulk_send_drafts")
		sent = append(sent, o.ID)
	}
	return sent, nil
}

func (p *Patient) sendDraft(actorID string, o *Order, from string) {
	// draft -> sent is always adjacent
	_ = o.Transition(OrderSent, actorID, now(), nil)
	p.UpdatedAt = o.Meta.LastModified
	p.record(actorID, ActionAccept, EntityOrder, o.ID.String(), map[string]any{"from": from})
	p.raiseOrder(actorID, o)
}

func (p *Patient) raiseOrder(actorID string, o *Order) {
	switch o.Status {
	case OrderSent:
		p.raise(actorID, EventOrderSent, o.ID.String(), map[string]any{
			"category": string(o.Category),
			"subType":  o.SubType,
			"label":    o.Label,
			"priority": string(o.Priority),
			"payload":  o.Payload,
		})
	case OrderCancelled:
		p.raise(actorID, EventOrderCancelled, o.ID.String(), nil)
	}
}

// ActiveOrders returns orders that are sent, scheduled or in progress
func (p *Patient) ActiveOrders() []Order {
	var out []Order
	for _, o := range p.Orders {
		if o.IsActive() {
			out = append(out, o)
		}
	}
	return out
}

// --- Rounds ---

// DraftRound returns the open draft round, if any
func (p *Patient) DraftRound() *Round {
	for i := range p.Rounds {
		if p.Rounds[i].Status == RoundDraft {
			return &p.Rounds[i]
		}
	}
	return nil
}

func (p *Patient) findRound(id types.ID) (*Round, error) {
	for i := range p.Rounds {
		if p.Rounds[i].ID == id {
			return &p.Rounds[i], nil
		}
	}
	return nil, errors.NotFound("round", id.String())
}

// OpenDraftRound returns the existing draft or starts a new one
func (p *Patient) OpenDraftRound(actorID string) (Round, bool, error) {
	if err := p.ensureActive(); err != nil {
		return Round{}, false, err
	}
	if !p.ClinicalFile.IsSigned() {
		return Round{}, false, errors.FileNotSigned(p.ID.String())
	}
	if r := p.DraftRound(); r != nil {
		return *r, false, nil
	}

	r := newRound(p.ID, actorID, now())
	p.Rounds = append(p.Rounds, r)
	p.UpdatedAt = r.CreatedAt
	p.record(actorID, ActionCreate, EntityRound, r.ID.String(), nil)
	return r, true, nil
}

// UpdateRound merges SOAP fields into a draft round. A patch that supplies
// nothing changes nothing and is not audited.
func (p *Patient) UpdateRound(actorID string, id types.ID, patch RoundPatch) (Round, error) {
	if err := p.ensureActive(); err != nil {
		return Round{}, err
	}
	r, err := p.findRound(id)
	if err != nil {
		return Round{}, err
	}
	changed, err := r.Update(patch)
	if err != nil {
		return Round{}, err
	}
	if len(changed) == 0 {
		return *r, nil
	}

	p.UpdatedAt = now()
	p.record(actorID, ActionModify, EntityRound, r.ID.String(), map[string]any{
		"updates": patch,
		"fields":  changed,
	})
	return *r, nil
}

// SignOffRound signs a round. acknowledged lists the consistency warnings
// the clinician saw and chose to sign over.
func (p *Patient) SignOffRound(actorID string, id types.ID, acknowledged []string) (Round, error) {
	if err := p.ensureActive(); err != nil {
		return Round{}, err
	}
	r, err := p.findRound(id)
	if err != nil {
		return Round{}, err
	}
	if acknowledged == nil {
		acknowledged = []string{}
	}
	if err := r.SignOff(actorID, now(), acknowledged); err != nil {
		return Round{}, err
	}

	p.UpdatedAt = *r.SignedAt
	p.record(actorID, ActionSignoff, EntityRound, r.ID.String(), map[string]any{
		"acknowledged_contradictions": acknowledged,
	})
	p.raise(actorID, EventRoundSigned, r.ID.String(), nil)
	return *r, nil
}

// --- Timeline ---

// AddTeamNote appends a note to the patient timeline
func (p *Patient) AddTeamNote(actorID, content string, escalation bool) (TimelineEntry, error) {
	if err := p.ensureActive(); err != nil {
		return TimelineEntry{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return TimelineEntry{}, errInvalid("note content is required")
	}

	e := TimelineEntry{
		ID:           types.NewID(),
		Kind:         TimelineTeamNote,
		PatientID:    p.ID,
		AuthorID:     actorID,
		Timestamp:    now(),
		Content:      content,
		IsEscalation: escalation,
	}
	p.Timeline = append([]TimelineEntry{e}, p.Timeline...)
	p.UpdatedAt = e.Timestamp
	p.record(actorID, ActionCreate, EntityTeamNote, e.ID.String(), map[string]any{
		"isEscalation": escalation,
	})
	return e, nil
}

// AddChecklist appends a checklist with every item unchecked
func (p *Patient) AddChecklist(actorID, title string, items []string) (TimelineEntry, error) {
	if err := p.ensureActive(); err != nil {
		return TimelineEntry{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return TimelineEntry{}, errInvalid("checklist title is required")
	}

	e := TimelineEntry{
		ID:        types.NewID(),
		Kind:      TimelineChecklist,
		PatientID: p.ID,
		AuthorID:  actorID,
		Timestamp: now(),
		Title:     title,
		Items:     []ChecklistItem{},
	}
	for _, text := range items {
		if text = strings.TrimSpace(text); text != "" {
			e.Items = append(e.Items, ChecklistItem{Text: text})
		}
	}
	if len(e.Items) == 0 {
		return TimelineEntry{}, errInvalid("checklist needs at least one item")
	}

	p.Timeline = append([]TimelineEntry{e}, p.Timeline...)
	p.UpdatedAt = e.Timestamp
	p.record(actorID, ActionCreate, EntityChecklist, e.ID.String(), map[string]any{
		"title": title,
		"items": len(e.Items),
	})
	return e, nil
}

// ToggleChecklistItem flips one checklist item
func (p *Patient) ToggleChecklistItem(actorID string, checklistID types.ID, index int) (TimelineEntry, error) {
	if err := p.ensureActive(); err != nil {
		return TimelineEntry{}, err
	}
	for i := range p.Timeline {
		e := &p.Timeline[i]
		if e.ID != checklistID || e.Kind != TimelineChecklist {
			continue
		}
		if index < 0 || index >= len(e.Items) {
			return TimelineEntry{}, errInvalid("checklist item %d out of range", index)
		}

		e.Items[index].Checked = !e.Items[index].Checked
		p.UpdatedAt = now()
		p.record(actorID, ActionModify, EntityChecklist, e.ID.String(), map[string]any{
			"item":    index,
			"checked": e.Items[index].Checked,
		})
		return *e, nil
	}
	return TimelineEntry{}, errors.NotFound("checklist", checklistID.String())
}

// --- Generated documents ---

// SetOverview stores a generated overview
func (p *Patient) SetOverview(actorID string, o Overview) {
	o.GeneratedAt = now()
	p.Overview = &o
	p.UpdatedAt = o.GeneratedAt
	p.record(actorID, ActionView, EntityPatientRecord, p.ID.String(), map[string]any{"generated": "overview"})
}

// SetDischargeDraft stores a generated discharge summary draft
func (p *Patient) SetDischargeDraft(actorID, draft string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	if p.DischargeSummary != nil && p.DischargeSummary.Finalized != "" {
		return errAlreadySigned("discharge_summary", p.ID)
	}
	p.DischargeSummary = &DischargeSummary{Draft: draft}
	p.UpdatedAt = now()
	p.record(actorID, ActionCreate, EntityDischargeSummary, p.ID.String(), map[string]any{"from": "ai_suggestion"})
	return nil
}

// FinalizeDischargeSummary signs the clinician-edited discharge summary
func (p *Patient) FinalizeDischargeSummary(actorID, text string) error {
	if err := p.ensureActive(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errInvalid("discharge summary text is required")
	}
	if p.DischargeSummary != nil && p.DischargeSummary.Finalized != "" {
		return errAlreadySigned("discharge_summary", p.ID)
	}
	if p.DischargeSummary == nil {
		p.DischargeSummary = &DischargeSummary{}
	}

	t := now()
	original := p.DischargeSummary.Draft
	p.DischargeSummary.Finalized = text
	p.DischargeSummary.FinalizedBy = actorID
	p.DischargeSummary.FinalizedAt = &t
	p.UpdatedAt = t
	p.record(actorID, ActionSignoff, EntityDischargeSummary, p.ID.String(), map[string]any{
		"originalSuggestion": original,
		"finalContent":       text,
	})
	return nil
}

// --- Pending intents ---

// TakeChanges returns and clears the pending audit intents
func (p *Patient) TakeChanges() []Change {
	c := p.changes
	p.changes = nil
	return c
}

// TakeEvents returns and clears the pending integration events
func (p *Patient) TakeEvents() []Event {
	e := p.events
	p.events = nil
	return e
}

func (p *Patient) record(actorID string, action Action, entity Entity, entityID string, payload map[string]any) {
	p.changes = append(p.changes, Change{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Actor:    actorID,
		Payload:  payload,
		At:       now(),
	})
}

func (p *Patient) raise(actorID, eventType, entityID string, data map[string]any) {
	p.events = append(p.events, Event{Type: eventType, EntityID: entityID, Actor: actorID, Data: data})
}

// Clone returns a deep copy without pending intents
func (p *Patient) Clone() (*Patient, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to copy patient: %w", err)
	}
	var c Patient
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to copy patient: %w", err)
	}
	return &c, nil
}
