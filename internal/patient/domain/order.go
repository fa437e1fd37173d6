package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

// OrderCategory groups orders by the department that fulfils them
type OrderCategory string

const (
	CategoryInvestigation OrderCategory = "investigation"
	CategoryRadiology     OrderCategory = "radiology"
	CategoryMedication    OrderCategory = "medication"
	CategoryProcedure     OrderCategory = "procedure"
	CategoryNursing       OrderCategory = "nursing"
	CategoryReferral      OrderCategory = "referral"
)

func (c OrderCategory) Valid() bool {
	switch c {
	case CategoryInvestigation, CategoryRadiology, CategoryMedication,
		CategoryProcedure, CategoryNursing, CategoryReferral:
		return true
	}
	return false
}

type OrderPriority string

const (
	PriorityRoutine OrderPriority = "routine"
	PriorityUrgent  OrderPriority = "urgent"
	PrioritySTAT    OrderPriority = "STAT"
)

func (p OrderPriority) Valid() bool {
	return p == PriorityRoutine || p == PriorityUrgent || p == PrioritySTAT
}

// OrderStatus is the position of an order in its lifecycle
type OrderStatus string

const (
	OrderDraft      OrderStatus = "draft"
	OrderSent       OrderStatus = "sent"
	OrderScheduled  OrderStatus = "scheduled"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderResulted   OrderStatus = "resulted"
	OrderCancelled  OrderStatus = "cancelled"
)

// orderTransitions is the allowed adjacency of the order lifecycle
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:      {OrderSent, OrderCancelled},
	OrderSent:       {OrderScheduled, OrderCancelled},
	OrderScheduled:  {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderCompleted, OrderCancelled},
	OrderCompleted:  {OrderResulted},
	OrderResulted:   {},
	OrderCancelled:  {},
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether to is adjacent to s
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return slices.Contains(orderTransitions[s], to)
}

// OrderPayload carries the category specific fields of an order
type OrderPayload struct {
	// investigation
	SampleType             string `json:"sampleType,omitempty"`
	CollectionInstructions string `json:"collectionInstructions,omitempty"`
	// radiology
	Modality string `json:"modality,omitempty"`
	Region   string `json:"region,omitempty"`
	Contrast *bool  `json:"contrast,omitempty"`
	// medication
	Dose      string `json:"dose,omitempty"`
	Route     string `json:"route,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
	PRN       *bool  `json:"prn,omitempty"`
	// procedure
	Details         string `json:"details,omitempty"`
	ConsentRequired *bool  `json:"consentRequired,omitempty"`
	// nursing
	Task string `json:"task,omitempty"`
	// referral
	Specialty string `json:"specialty,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type ResultRef struct {
	ResultID  string `json:"resultId,omitempty"`
	Summary   string `json:"summary,omitempty"`
	ReportURL string `json:"reportUrl,omitempty"`
}

// AIProvenance explains why the advisor proposed an order. It is a
// rationale, never a claim of certainty.
type AIProvenance struct {
	PromptID  string `json:"prompt_id,omitempty"`
	Rationale string `json:"rationale"`
}

type OrderHistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

type OrderMeta struct {
	LastModified time.Time `json:"last_modified"`
	ModifiedBy   string    `json:"modified_by"`
}

// Order is one ordered item for a patient
type Order struct {
	ID           types.ID            `json:"orderId"`
	PatientID    types.ID            `json:"patientId"`
	CreatedBy    string              `json:"createdBy"`
	CreatedAt    time.Time           `json:"createdAt"`
	Category     OrderCategory       `json:"category"`
	SubType      string              `json:"subType"`
	Code         string              `json:"code,omitempty"`
	Label        string              `json:"label"`
	Payload      OrderPayload        `json:"payload"`
	Priority     OrderPriority       `json:"priority"`
	Status       OrderStatus         `json:"status"`
	ScheduledFor *time.Time          `json:"scheduledFor,omitempty"`
	ResultRef    *ResultRef          `json:"resultRef,omitempty"`
	AIProvenance *AIProvenance       `json:"ai_provenance,omitempty"`
	History      []OrderHistoryEntry `json:"history"`
	Meta         OrderMeta           `json:"meta"`
}

// OrderRequest is the caller supplied content of a new order
type OrderRequest struct {
	Category     OrderCategory `json:"category"`
	SubType      string        `json:"subType"`
	Code         string        `json:"code,omitempty"`
	Label        string        `json:"label"`
	Payload      OrderPayload  `json:"payload"`
	Priority     OrderPriority `json:"priority"`
	ScheduledFor *time.Time    `json:"scheduledFor,omitempty"`
	AIProvenance *AIProvenance `json:"ai_provenance,omitempty"`
}

// Validate checks the draft and fills defaults
func (d *OrderRequest) Validate() error {
	if !d.Category.Valid() {
		return errInvalid("invalid order category %q", d.Category)
	}
	if d.Priority == "" {
		d.Priority = PriorityRoutine
	}
	if !d.Priority.Valid() {
		return errInvalid("invalid order priority %q", d.Priority)
	}
	d.SubType = strings.TrimSpace(d.SubType)
	d.Label = strings.TrimSpace(d.Label)
	if d.Label == "" {
		d.Label = d.SubType
	}
	if d.Label == "" {
		return errInvalid("order label or subType is required")
	}
	return nil
}

func newOrder(patientID types.ID, actorID string, d OrderRequest, at time.Time) Order {
	o := Order{
		ID:           types.NewID(),
		PatientID:    patientID,
		CreatedBy:    actorID,
		CreatedAt:    at,
		Category:     d.Category,
		SubType:      d.SubType,
		Code:         d.Code,
		Label:        d.Label,
		Payload:      d.Payload,
		Priority:     d.Priority,
		Status:       OrderDraft,
		ScheduledFor: d.ScheduledFor,
		AIProvenance: d.AIProvenance,
	}
	o.touch(actorID, at, "created", nil)
	return o
}

// IsAISuggested reports whether the order came from the advisor. The
// rationale may be empty.
func (o *Order) IsAISuggested() bool {
	return o.AIProvenance != nil
}

// IsActive reports whether the order is still being worked on
func (o *Order) IsActive() bool {
	switch o.Status {
	case OrderSent, OrderScheduled, OrderInProgress:
		return true
	}
	return false
}

// IsClosed reports whether the order can no longer be edited
func (o *Order) IsClosed() bool {
	return o.Status == OrderCompleted || o.Status == OrderResulted || o.Status == OrderCancelled
}

// Transition moves the order to a new status along the allowed adjacency
func (o *Order) Transition(to OrderStatus, actorID string, at time.Time, result *ResultRef) error {
	if !o.Status.CanTransitionTo(to) {
		return errors.IllegalTransition("order", string(o.Status), string(to))
	}

	from := o.Status
	o.Status = to
	if to == OrderResulted && result != nil {
		r := *result
		o.ResultRef = &r
	}

	action := "status_changed"
	if to == OrderCancelled {
		action = "cancelled"
	}
	o.touch(actorID, at, action, map[string]any{"from": string(from), "to": string(to)})
	return nil
}

// OrderPatch edits a non-closed order. Nil means not supplied.
type OrderPatch struct {
	SubType      *string        `json:"subType,omitempty"`
	Code         *string        `json:"code,omitempty"`
	Label        *string        `json:"label,omitempty"`
	Priority     *OrderPriority `json:"priority,omitempty"`
	Payload      *OrderPayload  `json:"payload,omitempty"`
	ScheduledFor *time.Time     `json:"scheduledFor,omitempty"`
}

// Update applies patch and returns the names of the changed fields
func (o *Order) Update(patch OrderPatch, actorID string, at time.Time) ([]string, error) {
	if o.IsClosed() {
		return nil, errors.IllegalTransition("order", string(o.Status), "modify")
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, errInvalid("invalid order priority %q", *patch.Priority)
	}
	if patch.Label != nil && strings.TrimSpace(*patch.Label) == "" {
		return nil, errInvalid("order label cannot be empty")
	}

	var changed []string
	if patch.SubType != nil {
		o.SubType = strings.TrimSpace(*patch.SubType)
		changed = append(changed, "subType")
	}
	if patch.Code != nil {
		o.Code = *patch.Code
		changed = append(changed, "code")
	}
	if patch.Label != nil {
		o.Label = strings.TrimSpace(*patch.Label)
		changed = append(changed, "label")
	}
	if patch.Priority != nil {
		o.Priority = *patch.Priority
		changed = append(changed, "priority")
	}
	if patch.Payload != nil {
		o.Payload = *patch.Payload
		changed = append(changed, "payload")
	}
	if patch.ScheduledFor != nil {
		t := *patch.ScheduledFor
		o.ScheduledFor = &t
		changed = append(changed, "scheduledFor")
	}

	if len(changed) > 0 {
		o.touch(actorID, at, "updated", map[string]any{"fields": changed})
	}
	return changed, nil
}

func (o *Order) touch(actorID string, at time.Time, action string, details map[string]any) {
	o.History = append(o.History, OrderHistoryEntry{
		Timestamp: at,
		UserID:    actorID,
		Action:    action,
		Details:   details,
	})
	o.Meta = OrderMeta{LastModified: at, ModifiedBy: actorID}
}
