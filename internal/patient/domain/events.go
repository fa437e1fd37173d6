package domain

import "time"

// Action is what an audited operation did
type Action string

const (
	ActionCreate  Action = "create"
	ActionModify  Action = "modify"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionView    Action = "view"
	ActionSignoff Action = "signoff"
	ActionCancel  Action = "cancel"
)

// Entity is the kind of record an audited operation touched
type Entity string

const (
	EntityPatientRecord    Entity = "patient_record"
	EntityHistorySection   Entity = "history_section"
	EntityOrder            Entity = "order"
	EntitySOAPNote         Entity = "soap_note"
	EntityTeamNote         Entity = "team_note"
	EntityChecklist        Entity = "checklist"
	EntityClinicalFile     Entity = "clinical_file"
	EntityRound            Entity = "round"
	EntityDischargeSummary Entity = "discharge_summary"
	EntityVitals           Entity = "vitals"
)

// Change is an audit intent produced by an aggregate mutation. The workflow
// turns each one into an audit event once the mutation is committed.
type Change struct {
	Action   Action         `json:"action"`
	Entity   Entity         `json:"entity"`
	EntityID string         `json:"entity_id,omitempty"`
	Actor    string         `json:"actor"`
	Payload  map[string]any `json:"payload,omitempty"`
	At       time.Time      `json:"at"`
}

// Integration event types raised by the aggregate
const (
	EventPatientRegistered  = "patient.registered"
	EventPatientTriaged     = "patient.triaged"
	EventPatientDischarged  = "patient.discharged"
	EventClinicalFileSigned = "clinical_file.signed"
	EventOrderSent          = "order.sent"
	EventOrderCancelled     = "order.cancelled"
	EventRoundSigned        = "round.signed"
)

// Event is an integration event raised for downstream systems
type Event struct {
	Type     string         `json:"type"`
	EntityID string         `json:"entity_id,omitempty"`
	Actor    string         `json:"actor"`
	Data     map[string]any `json:"data,omitempty"`
}
