package advisor

import (
	"context"
	"errors"

	"github.com/medflow/platform/internal/patient/domain"
)

// Advisor is the external classification and summarization collaborator.
// Its output is never authoritative: every result is stored as a
// suggestion or a draft that a clinician accepts explicitly.
type Advisor interface {
	Classify(ctx context.Context, complaint string) (domain.AITriage, error)
	StructureHistory(ctx context.Context, hpi string) (domain.HistorySuggestion, error)
	SuggestOrders(ctx context.Context, sections domain.Sections) ([]domain.OrderRequest, error)
	SummarizeFile(ctx context.Context, sections domain.Sections) (string, error)
	CrossCheck(ctx context.Context, sections domain.Sections) ([]string, error)
	FollowUpQuestions(ctx context.Context, field, seed string) ([]domain.FollowUpQuestion, error)
	ComposeHistory(ctx context.Context, field, seed string, answers map[string]string) (string, error)
	SummarizeVitals(ctx context.Context, records []domain.VitalsRecord) (string, error)
	Overview(ctx context.Context, req OverviewRequest) (string, error)
	DischargeSummary(ctx context.Context, req DischargeRequest) (string, error)
	Health(ctx context.Context) error
}

// Operation names used in metrics, logs and errors
const (
	OpClassify          = "classify"
	OpStructureHistory  = "structure_history"
	OpSuggestOrders     = "suggest_orders"
	OpSummarizeFile     = "summarize_file"
	OpCrossCheck        = "cross_check"
	OpFollowUpQuestions = "follow_up_questions"
	OpComposeHistory    = "compose_history"
	OpSummarizeVitals   = "summarize_vitals"
	OpOverview          = "overview"
	OpDischargeSummary  = "discharge_summary"
)

// ErrDisabled is returned by Disabled for every call
var ErrDisabled = errors.New("advisor is disabled")

// ClassifyRequest represents a request to classify a presenting complaint
type ClassifyRequest struct {
	Complaint string `json:"complaint"`
}

// ClassifyResponse is the wire form of a routing suggestion
type ClassifyResponse struct {
	Department      string  `json:"department"`
	SuggestedTriage string  `json:"suggested_triage"`
	Confidence      float64 `json:"confidence"`
}

// StructureHistoryRequest asks the advisor to split a free-text HPI into fields
type StructureHistoryRequest struct {
	HPI string `json:"hpi"`
}

// SectionsRequest carries the clinical file sections for file-level operations
type SectionsRequest struct {
	Sections domain.Sections `json:"sections"`
}

// SuggestedOrder is one order proposed by the advisor
type SuggestedOrder struct {
	Category  string              `json:"category"`
	SubType   string              `json:"subType"`
	Label     string              `json:"label"`
	Priority  string              `json:"priority"`
	Rationale string              `json:"rationale"`
	Payload   domain.OrderPayload `json:"payload"`
}

// SuggestOrdersResponse lists the proposed orders
type SuggestOrdersResponse struct {
	SuggestedOrders []SuggestedOrder `json:"suggested_orders"`
}

// TextResponse is the response of the summarizing operations
type TextResponse struct {
	Text string `json:"text"`
}

// CrossCheckResponse lists inconsistencies found across sections
type CrossCheckResponse struct {
	Inconsistencies []string `json:"inconsistencies"`
}

// FollowUpRequest asks for questions that complete a history field
type FollowUpRequest struct {
	Section string `json:"section"`
	Seed    string `json:"seed"`
}

// FollowUpResponse lists follow-up questions
type FollowUpResponse struct {
	Questions []domain.FollowUpQuestion `json:"questions"`
}

// ComposeRequest asks for a history paragraph built from a seed and answers
type ComposeRequest struct {
	Section string            `json:"section"`
	Seed    string            `json:"seed"`
	Answers map[string]string `json:"answers"`
}

// ComposeResponse holds the composed paragraph
type ComposeResponse struct {
	Paragraph string `json:"paragraph"`
}

// VitalsSummaryRequest carries the vitals trend to describe
type VitalsSummaryRequest struct {
	Records []domain.VitalsRecord `json:"records"`
}

// OverviewRequest is the patient context for the overview summary line
type OverviewRequest struct {
	Name         string   `json:"name"`
	Age          int      `json:"age"`
	Gender       string   `json:"gender"`
	Complaint    string   `json:"complaint"`
	Vitals       string   `json:"vitals"`
	ActiveOrders []string `json:"active_orders"`
	LatestRound  string   `json:"latest_round"`
}

// DischargeRequest is the patient context for a discharge summary draft
type DischargeRequest struct {
	Name        string          `json:"name"`
	Age         int             `json:"age"`
	Gender      string          `json:"gender"`
	Complaint   string          `json:"complaint"`
	Sections    domain.Sections `json:"sections"`
	Rounds      []string        `json:"rounds"`
	FinalOrders []string        `json:"final_orders"`
}

// Disabled is the Advisor used when no advisor service is configured.
// Every call fails, so the workflow falls back to its degraded paths.
type Disabled struct{}

func (Disabled) Classify(context.Context, string) (domain.AITriage, error) {
	return domain.AITriage{}, ErrDisabled
}

func (Disabled) StructureHistory(context.Context, string) (domain.HistorySuggestion, error) {
	return domain.HistorySuggestion{}, ErrDisabled
}

func (Disabled) SuggestOrders(context.Context, domain.Sections) ([]domain.OrderRequest, error) {
	return nil, ErrDisabled
}

func (Disabled) SummarizeFile(context.Context, domain.Sections) (string, error) {
	return "", ErrDisabled
}

func (Disabled) CrossCheck(context.Context, domain.Sections) ([]string, error) {
	return nil, ErrDisabled
}

func (Disabled) FollowUpQuestions(context.Context, string, string) ([]domain.FollowUpQuestion, error) {
	return nil, ErrDisabled
}

func (Disabled) ComposeHistory(context.Context, string, string, map[string]string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) SummarizeVitals(context.Context, []domain.VitalsRecord) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Overview(context.Context, OverviewRequest) (string, error) {
	return "", ErrDisabled
}

func (Disabled) DischargeSummary(context.Context, DischargeRequest) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Health(context.Context) error {
	return ErrDisabled
}
