package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/config"
)

// Client calls the advisor service over HTTP. It does no retrying or
// throttling of its own; wrap it in a Guard.
type Client struct {
	http *resty.Client
}

// NewClient creates an advisor HTTP client
func NewClient(cfg config.AdvisorConfig) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		http.SetAuthToken(cfg.APIKey)
	}

	return &Client{http: http}
}

// post sends body and decodes the JSON response into result. The response
// content type is not trusted; an empty or undecodable body is an error.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("advisor request %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("advisor %s returned status %d", path, resp.StatusCode())
	}

	raw := bytes.TrimSpace(resp.Body())
	if len(raw) == 0 {
		return fmt.Errorf("advisor %s returned an empty body", path)
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("advisor %s returned an invalid body: %w", path, err)
	}
	return nil
}

// Classify suggests a department and triage level for a complaint
func (c *Client) Classify(ctx context.Context, complaint string) (domain.AITriage, error) {
	var resp ClassifyResponse
	if err := c.post(ctx, "/v1/classify", ClassifyRequest{Complaint: complaint}, &resp); err != nil {
		return domain.AITriage{}, err
	}

	t := domain.AITriage{
		Department:      domain.Department(resp.Department),
		SuggestedTriage: domain.TriageLevel(resp.SuggestedTriage),
		Confidence:      resp.Confidence,
	}
	if !t.Department.Valid() {
		return domain.AITriage{}, fmt.Errorf("advisor returned unknown department %q", resp.Department)
	}
	if t.SuggestedTriage != domain.TriageRed && t.SuggestedTriage != domain.TriageYellow && t.SuggestedTriage != domain.TriageGreen {
		return domain.AITriage{}, fmt.Errorf("advisor returned unknown triage level %q", resp.SuggestedTriage)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return domain.AITriage{}, fmt.Errorf("advisor returned confidence %v outside [0,1]", resp.Confidence)
	}
	return t, nil
}

// StructureHistory splits free-text HPI into suggestion fields
func (c *Client) StructureHistory(ctx context.Context, hpi string) (domain.HistorySuggestion, error) {
	var resp domain.HistorySuggestion
	if err := c.post(ctx, "/v1/history/structure", StructureHistoryRequest{HPI: hpi}, &resp); err != nil {
		return domain.HistorySuggestion{}, err
	}
	// Follow-up Q&A is owned by the clinician, not the structuring call
	resp.FollowUpQuestions = nil
	resp.FollowUpAnswers = nil
	return resp, nil
}

// SuggestOrders proposes initial orders from the clinical file
func (c *Client) SuggestOrders(ctx context.Context, sections domain.Sections) ([]domain.OrderRequest, error) {
	var resp SuggestOrdersResponse
	if err := c.post(ctx, "/v1/orders/suggest", SectionsRequest{Sections: sections}, &resp); err != nil {
		return nil, err
	}

	orders := make([]domain.OrderRequest, 0, len(resp.SuggestedOrders))
	for _, s := range resp.SuggestedOrders {
		orders = append(orders, domain.OrderRequest{
			Category:     domain.OrderCategory(s.Category),
			SubType:      s.SubType,
			Label:        s.Label,
			Priority:     domain.OrderPriority(s.Priority),
			Payload:      s.Payload,
			AIProvenance: &domain.AIProvenance{Rationale: s.Rationale},
		})
	}
	return orders, nil
}

// SummarizeFile writes a short paragraph over the clinical file
func (c *Client) SummarizeFile(ctx context.Context, sections domain.Sections) (string, error) {
	var resp TextResponse
	if err := c.post(ctx, "/v1/clinical-file/summary", SectionsRequest{Sections: sections}, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// CrossCheck lists inconsistencies between sections
func (c *Client) CrossCheck(ctx context.Context, sections domain.Sections) ([]string, error) {
	var resp CrossCheckResponse
	if err := c.post(ctx, "/v1/clinical-file/cross-check", SectionsRequest{Sections: sections}, &resp); err != nil {
		return nil, err
	}
	return resp.Inconsistencies, nil
}

// FollowUpQuestions proposes questions for a history field
func (c *Client) FollowUpQuestions(ctx context.Context, field, seed string) ([]domain.FollowUpQuestion, error) {
	var resp FollowUpResponse
	if err := c.post(ctx, "/v1/history/follow-up", FollowUpRequest{Section: field, Seed: seed}, &resp); err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

// ComposeHistory turns a seed and answers into a paragraph
func (c *Client) ComposeHistory(ctx context.Context, field, seed string, answers map[string]string) (string, error) {
	var resp ComposeResponse
	if err := c.post(ctx, "/v1/history/compose", ComposeRequest{Section: field, Seed: seed, Answers: answers}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Paragraph) == "" {
		return "", fmt.Errorf("advisor returned an empty paragraph")
	}
	return resp.Paragraph, nil
}

// SummarizeVitals describes the vitals trend
func (c *Client) SummarizeVitals(ctx context.Context, records []domain.VitalsRecord) (string, error) {
	var resp TextResponse
	if err := c.post(ctx, "/v1/vitals/summary", VitalsSummaryRequest{Records: records}, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// Overview writes the one-line situation summary
func (c *Client) Overview(ctx context.Context, req OverviewRequest) (string, error) {
	var resp TextResponse
	if err := c.post(ctx, "/v1/overview", req, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// DischargeSummary drafts a discharge summary
func (c *Client) DischargeSummary(ctx context.Context, req DischargeRequest) (string, error) {
	var resp TextResponse
	if err := c.post(ctx, "/v1/discharge-summary", req, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Health checks that the advisor service answers
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("advisor health: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("advisor health returned status %d", resp.StatusCode())
	}
	return nil
}
