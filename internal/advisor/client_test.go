package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.AdvisorConfig{URL: srv.URL, APIKey: "secret", Timeout: 2 * time.Second})
}

func TestClientClassify(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/classify", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ClassifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "crushing chest pain", req.Complaint)

		json.NewEncoder(w).Encode(ClassifyResponse{Department: "Cardiology", SuggestedTriage: "Red", Confidence: 0.92})
	})

	got, err := c.Classify(context.Background(), "crushing chest pain")
	require.NoError(t, err)
	assert.Equal(t, domain.DeptCardiology, got.Department)
	assert.Equal(t, domain.TriageRed, got.SuggestedTriage)
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
}

func TestClientClassifyRejectsInvalidResponse(t *testing.T) {
	tests := []struct {
		name string
		resp ClassifyResponse
	}{
		{"unknown department", ClassifyResponse{Department: "Dermatology", SuggestedTriage: "Green", Confidence: 0.5}},
		{"none is not a suggestion", ClassifyResponse{Department: "Emergency", SuggestedTriage: "None", Confidence: 0.5}},
		{"confidence above one", ClassifyResponse{Department: "Emergency", SuggestedTriage: "Red", Confidence: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.resp)
			})
			_, err := c.Classify(context.Background(), "x")
			assert.Error(t, err)
		})
	}
}

func TestClientServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.SummarizeFile(context.Background(), domain.Sections{})
	assert.Error(t, err)
	assert.Error(t, c.Health(context.Background()))
}

func TestClientSuggestOrders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders/suggest", r.URL.Path)
		json.NewEncoder(w).Encode(SuggestOrdersResponse{SuggestedOrders: []SuggestedOrder{
			{Category: "investigation", SubType: "CBC", Label: "Complete blood count", Priority: "urgent", Rationale: "Fever workup"},
			{Category: "medication", SubType: "Paracetamol", Label: "Paracetamol 1g", Priority: "routine", Rationale: "Antipyretic",
				Payload: domain.OrderPayload{Dose: "1g", Route: "PO", Frequency: "QID"}},
		}})
	})

	orders, err := c.SuggestOrders(context.Background(), domain.Sections{})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, domain.CategoryInvestigation, orders[0].Category)
	require.NotNil(t, orders[0].AIProvenance)
	assert.Equal(t, "Fever workup", orders[0].AIProvenance.Rationale)
	assert.Equal(t, "1g", orders[1].Payload.Dose)
}

func TestClientStructureHistoryDropsFollowUps(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"structured_hpi":"3 days of fever","duration":"3 days","followUpQuestions":{"hpi":[{"id":"q1","text":"?"}]}}`))
	})

	s, err := c.StructureHistory(context.Background(), "fever for 3 days")
	require.NoError(t, err)
	require.NotNil(t, s.StructuredHPI)
	assert.Equal(t, "3 days of fever", *s.StructuredHPI)
	assert.Nil(t, s.FollowUpQuestions)
}

func TestClientComposeHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ComposeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hpi", req.Section)
		assert.Equal(t, "2 days", req.Answers["How long?"])
		json.NewEncoder(w).Encode(ComposeResponse{Paragraph: ""})
	})

	_, err := c.ComposeHistory(context.Background(), "hpi", "fever", map[string]string{"How long?": "2 days"})
	assert.Error(t, err)
}

func TestClientDecodesRegardlessOfContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{"no content type", ""},
		{"plain text", "text/plain; charset=utf-8"},
		{"json", "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				}
				w.Write([]byte(`{"department":"Cardiology","suggested_triage":"Red","confidence":0.8}`))
			})

			got, err := c.Classify(context.Background(), "chest pain")
			require.NoError(t, err)
			if got.Department != domain.DeptCardiology {
				t.Errorf("Expected Cardiology, got %s", got.Department)
			}
		})
	}
}

func TestClientRejectsUndecodableBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"whitespace", "  \n"},
		{"not json", "upstream busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			_, err := c.Classify(context.Background(), "x")
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
		})
	}
}
