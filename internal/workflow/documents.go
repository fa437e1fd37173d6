package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/medflow/platform/internal/advisor"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
	"golang.org/x/sync/errgroup"
)

// Vitals summary texts
const (
	VitalsSummaryNotEnoughData = "Not enough data for a summary."
	VitalsSummaryFailed        = "AI summary generation failed."
)

const (
	WarnOverviewLocal        = "AI overview is unavailable; a local summary was generated."
	WarnVitalsTrendLocal     = "AI vitals trend is unavailable; the latest reading is shown."
	WarnDischargeUnavailable = "AI discharge summary is unavailable; write the summary manually."
)

// SummarizeVitals describes the vitals trend. It needs at least two readings.
func (s *Service) SummarizeVitals(ctx context.Context, id types.ID) (string, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return "", err
	}
	if len(p.VitalsHistory) < 2 {
		return VitalsSummaryNotEnoughData, nil
	}

	text, err := s.advisor.SummarizeVitals(ctx, p.VitalsHistory)
	if err != nil || strings.TrimSpace(text) == "" {
		return VitalsSummaryFailed, nil
	}
	return text, nil
}

// GenerateOverview builds the at-a-glance overview. The summary line and the
// vitals trend are requested from the advisor concurrently; orders and
// results are always derived locally.
func (s *Service) GenerateOverview(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return Result{}, err
	}

	latest := latestVitalsText(p)
	active := activeOrderLabels(p)
	ov := domain.Overview{
		VitalsSnapshot: latest,
		ActiveOrders:   activeOrdersText(active),
		RecentResults:  recentResultsText(p),
	}

	var (
		res        Result
		summary    string
		summaryErr error
		trend      string
		trendErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary, summaryErr = s.advisor.Overview(gctx, advisor.OverviewRequest{
			Name:         p.Name,
			Age:          p.Age,
			Gender:       string(p.Gender),
			Complaint:    p.Complaint,
			Vitals:       latest,
			ActiveOrders: active,
			LatestRound:  latestRoundText(p),
		})
		return nil
	})
	if len(p.VitalsHistory) >= 2 {
		g.Go(func() error {
			trend, trendErr = s.advisor.SummarizeVitals(gctx, p.VitalsHistory)
			return nil
		})
	}
	_ = g.Wait()

	if summaryErr != nil || strings.TrimSpace(summary) == "" {
		summary = localSummary(p)
		res.degrade(WarnOverviewLocal)
	}
	ov.Summary = summary

	if len(p.VitalsHistory) >= 2 {
		if trendErr != nil || strings.TrimSpace(trend) == "" {
			res.degrade(WarnVitalsTrendLocal)
		} else {
			ov.VitalsSnapshot = trend
		}
	}

	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		p.SetOverview(actorID, ov)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res.Patient = p
	return res, nil
}

// GenerateDischargeSummary stores an advisor-drafted discharge summary for
// the clinician to edit and finalize
func (s *Service) GenerateDischargeSummary(ctx context.Context, actorID string, id types.ID) (Result, error) {
	p, err := s.snapshot(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if p.DischargeSummary != nil && p.DischargeSummary.Finalized != "" {
		return Result{}, errors.AlreadySigned("discharge_summary", p.ID.String())
	}

	req := advisor.DischargeRequest{
		Name:      p.Name,
		Age:       p.Age,
		Gender:    string(p.Gender),
		Complaint: p.Complaint,
		Sections:  p.ClinicalFile.Sections,
	}
	for _, r := range p.Rounds {
		if r.Status == domain.RoundSigned {
			req.Rounds = append(req.Rounds, roundText(r))
		}
	}
	for _, o := range p.Orders {
		if o.Status != domain.OrderDraft && o.Status != domain.OrderCancelled {
			req.FinalOrders = append(req.FinalOrders, fmt.Sprintf("%s (%s)", o.Label, o.Status))
		}
	}

	draft, err := s.advisor.DischargeSummary(ctx, req)
	if err != nil || strings.TrimSpace(draft) == "" {
		res := Result{Patient: p}
		res.degrade(WarnDischargeUnavailable)
		return res, nil
	}

	p, err = s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.SetDischargeDraft(actorID, draft)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// FinalizeDischargeSummary signs the clinician-edited discharge summary
func (s *Service) FinalizeDischargeSummary(ctx context.Context, actorID string, id types.ID, text string) (Result, error) {
	p, err := s.mutate(ctx, id, func(p *domain.Patient) error {
		return p.FinalizeDischargeSummary(actorID, text)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Patient: p}, nil
}

// --- Local text builders ---

func latestVitalsText(p *domain.Patient) string {
	if p.Vitals == nil {
		return "No vitals recorded."
	}
	m := p.Vitals

	var parts []string
	add := func(label string, v *float64, unit string) {
		if v != nil {
			parts = append(parts, label+" "+formatNumber(*v)+unit)
		}
	}
	add("Pulse", m.Pulse, " bpm")
	if m.BPSys != nil && m.BPDia != nil {
		parts = append(parts, "BP "+formatNumber(*m.BPSys)+"/"+formatNumber(*m.BPDia)+" mmHg")
	} else {
		add("BP sys", m.BPSys, " mmHg")
	}
	add("RR", m.RR, "/min")
	add("SpO2", m.SpO2, "%")
	add("Temp", m.TempC, " °C")
	add("Glucose", m.Glucose, " mg/dL")
	add("Pain", m.PainScore, "/10")

	text := strings.Join(parts, ", ")
	if p.Triage.Level != domain.TriageNone {
		text += " (" + string(p.Triage.Level) + ")"
	}
	return text
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func activeOrderLabels(p *domain.Patient) []string {
	labels := []string{}
	for _, o := range p.ActiveOrders() {
		labels = append(labels, o.Label)
	}
	return labels
}

func activeOrdersText(labels []string) string {
	if len(labels) == 0 {
		return "No active orders."
	}
	return fmt.Sprintf("%d active: %s", len(labels), strings.Join(labels, ", "))
}

func recentResultsText(p *domain.Patient) string {
	var results []string
	for _, o := range p.Orders {
		if o.Status != domain.OrderResulted {
			continue
		}
		if o.ResultRef != nil && o.ResultRef.Summary != "" {
			results = append(results, o.Label+": "+o.ResultRef.Summary)
		} else {
			results = append(results, o.Label+": resulted")
		}
	}
	if len(results) == 0 {
		return "Pending"
	}
	return strings.Join(results, "; ")
}

func latestRoundText(p *domain.Patient) string {
	for i := len(p.Rounds) - 1; i >= 0; i-- {
		if p.Rounds[i].Status == domain.RoundSigned {
			return roundText(p.Rounds[i])
		}
	}
	return ""
}

func roundText(r domain.Round) string {
	return fmt.Sprintf("Assessment: %s Plan: %s", r.Assessment, r.Plan.Text)
}

func localSummary(p *domain.Patient) string {
	return fmt.Sprintf("%s, %d y %s, presenting with %s. Status: %s.", p.Name, p.Age, p.Gender, p.Complaint, p.Status)
}
