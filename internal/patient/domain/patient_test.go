package domain

import (
	"slices"
	"testing"

	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

func newTestPatient(t *testing.T, complaint string) *Patient {
	t.Helper()
	p, err := NewPatient(Registration{Name: "Jane Roe", Age: 41, Gender: GenderFemale, Phone: "555-0100", Complaint: complaint}, "reception")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p.TakeChanges()
	p.TakeEvents()
	return p
}

func signedPatient(t *testing.T) *Patient {
	t.Helper()
	p := newTestPatient(t, "fever")
	if err := p.SignOffFile("dr-a"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p.TakeChanges()
	p.TakeEvents()
	return p
}

// TestNewPatient tests registration defaults
func TestNewPatient(t *testing.T) {
	p, err := NewPatient(Registration{Name: "John Doe", Age: 60, Gender: GenderMale, Complaint: "chest pain"}, "reception")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if p.Status != StatusWaitingForTriage {
		t.Errorf("Expected status %s, got %s", StatusWaitingForTriage, p.Status)
	}
	if p.Triage.Level != TriageNone {
		t.Errorf("Expected triage None, got %s", p.Triage.Level)
	}
	if p.ClinicalFile.Status != FileStatusDraft {
		t.Errorf("Expected draft file, got %s", p.ClinicalFile.Status)
	}
	if p.ClinicalFile.Sections.History.ChiefComplaint != "chest pain" {
		t.Error("Expected chief complaint seeded from registration")
	}
	if p.ClinicalFile.Sections.GPE.Flags != (ExamFlags{}) {
		t.Error("Expected all GPE flags false")
	}

	changes := p.TakeChanges()
	if len(changes) != 1 || changes[0].Action != ActionCreate || changes[0].Entity != EntityPatientRecord {
		t.Errorf("Expected one create patient_record change, got %+v", changes)
	}
	if len(p.TakeChanges()) != 0 {
		t.Error("Expected changes cleared after take")
	}
}

func TestNewPatientValidation(t *testing.T) {
	tests := []struct {
		name string
		reg  Registration
	}{
		{"empty name", Registration{Age: 3, Gender: GenderOther, Complaint: "x"}},
		{"negative age", Registration{Name: "A", Age: -1, Gender: GenderOther, Complaint: "x"}},
		{"bad gender", Registration{Name: "A", Age: 3, Gender: "X", Complaint: "x"}},
		{"no complaint", Registration{Name: "A", Age: 3, Gender: GenderMale}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPatient(tt.reg, "r"); !errors.Is(err, errors.ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

// TestRecordVitalsFirstReadingMovesToDoctor tests the only automatic status change
func TestRecordVitalsFirstReadingMovesToDoctor(t *testing.T) {
	p := newTestPatient(t, "fever")

	rec, err := p.RecordVitals("nurse-1", VitalsMeasurements{SpO2: Float(88), Pulse: Float(130)}, VitalsSourceManual, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if p.Triage.Level != TriageRed {
		t.Errorf("Expected Red, got %s", p.Triage.Level)
	}
	if !slices.Contains(p.Triage.Reasons, "Low SpO2 (88%)") {
		t.Errorf("Expected low SpO2 reason, got %v", p.Triage.Reasons)
	}
	if p.Status != StatusWaitingForDoctor {
		t.Errorf("Expected %s, got %s", StatusWaitingForDoctor, p.Status)
	}
	if p.VitalsHistory[0].ID != rec.ID {
		t.Error("Expected record at the head of history")
	}

	if err := p.StartTreatment("dr-a"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if _, err := p.RecordVitals("nurse-1", VitalsMeasurements{SpO2: Float(97)}, VitalsSourceDevice, ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if p.Status != StatusInTreatment {
		t.Errorf("Expected later vitals to leave status alone, got %s", p.Status)
	}
	if len(p.VitalsHistory) != 2 || p.VitalsHistory[0].Source != VitalsSourceDevice {
		t.Error("Expected newest record first")
	}
	if p.Triage.Level != TriageGreen {
		t.Errorf("Expected triage recomputed to Green, got %s", p.Triage.Level)
	}
}

func TestRecordVitalsRejectsEmpty(t *testing.T) {
	p := newTestPatient(t, "fever")
	if _, err := p.RecordVitals("n", VitalsMeasurements{}, VitalsSourceManual, ""); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if p.Status != StatusWaitingForTriage || len(p.VitalsHistory) != 0 {
		t.Error("Expected state unchanged")
	}
}

// TestDischargedIsTerminal tests that every mutation after discharge fails
func TestDischargedIsTerminal(t *testing.T) {
	p := signedPatient(t)
	if err := p.Discharge("dr-a"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	checks := map[string]error{
		"vitals":    func() error { _, err := p.RecordVitals("n", VitalsMeasurements{Pulse: Float(70)}, "", ""); return err }(),
		"treatment": p.StartTreatment("dr-a"),
		"discharge": p.Discharge("dr-a"),
		"complaint": p.UpdateComplaint("dr-a", "new"),
		"order":     func() error { _, err := p.CreateOrder("dr-a", OrderRequest{Category: CategoryNursing, SubType: "obs"}); return err }(),
		"note":      func() error { _, err := p.AddTeamNote("dr-a", "hi", false); return err }(),
	}
	for name, err := range checks {
		if !errors.Is(err, errors.ErrIllegalTransition) {
			t.Errorf("%s: expected illegal transition, got %v", name, err)
		}
	}
}

// TestCreateOrderRequiresSignedFile tests the sign-off gate on orders
func TestCreateOrderRequiresSignedFile(t *testing.T) {
	p := newTestPatient(t, "fever")

	_, err := p.CreateOrder("dr-a", OrderRequest{Category: CategoryInvestigation, SubType: "CBC"})
	if !errors.Is(err, errors.ErrPreconditionNotMet) {
		t.Fatalf("Expected precondition error, got %v", err)
	}
	if len(p.Orders) != 0 {
		t.Errorf("Expected no orders, got %d", len(p.Orders))
	}
	if len(p.TakeChanges()) != 0 {
		t.Error("Expected no audit intent for rejected order")
	}

	if err := p.SignOffFile("dr-a"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	o, err := p.CreateOrder("dr-a", OrderRequest{Category: CategoryInvestigation, SubType: "CBC"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if o.Status != OrderDraft {
		t.Errorf("Expected draft, got %s", o.Status)
	}
}

// TestSendAllDrafts tests bulk sending of one category
func TestSendAllDrafts(t *testing.T) {
	p := signedPatient(t)
	for _, sub := range []string{"Paracetamol", "Ondansetron", "Ceftriaxone"} {
		if _, err := p.CreateOrder("dr-a", OrderRequest{Category: CategoryMedication, SubType: sub}); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	for _, sub := range []string{"CBC", "CRP"} {
		if _, err := p.CreateOrder("dr-a", OrderRequest{Category: CategoryInvestigation, SubType: sub}); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}
	p.TakeChanges()
	p.TakeEvents()

	sent, err := p.SendAllDrafts("dr-a", CategoryMedication)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(sent) != 3 {
		t.Errorf("Expected 3 sent, got %d", len(sent))
	}

	drafts := 0
	for _, o := range p.Orders {
		if o.Category == CategoryInvestigation && o.Status == OrderDraft {
			drafts++
		}
		if o.Category == CategoryMedication && o.Status != OrderSent {
			t.Errorf("Expected medication %s sent, got %s", o.Label, o.Status)
		}
	}
	if drafts != 2 {
		t.Errorf("Expected 2 investigation drafts left, got %d", drafts)
	}

	changes := p.TakeChanges()
	if len(changes) != 3 {
		t.Fatalf("Expected 3 audit intents, got %d", len(changes))
	}
	for _, c := range changes {
		if c.Action != ActionAccept || c.Payload["from"] != "bulk_send_drafts" {
			t.Errorf("Unexpected change %+v", c)
		}
	}
	if got := len(p.TakeEvents()); got != 3 {
		t.Errorf("Expected 3 order.sent events, got %d", got)
	}
}

// TestAcceptSuggestedIdempotent tests that accepting twice changes nothing the second time
func TestAcceptSuggestedIdempotent(t *testing.T) {
	p := signedPatient(t)
	ai, _ := p.CreateOrder("system", OrderRequest{
		Category:     CategoryRadiology,
		SubType:      "Chest X-ray",
		AIProvenance: &AIProvenance{Rationale: "Productive cough with fever"},
	})
	manual, _ := p.CreateOrder("dr-a", OrderRequest{Category: CategoryNursing, SubType: "Fluid chart"})
	p.TakeChanges()

	sent, err := p.AcceptSuggested("dr-a", []types.ID{ai.ID, manual.ID})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(sent) != 1 || sent[0] != ai.ID {
		t.Errorf("Expected only the AI order sent, got %v", sent)
	}
	first := p.TakeChanges()
	if len(first) != 1 || first[0].Payload["from"] != "ai_suggestion" {
		t.Fatalf("Expected one accept intent, got %+v", first)
	}

	before, _ := p.FindOrder(ai.ID)
	historyLen := len(before.History)

	sent, err = p.AcceptSuggested("dr-a", []types.ID{ai.ID})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(sent) != 0 {
		t.Errorf("Expected nothing sent on second call, got %v", sent)
	}
	if len(p.TakeChanges()) != 0 {
		t.Error("Expected no audit intent on second call")
	}
	after, _ := p.FindOrder(ai.ID)
	if len(after.History) != historyLen {
		t.Error("Expected order history unchanged on second call")
	}
}

func TestTransitionOrderCancelAndResult(t *testing.T) {
	p := signedPatient(t)
	o, _ := p.CreateOrder("dr-a", OrderRequest{Category: CategoryInvestigation, SubType: "CBC"})

	for _, to := range []OrderStatus{OrderSent, OrderScheduled, OrderInProgress, OrderCompleted} {
		if _, err := p.TransitionOrder("lab", o.ID, to, nil); err != nil {
			t.Fatalf("Expected no error moving to %s, got %v", to, err)
		}
	}
	if _, err := p.TransitionOrder("lab", o.ID, OrderCancelled, nil); !errors.Is(err, errors.ErrIllegalTransition) {
		t.Errorf("Expected completed order not cancellable, got %v", err)
	}
	got, err := p.TransitionOrder("lab", o.ID, OrderResulted, &ResultRef{ResultID: "R1", Summary: "Hb 13.2"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.ResultRef == nil || got.ResultRef.Summary != "Hb 13.2" {
		t.Error("Expected result attached")
	}

	other, _ := p.CreateOrder("dr-a", OrderRequest{Category: CategoryNursing, SubType: "Obs"})
	p.TakeChanges()
	if _, err := p.TransitionOrder("dr-a", other.ID, OrderCancelled, nil); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	changes := p.TakeChanges()
	if len(changes) != 1 || changes[0].Action != ActionCancel {
		t.Errorf("Expected cancel intent, got %+v", changes)
	}

	if _, err := p.TransitionOrder("dr-a", types.NewID(), OrderSent, nil); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

// TestUpdateRoundEmptyPatch tests that a patch without fields is not audited
func TestUpdateRoundEmptyPatch(t *testing.T) {
	p := signedPatient(t)
	r, _, err := p.OpenDraftRound("dr-a")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	p.TakeChanges()

	if _, err := p.UpdateRound("dr-a", r.ID, RoundPatch{}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if changes := p.TakeChanges(); len(changes) != 0 {
		t.Errorf("Expected no audit intent, got %d", len(changes))
	}

	if _, err := p.UpdateRound("dr-a", r.ID, RoundPatch{Assessment: str("improving"), LinkedResults: []string{"lab-1"}}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	changes := p.TakeChanges()
	if len(changes) != 1 || changes[0].Action != ActionModify || changes[0].Entity != EntityRound {
		t.Fatalf("Expected one round modify intent, got %+v", changes)
	}
	fields, _ := changes[0].Payload["fields"].([]string)
	if len(fields) != 2 || fields[0] != "assessment" || fields[1] != "linked_results" {
		t.Errorf("Expected [assessment linked_results], got %v", changes[0].Payload["fields"])
	}
}

// TestRoundsSingleDraft tests that at most one draft round exists
func TestRoundsSingleDraft(t *testing.T) {
	p := newTestPatient(t, "fever")
	if _, _, err := p.OpenDraftRound("dr-a"); !errors.Is(err, errors.ErrPreconditionNotMet) {
		t.Fatalf("Expected rounds locked before sign-off, got %v", err)
	}

	p = signedPatient(t)
	r1, created, err := p.OpenDraftRound("dr-a")
	if err != nil || !created {
		t.Fatalf("Expected new draft, got created=%v err=%v", created, err)
	}
	r2, created, _ := p.OpenDraftRound("dr-b")
	if created || r2.ID != r1.ID {
		t.Error("Expected existing draft returned")
	}

	if _, err := p.UpdateRound("dr-a", r1.ID, RoundPatch{Subjective: str("better"), PlanText: str("continue abx")}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	signed, err := p.SignOffRound("dr-a", r1.ID, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if signed.Subjective != "better" || signed.Plan.Text != "continue abx" {
		t.Error("Expected SOAP content kept")
	}
	if _, err := p.UpdateRound("dr-a", r1.ID, RoundPatch{Subjective: str("edit")}); !errors.Is(err, errors.ErrIllegalTransition) {
		t.Errorf("Expected signed round to reject edits, got %v", err)
	}
	if _, err := p.SignOffRound("dr-a", r1.ID, nil); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected already signed, got %v", err)
	}

	r3, created, _ := p.OpenDraftRound("dr-a")
	if !created || r3.ID == r1.ID {
		t.Error("Expected a new draft after sign-off")
	}

	drafts := 0
	for _, r := range p.Rounds {
		if r.Status == RoundDraft {
			drafts++
		}
	}
	if drafts != 1 {
		t.Errorf("Expected exactly 1 draft, got %d", drafts)
	}
}

func TestCheckConsistency(t *testing.T) {
	p := newTestPatient(t, "breathless")
	p.Gender = GenderMale
	p.Vitals = &VitalsMeasurements{SpO2: Float(91), Pulse: Float(52)}
	p.ClinicalFile.UpdateSection(SystemicExamPatch{
		RS:  &SystemExamPatch{Auscultation: str("Chest Clear bilaterally")},
		CVS: &SystemExamPatch{Summary: str("S1 S2 normal")},
	})
	p.ClinicalFile.UpdateSection(GeneralExamPatch{Remarks: str("Patient reports being pregnant")})

	got := CheckConsistency(p)
	want := []string{
		"SpO2 is low (91%) but Respiratory System examination is recorded as 'Clear'.",
		"Bradycardia (52 bpm) detected but CVS exam marked as normal.",
		"Patient is Male but GPE mentions pregnancy.",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	p.Vitals = &VitalsMeasurements{SpO2: Float(98), Pulse: Float(75)}
	p.Gender = GenderFemale
	if got := CheckConsistency(p); len(got) != 0 {
		t.Errorf("Expected no findings, got %v", got)
	}
}

func TestChecklistToggle(t *testing.T) {
	p := newTestPatient(t, "fever")
	c, err := p.AddChecklist("nurse-1", "Admission", []string{"Consent", " ", "Bloods"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(c.Items) != 2 {
		t.Errorf("Expected blank items dropped, got %d", len(c.Items))
	}

	got, err := p.ToggleChecklistItem("nurse-1", c.ID, 1)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !got.Items[1].Checked || got.Items[0].Checked {
		t.Errorf("Expected only item 1 checked, got %+v", got.Items)
	}
	if _, err := p.ToggleChecklistItem("nurse-1", c.ID, 5); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected out of range error, got %v", err)
	}
	if _, err := p.ToggleChecklistItem("nurse-1", types.NewID(), 0); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestFinalizeDischargeSummary(t *testing.T) {
	p := newTestPatient(t, "fever")
	if err := p.SetDischargeDraft("dr-a", "Draft text"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := p.FinalizeDischargeSummary("dr-a", "Final text"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if p.DischargeSummary.Finalized != "Final text" || p.DischargeSummary.Draft != "Draft text" {
		t.Errorf("Unexpected summary %+v", p.DischargeSummary)
	}
	if err := p.FinalizeDischargeSummary("dr-a", "Again"); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Expected already signed, got %v", err)
	}
}

func TestClonePreservesState(t *testing.T) {
	p := signedPatient(t)
	_, _ = p.RecordVitals("n", VitalsMeasurements{Pulse: Float(99)}, VitalsSourceManual, "")
	_, _ = p.CreateOrder("dr-a", OrderRequest{Category: CategoryNursing, SubType: "Obs"})

	c, err := p.Clone()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(c.TakeChanges()) != 0 {
		t.Error("Expected clone without pending changes")
	}
	c.Orders[0].Label = "changed"
	if p.Orders[0].Label == "changed" {
		t.Error("Expected deep copy")
	}
	if !c.ClinicalFile.IsSigned() || *c.Vitals.Pulse != 99 {
		t.Error("Expected state copied")
	}
}
