package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/medflow/platform/internal/shared/types"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Audit Trail"

var exportHeader = []string{
	"Sequence", "Timestamp", "Actor", "Action", "Entity",
	"Entity ID", "Payload", "Previous Hash", "Hash",
}

// ExportXLSX writes a patient's audit trail as a spreadsheet. A second
// sheet records the verification result at export time.
func ExportXLSX(w io.Writer, patientID types.ID, events []AuditEvent) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(exportHeader), 1)
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, e := range events {
		var payload string
		if len(e.Payload) > 0 {
			b, _ := json.Marshal(e.Payload)
			payload = string(b)
		}
		row := []any{
			e.Sequence,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Actor,
			string(e.Action),
			string(e.Entity),
			e.EntityID,
			payload,
			e.PreviousHash,
			e.Hash,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	widths := []float64{10, 32, 24, 10, 20, 38, 60, 66, 66}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(exportSheet, col, col, width)
	}

	if err := writeVerification(f, VerifyChain(patientID, events)); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeVerification(f *excelize.File, result *VerifyResult) error {
	const sheet = "Verification"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	rows := [][]any{
		{"Patient", result.PatientID.String()},
		{"Valid", result.Valid},
		{"Checked", result.Checked},
		{"Content invalid", result.ContentInvalid},
		{"Linkage invalid", result.LinkageInvalid},
	}
	for _, v := range result.Violations {
		rows = append(rows, []any{"Violation", v})
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write verification: %w", err)
		}
	}
	return nil
}
