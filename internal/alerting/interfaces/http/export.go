package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerting "greenledger/internal/alerting/domain"
)

// BuildViolationsCSV renders violations as CSV.
func BuildViolationsCSV(violations []alerting.ComplianceViolation) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	header := []string{"violation_id", "plant_id", "status", "level", "peak_level", "threshold_kg_per_hr", "observed_rate_kg_per_hr", "opened_at", "closed_at", "duration"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, v := range violations {
		closedAt := ""
		duration := ""
		if !v.ClosedAt.IsZero() {
			closedAt = v.ClosedAt.Format(time.RFC3339)
			duration = v.Duration.Round(time.Second).String()
		}
		row := []string{
			v.ID,
			v.PlantID,
			v.Status(),
			string(v.Level),
			string(v.PeakLevel),
			fmt.Sprintf("%.2f", v.ThresholdKgPerHr),
			fmt.Sprintf("%.2f", v.ObservedRateKgPerHr),
			v.OpenedAt.Format(time.RFC3339),
			closedAt,
			duration,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildViolationsXLSX renders violations as a workbook.
func BuildViolationsXLSX(violations []alerting.ComplianceViolation) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "violations"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Violation", "Plant", "Status", "Level", "Peak Level", "Threshold (kg/hr)", "Observed Rate (kg/hr)", "Opened", "Closed", "Duration"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, v := range violations {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), v.ID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), v.PlantID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), v.Status())
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), string(v.Level))
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), string(v.PeakLevel))
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), v.ThresholdKgPerHr)
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), v.ObservedRateKgPerHr)
		_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), v.OpenedAt.Format(time.RFC3339))
		if !v.ClosedAt.IsZero() {
			_ = f.SetCellValue(sheet, fmt.Sprintf("I%d", row), v.ClosedAt.Format(time.RFC3339))
			_ = f.SetCellValue(sheet, fmt.Sprintf("J%d", row), v.Duration.Round(time.Second).String())
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildViolationsPDF renders violations as a minimal PDF report.
func BuildViolationsPDF(violations []alerting.ComplianceViolation) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Compliance Violations")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Records: %d", len(violations)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(40, 6, "Plant", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Peak Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(34, 6, "Rate (kg/hr)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(46, 6, "Opened", "1", 0, "C", false, 0, "")
	pdf.CellFormat(46, 6, "Closed", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Duration", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, v := range violations {
		closedAt := ""
		duration := ""
		if !v.ClosedAt.IsZero() {
			closedAt = v.ClosedAt.Format(time.RFC3339)
			duration = v.Duration.Round(time.Second).String()
		}
		pdf.CellFormat(40, 6, v.PlantID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, v.Status(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, string(v.PeakLevel), "1", 0, "C", false, 0, "")
		pdf.CellFormat(34, 6, fmt.Sprintf("%.2f", v.ObservedRateKgPerHr), "1", 0, "R", false, 0, "")
		pdf.CellFormat(46, 6, v.OpenedAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(46, 6, closedAt, "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, duration, "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
