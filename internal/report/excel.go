package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/expenseflow/expenseflow/internal/workflow"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ExcelExporter renders approval statistics as an .xlsx workbook.
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates a new Excel exporter.
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// Export writes an overview sheet and a monthly-trends sheet for one
// approver's statistics and returns the workbook bytes.
func (e *ExcelExporter) Export(approverID string, stats *workflow.ApprovalStats, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const overview = "Overview"
	if err := f.SetSheetName("Sheet1", overview); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	e.setCell(f, overview, "A1", "Approval Statistics")
	e.setCell(f, overview, "A2", "Approver")
	e.setCell(f, overview, "B2", approverID)
	e.setCell(f, overview, "A3", "Generated")
	e.setCell(f, overview, "B3", generatedAt.Format("2006-01-02 15:04"))

	rows := [][2]interface{}{
		{"Total approvals", stats.Overview.TotalApprovals},
		{"Approved", stats.Overview.ApprovedCount},
		{"Rejected", stats.Overview.RejectedCount},
		{"Pending", stats.Overview.PendingCount},
		{"Avg processing time (hours)", stats.Overview.AvgProcessingHours},
	}
	for i, row := range rows {
		e.setCell(f, overview, fmt.Sprintf("A%d", i+5), row[0])
		e.setCell(f, overview, fmt.Sprintf("B%d", i+5), row[1])
	}

	const trends = "Monthly Trends"
	if _, err := f.NewSheet(trends); err != nil {
		return nil, fmt.Errorf("create trends sheet: %w", err)
	}
	e.setCell(f, trends, "A1", "Month")
	e.setCell(f, trends, "B1", "Approved")
	e.setCell(f, trends, "C1", "Rejected")
	for i, t := range stats.MonthlyTrends {
		e.setCell(f, trends, fmt.Sprintf("A%d", i+2), t.Month)
		e.setCell(f, trends, fmt.Sprintf("B%d", i+2), t.Approved)
		e.setCell(f, trends, fmt.Sprintf("C%d", i+2), t.Rejected)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *ExcelExporter) setCell(f *excelize.File, sheet, cell string, value interface{}) {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		e.logger.Warn("Failed to set cell",
			zap.String("sheet", sheet),
			zap.String("cell", cell),
			zap.Error(err))
	}
}
