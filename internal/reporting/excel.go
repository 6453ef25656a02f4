package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/trade-automation/internal/store"
)

const (
	summarySheet  = "Summary"
	ordersSheet   = "Orders"
	dcaSheet      = "DCA"
	scheduleSheet = "Schedules"
)

// ExcelStyles holds the style ids registered on a workbook
type ExcelStyles struct {
	Header   int
	Base     int
	Currency int
	Percent  int
	Failed   int
	Title    int
}

var historyHeaders = []string{"Executed At", "ID", "Entity", "Owner", "Token", "Side", "Price", "Amount", "Slippage (bps)", "Fee", "Success", "Error"}

// WriteHistoryXLSX writes the report to path, creating parent directories as needed
func WriteHistoryXLSX(report HistoryReport, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx, err := BuildHistoryWorkbook(report)
	if err != nil {
		return err
	}
	defer fx.Close()
	return fx.SaveAs(path)
}

// BuildHistoryWorkbook lays out a summary sheet and one sheet per entity kind
func BuildHistoryWorkbook(report HistoryReport) (*excelize.File, error) {
	fx := excelize.NewFile()
	if err := fx.SetSheetName(fx.GetSheetName(0), summarySheet); err != nil {
		fx.Close()
		return nil, err
	}
	for _, name := range []string{ordersSheet, dcaSheet, scheduleSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			fx.Close()
			return nil, err
		}
	}

	styles, err := createExcelStyles(fx)
	if err != nil {
		fx.Close()
		return nil, err
	}

	if err := writeSummarySheet(fx, report, styles); err != nil {
		fx.Close()
		return nil, err
	}
	groups := byKind(report.Executions)
	for sheet, kind := range map[string]string{ordersSheet: KindOrder, dcaSheet: KindDCA, scheduleSheet: KindSchedule} {
		if err := writeHistorySheet(fx, sheet, groups[kind], styles); err != nil {
			fx.Close()
			return nil, err
		}
	}
	return fx, nil
}

func createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var (
		styles ExcelStyles
		err    error
	)
	cellBorder := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	styles.Header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.Base, err = fx.NewStyle(&excelize.Style{Border: cellBorder})
	if err != nil {
		return styles, err
	}

	// 4 decimal places, right aligned
	styles.Currency, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: strPtr("#,##0.0000"),
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       cellBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.Percent, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: strPtr("0.00\"%\""),
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       cellBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.Failed, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "FF0000"},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"FDECEA"}, Pattern: 1},
		Border: cellBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.Title, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14, Family: "Calibri"},
	})
	return styles, err
}

func strPtr(s string) *string { return &s }

func writeSummarySheet(fx *excelize.File, report HistoryReport, styles ExcelStyles) error {
	const sheet = summarySheet
	widths := map[string]float64{"A": 14, "B": 10, "C": 12, "D": 10, "E": 14, "F": 16, "G": 14, "H": 20, "I": 20}
	for col, w := range widths {
		if err := fx.SetColWidth(sheet, col, col, w); err != nil {
			return err
		}
	}

	fx.SetCellValue(sheet, "A1", "EXECUTION HISTORY")
	fx.SetCellStyle(sheet, "A1", "A1", styles.Title)
	owner := report.Owner
	if owner == "" {
		owner = "all owners"
	}
	fx.SetCellValue(sheet, "A2", fmt.Sprintf("Owner: %s", owner))
	fx.SetCellValue(sheet, "A3", fmt.Sprintf("Generated: %s", report.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")))

	headers := []string{"Kind", "Total", "Successful", "Failed", "Success Rate", "Volume", "Avg Slippage", "First", "Last"}
	const headerRow = 5
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.Header)
	}

	row := headerRow + 1
	for _, s := range Summarize(report.Executions) {
		values := []interface{}{
			s.Kind, s.Total, s.Successful, s.Failed, s.SuccessRate(), s.Volume, s.AvgSlippageBps,
			s.First.UTC().Format("2006-01-02 15:04:05"), s.Last.UTC().Format("2006-01-02 15:04:05"),
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			fx.SetCellValue(sheet, cell, v)
			style := styles.Base
			switch i {
			case 4:
				style = styles.Percent
			case 5:
				style = styles.Currency
			}
			fx.SetCellStyle(sheet, cell, cell, style)
		}
		row++
	}
	return nil
}

func writeHistorySheet(fx *excelize.File, sheet string, rows []store.Execution, styles ExcelStyles) error {
	widths := []float64{20, 38, 38, 46, 10, 6, 14, 14, 14, 12, 9, 40}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := fx.SetColWidth(sheet, col, col, w); err != nil {
			return err
		}
	}
	for i, h := range historyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, styles.Header)
	}
	if err := fx.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	for r, e := range rows {
		row := r + 2
		values := []interface{}{
			e.ExecutedAt.UTC().Format("2006-01-02 15:04:05"), e.ID, e.EntityID, e.Owner, e.Token, e.Side,
			e.Price, e.Amount, e.SlippageBps, e.Fee, e.Success, e.Error,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			fx.SetCellValue(sheet, cell, v)
			style := styles.Base
			switch {
			case !e.Success:
				style = styles.Failed
			case i == 6 || i == 7 || i == 9:
				style = styles.Currency
			}
			fx.SetCellStyle(sheet, cell, cell, style)
		}
	}

	if len(rows) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(historyHeaders), len(rows)+1)
		if err := fx.AutoFilter(sheet, "A1:"+last, nil); err != nil {
			return err
		}
	}
	return nil
}
