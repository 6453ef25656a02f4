package reporting

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WriteHistory writes the report as CSV, or as a workbook when path ends in .xlsx
func WriteHistory(report HistoryReport, path string) error {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteHistoryXLSX(report, path)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{
		"Executed_At", "ID", "Entity_Kind", "Entity_ID", "Owner", "Token", "Side",
		"Price", "Amount", "Slippage_Bps", "Fee", "Success", "Error",
	}); err != nil {
		return err
	}

	for _, e := range report.Executions {
		if err := w.Write([]string{
			e.ExecutedAt.UTC().Format("2006-01-02 15:04:05"),
			e.ID,
			e.EntityKind,
			e.EntityID,
			e.Owner,
			e.Token,
			e.Side,
			strconv.FormatFloat(e.Price, 'f', 8, 64),
			strconv.FormatFloat(e.Amount, 'f', 8, 64),
			strconv.FormatFloat(e.SlippageBps, 'f', 2, 64),
			strconv.FormatFloat(e.Fee, 'f', 8, 64),
			strconv.FormatBool(e.Success),
			e.Error,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
