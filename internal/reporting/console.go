package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ducminhle1904/trade-automation/internal/execution"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/scheduler"
)

// Status is the periodic snapshot printed by the automation process
type Status struct {
	Health    monitoring.HealthStatus
	Executor  execution.ResourceMetrics
	Schedules []*scheduler.ScheduleConfig
	Scheduler scheduler.ExecutionStats
}

func newWriter(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// RenderSummary prints per-kind execution totals
func RenderSummary(w io.Writer, sums []KindSummary) {
	t := newWriter(w, "EXECUTION SUMMARY")
	t.AppendHeader(table.Row{"Kind", "Total", "OK", "Failed", "Success", "Volume", "Avg Slippage"})

	var total, ok, failed int
	var volume float64
	for _, s := range sums {
		t.AppendRow(table.Row{
			s.Kind, s.Total, s.Successful, s.Failed,
			fmt.Sprintf("%.1f%%", s.SuccessRate()),
			fmt.Sprintf("%.4f", s.Volume),
			fmt.Sprintf("%.1f bps", s.AvgSlippageBps),
		})
		total += s.Total
		ok += s.Successful
		failed += s.Failed
		volume += s.Volume
	}
	t.AppendSeparator()
	t.AppendFooter(table.Row{"Total", total, ok, failed, "", fmt.Sprintf("%.4f", volume), ""})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 10, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()
}

// RenderStatus prints health, executor load, breakers and upcoming schedules
func RenderStatus(w io.Writer, s Status) {
	t := newWriter(w, "AUTOMATION STATUS")
	t.AppendRows([]table.Row{
		{"Status", strings.ToUpper(s.Health.Status)},
		{"Uptime", s.Health.Uptime},
		{"Executor", fmt.Sprintf("%d/%d permits free, queue %d/%d (%.0f%%)",
			s.Executor.AvailablePermits, s.Executor.MaxConcurrent,
			s.Executor.QueueDepth, s.Executor.MaxQueue, s.Executor.QueueUtilization)},
		{"Dispatches", fmt.Sprintf("%d total, %d ok, %d failed, %d skipped",
			s.Scheduler.Total, s.Scheduler.Successful, s.Scheduler.Failed, s.Scheduler.Skipped)},
	})

	if len(s.Executor.Breakers) > 0 {
		t.AppendSeparator()
		for _, b := range s.Executor.Breakers {
			t.AppendRow(table.Row{"Breaker " + b.Name, fmt.Sprintf("%s (%.1f%% failures)", b.State, b.FailureRate)})
		}
	}

	if len(s.Health.Components) > 0 {
		t.AppendSeparator()
		for _, c := range s.Health.Components {
			state := "ok " + c.LastRun.Format(time.TimeOnly)
			if c.LastError != "" {
				state = "error: " + c.LastError
			}
			t.AppendRow(table.Row{"Loop " + c.Name, state})
		}
	}

	if len(s.Schedules) > 0 {
		t.AppendSeparator()
		for _, sc := range s.Schedules {
			runs := fmt.Sprintf("%d", sc.ExecutionCount)
			if sc.MaxExecutions != nil {
				runs = fmt.Sprintf("%d/%d", sc.ExecutionCount, *sc.MaxExecutions)
			}
			t.AppendRow(table.Row{
				"Schedule " + sc.Name,
				fmt.Sprintf("%s next %s runs %s", sc.Type.Kind, sc.NextExecution.UTC().Format("2006-01-02 15:04"), runs),
			})
		}
	}

	for _, e := range s.Health.Errors {
		t.AppendRow(table.Row{"Warning", e})
	}

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, WidthMax: 32, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, WidthMax: 70, Align: text.AlignLeft},
	})
	t.Render()
}
