// Package reporting exports execution history as Excel workbooks and CSV files and
// renders console tables for the automation process.
package reporting

import (
	"sort"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/store"
)

// Entity kinds written by the order manager, the DCA engine and the scheduler
const (
	KindOrder    = "order"
	KindDCA      = "dca"
	KindSchedule = "schedule"
)

// HistoryReport is the input of every history export
type HistoryReport struct {
	Owner       string // empty means all owners
	Since       time.Time
	GeneratedAt time.Time
	Executions  []store.Execution
}

// KindSummary aggregates executions of one entity kind
type KindSummary struct {
	Kind           string
	Total          int
	Successful     int
	Failed         int
	Volume         float64 // sum of amount over successful rows
	AvgSlippageBps float64 // over successful rows
	First          time.Time
	Last           time.Time
}

// SuccessRate is in percent
func (k KindSummary) SuccessRate() float64 {
	if k.Total == 0 {
		return 0
	}
	return float64(k.Successful) / float64(k.Total) * 100
}

// Summarize groups executions by entity kind, ordered by kind name
func Summarize(execs []store.Execution) []KindSummary {
	byKind := make(map[string]*KindSummary)
	for _, e := range execs {
		s, ok := byKind[e.EntityKind]
		if !ok {
			s = &KindSummary{Kind: e.EntityKind, First: e.ExecutedAt, Last: e.ExecutedAt}
			byKind[e.EntityKind] = s
		}
		s.Total++
		if e.ExecutedAt.Before(s.First) {
			s.First = e.ExecutedAt
		}
		if e.ExecutedAt.After(s.Last) {
			s.Last = e.ExecutedAt
		}
		if !e.Success {
			s.Failed++
			continue
		}
		s.Successful++
		s.Volume += e.Amount
		// running mean over successful rows
		s.AvgSlippageBps += (e.SlippageBps - s.AvgSlippageBps) / float64(s.Successful)
	}

	out := make([]KindSummary, 0, len(byKind))
	for _, s := range byKind {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// byKind splits executions per entity kind, keeping their order
func byKind(execs []store.Execution) map[string][]store.Execution {
	out := make(map[string][]store.Execution)
	for _, e := range execs {
		out[e.EntityKind] = append(out[e.EntityKind], e)
	}
	return out
}
