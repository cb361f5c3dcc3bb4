// File: internal/metrics/metrics.go

// Package metrics provides the durable store for cost and evaluation metrics.
// The cost controller replays it at startup to reconstruct spend, and every
// tracked event is appended to it; the in-memory ledger is only a cache.
package metrics

import (
	"context"
	"time"
)

// Metric is a single durable metric event.
type Metric struct {
	ID         string         `json:"id"`
	Type       string         `json:"metric_type"`
	Timestamp  string         `json:"timestamp"` // RFC3339, UTC
	Cost       float64        `json:"cost"`
	APICalls   int            `json:"api_calls"`
	TokenUsage int            `json:"token_usage"`
	Data       map[string]any `json:"data,omitempty"`
}

// Well-known metric types.
const (
	TypeCostTracking      = "cost_tracking"
	TypeRuleEvaluation    = "rule_evaluation"
	TypeEvaluationFailure = "rule_evaluation_failure"
	TypeRuleGeneration    = "rule_generation"
	TypeGenerationFailure = "rule_generation_failure"
)

// CostTotals aggregates the cost-bearing fields across metric events.
type CostTotals struct {
	TotalCost  float64 `json:"total_cost"`
	APICalls   int     `json:"api_calls"`
	TokenUsage int     `json:"token_usage"`
}

// SummaryReport is the all-time rollup returned by Summary.
type SummaryReport struct {
	TotalMetrics int        `json:"total_metrics"`
	CostTracking CostTotals `json:"cost_tracking"`
}

// Store is the durable metrics backend. Dates passed to QueryMetrics are
// ISO "YYYY-MM-DD" strings; an empty end date means "through now". An empty
// types slice matches every metric type.
type Store interface {
	StoreMetric(ctx context.Context, m Metric) error
	QueryMetrics(ctx context.Context, types []string, startDate, endDate string) ([]Metric, error)
	Summary(ctx context.Context) (SummaryReport, error)
	TrackCost(ctx context.Context, cost float64, apiCalls, tokenUsage int) error
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func matchesType(types []string, t string) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// inDateRange compares the date component of an RFC3339 timestamp against an
// inclusive ISO date range.
func inDateRange(timestamp, startDate, endDate string) bool {
	if len(timestamp) < 10 {
		return false
	}
	day := timestamp[:10]
	if startDate != "" && day < startDate {
		return false
	}
	if endDate != "" && day > endDate {
		return false
	}
	return true
}
