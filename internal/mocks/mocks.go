// File: internal/mocks/mocks.go

// Package mocks provides testify mocks for the interfaces shared across
// package boundaries.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/metrics"
)

// LLMClient is a testify mock for schemas.LLMClient.
type LLMClient struct {
	mock.Mock
}

var _ schemas.LLMClient = (*LLMClient)(nil)

func (m *LLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *LLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MetricsStore is a testify mock for metrics.Store.
type MetricsStore struct {
	mock.Mock
}

var _ metrics.Store = (*MetricsStore)(nil)

func (m *MetricsStore) StoreMetric(ctx context.Context, metric metrics.Metric) error {
	args := m.Called(ctx, metric)
	return args.Error(0)
}

func (m *MetricsStore) QueryMetrics(ctx context.Context, types []string, startDate, endDate string) ([]metrics.Metric, error) {
	args := m.Called(ctx, types, startDate, endDate)
	var out []metrics.Metric
	if v := args.Get(0); v != nil {
		out = v.([]metrics.Metric)
	}
	return out, args.Error(1)
}

func (m *MetricsStore) Summary(ctx context.Context) (metrics.SummaryReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(metrics.SummaryReport), args.Error(1)
}

func (m *MetricsStore) TrackCost(ctx context.Context, cost float64, apiCalls, tokenUsage int) error {
	args := m.Called(ctx, cost, apiCalls, tokenUsage)
	return args.Error(0)
}
