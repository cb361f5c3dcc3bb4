// File: internal/generator/generator_test.go
package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
	"github.com/pulse-sim/pulse/internal/costcontrol"
	"github.com/pulse-sim/pulse/internal/metrics"
	"github.com/pulse-sim/pulse/internal/mocks"
)

func newTestGenerator(t *testing.T, llm schemas.LLMClient, daily float64) (*Generator, *costcontrol.Controller, metrics.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := metrics.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)

	costs := costcontrol.New(context.Background(), config.CostConfig{
		DailyCostLimitUSD:    daily,
		MonthlyCostLimitUSD:  daily * 10,
		TotalCostLimitUSD:    daily * 100,
		WarningThresholdPct:  0.7,
		CriticalThresholdPct: 0.9,
		CallsPerMinute:       100,
		CallsPerHour:         1000,
		CallsPerDay:          10000,
	}, store, logger)

	gen := New(config.GeneratorConfig{
		Method:               string(MethodSymbolicOnly),
		MaxIterations:        5,
		CostLimitFraction:    0.1,
		ImprovementThreshold: 0.05,
	}, costs, store, llm, logger)
	return gen, costs, store
}

func TestSymbolicOnlyGeneration(t *testing.T) {
	gen, _, _ := newTestGenerator(t, nil, 10.0)

	genCtx := map[string]any{"inventory": 42.0, "region": "emea"}
	result := gen.GenerateRule(context.Background(), genCtx, "discount", MethodSymbolicOnly, 5, 0)

	require.Equal(t, schemas.RunCompleted, result.Status, "error: %s", result.Error)
	require.NotNil(t, result.Rule)
	assert.Equal(t, "discount", result.Rule["type"])

	// Symbolic candidates stop improving once every context variable is
	// folded in, so the plateau stop fires on the second iteration.
	assert.Equal(t, 2, result.Iterations)
	assert.InDelta(t, 1.0, result.Quality, 1e-9)
	assert.InDelta(t, 2*iterationCost[MethodSymbolicOnly], result.Cost, 1e-9)

	meta, ok := result.Rule["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, GeneratorName, meta["generator"])
	assert.Equal(t, string(MethodSymbolicOnly), meta["method"])
	assert.Equal(t, 2, meta["iterations"])
	assert.Equal(t, "discount", meta["rule_type"])
}

const candidateUnanchored = "```json\n" + `{
  "id": "cand1",
  "type": "alert",
  "conditions": [{"type": "threshold", "parameters": {"variable": "y"}, "description": "off-context"}],
  "actions": [{"type": "alert", "parameters": {}, "description": "raise"}],
  "priority": 1,
  "description": "first draft",
  "enabled": true
}` + "\n```"

const candidateAnchored = `{
  "id": "cand2",
  "type": "alert",
  "conditions": [{"type": "threshold", "parameters": {"variable": "x"}}],
  "actions": [{"type": "alert", "parameters": {}}],
  "priority": 1,
  "enabled": true
}`

const candidateAnchoredAgain = `{
  "id": "cand3",
  "type": "alert",
  "conditions": [{"type": "threshold", "parameters": {"variable": "x"}}],
  "actions": [{"type": "alert", "parameters": {}}],
  "priority": 1,
  "enabled": true
}`

func TestRefinementStopsOnPlateau(t *testing.T) {
	llm := &mocks.LLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(candidateUnanchored, nil).Once()
	llm.On("Generate", mock.Anything, mock.Anything).Return(candidateAnchored, nil).Once()
	llm.On("Generate", mock.Anything, mock.Anything).Return(candidateAnchoredAgain, nil).Once()

	gen, _, _ := newTestGenerator(t, llm, 10.0)

	// The third candidate scores the same as the second, so the improvement
	// falls below the threshold and the loop stops after three iterations.
	result := gen.GenerateRule(context.Background(), map[string]any{"x": 1.0}, "alert",
		MethodGPTSymbolicLoop, 5, 0)

	require.Equal(t, schemas.RunCompleted, result.Status, "error: %s", result.Error)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, "cand2", result.Rule["id"], "a tie keeps the earlier best")
	llm.AssertExpectations(t)
	llm.AssertNumberOfCalls(t, "Generate", 3)
}

func TestGPTMethodRequiresClient(t *testing.T) {
	gen, _, _ := newTestGenerator(t, nil, 10.0)

	result := gen.GenerateRule(context.Background(), map[string]any{}, "alert", MethodGPTOnly, 3, 0)
	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Contains(t, result.Error, "requires an LLM client")
	assert.Nil(t, result.Rule)
}

func TestUnknownMethodFails(t *testing.T) {
	gen, _, _ := newTestGenerator(t, nil, 10.0)

	result := gen.GenerateRule(context.Background(), map[string]any{}, "alert", Method("telepathy"), 3, 0)
	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Contains(t, result.Error, "unknown generation method")
}

func TestGenerationRefusedWhenBudgetExhausted(t *testing.T) {
	gen, costs, _ := newTestGenerator(t, nil, 1.0)
	costs.TrackCost(context.Background(), costcontrol.Usage{DirectCost: 1.5})

	result := gen.GenerateRule(context.Background(), map[string]any{"x": 1.0}, "alert", MethodSymbolicOnly, 3, 0)
	assert.Equal(t, schemas.RunCanceled, result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Nil(t, result.Rule)
}

func TestMalformedModelResponseFails(t *testing.T) {
	llm := &mocks.LLMClient{}
	llm.On("Generate", mock.Anything, mock.Anything).Return("sorry, I cannot do that", nil).Once()

	gen, _, store := newTestGenerator(t, llm, 10.0)
	result := gen.GenerateRule(context.Background(), map[string]any{}, "alert", MethodGPTOnly, 3, 0)

	assert.Equal(t, schemas.RunFailed, result.Status)
	assert.Contains(t, result.Error, "iteration 0")

	events, err := store.QueryMetrics(context.Background(), []string{metrics.TypeGenerationFailure}, "", "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCostLimitStopsIterations(t *testing.T) {
	gen, _, _ := newTestGenerator(t, nil, 10.0)

	// One symbolic iteration exhausts this ceiling, so the loop stops before
	// the second even though the quality could still improve.
	result := gen.GenerateRule(context.Background(),
		map[string]any{"a": 1.0, "b": 2.0, "c": 3.0}, "discount",
		MethodSymbolicOnly, 5, iterationCost[MethodSymbolicOnly])

	require.Equal(t, schemas.RunCompleted, result.Status, "error: %s", result.Error)
	assert.Equal(t, 1, result.Iterations)
}

func TestGenerationStatus(t *testing.T) {
	gen, _, _ := newTestGenerator(t, nil, 10.0)

	result := gen.GenerateRule(context.Background(), map[string]any{"x": 1.0}, "alert", MethodSymbolicOnly, 3, 0)
	require.Equal(t, schemas.RunCompleted, result.Status)

	current := gen.GenerationStatus("")
	assert.Equal(t, result.RunID, current.RunID)
	assert.Equal(t, string(schemas.RunCompleted), current.Status)
	assert.Equal(t, 1, current.Stats.TotalRuns)

	other := gen.GenerationStatus("some-other-run")
	assert.Equal(t, "unknown", other.Status)
}

func TestSuccessMetricsPersisted(t *testing.T) {
	gen, _, store := newTestGenerator(t, nil, 10.0)
	ctx := context.Background()

	result := gen.GenerateRule(ctx, map[string]any{"x": 1.0}, "alert", MethodSymbolicOnly, 3, 0)
	require.Equal(t, schemas.RunCompleted, result.Status)

	events, err := store.QueryMetrics(ctx, []string{metrics.TypeRuleGeneration}, "", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, result.RunID, events[0].Data["run_id"])

	stats := gen.Metrics()
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.Successful)
	assert.Greater(t, stats.AverageIterations, 0.0)
}

func TestParseRuleResponseFenceVariants(t *testing.T) {
	for name, resp := range map[string]string{
		"bare":           `{"id": "r1", "type": "t", "conditions": [], "actions": []}`,
		"fenced":         "```json\n{\"id\": \"r1\", \"type\": \"t\", \"conditions\": [], \"actions\": []}\n```",
		"fenced_no_lang": "```\n{\"id\": \"r1\", \"type\": \"t\", \"conditions\": [], \"actions\": []}\n```",
	} {
		t.Run(name, func(t *testing.T) {
			rule, err := parseRuleResponse(resp)
			require.NoError(t, err)
			assert.Equal(t, "r1", schemas.RuleID(rule))
		})
	}

	_, err := parseRuleResponse("   ")
	assert.Error(t, err)
}
