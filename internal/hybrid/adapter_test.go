// File: internal/hybrid/adapter_test.go
package hybrid

import (
	"context"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
	"github.com/pulse-sim/pulse/internal/costcontrol"
	"github.com/pulse-sim/pulse/internal/metrics"
)

func newTestAdapter(t *testing.T, cfg config.AdapterConfig) (*Adapter, *costcontrol.Controller) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store, err := metrics.NewFileStore(t.TempDir(), logger)
	require.NoError(t, err)
	costs := costcontrol.New(context.Background(), config.CostConfig{
		DailyCostLimitUSD:    10,
		MonthlyCostLimitUSD:  100,
		TotalCostLimitUSD:    1000,
		WarningThresholdPct:  0.7,
		CriticalThresholdPct: 0.9,
		CallsPerMinute:       100,
		CallsPerHour:         1000,
		CallsPerDay:          10000,
	}, store, logger)
	return New(cfg, costs, logger), costs
}

// normalize round-trips a value through JSON so numbers and nested maps take
// the same concrete types a decoded rule file would have.
func normalize(t *testing.T, v any) schemas.RuleDict {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var out schemas.RuleDict
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func fullRuleDict(t *testing.T) schemas.RuleDict {
	return normalize(t, map[string]any{
		"id":   "r1",
		"type": "discount",
		"conditions": []any{
			map[string]any{
				"type":        "threshold",
				"parameters":  map[string]any{"variable": "inventory", "operator": ">=", "threshold": 100.0},
				"description": "inventory is high",
			},
		},
		"actions": []any{
			map[string]any{
				"type":        "discount",
				"parameters":  map[string]any{"magnitude": 0.15},
				"description": "apply a discount",
			},
		},
		"priority":    2,
		"description": "discount on overstock",
		"metadata": map[string]any{
			"created_at": "2026-08-01T00:00:00Z",
			"updated_at": "2026-08-01T00:00:00Z",
			"version":    1,
			"status":     "active",
		},
		"enabled": true,
	})
}

func TestRoundTripPreservesRule(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	ctx := context.Background()
	dict := fullRuleDict(t)

	obj, err := adapter.ToObject(ctx, dict)
	require.NoError(t, err)
	rule, ok := obj.(*schemas.Rule)
	require.True(t, ok)
	assert.Equal(t, "r1", rule.ID)
	require.Len(t, rule.Conditions, 1)
	assert.Equal(t, "threshold", rule.Conditions[0].ConditionKind())

	back, err := adapter.ToDict(ctx, obj)
	require.NoError(t, err)
	if diff := cmp.Diff(dict, normalize(t, back)); diff != "" {
		t.Errorf("round trip changed the rule (-want +got):\n%s", diff)
	}
}

func TestRoundTripPreservesEmptyLists(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	ctx := context.Background()

	// Minimal valid rule: empty condition/action lists, no metadata, no
	// optional fields. The round trip must not flatten the lists to null or
	// invent keys the dict never had.
	dict := normalize(t, map[string]any{
		"id":         "r-empty",
		"type":       "discount",
		"conditions": []any{},
		"actions":    []any{},
	})

	obj, err := adapter.ToObject(ctx, dict)
	require.NoError(t, err)
	rule := obj.(*schemas.Rule)
	assert.NotNil(t, rule.Conditions)
	assert.NotNil(t, rule.Actions)
	assert.Nil(t, rule.Metadata)

	back, err := adapter.ToDict(ctx, obj)
	require.NoError(t, err)
	assert.NotContains(t, back, "metadata")
	if diff := cmp.Diff(dict, normalize(t, back)); diff != "" {
		t.Errorf("round trip changed the rule (-want +got):\n%s", diff)
	}
}

func TestToObjectMissingFields(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	_, err := adapter.ToObject(context.Background(), schemas.RuleDict{"id": "r1", "type": "generic"})
	require.Error(t, err)
	var convErr *ConversionError
	assert.ErrorAs(t, err, &convErr)
}

func TestToObjectRejectsNonListConditions(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	dict := schemas.RuleDict{
		"id": "r1", "type": "t",
		"conditions": "nope",
		"actions":    []any{},
	}
	_, err := adapter.ToObject(context.Background(), dict)
	var convErr *ConversionError
	require.ErrorAs(t, err, &convErr)
	assert.Contains(t, convErr.Error(), "conditions")
}

func TestToDictRejectsNonStruct(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	_, err := adapter.ToDict(context.Background(), 42)
	var convErr *ConversionError
	assert.ErrorAs(t, err, &convErr)
}

// comparisonCondition is a custom variant carrying an extra threshold field.
type comparisonCondition struct {
	Type        string         `json:"type"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description,omitempty"`
	Threshold   float64        `json:"threshold"`
}

func (c *comparisonCondition) ConditionKind() string { return c.Type }

func TestCustomConditionTypeSurvives(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	require.NoError(t, adapter.RegisterConditionType("comparison", func() schemas.Condition {
		return &comparisonCondition{}
	}))

	dict := normalize(t, map[string]any{
		"id": "r1", "type": "generic",
		"conditions": []any{
			map[string]any{
				"type":       "comparison",
				"parameters": map[string]any{"variable": "trust"},
				"threshold":  0.85,
			},
		},
		"actions": []any{},
	})

	obj, err := adapter.ToObject(context.Background(), dict)
	require.NoError(t, err)
	rule := obj.(*schemas.Rule)
	require.Len(t, rule.Conditions, 1)

	comp, ok := rule.Conditions[0].(*comparisonCondition)
	require.True(t, ok, "registered variant should be decoded, not the generic shape")
	assert.Equal(t, 0.85, comp.Threshold)
}

func TestRegisterRejectsNonStructFactory(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	err := adapter.RegisterRuleType("bad", func() any { return "not a struct" })
	assert.Error(t, err)
}

func TestAdaptRulePreference(t *testing.T) {
	ctx := context.Background()
	dict := fullRuleDict(t)

	preferDict, _ := newTestAdapter(t, config.AdapterConfig{PreferObjectRepresentation: false})
	same, err := preferDict.AdaptRule(ctx, dict)
	require.NoError(t, err)
	assert.IsType(t, schemas.RuleDict{}, same, "dict stays a dict when dicts are preferred")

	preferObject, _ := newTestAdapter(t, config.AdapterConfig{PreferObjectRepresentation: true})
	obj, err := preferObject.AdaptRule(ctx, dict)
	require.NoError(t, err)
	assert.IsType(t, &schemas.Rule{}, obj)

	backToDict, err := preferDict.AdaptRule(ctx, obj)
	require.NoError(t, err)
	assert.IsType(t, schemas.RuleDict{}, backToDict)
}

func TestValidateRuleNeverErrors(t *testing.T) {
	adapter, _ := newTestAdapter(t, config.AdapterConfig{})
	ctx := context.Background()

	assert.True(t, adapter.ValidateRule(ctx, fullRuleDict(t)))
	assert.False(t, adapter.ValidateRule(ctx, schemas.RuleDict{"id": "r1"}))
	assert.True(t, adapter.ValidateRule(ctx, &schemas.Rule{
		Conditions: []schemas.Condition{},
		Actions:    []schemas.Action{},
	}))
	assert.False(t, adapter.ValidateRule(ctx, 42))
}

func TestConversionsAreCostTracked(t *testing.T) {
	adapter, costs := newTestAdapter(t, config.AdapterConfig{})
	ctx := context.Background()
	before := costs.Summary().TotalCostUSD

	_, err := adapter.ToObject(ctx, fullRuleDict(t))
	require.NoError(t, err)
	afterSuccess := costs.Summary().TotalCostUSD
	assert.Greater(t, afterSuccess, before)

	_, err = adapter.ToObject(ctx, schemas.RuleDict{"id": "r1"})
	require.Error(t, err)
	assert.Greater(t, costs.Summary().TotalCostUSD, afterSuccess, "failed conversions are tracked too")
}

func FuzzRoundTrip(f *testing.F) {
	f.Add([]byte("seed"))
	f.Fuzz(func(t *testing.T, data []byte) {
		fz := fuzz.NewConsumer(data)
		id, err := fz.GetString()
		if err != nil {
			return
		}
		ruleType, err := fz.GetString()
		if err != nil {
			return
		}
		variable, err := fz.GetString()
		if err != nil {
			return
		}
		priority, err := fz.GetInt()
		if err != nil {
			return
		}
		priority = priority % 1000
		if priority == 0 {
			priority = 1 // the zero value is omitted from the object form
		}

		logger := zaptest.NewLogger(t)
		store, err := metrics.NewFileStore(t.TempDir(), logger)
		if err != nil {
			t.Fatal(err)
		}
		costs := costcontrol.New(context.Background(), config.CostConfig{
			DailyCostLimitUSD: 1000, MonthlyCostLimitUSD: 10000, TotalCostLimitUSD: 100000,
			WarningThresholdPct: 0.7, CriticalThresholdPct: 0.9,
			CallsPerMinute: 1000, CallsPerHour: 10000, CallsPerDay: 100000,
		}, store, logger)
		adapter := New(config.AdapterConfig{}, costs, logger)

		dict := normalize(t, map[string]any{
			"id":   id,
			"type": ruleType,
			"conditions": []any{
				map[string]any{
					"type":       "threshold",
					"parameters": map[string]any{"variable": variable},
				},
			},
			"actions": []any{
				map[string]any{
					"type":       "effect",
					"parameters": map[string]any{},
				},
			},
			"priority": priority % 1000,
			"metadata": map[string]any{
				"created_at": "2026-01-01T00:00:00Z",
				"updated_at": "2026-01-01T00:00:00Z",
				"version":    1,
				"status":     "draft",
			},
			"enabled": true,
		})

		obj, err := adapter.ToObject(context.Background(), dict)
		if err != nil {
			t.Fatalf("valid dict failed to convert: %v", err)
		}
		back, err := adapter.ToDict(context.Background(), obj)
		if err != nil {
			t.Fatalf("object failed to flatten: %v", err)
		}
		if diff := cmp.Diff(dict, normalize(t, back)); diff != "" {
			t.Errorf("round trip changed the rule (-want +got):\n%s", diff)
		}
	})
}
