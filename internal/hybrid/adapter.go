// File: internal/hybrid/adapter.go

// Package hybrid converts rules between their dictionary (wire/disk) form and
// their typed object form. Conversions are cost-tracked through the cost
// controller whether they succeed or fail, and custom condition/action/rule
// variants are decoded through a discriminant-keyed registry of explicit
// prototype constructors rather than reflection over field annotations.
package hybrid

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
	"github.com/pulse-sim/pulse/internal/costcontrol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Conversion cost model: proportional to serialized size plus elapsed time.
const (
	costPerByte   = 1e-7
	costPerSecond = 1e-3
)

// ConversionError is raised when a dict/object conversion cannot complete.
// It always wraps the underlying cause when there is one.
type ConversionError struct {
	Msg string
	Err error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conversion failed: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("conversion failed: %s", e.Msg)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Adapter performs bidirectional rule conversion. Registration is additive
// and last-write-wins per type key.
type Adapter struct {
	cfg   config.AdapterConfig
	costs *costcontrol.Controller
	log   *zap.Logger

	mu          sync.RWMutex
	ruleTypes   map[string]func() any
	condTypes   map[string]func() schemas.Condition
	actionTypes map[string]func() schemas.Action
}

// New creates an adapter with empty registries.
func New(cfg config.AdapterConfig, costs *costcontrol.Controller, logger *zap.Logger) *Adapter {
	return &Adapter{
		cfg:         cfg,
		costs:       costs,
		log:         logger.Named("hybrid"),
		ruleTypes:   make(map[string]func() any),
		condTypes:   make(map[string]func() schemas.Condition),
		actionTypes: make(map[string]func() schemas.Action),
	}
}

// RegisterRuleType registers a custom rule variant for a rule type string.
// The factory must produce a pointer to a struct.
func (a *Adapter) RegisterRuleType(typeName string, factory func() any) error {
	if err := validateFactory(factory()); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ruleTypes[typeName] = factory
	return nil
}

// RegisterConditionType registers a custom condition variant, e.g. a
// comparison condition carrying a threshold field.
func (a *Adapter) RegisterConditionType(typeName string, factory func() schemas.Condition) error {
	if err := validateFactory(factory()); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.condTypes[typeName] = factory
	return nil
}

// RegisterActionType registers a custom action variant.
func (a *Adapter) RegisterActionType(typeName string, factory func() schemas.Action) error {
	if err := validateFactory(factory()); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actionTypes[typeName] = factory
	return nil
}

func validateFactory(v any) error {
	t := reflect.TypeOf(v)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("registered type must be a pointer to a struct, got %T", v)
	}
	return nil
}

// ToObject converts a rule dict to its typed form: a registered custom rule
// variant when one exists for the rule's type, otherwise a *schemas.Rule with
// conditions and actions decoded through their own registries.
func (a *Adapter) ToObject(ctx context.Context, rule schemas.RuleDict) (any, error) {
	start := time.Now()
	defer a.trackConversion(ctx, sizeOf(rule), start)

	for _, field := range []string{"id", "type", "conditions", "actions"} {
		if _, ok := rule[field]; !ok {
			return nil, &ConversionError{Msg: fmt.Sprintf("rule dict is missing required field %q", field)}
		}
	}

	ruleType, _ := rule["type"].(string)

	a.mu.RLock()
	customRule := a.ruleTypes[ruleType]
	a.mu.RUnlock()

	if customRule != nil {
		target := customRule()
		if err := decodeInto(rule, target); err != nil {
			return nil, &ConversionError{Msg: fmt.Sprintf("decoding custom rule type %q", ruleType), Err: err}
		}
		return target, nil
	}

	obj := &schemas.Rule{
		ID:   stringField(rule, "id"),
		Type: ruleType,
	}
	obj.Priority = intField(rule, "priority")
	obj.Description = stringField(rule, "description")
	obj.Enabled, _ = rule["enabled"].(bool)

	conds, ok := rule["conditions"].([]any)
	if !ok {
		return nil, &ConversionError{Msg: "rule field \"conditions\" must be a list"}
	}
	// Non-nil even when empty, so an empty list survives the round trip
	// instead of flattening back to null.
	obj.Conditions = make([]schemas.Condition, 0, len(conds))
	for i, raw := range conds {
		cond, err := a.decodeCondition(raw)
		if err != nil {
			return nil, &ConversionError{Msg: fmt.Sprintf("decoding condition %d", i), Err: err}
		}
		obj.Conditions = append(obj.Conditions, cond)
	}

	actions, ok := rule["actions"].([]any)
	if !ok {
		return nil, &ConversionError{Msg: "rule field \"actions\" must be a list"}
	}
	obj.Actions = make([]schemas.Action, 0, len(actions))
	for i, raw := range actions {
		act, err := a.decodeAction(raw)
		if err != nil {
			return nil, &ConversionError{Msg: fmt.Sprintf("decoding action %d", i), Err: err}
		}
		obj.Actions = append(obj.Actions, act)
	}

	if meta, ok := rule["metadata"].(map[string]any); ok {
		obj.Metadata = &schemas.RuleMetadata{}
		if err := decodeInto(meta, obj.Metadata); err != nil {
			return nil, &ConversionError{Msg: "decoding metadata", Err: err}
		}
	}
	return obj, nil
}

// ToDict flattens a typed rule object back into a plain nested mapping. The
// input must be a struct or pointer to one.
func (a *Adapter) ToDict(ctx context.Context, obj any) (schemas.RuleDict, error) {
	start := time.Now()
	defer a.trackConversion(ctx, sizeOf(obj), start)

	t := reflect.TypeOf(obj)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, &ConversionError{Msg: fmt.Sprintf("object form must be a struct, got %T", obj)}
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, &ConversionError{Msg: "encoding rule object", Err: err}
	}
	var dict schemas.RuleDict
	if err := json.Unmarshal(raw, &dict); err != nil {
		return nil, &ConversionError{Msg: "flattening rule object", Err: err}
	}
	return dict, nil
}

// AdaptRule converts the rule to whichever representation is configured as
// preferred; a rule already in that form is returned unchanged.
func (a *Adapter) AdaptRule(ctx context.Context, rule any) (any, error) {
	if dict, isDict := rule.(schemas.RuleDict); isDict {
		if a.cfg.PreferObjectRepresentation {
			return a.ToObject(ctx, dict)
		}
		return dict, nil
	}
	if a.cfg.PreferObjectRepresentation {
		return rule, nil
	}
	return a.ToDict(ctx, rule)
}

// ValidateRule reports structural validity by attempting a round trip.
// It returns a boolean and never an error.
func (a *Adapter) ValidateRule(ctx context.Context, rule any) bool {
	if dict, isDict := rule.(schemas.RuleDict); isDict {
		_, err := a.ToObject(ctx, dict)
		return err == nil
	}
	dict, err := a.ToDict(ctx, rule)
	if err != nil {
		return false
	}
	_, err = a.ToObject(ctx, dict)
	return err == nil
}

func (a *Adapter) decodeCondition(raw any) (schemas.Condition, error) {
	elem, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("condition element must be a mapping, got %T", raw)
	}
	typeName, _ := elem["type"].(string)

	a.mu.RLock()
	factory := a.condTypes[typeName]
	a.mu.RUnlock()

	var target schemas.Condition
	if factory != nil {
		target = factory()
	} else {
		target = &schemas.GenericCondition{}
	}
	if err := decodeInto(elem, target); err != nil {
		return nil, err
	}
	return target, nil
}

func (a *Adapter) decodeAction(raw any) (schemas.Action, error) {
	elem, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("action element must be a mapping, got %T", raw)
	}
	typeName, _ := elem["type"].(string)

	a.mu.RLock()
	factory := a.actionTypes[typeName]
	a.mu.RUnlock()

	var target schemas.Action
	if factory != nil {
		target = factory()
	} else {
		target = &schemas.GenericAction{}
	}
	if err := decodeInto(elem, target); err != nil {
		return nil, err
	}
	return target, nil
}

func (a *Adapter) trackConversion(ctx context.Context, size int, start time.Time) {
	cost := float64(size)*costPerByte + time.Since(start).Seconds()*costPerSecond
	a.costs.TrackCost(ctx, costcontrol.Usage{DirectCost: cost})
}

func decodeInto(src any, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func sizeOf(v any) int {
	raw, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(raw)
}

func stringField(dict map[string]any, key string) string {
	s, _ := dict[key].(string)
	return s
}

func intField(dict map[string]any, key string) int {
	switch v := dict[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
