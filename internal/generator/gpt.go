// File: internal/generator/gpt.go
package generator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/pulse-sim/pulse/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Models often wrap JSON responses in markdown fences despite instructions.
var jsonFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

const generateSystemPrompt = `You are a rule synthesis engine for a forecasting simulation.
You produce symbolic "if condition then action" rules as JSON.
Respond with a single JSON object and nothing else. The object must have the shape:
{"id": string, "type": string, "conditions": [{"type": string, "parameters": object, "description": string}], "actions": [{"type": string, "parameters": object, "description": string}], "priority": integer, "description": string, "enabled": boolean}`

func (g *Generator) generateWithGPT(ctx context.Context, genCtx map[string]any, ruleType string) (schemas.RuleDict, error) {
	contextJSON, err := json.MarshalIndent(genCtx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding generation context: %w", err)
	}

	prompt := fmt.Sprintf(`Generate one %q rule for the following context.
Conditions should reference the context's variables; actions should describe a concrete effect.

Context:
%s`, ruleType, contextJSON)

	return g.callAndParse(ctx, prompt, ruleType)
}

func (g *Generator) refineWithGPT(ctx context.Context, previous schemas.RuleDict, genCtx map[string]any, feedback []string) (schemas.RuleDict, error) {
	previousJSON, err := json.MarshalIndent(previous, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding previous candidate: %w", err)
	}
	contextJSON, err := json.MarshalIndent(genCtx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding generation context: %w", err)
	}

	prompt := fmt.Sprintf(`Improve the rule below. Address every piece of feedback while keeping the same id and type.

Current rule:
%s

Feedback:
- %s

Context:
%s`, previousJSON, strings.Join(feedback, "\n- "), contextJSON)

	ruleType, _ := previous["type"].(string)
	return g.callAndParse(ctx, prompt, ruleType)
}

func (g *Generator) callAndParse(ctx context.Context, prompt, ruleType string) (schemas.RuleDict, error) {
	resp, err := g.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: generateSystemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.4, ForceJSONFormat: true},
	})
	if err != nil {
		return nil, fmt.Errorf("llm generation call: %w", err)
	}

	rule, err := parseRuleResponse(resp)
	if err != nil {
		return nil, err
	}
	if _, ok := rule["type"]; !ok {
		rule["type"] = ruleType
	}
	if schemas.RuleID(rule) == "" {
		rule["id"] = newRuleID()
	}
	if err := schemas.ValidateRuleDict(rule); err != nil {
		return nil, fmt.Errorf("model produced a malformed rule: %w", err)
	}
	return rule, nil
}

// parseRuleResponse extracts the JSON payload from a model response,
// tolerating a markdown fence around it.
func parseRuleResponse(resp string) (schemas.RuleDict, error) {
	payload := strings.TrimSpace(resp)
	if m := jsonFenceRegex.FindStringSubmatch(payload); len(m) > 1 {
		payload = strings.TrimSpace(m[1])
	}
	if payload == "" {
		return nil, fmt.Errorf("model response was empty")
	}

	var rule schemas.RuleDict
	if err := json.Unmarshal([]byte(payload), &rule); err != nil {
		return nil, fmt.Errorf("decoding model response: %w", err)
	}
	return rule, nil
}
