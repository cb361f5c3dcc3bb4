// File: internal/evaluator/stages.go
package evaluator

import (
	"fmt"
	"strings"

	"github.com/pulse-sim/pulse/api/schemas"
)

// Syntax penalties by issue severity.
var severityPenalty = map[int]float64{
	3: 0.4,
	2: 0.2,
	1: 0.1,
}

// syntaxStage checks structural shape only: required fields present and
// conditions/actions list-typed. Element shape is deliberately not inspected
// here; malformed elements surface in the logic stage instead.
func syntaxStage(rule schemas.RuleDict) (float64, []schemas.Issue, []schemas.Recommendation) {
	var issues []schemas.Issue
	var recs []schemas.Recommendation

	for _, field := range []string{"id", "type", "conditions", "actions"} {
		if _, ok := rule[field]; !ok {
			issues = append(issues, schemas.Issue{
				Type:        "missing_field",
				Description: fmt.Sprintf("required field %q is missing", field),
				Severity:    3,
			})
			recs = append(recs, schemas.Recommendation{
				Description: fmt.Sprintf("add the %q field to the rule", field),
				Importance:  3,
			})
		}
	}
	for _, field := range []string{"conditions", "actions"} {
		v, ok := rule[field]
		if !ok {
			continue
		}
		if _, isList := v.([]any); !isList {
			issues = append(issues, schemas.Issue{
				Type:        "invalid_structure",
				Description: fmt.Sprintf("field %q must be a list", field),
				Severity:    2,
			})
			recs = append(recs, schemas.Recommendation{
				Description: fmt.Sprintf("make %q a list of %s objects", field, strings.TrimSuffix(field, "s")),
				Importance:  2,
			})
		}
	}

	score := 1.0
	for _, issue := range issues {
		score -= severityPenalty[issue.Severity]
	}
	return clamp01(score), issues, recs
}

// logicStage scores internal consistency of the rule's conditions and
// actions against the provided context.
func logicStage(rule schemas.RuleDict, evalCtx map[string]any) (float64, []schemas.Issue, []schemas.Recommendation) {
	var issues []schemas.Issue
	var recs []schemas.Recommendation
	score := 1.0

	conditions, _ := rule["conditions"].([]any)
	actions, _ := rule["actions"].([]any)

	if len(conditions) == 0 {
		score -= 0.3
		issues = append(issues, schemas.Issue{
			Type:        "no_conditions",
			Description: "rule has no conditions and would fire unconditionally",
			Severity:    2,
		})
		recs = append(recs, schemas.Recommendation{
			Description: "add at least one condition to scope when the rule applies",
			Importance:  2,
		})
	}
	if len(actions) == 0 {
		score -= 0.3
		issues = append(issues, schemas.Issue{
			Type:        "no_actions",
			Description: "rule has no actions and can have no effect",
			Severity:    2,
		})
		recs = append(recs, schemas.Recommendation{
			Description: "add at least one action describing what the rule does",
			Importance:  2,
		})
	}

	seen := make(map[string]bool)
	for i, raw := range conditions {
		elem, ok := raw.(map[string]any)
		if !ok {
			score -= 0.2
			issues = append(issues, schemas.Issue{
				Type:        "malformed_condition",
				Description: fmt.Sprintf("condition %d is not a structured object", i),
				Severity:    2,
			})
			continue
		}
		condType, _ := elem["type"].(string)
		if condType == "" {
			score -= 0.1
			issues = append(issues, schemas.Issue{
				Type:        "untyped_condition",
				Description: fmt.Sprintf("condition %d has no type", i),
				Severity:    1,
			})
			continue
		}
		key := condType + "/" + fmt.Sprint(elem["parameters"])
		if seen[key] {
			score -= 0.1
			issues = append(issues, schemas.Issue{
				Type:        "duplicate_condition",
				Description: fmt.Sprintf("condition %d duplicates an earlier condition", i),
				Severity:    1,
			})
			recs = append(recs, schemas.Recommendation{
				Description: "remove duplicated conditions",
				Importance:  1,
			})
		}
		seen[key] = true
	}

	// Conditions referencing variables absent from the context can never
	// match it.
	if len(evalCtx) > 0 {
		for i, raw := range conditions {
			elem, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			params, _ := elem["parameters"].(map[string]any)
			if v, ok := params["variable"].(string); ok {
				if _, present := evalCtx[v]; !present {
					score -= 0.1
					issues = append(issues, schemas.Issue{
						Type:        "unknown_variable",
						Description: fmt.Sprintf("condition %d references %q, not present in context", i, v),
						Severity:    1,
					})
				}
			}
		}
	}

	return clamp01(score), issues, recs
}

// coverageStage scores how much of the context's variable space the rule's
// conditions touch. An empty context gives a neutral score.
func coverageStage(rule schemas.RuleDict, evalCtx map[string]any) (float64, []schemas.Issue, []schemas.Recommendation) {
	var issues []schemas.Issue
	var recs []schemas.Recommendation

	if len(evalCtx) == 0 {
		recs = append(recs, schemas.Recommendation{
			Description: "supply a context with example variables to measure coverage",
			Importance:  1,
		})
		return 0.5, issues, recs
	}

	conditions, _ := rule["conditions"].([]any)
	referenced := make(map[string]bool)
	for _, raw := range conditions {
		elem, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		params, _ := elem["parameters"].(map[string]any)
		for _, v := range params {
			if name, ok := v.(string); ok {
				if _, present := evalCtx[name]; present {
					referenced[name] = true
				}
			}
		}
	}

	fraction := float64(len(referenced)) / float64(len(evalCtx))
	if fraction < 0.5 {
		issues = append(issues, schemas.Issue{
			Type:        "low_coverage",
			Description: fmt.Sprintf("conditions reference %d of %d context variables", len(referenced), len(evalCtx)),
			Severity:    1,
		})
		recs = append(recs, schemas.Recommendation{
			Description: "add conditions for the unreferenced context variables",
			Importance:  1,
		})
	}
	return clamp01(0.5 + 0.5*fraction), issues, recs
}

// performanceStage scores structural efficiency: oversized rules cost more
// to match on every tick of the consuming simulation.
func performanceStage(rule schemas.RuleDict, _ map[string]any) (float64, []schemas.Issue, []schemas.Recommendation) {
	var issues []schemas.Issue
	var recs []schemas.Recommendation

	conditions, _ := rule["conditions"].([]any)
	actions, _ := rule["actions"].([]any)

	score := 1.0
	if n := len(conditions); n > 5 {
		score -= 0.05 * float64(n-5)
		issues = append(issues, schemas.Issue{
			Type:        "many_conditions",
			Description: fmt.Sprintf("rule has %d conditions", n),
			Severity:    1,
		})
		recs = append(recs, schemas.Recommendation{
			Description: "split the rule or collapse related conditions",
			Importance:  1,
		})
	}
	if n := len(actions); n > 5 {
		score -= 0.03 * float64(n-5)
		issues = append(issues, schemas.Issue{
			Type:        "many_actions",
			Description: fmt.Sprintf("rule has %d actions", n),
			Severity:    1,
		})
	}

	for i, raw := range conditions {
		elem, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if depth := mappingDepth(elem["parameters"]); depth > 3 {
			score -= 0.05
			issues = append(issues, schemas.Issue{
				Type:        "deep_nesting",
				Description: fmt.Sprintf("condition %d parameters nest %d levels deep", i, depth),
				Severity:    1,
			})
		}
	}

	return clamp01(score), issues, recs
}

func mappingDepth(v any) int {
	m, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	max := 0
	for _, child := range m {
		if d := mappingDepth(child); d > max {
			max = d
		}
	}
	return max + 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
