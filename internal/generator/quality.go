// File: internal/generator/quality.go
package generator

import (
	"fmt"

	"github.com/pulse-sim/pulse/api/schemas"
)

// assessQuality is the loop-internal scorer. It is intentionally cheaper and
// coarser than a full evaluator run, which callers can still apply to the
// finished rule afterwards. It returns a score in [0,1] plus feedback lines
// fed back into the next refinement prompt.
func assessQuality(rule schemas.RuleDict, genCtx map[string]any) (float64, []string) {
	var feedback []string
	score := 1.0

	if err := schemas.ValidateRuleDict(rule); err != nil {
		return 0, []string{fmt.Sprintf("rule is structurally invalid: %v", err)}
	}

	conditions, _ := rule["conditions"].([]any)
	actions, _ := rule["actions"].([]any)

	if len(conditions) == 0 {
		score -= 0.3
		feedback = append(feedback, "add at least one condition so the rule does not fire unconditionally")
	}
	if len(actions) == 0 {
		score -= 0.3
		feedback = append(feedback, "add at least one action describing the rule's effect")
	}
	if desc, _ := rule["description"].(string); desc == "" {
		score -= 0.1
		feedback = append(feedback, "add a human-readable description")
	}

	for i, raw := range conditions {
		elem, ok := raw.(map[string]any)
		if !ok {
			score -= 0.15
			feedback = append(feedback, fmt.Sprintf("condition %d must be a structured object", i))
			continue
		}
		if t, _ := elem["type"].(string); t == "" {
			score -= 0.1
			feedback = append(feedback, fmt.Sprintf("condition %d needs a type", i))
		}
		if _, ok := elem["parameters"].(map[string]any); !ok {
			score -= 0.05
			feedback = append(feedback, fmt.Sprintf("condition %d needs a parameters object", i))
		}
	}

	// Reward conditions anchored to real context variables.
	if len(genCtx) > 0 {
		referenced := 0
		for _, raw := range conditions {
			elem, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			params, _ := elem["parameters"].(map[string]any)
			if v, ok := params["variable"].(string); ok {
				if _, present := genCtx[v]; present {
					referenced++
				}
			}
		}
		if len(conditions) > 0 {
			anchored := float64(referenced) / float64(len(conditions))
			score = score*0.7 + anchored*0.3
			if anchored < 1 {
				feedback = append(feedback, "tie every condition to a variable present in the context")
			}
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, feedback
}
