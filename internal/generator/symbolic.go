// File: internal/generator/symbolic.go
package generator

import (
	"fmt"
	"sort"
	"time"

	"github.com/pulse-sim/pulse/api/schemas"
)

func newRuleID() string {
	return fmt.Sprintf("rule_%d", time.Now().UTC().UnixNano())
}

// generateSymbolic deterministically derives a rule from the context without
// any model call: numeric variables become threshold conditions, string
// variables become equality conditions. Later iterations fold in one more
// variable each, so the refinement loop has something to improve on.
func (g *Generator) generateSymbolic(genCtx map[string]any, ruleType string, iteration int) schemas.RuleDict {
	keys := make([]string, 0, len(genCtx))
	for k := range genCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]any, 0, len(keys))
	take := iteration + 1
	for _, k := range keys {
		if len(conditions) >= take {
			break
		}
		switch v := genCtx[k].(type) {
		case float64:
			conditions = append(conditions, map[string]any{
				"type": "threshold",
				"parameters": map[string]any{
					"variable":  k,
					"operator":  ">=",
					"threshold": v,
				},
				"description": fmt.Sprintf("%s at or above its observed value", k),
			})
		case int:
			conditions = append(conditions, map[string]any{
				"type": "threshold",
				"parameters": map[string]any{
					"variable":  k,
					"operator":  ">=",
					"threshold": float64(v),
				},
				"description": fmt.Sprintf("%s at or above its observed value", k),
			})
		case string:
			conditions = append(conditions, map[string]any{
				"type": "equality",
				"parameters": map[string]any{
					"variable": k,
					"value":    v,
				},
				"description": fmt.Sprintf("%s matches its observed value", k),
			})
		}
	}

	actions := []any{
		map[string]any{
			"type": ruleType,
			"parameters": map[string]any{
				"magnitude": 1.0,
			},
			"description": fmt.Sprintf("apply the %s effect", ruleType),
		},
	}

	return schemas.RuleDict{
		"id":          newRuleID(),
		"type":        ruleType,
		"conditions":  conditions,
		"actions":     actions,
		"priority":    1,
		"description": fmt.Sprintf("symbolically derived %s rule", ruleType),
		"enabled":     true,
	}
}
