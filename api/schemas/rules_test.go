// File: api/schemas/rules_test.go
package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRuleDict(t *testing.T) {
	valid := RuleDict{
		"id":         "r1",
		"type":       "discount",
		"conditions": []any{},
		"actions":    []any{},
	}
	assert.NoError(t, ValidateRuleDict(valid))

	missing := RuleDict{"id": "r1", "type": "discount"}
	err := ValidateRuleDict(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conditions")

	badType := RuleDict{
		"id":         "r1",
		"type":       "discount",
		"conditions": "not a list",
		"actions":    []any{},
	}
	assert.Error(t, ValidateRuleDict(badType))
}

func TestRuleMetadataDictAttaches(t *testing.T) {
	rule := RuleDict{"id": "r1"}
	meta := RuleMetadataDict(rule)
	require.NotNil(t, meta)

	meta["version"] = 2
	attached, ok := rule["metadata"].(map[string]any)
	require.True(t, ok, "metadata map should be attached to the rule")
	assert.Equal(t, 2, attached["version"])
}

func TestRuleStatusIsValid(t *testing.T) {
	for _, s := range []RuleStatus{StatusDraft, StatusActive, StatusDeprecated, StatusArchived} {
		assert.True(t, s.IsValid(), string(s))
	}
	assert.False(t, RuleStatus("bogus").IsValid())
}

func TestRuleID(t *testing.T) {
	assert.Equal(t, "r1", RuleID(RuleDict{"id": "r1"}))
	assert.Empty(t, RuleID(RuleDict{}))
	assert.Empty(t, RuleID(RuleDict{"id": 42}))
}
