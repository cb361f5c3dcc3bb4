// File: api/schemas/rules.go
package schemas

import (
	"fmt"
	"time"
)

// RuleDict is the wire/disk representation of a rule: a plain nested mapping
// exactly mirroring the JSON schema persisted by the repository. It is the
// canonical form flowing between the generator, evaluator and repository; the
// hybrid adapter converts between it and the typed Rule object.
type RuleDict = map[string]any

// RuleStatus is the lifecycle status recorded in a rule's metadata envelope.
type RuleStatus string

const (
	StatusDraft      RuleStatus = "draft"
	StatusActive     RuleStatus = "active"
	StatusDeprecated RuleStatus = "deprecated"
	StatusArchived   RuleStatus = "archived"
)

// IsValid reports whether s is one of the known lifecycle statuses.
func (s RuleStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusDeprecated, StatusArchived:
		return true
	}
	return false
}

// Condition is the typed form of a rule condition. Custom condition variants
// (e.g. a comparison condition carrying a threshold) implement this interface
// and are registered with the hybrid adapter under their type discriminant.
type Condition interface {
	ConditionKind() string
}

// Action is the typed form of a rule action, mirroring Condition.
type Action interface {
	ActionKind() string
}

// GenericCondition is the default condition shape used when no custom variant
// is registered for a condition's type string.
type GenericCondition struct {
	Type        string         `json:"type"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description,omitempty"`
}

func (c *GenericCondition) ConditionKind() string { return c.Type }

// GenericAction is the default action shape.
type GenericAction struct {
	Type        string         `json:"type"`
	Parameters  map[string]any `json:"parameters"`
	Description string         `json:"description,omitempty"`
}

func (a *GenericAction) ActionKind() string { return a.Type }

// RuleMetadata is the versioning/status envelope attached to every rule.
type RuleMetadata struct {
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
	Version         int        `json:"version"`
	Status          RuleStatus `json:"status"`
	Generator       string     `json:"generator,omitempty"`
	PreviousVersion int        `json:"previous_version,omitempty"`
	Source          string     `json:"source,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

// Rule is the typed object representation of a rule. Conditions and Actions
// hold interface values so registered custom variants survive a round trip
// through the hybrid adapter with their extra fields intact. Optional fields
// omit their zero values so a dict key absent before a round trip stays
// absent after it; Metadata is a pointer for the same reason.
type Rule struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Conditions  []Condition   `json:"conditions"`
	Actions     []Action      `json:"actions"`
	Priority    int           `json:"priority,omitempty"`
	Description string        `json:"description,omitempty"`
	Metadata    *RuleMetadata `json:"metadata,omitempty"`
	Enabled     bool          `json:"enabled,omitempty"`
}

// NowISO returns the current UTC time formatted the way rule metadata and
// metric events store timestamps.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ValidateRuleDict checks the structural contract every stored rule must
// satisfy: the required top-level fields are present and conditions/actions
// are lists. Element shape is deliberately not validated here; that is the
// evaluator's job.
func ValidateRuleDict(rule RuleDict) error {
	for _, field := range []string{"type", "conditions", "actions"} {
		if _, ok := rule[field]; !ok {
			return fmt.Errorf("rule is missing required field %q", field)
		}
	}
	if _, ok := rule["conditions"].([]any); !ok {
		return fmt.Errorf("rule field %q must be a list", "conditions")
	}
	if _, ok := rule["actions"].([]any); !ok {
		return fmt.Errorf("rule field %q must be a list", "actions")
	}
	return nil
}

// RuleID extracts the rule id from a dict, returning "" when absent.
func RuleID(rule RuleDict) string {
	id, _ := rule["id"].(string)
	return id
}

// RuleMetadataDict returns the metadata sub-map of a rule dict, creating and
// attaching an empty one when absent so callers can stamp fields in place.
func RuleMetadataDict(rule RuleDict) map[string]any {
	if meta, ok := rule["metadata"].(map[string]any); ok {
		return meta
	}
	meta := map[string]any{}
	rule["metadata"] = meta
	return meta
}
