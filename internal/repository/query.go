// File: internal/repository/query.go
package repository

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/pulse-sim/pulse/api/schemas"
)

// ListRules filters the index (rule bodies are not loaded) by type and
// status, newest first. A limit of 0 means no limit.
func (r *Repository) ListRules(ruleType, status string, limit, offset int) []IndexEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []IndexEntry
	for _, entry := range r.index {
		if ruleType != "" && entry.Type != ruleType {
			continue
		}
		if status != "" && entry.Status != status {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})

	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SearchRules loads every rule body and keeps those matching all query
// entries exactly. Keys may be dotted paths into nested fields, e.g.
// "metadata.status". A limit of 0 means no limit.
func (r *Repository) SearchRules(query map[string]any, limit int) ([]schemas.RuleDict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []schemas.RuleDict
	for _, id := range ids {
		rule, err := r.readRuleFile(id, r.index[id].LatestVersion)
		if err != nil {
			return nil, err
		}
		if matchesQuery(rule, query) {
			out = append(out, rule)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func matchesQuery(rule schemas.RuleDict, query map[string]any) bool {
	for path, want := range query {
		got, ok := resolvePath(rule, path)
		if !ok || !looselyEqual(got, want) {
			return false
		}
	}
	return true
}

func resolvePath(dict map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = dict
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looselyEqual treats numeric values by magnitude so a query written with an
// int matches a JSON-decoded float64.
func looselyEqual(got, want any) bool {
	if gf, ok := asFloat(got); ok {
		if wf, ok := asFloat(want); ok {
			return gf == wf
		}
	}
	return reflect.DeepEqual(got, want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// VersionRecord is one entry of a rule's version history.
type VersionRecord struct {
	Version   int            `json:"version"`
	CreatedAt string         `json:"created_at"`
	Status    string         `json:"status"`
	IsLatest  bool           `json:"is_latest"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GetRuleHistory replays the index's version map in ascending order,
// opportunistically reading each version's file for richer metadata.
func (r *Repository) GetRuleHistory(id string) ([]VersionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.index[id]
	if !exists {
		return nil, errorf(nil, "rule %q not found", id)
	}

	out := make([]VersionRecord, 0, len(entry.Versions))
	for v := 1; v <= entry.LatestVersion; v++ {
		info, ok := entry.Versions[strconv.Itoa(v)]
		if !ok {
			continue
		}
		record := VersionRecord{
			Version:   v,
			CreatedAt: info.CreatedAt,
			Status:    info.Status,
			IsLatest:  v == entry.LatestVersion,
		}
		if rule, err := r.readRuleFile(id, v); err == nil {
			if meta, ok := rule["metadata"].(map[string]any); ok {
				record.Metadata = meta
			}
		}
		out = append(out, record)
	}
	return out, nil
}
