// File: internal/repository/repository_test.go
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(config.RepositoryConfig{
		RulesPath:      t.TempDir(),
		MaxRuleBackups: 3,
		ValidateRules:  true,
		BackupRules:    true,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	// A ticking test clock keeps backup directory names unique.
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	return repo
}

func testRule(id string) schemas.RuleDict {
	rule := schemas.RuleDict{
		"type": "discount",
		"conditions": []any{
			map[string]any{"type": "threshold", "parameters": map[string]any{"variable": "inventory"}},
		},
		"actions": []any{
			map[string]any{"type": "discount", "parameters": map[string]any{"magnitude": 0.1}},
		},
		"priority":    1,
		"description": "test rule",
		"enabled":     true,
	}
	if id != "" {
		rule["id"] = id
	}
	return rule
}

func TestAddRuleAssignsIDAndMetadata(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddRule(testRule(""), true)
	require.NoError(t, err)

	id := schemas.RuleID(stored)
	assert.True(t, strings.HasPrefix(id, "rule_"), "auto id has the rule_ prefix, got %q", id)

	meta := stored["metadata"].(map[string]any)
	assert.Equal(t, 1, meta["version"])
	assert.Equal(t, "active", meta["status"])
	assert.Equal(t, meta["created_at"], meta["updated_at"])
}

func TestAddRuleDuplicateID(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)

	_, err = repo.AddRule(testRule("r1"), true)
	require.Error(t, err)
	var repoErr *Error
	require.ErrorAs(t, err, &repoErr)
	assert.Contains(t, repoErr.Error(), "already exists")
}

func TestAddRuleValidation(t *testing.T) {
	repo := newTestRepo(t)

	bad := schemas.RuleDict{"id": "r1", "type": "t"} // no conditions/actions
	_, err := repo.AddRule(bad, true)
	var repoErr *Error
	assert.ErrorAs(t, err, &repoErr)
}

func TestAddRuleDraft(t *testing.T) {
	repo := newTestRepo(t)
	stored, err := repo.AddRule(testRule("r1"), false)
	require.NoError(t, err)
	meta := stored["metadata"].(map[string]any)
	assert.Equal(t, "draft", meta["status"])
}

func TestVersionMonotonicity(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)
	createdAt := stored["metadata"].(map[string]any)["created_at"]

	for expect := 2; expect <= 5; expect++ {
		stored["description"] = fmt.Sprintf("revision %d", expect)
		updated, err := repo.UpdateRule(stored, true)
		require.NoError(t, err)
		meta := updated["metadata"].(map[string]any)
		assert.Equal(t, expect, meta["version"])
		assert.Equal(t, expect-1, meta["previous_version"])
		assert.Equal(t, createdAt, meta["created_at"], "creation time survives version bumps")
		stored = updated
	}

	// Every version remains readable with its own stamped version number.
	for k := 1; k <= 5; k++ {
		rule, err := repo.GetRule("r1", k)
		require.NoError(t, err)
		meta := rule["metadata"].(map[string]any)
		assert.EqualValues(t, k, meta["version"])
	}

	_, err = repo.GetRule("r1", 6)
	assert.Error(t, err)
	_, err = repo.GetRule("r1", -1)
	assert.Error(t, err)
}

func TestUpdateRuleInPlace(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)

	stored["priority"] = 9
	updated, err := repo.UpdateRule(stored, false)
	require.NoError(t, err)
	meta := updated["metadata"].(map[string]any)
	assert.Equal(t, 1, meta["version"], "in-place update keeps the version")
}

func TestUpdateRuleInPlaceKeepsVersionCreatedAt(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)

	before, err := repo.GetRuleHistory("r1")
	require.NoError(t, err)
	require.Len(t, before, 1)
	originalCreatedAt := before[0].CreatedAt

	// The test clock ticks on every call, so a rewritten creation time
	// would show up as a later timestamp.
	stored["priority"] = 9
	_, err = repo.UpdateRule(stored, false)
	require.NoError(t, err)

	after, err := repo.GetRuleHistory("r1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, originalCreatedAt, after[0].CreatedAt,
		"in-place update keeps the version's creation time")
}

func TestUpdateUnknownRule(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.UpdateRule(testRule("ghost"), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestArchiveIsReversibleRead(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)
	stored["description"] = "v2"
	_, err = repo.UpdateRule(stored, true)
	require.NoError(t, err)

	ok, err := repo.DeleteRule("r1", false)
	require.NoError(t, err)
	assert.True(t, ok)

	// The rule stays readable and reports its archived status.
	rule, err := repo.GetRule("r1", 0)
	require.NoError(t, err)
	meta := rule["metadata"].(map[string]any)
	assert.Equal(t, "archived", meta["status"])

	// Every version's file moved from active to archive.
	for v := 1; v <= 2; v++ {
		name := fmt.Sprintf("r1_v%d.json", v)
		_, err := os.Stat(filepath.Join(repo.activeDir(), name))
		assert.True(t, os.IsNotExist(err), "%s should have left the active dir", name)
		_, err = os.Stat(filepath.Join(repo.archiveDir(), name))
		assert.NoError(t, err, "%s should be in the archive dir", name)
	}
}

func TestHardDeleteRemovesEverything(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)

	ok, err := repo.DeleteRule("r1", true)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.GetRule("r1", 0)
	assert.Error(t, err)
	assert.Empty(t, repo.ListRules("", "", 0, 0))
}

func TestChangeRuleStatus(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)

	require.NoError(t, repo.ChangeRuleStatus("r1", schemas.StatusDeprecated))
	rule, err := repo.GetRule("r1", 0)
	require.NoError(t, err)
	meta := rule["metadata"].(map[string]any)
	assert.EqualValues(t, "deprecated", meta["status"])
	assert.EqualValues(t, 1, meta["version"], "status change does not bump the version")
	assert.NotEmpty(t, meta["status_changed_at"])

	// Archiving through the status API routes to the soft-delete path.
	require.NoError(t, repo.ChangeRuleStatus("r1", schemas.StatusArchived))
	rule, err = repo.GetRule("r1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, "archived", rule["metadata"].(map[string]any)["status"])

	assert.Error(t, repo.ChangeRuleStatus("r1", schemas.RuleStatus("bogus")))
}

func TestListRulesFiltersAndSorts(t *testing.T) {
	repo := newTestRepo(t)

	for i, rt := range []string{"discount", "discount", "alert"} {
		rule := testRule(fmt.Sprintf("r%d", i))
		rule["type"] = rt
		_, err := repo.AddRule(rule, i%2 == 0)
		require.NoError(t, err)
	}

	all := repo.ListRules("", "", 0, 0)
	require.Len(t, all, 3)
	assert.GreaterOrEqual(t, all[0].UpdatedAt, all[1].UpdatedAt, "newest first")

	discounts := repo.ListRules("discount", "", 0, 0)
	assert.Len(t, discounts, 2)

	drafts := repo.ListRules("", "draft", 0, 0)
	require.Len(t, drafts, 1)
	assert.Equal(t, "r1", drafts[0].ID)

	paged := repo.ListRules("", "", 1, 1)
	assert.Len(t, paged, 1)
	assert.Empty(t, repo.ListRules("", "", 0, 10))
}

func TestSearchRulesDottedPaths(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)
	_, err = repo.AddRule(testRule("r2"), false)
	require.NoError(t, err)

	active, err := repo.SearchRules(map[string]any{"metadata.status": "active"}, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r1", schemas.RuleID(active[0]))

	byPriority, err := repo.SearchRules(map[string]any{"priority": 1}, 0)
	require.NoError(t, err)
	assert.Len(t, byPriority, 2, "int query matches JSON-decoded numbers")

	limited, err := repo.SearchRules(map[string]any{"type": "discount"}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := repo.SearchRules(map[string]any{"metadata.missing": "x"}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetRuleHistory(t *testing.T) {
	repo := newTestRepo(t)

	stored, err := repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)
	stored["description"] = "v2"
	_, err = repo.UpdateRule(stored, true)
	require.NoError(t, err)

	history, err := repo.GetRuleHistory("r1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Version)
	assert.False(t, history[0].IsLatest)
	assert.Equal(t, 2, history[1].Version)
	assert.True(t, history[1].IsLatest)
	assert.NotNil(t, history[1].Metadata)

	_, err = repo.GetRuleHistory("ghost")
	assert.Error(t, err)
}

func TestBackupRotation(t *testing.T) {
	repo := newTestRepo(t)

	// Each mutation snapshots a backup; the retention cap is 3.
	for i := 0; i < 6; i++ {
		_, err := repo.AddRule(testRule(fmt.Sprintf("r%d", i)), true)
		require.NoError(t, err)
	}

	backups, err := repo.ListBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 3)
	assert.True(t, sortedAscending(backups))
}

func sortedAscending(names []string) bool {
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			return false
		}
	}
	return true
}

func TestRestoreBackupUndoesMutation(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.AddRule(testRule("keep"), true)
	require.NoError(t, err)

	// Snapshot the state we want to come back to.
	name, err := repo.CreateBackup()
	require.NoError(t, err)

	_, err = repo.AddRule(testRule("extra"), true)
	require.NoError(t, err)
	require.Len(t, repo.ListRules("", "", 0, 0), 2)

	require.NoError(t, repo.RestoreBackup(name))

	rules := repo.ListRules("", "", 0, 0)
	require.Len(t, rules, 1)
	assert.Equal(t, "keep", rules[0].ID)

	_, err = repo.GetRule("keep", 0)
	assert.NoError(t, err)

	assert.Error(t, repo.RestoreBackup("backup_nope"))
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.RepositoryConfig{RulesPath: dir, MaxRuleBackups: 3, ValidateRules: true, BackupRules: true}

	repo, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	_, err = repo.AddRule(testRule("r1"), true)
	require.NoError(t, err)

	reopened, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	rule, err := reopened.GetRule("r1", 0)
	require.NoError(t, err)
	assert.Equal(t, "r1", schemas.RuleID(rule))
}
