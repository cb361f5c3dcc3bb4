// File: internal/repository/repository.go

// Package repository is the durable, versioned rule store. Rules live as one
// JSON file per (id, version) under active/ or archive/, with a single index
// file mirroring the in-memory index. Every mutation snapshots a backup
// first, so any write can be rolled back with RestoreBackup.
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/pulse-sim/pulse/api/schemas"
	"github.com/pulse-sim/pulse/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const indexFileName = "rule_index.json"

// Error wraps every repository-level failure: rule not found, invalid
// version, duplicate id, validation failure, or I/O failure.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func errorf(err error, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Err: err}
}

// VersionInfo records when a version was written and under what status.
type VersionInfo struct {
	CreatedAt string `json:"created_at"`
	Status    string `json:"status"`
}

// IndexEntry is the per-rule summary held in memory and mirrored to the
// index file. LatestVersion always equals the highest key in Versions.
type IndexEntry struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	LatestVersion int                    `json:"latest_version"`
	Status        string                 `json:"status"`
	CreatedAt     string                 `json:"created_at"`
	UpdatedAt     string                 `json:"updated_at"`
	Versions      map[string]VersionInfo `json:"versions"`
}

// Repository stores rules on disk. All methods are safe for concurrent use
// within one process; multi-process writers need external coordination.
type Repository struct {
	cfg config.RepositoryConfig
	log *zap.Logger
	now func() time.Time

	mu    sync.Mutex
	index map[string]*IndexEntry
}

// New prepares the directory layout and loads the index.
func New(cfg config.RepositoryConfig, logger *zap.Logger) (*Repository, error) {
	r := &Repository{
		cfg:   cfg,
		log:   logger.Named("repository"),
		now:   time.Now,
		index: make(map[string]*IndexEntry),
	}
	for _, dir := range []string{cfg.RulesPath, r.activeDir(), r.archiveDir(), r.backupsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errorf(err, "failed to create repository directory %s", dir)
		}
	}
	if err := r.loadIndex(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetClock overrides the repository clock. Test hook.
func (r *Repository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Repository) activeDir() string  { return filepath.Join(r.cfg.RulesPath, "active") }
func (r *Repository) archiveDir() string { return filepath.Join(r.cfg.RulesPath, "archive") }
func (r *Repository) backupsDir() string { return filepath.Join(r.cfg.RulesPath, "backups") }
func (r *Repository) indexPath() string  { return filepath.Join(r.cfg.RulesPath, indexFileName) }

func (r *Repository) ruleFileName(id string, version int) string {
	return fmt.Sprintf("%s_v%d.json", id, version)
}

func (r *Repository) nowISO() string {
	return r.now().UTC().Format(time.RFC3339)
}

// AddRule stores a brand-new rule at version 1. An id is assigned when the
// rule has none; a rule whose id is already indexed is rejected (update it
// instead). When activate is false the rule starts as a draft.
func (r *Repository) AddRule(rule schemas.RuleDict, activate bool) (schemas.RuleDict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := schemas.RuleID(rule)
	if id == "" {
		id = fmt.Sprintf("rule_%d", r.now().UTC().UnixMilli())
		rule["id"] = id
	}
	if _, exists := r.index[id]; exists {
		return nil, errorf(nil, "rule %q already exists, use UpdateRule to modify it", id)
	}
	if r.cfg.ValidateRules {
		if err := schemas.ValidateRuleDict(rule); err != nil {
			return nil, errorf(err, "rule %q failed validation", id)
		}
	}
	if err := r.createBackupLocked(); err != nil {
		return nil, err
	}

	status := schemas.StatusActive
	if !activate {
		status = schemas.StatusDraft
	}
	ts := r.nowISO()
	meta := schemas.RuleMetadataDict(rule)
	meta["created_at"] = ts
	meta["updated_at"] = ts
	meta["version"] = 1
	meta["status"] = string(status)

	entry := &IndexEntry{
		ID:            id,
		Type:          stringValue(rule["type"]),
		LatestVersion: 1,
		Status:        string(status),
		CreatedAt:     ts,
		UpdatedAt:     ts,
		Versions: map[string]VersionInfo{
			"1": {CreatedAt: ts, Status: string(status)},
		},
	}

	if err := r.writeRuleFile(rule, id, 1, false); err != nil {
		return nil, err
	}
	r.index[id] = entry
	if err := r.saveIndexLocked(); err != nil {
		return nil, err
	}
	r.log.Info("Rule added", zap.String("rule_id", id), zap.String("status", string(status)))
	return rule, nil
}

// UpdateRule stores a new version of an existing rule, or rewrites the
// current version in place when createNewVersion is false.
func (r *Repository) UpdateRule(rule schemas.RuleDict, createNewVersion bool) (schemas.RuleDict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateRuleLocked(rule, createNewVersion)
}

func (r *Repository) updateRuleLocked(rule schemas.RuleDict, createNewVersion bool) (schemas.RuleDict, error) {
	id := schemas.RuleID(rule)
	entry, exists := r.index[id]
	if !exists {
		return nil, errorf(nil, "rule %q not found, use AddRule to create it", id)
	}
	if r.cfg.ValidateRules {
		if err := schemas.ValidateRuleDict(rule); err != nil {
			return nil, errorf(err, "rule %q failed validation", id)
		}
	}
	if err := r.createBackupLocked(); err != nil {
		return nil, err
	}

	version := entry.LatestVersion
	if createNewVersion {
		version = entry.LatestVersion + 1
	}

	ts := r.nowISO()
	meta := schemas.RuleMetadataDict(rule)
	if createNewVersion {
		// The original creation time survives version bumps.
		meta["created_at"] = entry.CreatedAt
		meta["previous_version"] = entry.LatestVersion
	}
	meta["updated_at"] = ts
	meta["version"] = version
	status := stringValue(meta["status"])
	if status == "" {
		status = entry.Status
		meta["status"] = status
	}

	archived := entry.Status == string(schemas.StatusArchived)
	if err := r.writeRuleFile(rule, id, version, archived); err != nil {
		return nil, err
	}

	entry.LatestVersion = version
	entry.UpdatedAt = ts
	entry.Status = status
	verKey := strconv.Itoa(version)
	info := VersionInfo{CreatedAt: ts, Status: status}
	if !createNewVersion {
		// An in-place update keeps the version's original creation time.
		if prev, ok := entry.Versions[verKey]; ok {
			info.CreatedAt = prev.CreatedAt
		}
	}
	entry.Versions[verKey] = info
	if err := r.saveIndexLocked(); err != nil {
		return nil, err
	}
	r.log.Info("Rule updated",
		zap.String("rule_id", id),
		zap.Int("version", version),
		zap.Bool("new_version", createNewVersion))
	return rule, nil
}

// GetRule loads a rule body. Version 0 means latest.
func (r *Repository) GetRule(id string, version int) (schemas.RuleDict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getRuleLocked(id, version)
}

func (r *Repository) getRuleLocked(id string, version int) (schemas.RuleDict, error) {
	entry, exists := r.index[id]
	if !exists {
		return nil, errorf(nil, "rule %q not found", id)
	}
	if version == 0 {
		version = entry.LatestVersion
	}
	if version < 1 || version > entry.LatestVersion {
		return nil, errorf(nil, "rule %q has no version %d (latest is %d)", id, version, entry.LatestVersion)
	}
	rule, err := r.readRuleFile(id, version)
	if err != nil {
		return nil, err
	}
	if r.cfg.TrackRuleUsage {
		// Access-tracking extension point; only a debug trace for now.
		r.log.Debug("Rule accessed", zap.String("rule_id", id), zap.Int("version", version))
	}
	return rule, nil
}

// DeleteRule archives a rule (soft delete, reversible) or permanently removes
// every version and the index entry (hard delete).
func (r *Repository) DeleteRule(id string, hardDelete bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.index[id]
	if !exists {
		return false, errorf(nil, "rule %q not found", id)
	}
	if err := r.createBackupLocked(); err != nil {
		return false, err
	}

	if hardDelete {
		for v := 1; v <= entry.LatestVersion; v++ {
			name := r.ruleFileName(id, v)
			for _, dir := range []string{r.activeDir(), r.archiveDir()} {
				if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
					return false, errorf(err, "failed to remove rule file %s", name)
				}
			}
		}
		delete(r.index, id)
		if err := r.saveIndexLocked(); err != nil {
			return false, err
		}
		r.log.Info("Rule hard-deleted", zap.String("rule_id", id))
		return true, nil
	}

	// Soft delete: restamp the latest version as archived, then move every
	// version's file out of the active directory.
	latest, err := r.readRuleFile(id, entry.LatestVersion)
	if err != nil {
		return false, err
	}
	ts := r.nowISO()
	meta := schemas.RuleMetadataDict(latest)
	meta["status"] = string(schemas.StatusArchived)
	meta["updated_at"] = ts
	if err := r.writeRuleFile(latest, id, entry.LatestVersion, false); err != nil {
		return false, err
	}

	for v := 1; v <= entry.LatestVersion; v++ {
		name := r.ruleFileName(id, v)
		src := filepath.Join(r.activeDir(), name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(src, filepath.Join(r.archiveDir(), name)); err != nil {
			return false, errorf(err, "failed to archive rule file %s", name)
		}
	}

	entry.Status = string(schemas.StatusArchived)
	entry.UpdatedAt = ts
	if info, ok := entry.Versions[strconv.Itoa(entry.LatestVersion)]; ok {
		info.Status = string(schemas.StatusArchived)
		entry.Versions[strconv.Itoa(entry.LatestVersion)] = info
	}
	if err := r.saveIndexLocked(); err != nil {
		return false, err
	}
	r.log.Info("Rule archived", zap.String("rule_id", id))
	return true, nil
}

// ChangeRuleStatus moves a rule through its lifecycle. Archiving delegates to
// the soft-delete path; every other transition is an in-place restamp of the
// latest version, no version bump.
func (r *Repository) ChangeRuleStatus(id string, status schemas.RuleStatus) error {
	if !status.IsValid() {
		return errorf(nil, "invalid rule status %q", status)
	}
	if status == schemas.StatusArchived {
		_, err := r.DeleteRule(id, false)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rule, err := r.getRuleLocked(id, 0)
	if err != nil {
		return err
	}
	meta := schemas.RuleMetadataDict(rule)
	meta["status"] = string(status)
	meta["status_changed_at"] = r.nowISO()
	_, err = r.updateRuleLocked(rule, false)
	return err
}

func (r *Repository) writeRuleFile(rule schemas.RuleDict, id string, version int, archived bool) error {
	dir := r.activeDir()
	if archived {
		dir = r.archiveDir()
	}
	data, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		return errorf(err, "failed to encode rule %q", id)
	}
	path := filepath.Join(dir, r.ruleFileName(id, version))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errorf(err, "failed to write rule file %s", path)
	}
	return nil
}

// readRuleFile tries the active directory first, then the archive.
func (r *Repository) readRuleFile(id string, version int) (schemas.RuleDict, error) {
	name := r.ruleFileName(id, version)
	var lastErr error
	for _, dir := range []string{r.activeDir(), r.archiveDir()} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}
		var rule schemas.RuleDict
		if err := json.Unmarshal(data, &rule); err != nil {
			return nil, errorf(err, "failed to decode rule file %s", name)
		}
		return rule, nil
	}
	return nil, errorf(lastErr, "rule file %s not found", name)
}

func (r *Repository) loadIndex() error {
	data, err := os.ReadFile(r.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errorf(err, "failed to read rule index")
	}
	index := make(map[string]*IndexEntry)
	if err := json.Unmarshal(data, &index); err != nil {
		return errorf(err, "failed to decode rule index")
	}
	for _, entry := range index {
		if entry.Versions == nil {
			entry.Versions = make(map[string]VersionInfo)
		}
	}
	r.index = index
	return nil
}

func (r *Repository) saveIndexLocked() error {
	data, err := json.MarshalIndent(r.index, "", "  ")
	if err != nil {
		return errorf(err, "failed to encode rule index")
	}
	if err := os.WriteFile(r.indexPath(), data, 0o644); err != nil {
		return errorf(err, "failed to write rule index")
	}
	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
