// File: internal/repository/backup.go
package repository

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// CreateBackup snapshots the active directory and the index into a
// timestamped subdirectory, then drops the oldest backups beyond the
// configured retention count.
func (r *Repository) CreateBackup() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// createBackupLocked is the pre-mutation hook; it honors the backup_rules
// setting, CreateBackup does not.
func (r *Repository) createBackupLocked() error {
	if !r.cfg.BackupRules {
		return nil
	}
	_, err := r.snapshotLocked()
	return err
}

func (r *Repository) snapshotLocked() (string, error) {
	name := "backup_" + r.now().UTC().Format("20060102_150405")
	dir := filepath.Join(r.backupsDir(), name)
	if err := os.MkdirAll(filepath.Join(dir, "active"), 0o755); err != nil {
		return "", errorf(err, "failed to create backup directory %s", name)
	}

	if err := copyDirFiles(r.activeDir(), filepath.Join(dir, "active")); err != nil {
		return "", errorf(err, "failed to back up active rules")
	}
	if _, err := os.Stat(r.indexPath()); err == nil {
		if err := copyFile(r.indexPath(), filepath.Join(dir, indexFileName)); err != nil {
			return "", errorf(err, "failed to back up rule index")
		}
	}

	if err := r.rotateBackupsLocked(); err != nil {
		return "", err
	}
	r.log.Debug("Backup created", zap.String("backup", name))
	return name, nil
}

// Backup names embed a timestamp, so lexicographic order is age order.
func (r *Repository) rotateBackupsLocked() error {
	names, err := r.backupNamesLocked()
	if err != nil {
		return err
	}
	for len(names) > r.cfg.MaxRuleBackups {
		oldest := names[0]
		if err := os.RemoveAll(filepath.Join(r.backupsDir(), oldest)); err != nil {
			return errorf(err, "failed to rotate backup %s", oldest)
		}
		r.log.Debug("Backup rotated out", zap.String("backup", oldest))
		names = names[1:]
	}
	return nil
}

// ListBackups returns backup names, oldest first.
func (r *Repository) ListBackups() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backupNamesLocked()
}

func (r *Repository) backupNamesLocked() ([]string, error) {
	entries, err := os.ReadDir(r.backupsDir())
	if err != nil {
		return nil, errorf(err, "failed to list backups")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// RestoreBackup replaces the active directory and index with a backup's
// contents. The current state is snapshotted first, so a restore is itself
// undoable.
func (r *Repository) RestoreBackup(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := filepath.Join(r.backupsDir(), name)
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return errorf(err, "backup %q not found", name)
	}
	if _, err := r.snapshotLocked(); err != nil {
		return err
	}

	if err := os.RemoveAll(r.activeDir()); err != nil {
		return errorf(err, "failed to clear active rules")
	}
	if err := os.MkdirAll(r.activeDir(), 0o755); err != nil {
		return errorf(err, "failed to recreate active directory")
	}
	if err := copyDirFiles(filepath.Join(src, "active"), r.activeDir()); err != nil {
		return errorf(err, "failed to restore active rules")
	}

	backupIndex := filepath.Join(src, indexFileName)
	if _, err := os.Stat(backupIndex); err == nil {
		if err := copyFile(backupIndex, r.indexPath()); err != nil {
			return errorf(err, "failed to restore rule index")
		}
	} else if err := os.Remove(r.indexPath()); err != nil && !os.IsNotExist(err) {
		return errorf(err, "failed to reset rule index")
	}

	r.index = make(map[string]*IndexEntry)
	if err := r.loadIndex(); err != nil {
		return err
	}
	r.log.Info("Backup restored", zap.String("backup", name))
	return nil
}

func copyDirFiles(src, dst string) error {
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", dst, err)
	}
	return nil
}
