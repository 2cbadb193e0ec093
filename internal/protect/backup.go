package protect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/avekseev/fileguard/internal/digest"
)

// manifestName is the backup index file inside the backup directory.
const manifestName = "manifest.json"

// BackupEntry records one backup copy in the manifest.
type BackupEntry struct {
	OriginalPath string `json:"originalPath"`
	BaseName     string `json:"baseName"`
	CapturedAt   int64  `json:"capturedAt"` // epoch millis
	File         string `json:"file"`       // relative to the backup dir
	SHA256       string `json:"sha256"`
}

type manifest struct {
	Entries []BackupEntry `json:"entries"`
}

func (p *Protector) loadManifest() (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(p.backupDir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return &manifest{}, nil
		}
		return nil, fmt.Errorf("protect: read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protect: parse manifest: %w", err)
	}
	return &m, nil
}

func (p *Protector) saveManifest(m *manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("protect: marshal manifest: %w", err)
	}
	path := filepath.Join(p.backupDir, manifestName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("protect: write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("protect: commit manifest: %w", err)
	}
	return nil
}

// CreateBackup copies the file's current bytes into the backup store and
// records the copy in the manifest. Multiple backups per file coexist.
func (p *Protector) CreateBackup(path string) (BackupEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash, err := digest.File(path)
	if err != nil {
		return BackupEntry{}, fmt.Errorf("protect: hash %s: %w", path, err)
	}

	base := filepath.Base(path)
	captured := epochMillis(time.Now())
	name := fmt.Sprintf("%s.%d.backup", base, captured)
	if err := copyFile(path, filepath.Join(p.backupDir, name)); err != nil {
		return BackupEntry{}, fmt.Errorf("protect: copy %s: %w", path, err)
	}

	entry := BackupEntry{
		OriginalPath: path,
		BaseName:     base,
		CapturedAt:   captured,
		File:         name,
		SHA256:       hash,
	}

	m, err := p.loadManifest()
	if err != nil {
		return BackupEntry{}, err
	}
	m.Entries = append(m.Entries, entry)
	if err := p.saveManifest(m); err != nil {
		return BackupEntry{}, err
	}

	p.log.Debug("backup created", "path", path, "file", name)
	return entry, nil
}

// LatestBackup returns the newest backup for the original path, consulting
// the manifest rather than parsing filenames.
func (p *Protector) LatestBackup(path string) (BackupEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latestLocked(path)
}

func (p *Protector) latestLocked(path string) (BackupEntry, bool) {
	m, err := p.loadManifest()
	if err != nil {
		p.log.Warn("backup manifest unreadable", "error", err)
		return BackupEntry{}, false
	}

	var best BackupEntry
	found := false
	for _, e := range m.Entries {
		if e.OriginalPath != path {
			continue
		}
		if !found || e.CapturedAt > best.CapturedAt {
			best = e
			found = true
		}
	}
	return best, found
}

// Restore overwrites the live file with the latest backup. When
// expectedHash is non-empty the result is re-hashed; a lingering mismatch
// returns ErrRestoreMismatch so the caller never trusts a restore from a
// backup captured after the compromise.
func (p *Protector) Restore(path, expectedHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.latestLocked(path)
	if !ok {
		return ErrNoBackup
	}

	src := filepath.Join(p.backupDir, entry.File)
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("protect: read backup %s: %w", entry.File, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("protect: restore %s: %w", path, err)
	}

	if expectedHash != "" {
		actual, err := digest.File(path)
		if err != nil {
			return fmt.Errorf("protect: verify restore of %s: %w", path, err)
		}
		if actual != expectedHash {
			return ErrRestoreMismatch
		}
	}

	p.log.Info("file restored from backup", "path", path, "backup", entry.File)
	return nil
}

// Prune keeps the newest keep backups per original path and deletes the
// rest. keep <= 0 disables pruning.
func (p *Protector) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	m, err := p.loadManifest()
	if err != nil {
		return err
	}

	byPath := make(map[string][]BackupEntry)
	for _, e := range m.Entries {
		byPath[e.OriginalPath] = append(byPath[e.OriginalPath], e)
	}

	var kept []BackupEntry
	for _, entries := range byPath {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CapturedAt > entries[j].CapturedAt
		})
		for i, e := range entries {
			if i < keep {
				kept = append(kept, e)
				continue
			}
			if err := os.Remove(filepath.Join(p.backupDir, e.File)); err != nil && !os.IsNotExist(err) {
				p.log.Warn("prune failed", "file", e.File, "error", err)
				kept = append(kept, e)
			}
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].CapturedAt < kept[j].CapturedAt })
	m.Entries = kept
	return p.saveManifest(m)
}
