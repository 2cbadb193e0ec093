package protect

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Quarantine copies a tampered file into the quarantine store as timestamped
// evidence and returns the evidence path. When the file is already gone a
// placeholder record is written instead: an incident must never lose its
// evidence slot for lack of live content.
func (p *Protector) Quarantine(path, hashHint string) (string, error) {
	base := filepath.Base(path)
	captured := epochMillis(time.Now())

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("protect: stat %s: %w", path, err)
		}
		dest := filepath.Join(p.quarantineDir, fmt.Sprintf("%s.%d.missing", base, captured))
		note := fmt.Sprintf("file missing at quarantine time\noriginal: %s\nlast known hash: %s\ncaptured: %s\n",
			path, hashHint, time.Now().UTC().Format(time.RFC3339))
		if err := os.WriteFile(dest, []byte(note), 0400); err != nil {
			return "", fmt.Errorf("protect: write placeholder: %w", err)
		}
		p.log.Warn("quarantined placeholder for missing file", "path", path, "evidence", dest)
		return dest, nil
	}

	dest := filepath.Join(p.quarantineDir, fmt.Sprintf("%s.%d.evidence", base, captured))
	if err := copyFile(path, dest); err != nil {
		return "", fmt.Errorf("protect: quarantine %s: %w", path, err)
	}

	// Evidence is write-once.
	if err := os.Chmod(dest, 0400); err != nil {
		p.log.Warn("could not mark evidence read-only", "evidence", dest, "error", err)
	}

	p.log.Info("file quarantined", "path", path, "evidence", dest)
	return dest, nil
}
