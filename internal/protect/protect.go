// Package protect manages the agent's recovery and forensic artifacts:
// timestamped backup copies of high-value files, an indexed manifest so
// "latest backup" never depends on filename parsing, and write-once
// quarantine evidence for tampered files.
package protect

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNoBackup means no backup exists for the requested path.
	ErrNoBackup = errors.New("protect: no backup available")
	// ErrRestoreMismatch means the restored content still does not hash to
	// the expected value — the backup predates nothing, or is corrupt.
	ErrRestoreMismatch = errors.New("protect: restored content does not match expected hash")
)

// Protector owns the backup and quarantine stores.
type Protector struct {
	backupDir     string
	quarantineDir string
	log           hclog.Logger

	mu sync.Mutex // guards manifest read-modify-write
}

// New creates a Protector, creating both store directories.
func New(backupDir, quarantineDir string, log hclog.Logger) (*Protector, error) {
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return nil, fmt.Errorf("protect: create backup dir: %w", err)
	}
	if err := os.MkdirAll(quarantineDir, 0700); err != nil {
		return nil, fmt.Errorf("protect: create quarantine dir: %w", err)
	}
	return &Protector{backupDir: backupDir, quarantineDir: quarantineDir, log: log}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func epochMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
