// Package ledger is the append-only forensic record of tamper incidents:
// one JSONL file per UTC day, each line SHA-256 hash-chained to the
// previous one so after-the-fact edits are detectable.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avekseev/fileguard/internal/model"
)

// GenesisHash is the prev_hash of the first entry in each day's file.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// timeFormat matches the timestamp format used across the agent's records.
const timeFormat = "2006-01-02T15:04:05.000Z"

// Ledger appends incidents to date-partitioned, hash-chained JSONL files.
type Ledger struct {
	dir      string
	mu       sync.Mutex
	day      string
	file     *os.File
	prevHash string
}

// Open prepares a ledger rooted at dir, creating it if needed. The day file
// itself is opened lazily on first append.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}
	return &Ledger{dir: dir}, nil
}

// FilePath returns the ledger file for a given UTC day.
func (l *Ledger) FilePath(day string) string {
	return filepath.Join(l.dir, "tamper-"+day+".jsonl")
}

// Append writes one incident record. It assigns the ID, timestamp, and
// prev_hash, then writes and syncs the line. The record for an incident is
// written before any other side effect of handling it, so callers must not
// reorder this behind restore or alerting.
func (l *Ledger) Append(inc model.Incident) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Timestamp == "" {
		inc.Timestamp = now.Format(timeFormat)
	}

	day := now.Format("2006-01-02")
	if err := l.rotate(day); err != nil {
		return err
	}
	inc.PrevHash = l.prevHash

	line, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("ledger: marshal incident: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("ledger: write incident: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// rotate points the ledger at the file for day, recovering the chain tail
// from any existing content.
func (l *Ledger) rotate(day string) error {
	if l.file != nil && l.day == day {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	path := l.FilePath(day)
	prevHash := GenesisHash

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		tail, err := lastLine(path)
		if err != nil {
			return err
		}
		if len(tail) > 0 {
			prevHash = HashLine(tail)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("ledger: open %s: %w", path, err)
	}

	l.file = file
	l.day = day
	l.prevHash = prevHash
	return nil
}

// Close flushes and closes the current day file. Safe to call twice.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: read existing file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var last []byte
	for scanner.Scan() {
		last = make([]byte, len(scanner.Bytes()))
		copy(last, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan existing file: %w", err)
	}
	return last, nil
}
