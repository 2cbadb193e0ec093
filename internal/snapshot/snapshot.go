// Package snapshot builds a fresh signed baseline from the live protected
// set. Generation requires a known-good state: a protected file that is
// already missing here is a hard failure, unlike the soft "missing" verdict
// the validator produces at runtime.
package snapshot

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/baseline"
	"github.com/avekseev/fileguard/internal/digest"
	"github.com/avekseev/fileguard/internal/model"
	"github.com/avekseev/fileguard/internal/protect"
)

// ErrFileMissing means a protected file was absent during generation.
var ErrFileMissing = errors.New("snapshot: protected file missing")

// Summary describes a completed snapshot run.
type Summary struct {
	FileCount int
	Path      string
	Signature string
}

// Generator hashes the protected set, takes backups, and commits the
// signed baseline.
type Generator struct {
	store      *baseline.Store
	protector  *protect.Protector
	backupKeep int
	log        hclog.Logger
}

// New creates a Generator. backupKeep is forwarded to the protector's
// retention pruning after each successful run; 0 keeps everything.
func New(store *baseline.Store, protector *protect.Protector, backupKeep int, log hclog.Logger) *Generator {
	return &Generator{store: store, protector: protector, backupKeep: backupKeep, log: log}
}

// GenerateHashes digests every protected entry and, for tiers that are
// backed up, captures a backup copy alongside.
func (g *Generator) GenerateHashes(entries []model.ProtectedFile) (map[string]string, error) {
	hashes := make(map[string]string, len(entries))
	for _, entry := range entries {
		if _, err := os.Stat(entry.Path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrFileMissing, entry.Path)
			}
			return nil, fmt.Errorf("snapshot: stat %s: %w", entry.Path, err)
		}

		hash, err := digest.File(entry.Path)
		if err != nil {
			return nil, fmt.Errorf("snapshot: hash %s: %w", entry.Path, err)
		}
		hashes[entry.Path] = hash

		if entry.Tier.BackedUp() {
			if _, err := g.protector.CreateBackup(entry.Path); err != nil {
				return nil, fmt.Errorf("snapshot: backup %s: %w", entry.Path, err)
			}
		}
	}
	return hashes, nil
}

// Run generates hashes and backups for the protected set, persists a
// freshly signed baseline, and prunes backup history per retention policy.
func (g *Generator) Run(entries []model.ProtectedFile) (Summary, error) {
	hashes, err := g.GenerateHashes(entries)
	if err != nil {
		return Summary{}, err
	}

	b, err := g.store.Save(hashes)
	if err != nil {
		return Summary{}, err
	}

	if err := g.protector.Prune(g.backupKeep); err != nil {
		g.log.Warn("backup pruning failed", "error", err)
	}

	g.log.Info("baseline generated",
		"files", b.FileCount, "path", g.store.Path(), "signature", shortSig(b.Signature))
	return Summary{FileCount: b.FileCount, Path: g.store.Path(), Signature: b.Signature}, nil
}

func shortSig(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:8] + "..." + sig[len(sig)-8:]
}
