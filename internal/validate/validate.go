// Package validate compares live file state against the loaded baseline.
package validate

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/avekseev/fileguard/internal/digest"
	"github.com/avekseev/fileguard/internal/model"
)

// Validator holds one baseline's hash map for the life of a monitoring
// session. SetBaseline swaps the map wholesale; reads never see a partial
// update.
type Validator struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// New returns an empty Validator. Every path validates as not_monitored
// until SetBaseline is called.
func New() *Validator {
	return &Validator{hashes: map[string]string{}}
}

// SetBaseline replaces the in-memory hash map.
func (v *Validator) SetBaseline(hashes map[string]string) {
	next := make(map[string]string, len(hashes))
	for k, h := range hashes {
		next[k] = h
	}
	v.mu.Lock()
	v.hashes = next
	v.mu.Unlock()
}

// File validates a single path against the baseline. Paths outside the
// baseline are never flagged, whatever their content.
func (v *Validator) File(path string) model.Verdict {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	v.mu.RLock()
	expected, monitored := v.hashes[path]
	v.mu.RUnlock()

	if !monitored {
		return model.Verdict{Valid: true, Path: path, Reason: model.ReasonNotMonitored}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return model.Verdict{
			Valid:        false,
			Path:         path,
			Reason:       model.ReasonHashMissing,
			ExpectedHash: expected,
		}
	}

	actual, err := digest.File(path)
	if err != nil {
		// Unreadable counts as missing: the agent cannot prove integrity.
		return model.Verdict{
			Valid:        false,
			Path:         path,
			Reason:       model.ReasonHashMissing,
			ExpectedHash: expected,
		}
	}

	if actual != expected {
		return model.Verdict{
			Valid:        false,
			Path:         path,
			Reason:       model.ReasonHashMismatch,
			ExpectedHash: expected,
			ActualHash:   actual,
		}
	}
	return model.Verdict{Valid: true, Path: path, Reason: model.ReasonHashMatch, ExpectedHash: expected, ActualHash: actual}
}

// Many validates the given paths and returns only the invalid verdicts.
func (v *Validator) Many(paths []string) []model.Verdict {
	var bad []model.Verdict
	for _, p := range paths {
		if verdict := v.File(p); !verdict.Valid {
			bad = append(bad, verdict)
		}
	}
	return bad
}

// All validates every path in the baseline and returns only the invalid
// verdicts. Used for the startup sweep and periodic rescans.
func (v *Validator) All() []model.Verdict {
	v.mu.RLock()
	paths := make([]string, 0, len(v.hashes))
	for p := range v.hashes {
		paths = append(paths, p)
	}
	v.mu.RUnlock()
	return v.Many(paths)
}
