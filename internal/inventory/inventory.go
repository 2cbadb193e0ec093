// Package inventory resolves the tier policy table into the concrete set of
// monitored files. Tiers are evaluated critical first; the first tier to
// claim a path wins, so an overlap always resolves to the highest severity.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/config"
	"github.com/avekseev/fileguard/internal/model"
)

// Set is the resolved protected set: an ordered entry list plus a
// path-to-tier lookup. Both views hold the same normalized absolute paths.
type Set struct {
	Entries []model.ProtectedFile
	Tiers   map[string]model.Tier
}

// Len returns the number of protected files.
func (s *Set) Len() int {
	return len(s.Entries)
}

// TierOf returns the tier assigned to a normalized path, or false when the
// path is not protected.
func (s *Set) TierOf(path string) (model.Tier, bool) {
	t, ok := s.Tiers[path]
	return t, ok
}

// Paths returns the protected paths in entry order.
func (s *Set) Paths() []string {
	out := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.Path
	}
	return out
}

// Resolve walks the policy table in fixed tier order and builds the
// protected set. Missing source paths are logged and skipped: the monitoring
// scope degrades rather than failing the whole build.
func Resolve(policy map[model.Tier][]config.Source, log hclog.Logger) (*Set, error) {
	set := &Set{Tiers: make(map[string]model.Tier)}

	for _, tier := range model.TierOrder {
		for _, src := range policy[tier] {
			abs, err := filepath.Abs(src.Path)
			if err != nil {
				return nil, fmt.Errorf("inventory: normalize %s: %w", src.Path, err)
			}

			info, err := os.Stat(abs)
			if err != nil {
				if os.IsNotExist(err) {
					log.Warn("protected source missing, skipping", "path", abs, "tier", tier)
					continue
				}
				return nil, fmt.Errorf("inventory: stat %s: %w", abs, err)
			}

			if info.IsDir() {
				if err := collectDir(set, abs, tier, src.Recurse, src.Extensions); err != nil {
					return nil, err
				}
				continue
			}
			claim(set, abs, tier, src.Extensions)
		}
	}
	return set, nil
}

// collectDir lists a directory's immediate children, descending into
// subdirectories only when recurse is set.
func collectDir(set *Set, dir string, tier model.Tier, recurse bool, exts []string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("inventory: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		child := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if recurse {
				if err := collectDir(set, child, tier, recurse, exts); err != nil {
					return err
				}
			}
			continue
		}
		claim(set, child, tier, exts)
	}
	return nil
}

// claim records a file for a tier unless a higher-priority tier already
// claimed it or its extension is excluded.
func claim(set *Set, path string, tier model.Tier, exts []string) {
	if !extensionAllowed(path, exts) {
		return
	}
	if _, taken := set.Tiers[path]; taken {
		return
	}
	set.Tiers[path] = tier
	set.Entries = append(set.Entries, model.ProtectedFile{Path: path, Tier: tier})
}

// extensionAllowed applies the source's extension filter. An empty filter
// accepts any extension.
func extensionAllowed(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range exts {
		if !strings.HasPrefix(allowed, ".") {
			allowed = "." + allowed
		}
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}
