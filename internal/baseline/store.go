// Package baseline persists the signed hash inventory the agent enforces.
// The signature is an HMAC-SHA256 over a canonical serialization of the hash
// map, so it is independent of map iteration order and any verifier holding
// the secret can recompute it.
package baseline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/avekseev/fileguard/internal/config"
)

// Version is the on-disk baseline format version.
const Version = 1

// ErrInvalid is the uniform failure for a baseline that cannot be trusted:
// structural damage and signature mismatch surface identically so an
// attacker learns nothing from the error.
var ErrInvalid = errors.New("baseline: baseline invalid")

// Baseline is the signed snapshot of expected file hashes. Immutable once
// written; regeneration replaces it wholesale.
type Baseline struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	Version     int               `json:"version"`
	FileCount   int               `json:"fileCount"`
	Hashes      map[string]string `json:"hashes"`
	Signature   string            `json:"signature"`
}

// Store signs, persists, loads, and verifies baselines at a fixed path.
type Store struct {
	path   string
	secret []byte
}

// NewStore creates a Store. An absent or empty secret is a fatal
// configuration error: the store fails closed rather than signing with
// nothing.
func NewStore(path, secret string) (*Store, error) {
	if secret == "" {
		return nil, config.ErrMissingSecret
	}
	return &Store{path: path, secret: []byte(secret)}, nil
}

// Path returns the fixed baseline location.
func (s *Store) Path() string {
	return s.path
}

// Canonicalize serializes the hash map with keys in lexicographic order.
// Two maps with equal contents always canonicalize to identical bytes.
func Canonicalize(hashes map[string]string) []byte {
	keys := make([]string, 0, len(hashes))
	for k := range hashes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(hashes[k])
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}')
}

// Sign returns the hex HMAC-SHA256 of the canonical hash map.
func (s *Store) Sign(hashes map[string]string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(Canonicalize(hashes))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a baseline structurally, then cryptographically. Any
// failure surfaces as ErrInvalid.
func (s *Store) Verify(b *Baseline) error {
	if b == nil || b.Hashes == nil || b.Signature == "" {
		return ErrInvalid
	}

	want, err := hex.DecodeString(b.Signature)
	if err != nil {
		return ErrInvalid
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(Canonicalize(b.Hashes))
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalid
	}
	return nil
}

// Save wraps the hash map with metadata, signs it, and persists it
// atomically (temp file + rename), creating parent directories as needed.
func (s *Store) Save(hashes map[string]string) (*Baseline, error) {
	b := &Baseline{
		GeneratedAt: time.Now().UTC(),
		Version:     Version,
		FileCount:   len(hashes),
		Hashes:      hashes,
		Signature:   s.Sign(hashes),
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("baseline: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("baseline: create directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return nil, fmt.Errorf("baseline: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return nil, fmt.Errorf("baseline: commit: %w", err)
	}
	return b, nil
}

// Load reads, parses, and verifies the persisted baseline. Every failure
// mode after a successful read collapses into ErrInvalid.
func (s *Store) Load() (*Baseline, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("baseline: read %s: %w", s.path, err)
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, ErrInvalid
	}
	if err := s.Verify(&b); err != nil {
		return nil, err
	}
	return &b, nil
}
