package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/config"
	"github.com/avekseev/fileguard/internal/digest"
	"github.com/avekseev/fileguard/internal/inventory"
	"github.com/avekseev/fileguard/internal/model"
	"github.com/avekseev/fileguard/internal/validate"
)

type call struct {
	verdict model.Verdict
	tier    model.Tier
	source  string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) HandleVerdict(v model.Verdict, tier model.Tier, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{v, tier, source})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() (call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return call{}, false
	}
	return r.calls[len(r.calls)-1], true
}

func testOptions() Options {
	return Options{
		Debounce:        100 * time.Millisecond,
		StabilityWindow: 60 * time.Millisecond,
		StabilityPoll:   20 * time.Millisecond,
	}
}

// newWatched sets up one protected file with the given tier and content,
// already registered in a running watcher.
func newWatched(t *testing.T, tier model.Tier, content string) (string, *recorder, *Watcher) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "guarded.go")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	log := hclog.NewNullLogger()
	set, err := inventory.Resolve(map[model.Tier][]config.Source{
		tier: {{Path: path}},
	}, log)
	if err != nil {
		t.Fatal(err)
	}

	v := validate.New()
	v.SetBaseline(map[string]string{path: digest.Bytes([]byte(content))})

	rec := &recorder{}
	w := New(set, v, rec, testOptions(), log)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, rec, w
}

func waitForCalls(t *testing.T, rec *recorder, want int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for rec.count() < want {
		select {
		case <-deadline:
			t.Fatalf("timed out: %d calls, want %d", rec.count(), want)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestChangeTriggersValidation(t *testing.T) {
	path, rec, _ := newWatched(t, model.TierMedium, "x")

	if err := os.WriteFile(path, []byte("y"), 0600); err != nil {
		t.Fatal(err)
	}

	waitForCalls(t, rec, 1)
	got, _ := rec.last()
	if got.verdict.Reason != model.ReasonHashMismatch {
		t.Errorf("reason = %s, want hash_mismatch", got.verdict.Reason)
	}
	if got.tier != model.TierMedium || got.source != "watcher" {
		t.Errorf("call = %+v, want medium/watcher", got)
	}
	if got.verdict.ActualHash != digest.Bytes([]byte("y")) {
		t.Error("actual hash should reflect the new content")
	}
}

func TestDeleteTriggersMissingVerdict(t *testing.T) {
	path, rec, _ := newWatched(t, model.TierHigh, "x")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	waitForCalls(t, rec, 1)
	got, _ := rec.last()
	if got.verdict.Reason != model.ReasonHashMissing {
		t.Errorf("reason = %s, want hash_missing", got.verdict.Reason)
	}
}

func TestRapidEventsCollapseToOneValidation(t *testing.T) {
	path, rec, _ := newWatched(t, model.TierMedium, "x")

	// A burst of writes inside the debounce window.
	for i := 0; i < 6; i++ {
		if err := os.WriteFile(path, []byte("y"), 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitForCalls(t, rec, 1)
	// Allow any stragglers to surface before asserting the count.
	time.Sleep(600 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("validations = %d, want exactly 1 for a burst", n)
	}
}

func TestUnchangedContentStaysQuiet(t *testing.T) {
	path, rec, _ := newWatched(t, model.TierMedium, "x")

	// Touch the file without changing content.
	if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(800 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("validations forwarded = %d, want 0 for matching content", n)
	}
}

func TestStartOnEmptySetIsNoOp(t *testing.T) {
	log := hclog.NewNullLogger()
	set, err := inventory.Resolve(map[model.Tier][]config.Source{}, log)
	if err != nil {
		t.Fatal(err)
	}
	w := New(set, validate.New(), &recorder{}, testOptions(), log)
	if err := w.Start(); err != nil {
		t.Errorf("Start on empty set: %v", err)
	}
	w.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	set := &inventory.Set{Tiers: map[string]model.Tier{}}
	w := New(set, validate.New(), &recorder{}, testOptions(), hclog.NewNullLogger())
	w.Stop()
	w.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	_, _, w := newWatched(t, model.TierMedium, "x")
	w.Stop()
	w.Stop()
}
