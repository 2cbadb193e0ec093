package response

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/alert"
	"github.com/avekseev/fileguard/internal/digest"
	"github.com/avekseev/fileguard/internal/ledger"
	"github.com/avekseev/fileguard/internal/model"
	"github.com/avekseev/fileguard/internal/protect"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		tier  model.Tier
		force bool
		want  model.Action
	}{
		{model.TierMedium, false, model.ActionAlert},
		{model.TierHigh, false, model.ActionAutoRevert},
		{model.TierCritical, false, model.ActionShutdown},
		{model.TierMedium, true, model.ActionShutdown},
		{model.TierHigh, true, model.ActionShutdown},
		{model.TierCritical, true, model.ActionShutdown},
	}
	for _, tc := range cases {
		if got := Decide(tc.tier, tc.force); got != tc.want {
			t.Errorf("Decide(%s, %v) = %s, want %s", tc.tier, tc.force, got, tc.want)
		}
	}
}

type testRig struct {
	engine    *Engine
	protector *protect.Protector
	ledger    *ledger.Ledger
	ledgerDir string
	alerts    *atomic.Int32
	exits     *atomic.Int32
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	dir := t.TempDir()

	var alerts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		alerts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	log := hclog.NewNullLogger()
	p, err := protect.New(filepath.Join(dir, "backups"), filepath.Join(dir, "quarantine"), log)
	if err != nil {
		t.Fatal(err)
	}
	ledgerDir := filepath.Join(dir, "ledger")
	led, err := ledger.Open(ledgerDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { led.Close() })

	e := New(p, led, alert.NewNotifier(srv.URL, nil, log), time.Millisecond, log)
	var exits atomic.Int32
	e.SetExit(func(code int) {
		if code == 0 {
			t.Error("shutdown must exit non-zero")
		}
		exits.Add(1)
	})

	return &testRig{engine: e, protector: p, ledger: led, ledgerDir: ledgerDir, alerts: &alerts, exits: &exits}
}

func (r *testRig) ledgerToday(t *testing.T) ledger.VerifyResult {
	t.Helper()
	return ledger.Verify(r.ledger.FilePath(time.Now().UTC().Format("2006-01-02")))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for " + what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func mismatchVerdict(path, expected, actual string) model.Verdict {
	return model.Verdict{
		Valid:        false,
		Path:         path,
		Reason:       model.ReasonHashMismatch,
		ExpectedHash: expected,
		ActualHash:   actual,
	}
}

func TestMediumAlertsWithoutTouchingFile(t *testing.T) {
	r := newRig(t)
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("edited"), 0600); err != nil {
		t.Fatal(err)
	}

	r.engine.HandleVerdict(mismatchVerdict(path, "aaa", "bbb"), model.TierMedium, "watcher")

	waitFor(t, "alert", func() bool { return r.alerts.Load() == 1 })
	data, _ := os.ReadFile(path)
	if string(data) != "edited" {
		t.Error("medium tier must not mutate the file")
	}
	if r.exits.Load() != 0 {
		t.Error("medium tier must not shut down")
	}
	res := r.ledgerToday(t)
	if !res.Valid || res.Lines != 1 {
		t.Errorf("ledger = %+v, want 1 chained record", res)
	}
}

func TestHighRevertsFromBackup(t *testing.T) {
	r := newRig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("clean"), 0600); err != nil {
		t.Fatal(err)
	}
	clean := digest.Bytes([]byte("clean"))
	if _, err := r.protector.CreateBackup(path); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("evil"), 0600); err != nil {
		t.Fatal(err)
	}

	r.engine.HandleVerdict(mismatchVerdict(path, clean, digest.Bytes([]byte("evil"))), model.TierHigh, "watcher")

	data, _ := os.ReadFile(path)
	if string(data) != "clean" {
		t.Errorf("file content = %q, want backup content", data)
	}
	waitFor(t, "alert", func() bool { return r.alerts.Load() == 1 })
	if r.exits.Load() != 0 {
		t.Error("successful revert must not shut down")
	}
}

func TestHighEscalatesWhenNoBackup(t *testing.T) {
	r := newRig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("evil"), 0600); err != nil {
		t.Fatal(err)
	}

	r.engine.HandleVerdict(mismatchVerdict(path, "aaa", "bbb"), model.TierHigh, "watcher")

	if r.exits.Load() != 1 {
		t.Fatalf("exits = %d, want 1 (escalation)", r.exits.Load())
	}
	// Attempt record plus escalation record.
	res := r.ledgerToday(t)
	if !res.Valid || res.Lines != 2 {
		t.Errorf("ledger = %+v, want 2 chained records", res)
	}
}

func TestCriticalShutsDownOnce(t *testing.T) {
	r := newRig(t)
	path := filepath.Join(t.TempDir(), "bot.go")
	if err := os.WriteFile(path, []byte("evil"), 0600); err != nil {
		t.Fatal(err)
	}

	v := mismatchVerdict(path, "aaa", "bbb")
	r.engine.HandleVerdict(v, model.TierCritical, "watcher")
	r.engine.HandleVerdict(v, model.TierCritical, "rescan")

	if r.exits.Load() != 1 {
		t.Fatalf("exits = %d, want exactly 1", r.exits.Load())
	}
	waitFor(t, "alert", func() bool { return r.alerts.Load() >= 1 })
}

func TestCriticalSignalsHostBeforeExit(t *testing.T) {
	r := newRig(t)
	var degraded atomic.Int32
	r.engine.Attach(hostFunc(func(reason string) error {
		degraded.Add(1)
		if r.exits.Load() != 0 {
			t.Error("host must be signaled before exit")
		}
		return nil
	}))

	r.engine.HandleVerdict(mismatchVerdict("/app/bot.go", "aaa", "bbb"), model.TierCritical, "watcher")

	if degraded.Load() != 1 {
		t.Errorf("degrade calls = %d, want 1", degraded.Load())
	}
	if r.exits.Load() != 1 {
		t.Errorf("exits = %d, want 1", r.exits.Load())
	}
}

type hostFunc func(reason string) error

func (f hostFunc) Degrade(reason string) error { return f(reason) }

func TestHostFailureIsSwallowed(t *testing.T) {
	r := newRig(t)
	r.engine.Attach(hostFunc(func(string) error { return os.ErrClosed }))

	r.engine.HandleVerdict(mismatchVerdict("/app/bot.go", "aaa", "bbb"), model.TierCritical, "watcher")
	if r.exits.Load() != 1 {
		t.Errorf("exits = %d, want 1 despite host failure", r.exits.Load())
	}
}

func TestBaselineFailureIsCriticalShutdown(t *testing.T) {
	r := newRig(t)
	r.engine.HandleBaselineFailure("/state/baseline.json", os.ErrInvalid)
	if r.exits.Load() != 1 {
		t.Errorf("exits = %d, want 1", r.exits.Load())
	}
	res := r.ledgerToday(t)
	if res.Lines < 1 {
		t.Error("baseline failure must be recorded")
	}
}

func TestEnvViolationsForceShutdown(t *testing.T) {
	r := newRig(t)
	r.engine.HandleEnvViolations([]string{"signing secret is a placeholder"})
	if r.exits.Load() != 1 {
		t.Errorf("exits = %d, want 1", r.exits.Load())
	}
}

func TestEmptyEnvViolationsAreIgnored(t *testing.T) {
	r := newRig(t)
	r.engine.HandleEnvViolations(nil)
	if r.exits.Load() != 0 {
		t.Error("no violations must not shut down")
	}
}

func TestValidVerdictIsIgnored(t *testing.T) {
	r := newRig(t)
	r.engine.HandleVerdict(model.Verdict{Valid: true, Path: "/x", Reason: model.ReasonHashMatch}, model.TierCritical, "watcher")
	if r.exits.Load() != 0 || r.alerts.Load() != 0 {
		t.Error("valid verdict must be a no-op")
	}
}
