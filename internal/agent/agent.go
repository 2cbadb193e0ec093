// Package agent wires enumeration, baseline verification, watching, and
// response into one initialize → monitor → stop lifecycle. All mutation of
// the protected set and the in-memory baseline happens inside lifecycle
// transitions; every other component only reads them.
package agent

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/alert"
	"github.com/avekseev/fileguard/internal/baseline"
	"github.com/avekseev/fileguard/internal/config"
	"github.com/avekseev/fileguard/internal/envguard"
	"github.com/avekseev/fileguard/internal/inventory"
	"github.com/avekseev/fileguard/internal/ledger"
	"github.com/avekseev/fileguard/internal/model"
	"github.com/avekseev/fileguard/internal/protect"
	"github.com/avekseev/fileguard/internal/response"
	"github.com/avekseev/fileguard/internal/snapshot"
	"github.com/avekseev/fileguard/internal/validate"
	"github.com/avekseev/fileguard/internal/watch"
)

// State tracks the lifecycle position of the agent.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateMonitoring    State = "monitoring"
	StateStopped       State = "stopped"
)

// Agent is the integrity-enforcement orchestrator.
type Agent struct {
	cfg *config.Config
	log hclog.Logger

	store     *baseline.Store
	protector *protect.Protector
	ledger    *ledger.Ledger
	engine    *response.Engine
	validator *validate.Validator
	generator *snapshot.Generator

	mu         sync.Mutex
	state      State
	set        *inventory.Set
	watcher    *watch.Watcher
	tickerStop chan struct{}
	wg         sync.WaitGroup
}

// New builds an Agent and its collaborators from configuration. The signing
// secret must be present; everything else has workable defaults.
func New(cfg *config.Config, log hclog.Logger) (*Agent, error) {
	store, err := baseline.NewStore(cfg.Paths.Baseline, cfg.Secret)
	if err != nil {
		return nil, err
	}
	protector, err := protect.New(cfg.Paths.Backups, cfg.Paths.Quarantine, log.Named("protect"))
	if err != nil {
		return nil, err
	}
	led, err := ledger.Open(cfg.Paths.Ledger)
	if err != nil {
		return nil, err
	}

	notifier := alert.NewNotifier(cfg.AlertURL, nil, log.Named("alert"))
	engine := response.New(protector, led, notifier, cfg.ShutdownGrace(), log.Named("response"))

	return &Agent{
		cfg:       cfg,
		log:       log,
		store:     store,
		protector: protector,
		ledger:    led,
		engine:    engine,
		validator: validate.New(),
		generator: snapshot.New(store, protector, cfg.Backup.Keep, log.Named("snapshot")),
		state:     StateUninitialized,
	}, nil
}

// Engine exposes the response engine, chiefly so the hosting process can
// Attach its degraded-mode handle (and tests can inject an exit function).
func (a *Agent) Engine() *response.Engine {
	return a.engine
}

// Attach registers the hosting application's degraded-mode hook.
func (a *Agent) Attach(h response.Host) {
	a.engine.Attach(h)
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Initialize runs the environment pre-flight, resolves the protected set,
// loads and verifies the baseline, and sweeps every monitored file once.
// Failures route through the response engine first, then return to the
// caller.
func (a *Agent) Initialize() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if violations := envguard.Check(os.Getenv); len(violations) > 0 {
		a.engine.HandleEnvViolations(violations)
		return fmt.Errorf("agent: environment pre-flight failed (%d violations)", len(violations))
	}

	set, err := inventory.Resolve(a.cfg.Protect, a.log.Named("inventory"))
	if err != nil {
		return fmt.Errorf("agent: resolve protected set: %w", err)
	}
	a.set = set

	b, err := a.store.Load()
	if err != nil {
		a.engine.HandleBaselineFailure(a.store.Path(), err)
		return err
	}
	a.validator.SetBaseline(b.Hashes)

	for _, v := range a.validator.All() {
		a.engine.HandleVerdict(v, a.tierFor(v.Path), "startup")
	}

	a.state = StateReady
	a.log.Info("agent initialized", "protected", set.Len(), "baseline", a.store.Path())
	return nil
}

// Start begins live monitoring: the filesystem watcher plus the periodic
// rescan timer.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateReady {
		return fmt.Errorf("agent: cannot start from state %q", a.state)
	}

	watcher := watch.New(a.set, a.validator, a.engine, watch.Options{
		Debounce:        a.cfg.Debounce(),
		StabilityWindow: a.cfg.StabilityWindow(),
		StabilityPoll:   a.cfg.StabilityPoll(),
	}, a.log.Named("watch"))
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("agent: start watcher: %w", err)
	}
	a.watcher = watcher

	a.tickerStop = make(chan struct{})
	a.wg.Add(1)
	go a.runRescan(a.tickerStop)

	a.state = StateMonitoring
	return nil
}

// runRescan is the fallback against missed filesystem events. Each tick
// re-verifies the baseline's own signature first, so an attacker cannot
// bless tampered files by overwriting the baseline; only then are
// critical-tier files re-validated.
func (a *Agent) runRescan(stop chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.RescanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := a.store.Load(); err != nil {
				a.engine.HandleBaselineFailure(a.store.Path(), err)
				continue
			}
			for _, v := range a.validator.Many(a.criticalPaths()) {
				a.engine.HandleVerdict(v, model.TierCritical, "rescan")
			}
		}
	}
}

func (a *Agent) criticalPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.set == nil {
		return nil
	}
	var paths []string
	for _, e := range a.set.Entries {
		if e.Tier == model.TierCritical {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

func (a *Agent) tierFor(path string) model.Tier {
	if a.set != nil {
		if tier, ok := a.set.TierOf(path); ok {
			return tier
		}
	}
	// A baseline entry no longer covered by policy still deserves a response.
	return model.TierMedium
}

// Stop cancels the rescan timer, stops the watcher, and closes the ledger.
// Idempotent, and safe if monitoring never started.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return
	}
	a.state = StateStopped
	tickerStop := a.tickerStop
	watcher := a.watcher
	a.tickerStop = nil
	a.watcher = nil
	a.mu.Unlock()

	if tickerStop != nil {
		close(tickerStop)
	}
	if watcher != nil {
		watcher.Stop()
	}
	a.wg.Wait()
	if err := a.ledger.Close(); err != nil {
		a.log.Warn("ledger close failed", "error", err)
	}
	a.log.Info("agent stopped")
}

// RegenerateBaseline reruns the snapshot generator against a freshly
// resolved protected set, swaps the validator's baseline, and restarts the
// watcher against the possibly-changed file set.
func (a *Agent) RegenerateBaseline() (snapshot.Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	set, err := inventory.Resolve(a.cfg.Protect, a.log.Named("inventory"))
	if err != nil {
		return snapshot.Summary{}, fmt.Errorf("agent: resolve protected set: %w", err)
	}

	summary, err := a.generator.Run(set.Entries)
	if err != nil {
		return snapshot.Summary{}, err
	}

	b, err := a.store.Load()
	if err != nil {
		a.engine.HandleBaselineFailure(a.store.Path(), err)
		return snapshot.Summary{}, err
	}

	a.set = set
	a.validator.SetBaseline(b.Hashes)

	if a.state == StateMonitoring {
		if a.watcher != nil {
			a.watcher.Stop()
		}
		watcher := watch.New(a.set, a.validator, a.engine, watch.Options{
			Debounce:        a.cfg.Debounce(),
			StabilityWindow: a.cfg.StabilityWindow(),
			StabilityPoll:   a.cfg.StabilityPoll(),
		}, a.log.Named("watch"))
		if err := watcher.Start(); err != nil {
			return summary, fmt.Errorf("agent: restart watcher: %w", err)
		}
		a.watcher = watcher
	}

	a.log.Info("baseline regenerated", "files", summary.FileCount)
	return summary, nil
}

// Snapshot generates the initial baseline without entering monitoring.
// Used by the snapshot CLI command and by first-run provisioning.
func (a *Agent) Snapshot() (snapshot.Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	set, err := inventory.Resolve(a.cfg.Protect, a.log.Named("inventory"))
	if err != nil {
		return snapshot.Summary{}, fmt.Errorf("agent: resolve protected set: %w", err)
	}
	return a.generator.Run(set.Entries)
}
