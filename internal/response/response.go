// Package response maps tamper incidents to remediation. The decision is a
// pure function of (tier, forceShutdown); the Engine executes whatever the
// decision says, escalating a failed revert into a shutdown.
package response

import (
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/alert"
	"github.com/avekseev/fileguard/internal/ledger"
	"github.com/avekseev/fileguard/internal/model"
	"github.com/avekseev/fileguard/internal/protect"
)

// Decide maps severity to an action. forceShutdown overrides any tier:
// synthesized incidents (baseline signature failure, environment pre-flight
// violations) always reach the shutdown path.
func Decide(tier model.Tier, forceShutdown bool) model.Action {
	if forceShutdown || tier == model.TierCritical {
		return model.ActionShutdown
	}
	if tier == model.TierHigh {
		return model.ActionAutoRevert
	}
	return model.ActionAlert
}

// Host is the hosting application's degraded-mode hook. Signaling it is
// best-effort; any failure is swallowed.
type Host interface {
	Degrade(reason string) error
}

// Engine executes response actions.
type Engine struct {
	protector *protect.Protector
	ledger    *ledger.Ledger
	notifier  *alert.Notifier
	log       hclog.Logger

	grace    time.Duration
	exit     func(code int)
	exitOnce sync.Once

	mu   sync.Mutex
	host Host

	hostname string
	pid      int
}

// New creates an Engine. exit defaults to os.Exit; tests inject their own.
func New(protector *protect.Protector, led *ledger.Ledger, notifier *alert.Notifier, grace time.Duration, log hclog.Logger) *Engine {
	hostname, _ := os.Hostname()
	return &Engine{
		protector: protector,
		ledger:    led,
		notifier:  notifier,
		log:       log,
		grace:     grace,
		exit:      os.Exit,
		hostname:  hostname,
		pid:       os.Getpid(),
	}
}

// SetExit replaces the process-termination function.
func (e *Engine) SetExit(exit func(code int)) {
	e.exit = exit
}

// Attach registers the hosting application's degraded-mode handle.
func (e *Engine) Attach(h Host) {
	e.mu.Lock()
	e.host = h
	e.mu.Unlock()
}

// HandleVerdict responds to an invalid verdict from the watcher, the
// startup sweep, or a periodic rescan.
func (e *Engine) HandleVerdict(v model.Verdict, tier model.Tier, source string) {
	if v.Valid {
		return
	}
	e.handle(v, tier, source, false)
}

// HandleBaselineFailure treats a baseline that fails verification as a
// critical incident against the baseline file itself.
func (e *Engine) HandleBaselineFailure(baselinePath string, err error) {
	e.log.Error("baseline verification failed", "path", baselinePath, "error", err)
	v := model.Verdict{
		Valid:  false,
		Path:   baselinePath,
		Reason: model.ReasonHashMismatch,
	}
	e.handle(v, model.TierCritical, "baseline", true)
}

// HandleEnvViolations treats environment pre-flight violations as a single
// high-tier incident with the shutdown override set.
func (e *Engine) HandleEnvViolations(violations []string) {
	if len(violations) == 0 {
		return
	}
	for _, violation := range violations {
		e.log.Error("environment pre-flight violation", "violation", violation)
	}
	v := model.Verdict{
		Valid:  false,
		Path:   "environment",
		Reason: model.ReasonHashMismatch,
	}
	e.handle(v, model.TierHigh, "envguard", true)
}

func (e *Engine) handle(v model.Verdict, tier model.Tier, source string, force bool) {
	action := Decide(tier, force)
	e.log.Warn("tamper incident",
		"path", v.Path, "tier", tier, "reason", v.Reason, "action", action, "source", source)

	// Quarantine evidence for the containment paths. Medium-tier incidents
	// are alert-only and touch nothing.
	var evidence string
	if action != model.ActionAlert && e.protector != nil {
		var err error
		evidence, err = e.protector.Quarantine(v.Path, v.ExpectedHash)
		if err != nil {
			e.log.Warn("quarantine failed", "path", v.Path, "error", err)
		}
	}

	// The incident record comes before every remaining side effect, so it
	// survives a restore or alert failure.
	e.record(v, tier, action, source, evidence)

	switch action {
	case model.ActionAlert:
		e.notifier.Dispatch(e.event(v, tier, action, source))

	case model.ActionAutoRevert:
		if err := e.protector.Restore(v.Path, v.ExpectedHash); err != nil {
			e.log.Error("restore failed, escalating to shutdown", "path", v.Path, "error", err)
			e.record(v, tier, model.ActionShutdown, source, evidence)
			e.shutdown(v, tier, source)
			return
		}
		e.log.Info("file auto-reverted", "path", v.Path)
		e.notifier.Dispatch(e.event(v, tier, action, source))

	case model.ActionShutdown:
		e.shutdown(v, tier, source)
	}
}

// record appends the incident to the ledger. A ledger failure is reported
// to the operator console only; observability never blocks enforcement.
func (e *Engine) record(v model.Verdict, tier model.Tier, action model.Action, source, evidence string) {
	if e.ledger == nil {
		return
	}
	inc := model.Incident{
		FilePath:     v.Path,
		Severity:     tier,
		ExpectedHash: v.ExpectedHash,
		ActualHash:   v.ActualHash,
		ActionTaken:  action,
		Reason:       v.Reason,
		Source:       source,
		EvidencePath: evidence,
		Host:         e.hostname,
		PID:          e.pid,
	}
	if err := e.ledger.Append(inc); err != nil {
		e.log.Error("ledger write failed", "path", v.Path, "error", err)
	}
}

func (e *Engine) event(v model.Verdict, tier model.Tier, action model.Action, source string) alert.Event {
	return alert.Event{
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Severity:     tier,
		File:         v.Path,
		Action:       action,
		Reason:       v.Reason,
		ExpectedHash: v.ExpectedHash,
		ActualHash:   v.ActualHash,
		Source:       source,
		Host:         e.hostname,
		PID:          e.pid,
	}
}

// shutdown signals the host, dispatches the alert, waits out the grace
// delay so the alert can flush, and terminates the process. Deliberately
// non-recoverable in-process; the supervisor owns restarts.
func (e *Engine) shutdown(v model.Verdict, tier model.Tier, source string) {
	e.mu.Lock()
	host := e.host
	e.mu.Unlock()
	if host != nil {
		if err := host.Degrade("integrity violation: " + v.Path); err != nil {
			e.log.Warn("host degrade signal failed", "error", err)
		}
	}

	e.notifier.Dispatch(e.event(v, tier, model.ActionShutdown, source))

	e.exitOnce.Do(func() {
		e.log.Error("terminating process", "path", v.Path, "tier", tier)
		time.Sleep(e.grace)
		e.exit(1)
	})
}
