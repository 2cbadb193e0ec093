// Package watch delivers low-latency change detection for exactly the
// protected paths. Each path gets its own debounce timer (a new event
// cancels and replaces the pending one), and a changed file is re-hashed
// only after its size and mtime hold still, so a file mid-write is never
// flagged as tampered.
package watch

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/avekseev/fileguard/internal/inventory"
	"github.com/avekseev/fileguard/internal/model"
	"github.com/avekseev/fileguard/internal/validate"
)

// maxStabilityWait caps how long one event waits for a file to settle.
const maxStabilityWait = 3 * time.Second

// Responder receives invalid verdicts. Satisfied by response.Engine.
type Responder interface {
	HandleVerdict(v model.Verdict, tier model.Tier, source string)
}

// Options tunes the watcher's timing.
type Options struct {
	Debounce        time.Duration
	StabilityWindow time.Duration
	StabilityPoll   time.Duration
}

func (o *Options) fill() {
	if o.Debounce <= 0 {
		o.Debounce = 150 * time.Millisecond
	}
	if o.StabilityWindow <= 0 {
		o.StabilityWindow = 200 * time.Millisecond
	}
	if o.StabilityPoll <= 0 {
		o.StabilityPoll = 50 * time.Millisecond
	}
}

// Watcher validates protected paths after debounced filesystem events.
type Watcher struct {
	set       *inventory.Set
	validator *validate.Validator
	responder Responder
	opts      Options
	log       hclog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	fw      *fsnotify.Watcher
	done    chan struct{}
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Watcher over the resolved protected set.
func New(set *inventory.Set, validator *validate.Validator, responder Responder, opts Options, log hclog.Logger) *Watcher {
	opts.fill()
	return &Watcher{
		set:       set,
		validator: validator,
		responder: responder,
		opts:      opts,
		log:       log,
		timers:    make(map[string]*time.Timer),
	}
}

// Start registers watches for every protected path and begins dispatching.
// An empty protected set is a warning, not an error.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return nil
	}
	if w.set.Len() == 0 {
		w.log.Warn("protected set is empty, watcher not started")
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, path := range w.set.Paths() {
		if err := fw.Add(path); err != nil {
			w.log.Warn("cannot watch protected path", "path", path, "error", err)
		}
	}

	w.fw = fw
	w.done = make(chan struct{})
	w.started = true

	w.wg.Add(1)
	go w.loop()

	w.log.Info("watcher started", "paths", w.set.Len())
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, tracked := w.set.TierOf(event.Name); !tracked {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// schedule resets the per-path debounce timer: the validation fires only
// after the window elapses with no further events for that path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() { w.fire(path) })
}

// fire runs after the debounce window: wait for the file to settle, then
// validate it and forward any invalid verdict.
func (w *Watcher) fire(path string) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	delete(w.timers, path)
	w.mu.Unlock()

	w.waitStable(path)

	// An atomic-rename save replaces the inode, which silently drops the
	// watch. Re-add so subsequent edits are still seen.
	if _, err := os.Stat(path); err == nil && w.fw != nil {
		_ = w.fw.Add(path)
	}

	verdict := w.validator.File(path)
	if verdict.Valid {
		return
	}
	tier, ok := w.set.TierOf(path)
	if !ok {
		return
	}
	w.responder.HandleVerdict(verdict, tier, "watcher")
}

// waitStable polls until two consecutive observations a stability window
// apart agree on size and mtime, or the cap expires.
func (w *Watcher) waitStable(path string) {
	deadline := time.Now().Add(maxStabilityWait)
	prev, err := os.Stat(path)
	if err != nil {
		return
	}
	lastChange := time.Now()

	for time.Now().Before(deadline) {
		time.Sleep(w.opts.StabilityPoll)
		cur, err := os.Stat(path)
		if err != nil {
			return
		}
		if cur.Size() != prev.Size() || !cur.ModTime().Equal(prev.ModTime()) {
			prev = cur
			lastChange = time.Now()
			continue
		}
		if time.Since(lastChange) >= w.opts.StabilityWindow {
			return
		}
	}
}

// Stop cancels every pending debounce timer and releases the watch handle.
// Idempotent, and safe even when Start was never called.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	started := w.started
	w.mu.Unlock()

	if !started {
		return
	}
	close(w.done)
	_ = w.fw.Close()
	w.wg.Wait()
	w.log.Info("watcher stopped")
}
