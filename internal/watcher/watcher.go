package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/blackwell-systems/appenv/internal/envs"
	"github.com/blackwell-systems/appenv/internal/logging"
)

// Event types, by inventory transition.
const (
	EventInstalled = "installed" // a new marked environment appeared
	EventRemoved   = "removed"   // an environment disappeared
	EventMarked    = "marked"    // an existing environment gained its sentinel
	EventBroken    = "broken"    // an environment is present but unmarked
)

// Event is one observed change to the environment inventory.
type Event struct {
	Type    string    `json:"type"`
	Version string    `json:"version"`
	Path    string    `json:"path"`
	Time    time.Time `json:"time"`
}

const (
	stateMarked = "marked"
	stateBroken = "broken"

	defaultDebounce = 500 * time.Millisecond
)

// Watcher tracks the marked/broken inventory of one package's environments.
// Filesystem notifications schedule a debounced rescan; each rescan diffs
// the inventory against the previous one and emits the changes.
type Watcher struct {
	store    *envs.Store
	pkg      string
	debounce time.Duration

	fs     *fsnotify.Watcher
	events chan Event
	stopCh chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
	log    *log.Entry

	mu    sync.Mutex
	known map[string]string // version -> marked|broken
}

// New creates a Watcher for one package's environments.
func New(store *envs.Store, pkg string) (*Watcher, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if pkg == "" {
		return nil, fmt.Errorf("package name cannot be empty")
	}
	return &Watcher{
		store:    store,
		pkg:      pkg,
		debounce: defaultDebounce,
		events:   make(chan Event, 16),
		stopCh:   make(chan struct{}),
		log:      logging.Component("watcher"),
		known:    make(map[string]string),
	}, nil
}

// Events returns the channel lifecycle events are delivered on. It is
// closed by Stop.
func (w *Watcher) Events() <-chan Event { return w.events }

// Start records the current inventory as the baseline and begins watching.
// Only changes after Start are reported; callers wanting the initial state
// can read it from the store directly.
func (w *Watcher) Start() error {
	inv, err := w.inventory()
	if err != nil {
		return fmt.Errorf("failed to scan environments: %w", err)
	}
	w.mu.Lock()
	w.known = inv
	w.mu.Unlock()

	if err := os.MkdirAll(w.store.EnvsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create envs dir: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.fs = fs
	if err := fs.Add(w.store.EnvsDir()); err != nil {
		fs.Close()
		return fmt.Errorf("failed to watch envs dir: %w", err)
	}
	for version := range inv {
		// Sentinel flips happen inside conda-meta, one level below the
		// watched envs dir.
		meta := filepath.Join(w.store.PrefixFor(w.pkg, version), "conda-meta")
		if err := fs.Add(meta); err != nil {
			w.log.WithError(err).Debugf("cannot watch %s", meta)
		}
	}

	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()

	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.track(ev)
			pending = time.After(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		case <-pending:
			pending = nil
			for _, ev := range w.Rescan() {
				select {
				case w.events <- ev:
				case <-w.stopCh:
					return
				}
			}
		case <-w.stopCh:
			return
		}
	}
}

// track extends the watch to directories created after Start: new
// environment prefixes and their conda-meta directories.
func (w *Watcher) track(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) {
		return
	}
	fi, err := os.Stat(ev.Name)
	if err != nil || !fi.IsDir() {
		return
	}
	base := filepath.Base(ev.Name)
	switch {
	case filepath.Dir(ev.Name) == w.store.EnvsDir() && strings.HasPrefix(base, w.pkg+"-"):
		if err := w.fs.Add(ev.Name); err == nil {
			// conda-meta may already exist when the env was moved into place
			w.fs.Add(filepath.Join(ev.Name, "conda-meta"))
		}
	case base == "conda-meta":
		w.fs.Add(ev.Name)
	}
}

// Rescan reads the inventory, diffs it against the last known one and
// returns the changes, oldest-known version order first.
func (w *Watcher) Rescan() []Event {
	inv, err := w.inventory()
	if err != nil {
		w.log.WithError(err).Warn("rescan failed")
		return nil
	}

	w.mu.Lock()
	prev := w.known
	w.known = inv
	w.mu.Unlock()

	now := time.Now()
	var out []Event
	for version, state := range inv {
		ev := Event{Version: version, Path: w.store.PrefixFor(w.pkg, version), Time: now}
		switch prevState, seen := prev[version]; {
		case !seen && state == stateMarked:
			ev.Type = EventInstalled
		case !seen:
			ev.Type = EventBroken
		case prevState == state:
			continue
		case state == stateMarked:
			ev.Type = EventMarked
		default:
			ev.Type = EventBroken
		}
		out = append(out, ev)
	}
	for version := range prev {
		if _, ok := inv[version]; !ok {
			out = append(out, Event{
				Type:    EventRemoved,
				Version: version,
				Path:    w.store.PrefixFor(w.pkg, version),
				Time:    now,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (w *Watcher) inventory() (map[string]string, error) {
	inv := make(map[string]string)
	installed, err := w.store.InstalledVersions(w.pkg)
	if err != nil {
		return nil, err
	}
	for _, env := range installed {
		inv[env.Version] = stateMarked
	}
	broken, err := w.store.BrokenEnvironments(w.pkg)
	if err != nil {
		return nil, err
	}
	for _, prefix := range broken {
		if version, ok := strings.CutPrefix(filepath.Base(prefix), w.pkg+"-"); ok {
			inv[version] = stateBroken
		}
	}
	return inv, nil
}

// Stop halts the watcher and closes the event channel. Stopping a watcher
// that was never started is a no-op.
func (w *Watcher) Stop() error {
	w.stop.Do(func() {
		close(w.stopCh)
		if w.fs != nil {
			w.fs.Close()
		}
		w.wg.Wait()
		close(w.events)
	})
	return nil
}
