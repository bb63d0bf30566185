package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/blackwell-systems/appenv/internal/actions"
	"github.com/blackwell-systems/appenv/internal/anaconda"
	"github.com/blackwell-systems/appenv/internal/conda"
	"github.com/blackwell-systems/appenv/internal/config"
	"github.com/blackwell-systems/appenv/internal/envs"
	"github.com/blackwell-systems/appenv/internal/history"
	"github.com/blackwell-systems/appenv/internal/logging"
	"github.com/blackwell-systems/appenv/internal/output"
	"github.com/blackwell-systems/appenv/internal/proclock"
	"github.com/blackwell-systems/appenv/internal/shortcuts"
	"github.com/blackwell-systems/appenv/internal/state"
)

// session is everything one command invocation needs. The lifecycle engine
// is built on demand so observation commands work without a package
// manager on PATH.
type session struct {
	root       string
	settings   *config.Settings
	spec       conda.Spec
	channels   []string
	pluginsURL string

	store    *envs.Store
	registry *state.Registry
	spinner  *output.Spinner

	exec    *conda.Executor
	manager *actions.Manager
}

// newSession resolves configuration and the application spec. The spec
// comes from the positional argument, falling back to the settings file.
func newSession(args []string) (*session, error) {
	root, err := config.Root(configRoot)
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(root)
	if err != nil {
		return nil, err
	}

	raw := settings.Application
	if len(args) > 0 && args[0] != "" {
		raw = args[0]
	}
	if raw == "" {
		return nil, fmt.Errorf("no application given, pass one or set it in %s", config.SettingsPath(root))
	}
	spec, err := conda.ParseSpec(raw)
	if err != nil {
		return nil, err
	}

	chs := channels
	if len(chs) == 0 {
		chs = settings.Channels
	}
	plugins := pluginsURL
	if plugins == "" {
		plugins = settings.PluginsURL
	}

	base, err := config.BasePrefix(basePrefix, settings)
	if err != nil {
		return nil, err
	}

	return &session{
		root:       root,
		settings:   settings,
		spec:       spec,
		channels:   chs,
		pluginsURL: plugins,
		store:      envs.NewStore(base),
		registry:   state.NewRegistry(root),
		spinner:    output.NewSpinner("Working"),
	}, nil
}

// engine builds the lifecycle manager with its package-manager executor,
// registry client and shortcut integration.
func (s *session) engine() (*actions.Manager, error) {
	if s.manager != nil {
		return s.manager, nil
	}
	exec, err := conda.New(conda.Options{Bin: condaBin, Timeout: condaTimeout})
	if err != nil {
		return nil, err
	}
	mgr, err := actions.New(actions.Config{
		Spec:      s.spec,
		Channels:  s.channels,
		Source:    anaconda.New(anaconda.Options{}),
		Runner:    exec,
		Shortcuts: shortcuts.New(exec, s.store, s.spec.Name, s.channels),
		Envs:      s.store,
		Registry:  s.registry,
		OnStage:   s.spinner.UpdateMessage,
	})
	if err != nil {
		exec.Close()
		return nil, err
	}
	s.exec = exec
	s.manager = mgr
	return mgr, nil
}

func (s *session) Close() {
	if s.exec != nil {
		s.exec.Close()
	}
}

// lockPath is the transition lock all mutating commands contend on. One
// lock for the whole tool: update and clean-all must not interleave even
// across applications sharing a base prefix.
func (s *session) lockPath() string {
	return filepath.Join(config.LockDir(s.root), "appenv.lock")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runRead executes a read-only operation. The outcome, error included,
// lands in the stdout envelope; the exit code stays zero so the driving
// process always has one JSON object to parse.
func runRead(args []string, fn func(ctx context.Context, s *session) (any, error)) error {
	s, err := newSession(args)
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	defer s.Close()

	ctx, stop := signalContext()
	defer stop()

	data, err := fn(ctx, s)
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	return output.WriteResult(os.Stdout, data)
}

// runLocked executes a mutating operation under the transition lock,
// recording it in the action journal. Lock contention is reported with
// the fixed envelope and a zero exit.
func runLocked(command string, args []string, fn func(ctx context.Context, s *session) (any, []string, error)) error {
	s, err := newSession(args)
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	defer s.Close()

	lock, acquired, err := proclock.Acquire(s.lockPath())
	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	if !acquired {
		return output.WriteContention(os.Stdout)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logging.Component("app").WithError(err).Warn("failed to release lock")
		}
	}()

	entry := beginJournal(s.root, command, s.spec)

	s.spinner.Start()
	ctx, stop := signalContext()
	data, warnings, err := fn(ctx, s)
	stop()
	s.spinner.Stop()

	entry.finish(err, warnings)

	if err != nil {
		return output.WriteError(os.Stdout, err)
	}
	return output.WriteResult(os.Stdout, data)
}

// journalEntry is one running action in the history database. A nil entry
// (journal unavailable) swallows all recording; the operation itself never
// fails on journal errors.
type journalEntry struct {
	store *history.Store
	id    int64
}

func beginJournal(root, command string, spec conda.Spec) *journalEntry {
	log := logging.Component("app")
	store, err := history.New(config.HistoryPath(root))
	if err != nil {
		log.WithError(err).Warn("action journal unavailable")
		return nil
	}
	if err := store.CreateSchema(); err != nil {
		log.WithError(err).Warn("failed to prepare action journal")
		store.Close()
		return nil
	}
	action := &history.Action{
		Command: command,
		Package: spec.Name,
		Version: spec.Version,
		Pid:     os.Getpid(),
	}
	id, err := store.Begin(action)
	if err != nil {
		log.WithError(err).Warn("failed to record action")
		store.Close()
		return nil
	}
	return &journalEntry{store: store, id: id}
}

func (j *journalEntry) finish(opErr error, warnings []string) {
	if j == nil {
		return
	}
	defer j.store.Close()
	status, msg := history.StatusOK, ""
	if opErr != nil {
		status, msg = history.StatusError, opErr.Error()
	}
	if err := j.store.Finish(j.id, status, msg, warnings); err != nil {
		logging.Component("app").WithError(err).Warn("failed to finish action record")
	}
}

// lastJournalAction reads the most recent action for a package, tolerating
// a missing journal.
func lastJournalAction(root, pkg string) (*history.Action, error) {
	store, err := history.OpenExisting(config.HistoryPath(root))
	if err != nil {
		if errors.Is(err, history.ErrNotInitialized) {
			return nil, nil
		}
		return nil, err
	}
	defer store.Close()
	return store.Last(pkg)
}
