// Package conda drives the conda-compatible package manager that creates,
// fills, and removes application environments. Every invocation runs as a
// job on a single FIFO queue per Executor; blocking operations enqueue and
// wait, asynchronous callers hold the job id and poll or cancel.
package conda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single package-manager subprocess.
const DefaultTimeout = time.Hour

const infoCacheKey = "conda-info"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobCanceled = errors.New("job canceled")
)

type jobState int

const (
	jobPending jobState = iota
	jobRunning
	jobFinished
	jobCanceled
)

type job struct {
	id     string
	bin    string
	args   []string
	ctx    context.Context
	kill   context.CancelFunc
	done   chan struct{}
	state  jobState
	exit   int
	stdout []byte
	err    error
}

// Options configures an Executor.
type Options struct {
	// Bin is the package-manager executable. When empty, mamba, conda and
	// micromamba are tried on PATH in that order.
	Bin string
	// LockBin is the conda-lock executable used for manifest resolution.
	LockBin string
	// Timeout bounds each subprocess. Zero means DefaultTimeout.
	Timeout time.Duration
	// Cache holds memoized `info` output. Optional.
	Cache *cache.Cache
}

// Executor runs package-manager subprocesses from a single FIFO queue.
type Executor struct {
	bin     string
	lockBin string
	timeout time.Duration
	cache   *cache.Cache
	log     *log.Entry

	mu     sync.Mutex
	jobs   map[string]*job
	queue  []*job
	wake   chan struct{}
	quit   chan struct{}
	closed bool
}

// New builds an Executor and starts its queue worker. Close releases it.
func New(opts Options) (*Executor, error) {
	bin := opts.Bin
	if bin == "" {
		for _, candidate := range []string{"mamba", "conda", "micromamba"} {
			if path, err := exec.LookPath(candidate); err == nil {
				bin = path
				break
			}
		}
		if bin == "" {
			return nil, errors.New("no conda-compatible executable found on PATH")
		}
	}
	lockBin := opts.LockBin
	if lockBin == "" {
		lockBin = "conda-lock"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	e := &Executor{
		bin:     bin,
		lockBin: lockBin,
		timeout: timeout,
		cache:   opts.Cache,
		log:     log.WithField("component", "conda"),
		jobs:    make(map[string]*job),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	go e.worker()
	return e, nil
}

// Close stops the queue worker. Pending jobs are abandoned.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.quit)
	}
}

// Bin returns the resolved package-manager executable.
func (e *Executor) Bin() string { return e.bin }

func (e *Executor) worker() {
	for {
		select {
		case <-e.quit:
			return
		case <-e.wake:
		}
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			j := e.queue[0]
			e.queue = e.queue[1:]
			if j.state == jobCanceled {
				e.mu.Unlock()
				continue
			}
			var runCtx context.Context
			var kill context.CancelFunc
			if e.timeout > 0 {
				runCtx, kill = context.WithTimeout(j.ctx, e.timeout)
			} else {
				runCtx, kill = context.WithCancel(j.ctx)
			}
			j.kill = kill
			j.state = jobRunning
			e.mu.Unlock()

			e.execute(j, runCtx)
			kill()
		}
	}
}

func (e *Executor) execute(j *job, ctx context.Context) {
	e.log.WithField("args", strings.Join(j.args, " ")).Debug("running package manager job")

	cmd := exec.CommandContext(ctx, j.bin, j.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	e.mu.Lock()
	defer e.mu.Unlock()
	j.stdout = stdout.Bytes()
	switch {
	case err == nil:
		j.exit = 0
	case ctx.Err() != nil:
		j.exit = -1
		j.err = fmt.Errorf("%s %s: %w", j.bin, strings.Join(j.args, " "), ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			j.exit = exitErr.ExitCode()
			j.err = &RunError{
				Args:     append([]string{j.bin}, j.args...),
				ExitCode: j.exit,
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		} else {
			j.exit = -1
			j.err = fmt.Errorf("start %s: %w", j.bin, err)
		}
	}
	j.state = jobFinished
	close(j.done)
}

func (e *Executor) enqueue(ctx context.Context, bin string, args []string) (*job, error) {
	j := &job{
		id:   uuid.NewString(),
		bin:  bin,
		args: args,
		ctx:  ctx,
		done: make(chan struct{}),
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, errors.New("executor is closed")
	}
	e.jobs[j.id] = j
	e.queue = append(e.queue, j)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return j, nil
}

// Enqueue queues a raw package-manager invocation and returns its job id.
func (e *Executor) Enqueue(args ...string) (string, error) {
	j, err := e.enqueue(context.Background(), e.bin, args)
	if err != nil {
		return "", err
	}
	return j.id, nil
}

// Wait blocks until the job finishes and returns its exit code. A non-zero
// exit also yields the job's *RunError.
func (e *Executor) Wait(ctx context.Context, id string) (int, error) {
	e.mu.Lock()
	j, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return -1, ErrJobNotFound
	}
	select {
	case <-j.done:
		return j.exit, j.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// ExitCode returns a finished job's exit code.
func (e *Executor) ExitCode(id string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok || (j.state != jobFinished && j.state != jobCanceled) {
		return 0, false
	}
	return j.exit, true
}

// Cancel drops a queued job or kills a running one. Canceling a finished
// job is a no-op.
func (e *Executor) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	switch j.state {
	case jobPending:
		j.state = jobCanceled
		j.exit = -1
		j.err = ErrJobCanceled
		close(j.done)
	case jobRunning:
		j.kill()
	}
	return nil
}

// run enqueues under the caller's context and waits.
func (e *Executor) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	j, err := e.enqueue(ctx, bin, args)
	if err != nil {
		return nil, err
	}
	select {
	case <-j.done:
		return j.stdout, j.err
	case <-ctx.Done():
		e.Cancel(j.id)
		return nil, ctx.Err()
	}
}

func channelArgs(channels []string) []string {
	var args []string
	for _, c := range channels {
		args = append(args, "--channel", c)
	}
	return args
}

// Create builds a fresh environment at prefix from the given specs.
func (e *Executor) Create(ctx context.Context, prefix string, specs []string, channels []string) error {
	args := append([]string{"create", "--yes", "--prefix", prefix}, channelArgs(channels)...)
	args = append(args, specs...)
	if _, err := e.run(ctx, e.bin, args...); err != nil {
		return fmt.Errorf("create environment %s: %w", prefix, err)
	}
	return nil
}

// CreateFromFile builds an environment at prefix from a resolved manifest.
func (e *Executor) CreateFromFile(ctx context.Context, prefix, manifest string) error {
	args := []string{"create", "--yes", "--prefix", prefix, "--file", manifest}
	if _, err := e.run(ctx, e.bin, args...); err != nil {
		return fmt.Errorf("create environment %s from %s: %w", prefix, manifest, err)
	}
	return nil
}

// Install adds packages to an existing environment.
func (e *Executor) Install(ctx context.Context, prefix string, specs []string, channels []string) error {
	args := append([]string{"install", "--yes", "--prefix", prefix}, channelArgs(channels)...)
	args = append(args, specs...)
	if _, err := e.run(ctx, e.bin, args...); err != nil {
		return fmt.Errorf("install into %s: %w", prefix, err)
	}
	return nil
}

// Uninstall removes packages from an environment.
func (e *Executor) Uninstall(ctx context.Context, prefix string, specs []string) error {
	args := append([]string{"remove", "--yes", "--prefix", prefix}, specs...)
	if _, err := e.run(ctx, e.bin, args...); err != nil {
		return fmt.Errorf("uninstall from %s: %w", prefix, err)
	}
	return nil
}

// Remove deletes a whole environment.
func (e *Executor) Remove(ctx context.Context, prefix string) error {
	args := []string{"remove", "--all", "--yes", "--prefix", prefix}
	if _, err := e.run(ctx, e.bin, args...); err != nil {
		return fmt.Errorf("remove environment %s: %w", prefix, err)
	}
	return nil
}

// List returns the packages installed in an environment.
func (e *Executor) List(ctx context.Context, prefix string) ([]PackageRecord, error) {
	out, err := e.run(ctx, e.bin, "list", "--prefix", prefix, "--json")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return parseList(out)
}

// Info returns `conda info --json`, memoized in the injected cache.
func (e *Executor) Info(ctx context.Context) (*Info, error) {
	if e.cache != nil {
		if v, ok := e.cache.Get(infoCacheKey); ok {
			return v.(*Info), nil
		}
	}
	out, err := e.run(ctx, e.bin, "info", "--json")
	if err != nil {
		return nil, fmt.Errorf("conda info: %w", err)
	}
	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("decode conda info: %w", err)
	}
	if e.cache != nil {
		e.cache.Set(infoCacheKey, &info, cache.DefaultExpiration)
	}
	return &info, nil
}

// InvalidateCache forgets the memoized info result.
func (e *Executor) InvalidateCache() {
	if e.cache != nil {
		e.cache.Delete(infoCacheKey)
	}
}

// Lock resolves an environment file into a fully pinned manifest at outPath
// via conda-lock.
func (e *Executor) Lock(ctx context.Context, envFile, platform, outPath string) error {
	args := []string{"lock", "--file", envFile, "--platform", platform, "--lockfile", outPath}
	if _, err := e.run(ctx, e.lockBin, args...); err != nil {
		return fmt.Errorf("lock %s: %w", envFile, err)
	}
	return nil
}

func parseList(data []byte) ([]PackageRecord, error) {
	var records []PackageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode package list: %w", err)
	}
	for i := range records {
		if records[i].Platform == "pypi" || records[i].Channel == "pypi" {
			records[i].Source = "pip"
		} else {
			records[i].Source = "conda"
		}
	}
	return records, nil
}
