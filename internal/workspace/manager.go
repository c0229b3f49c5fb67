// Package workspace provides ephemeral repository checkouts and the
// directory tree builder that reads them.
//
// A Workspace is owned by exactly one invocation. The Manager hands it out
// through With, which guarantees removal on every exit path: normal return,
// error, panic, and context cancellation. Directory names embed a ULID, so
// concurrent checkouts of the same repository never collide and no
// cross-request locking is needed.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSourceUnavailable wraps every checkout failure: unknown repository,
	// network errors, authentication, or a cancelled context.
	ErrSourceUnavailable = errors.New("workspace: source unavailable")

	// ErrCleanup wraps failures to remove a workspace from disk.
	ErrCleanup = errors.New("workspace: cleanup failed")
)

// segmentRE matches a GitHub owner or repository name.
var segmentRE = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Workspace is a checked-out repository on local disk.
type Workspace struct {
	Path      string
	Owner     string
	Name      string
	CreatedAt time.Time

	m        *Manager
	released atomic.Bool
}

// Release removes the workspace directory. Only the first call has an
// effect; later calls return nil.
func (w *Workspace) Release() error {
	if !w.released.CompareAndSwap(false, true) {
		return nil
	}
	return w.m.remove(w.Path)
}

// Manager creates and disposes of workspaces under Root.
//
// This type is safe for concurrent use.
type Manager struct {
	// Root is the parent directory of all workspaces.
	Root string
	// Prefix starts every workspace directory name.
	Prefix string
	// BaseURL is the clone host, e.g. "https://github.com".
	BaseURL string
	// Cloner performs the checkout.
	Cloner Cloner
	// OnCleanupError observes removal failures from With. The default logs
	// at error level.
	OnCleanupError func(ws *Workspace, err error)

	active sync.Map // path -> struct{}
}

// NewManager returns a Manager with defaults for every empty argument:
// the OS temp dir, prefix "devlift", and https://github.com.
func NewManager(root, prefix, baseURL string, cloner Cloner) *Manager {
	if root == "" {
		root = os.TempDir()
	}
	if prefix == "" {
		prefix = "devlift"
	}
	if baseURL == "" {
		baseURL = "https://github.com"
	}
	return &Manager{
		Root:    root,
		Prefix:  prefix,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Cloner:  cloner,
	}
}

// Acquire checks out owner/name into a fresh directory. On failure the
// directory is removed and the error wraps ErrSourceUnavailable. Checkouts
// are not retried.
func (m *Manager) Acquire(ctx context.Context, owner, name string) (*Workspace, error) {
	if !validSegment(owner) || !validSegment(name) {
		return nil, fmt.Errorf("%w: invalid repository %q/%q", ErrSourceUnavailable, owner, name)
	}
	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: workspace root: %w", ErrSourceUnavailable, err)
	}

	dir := filepath.Join(m.Root, fmt.Sprintf("%s-%s-%s-%s",
		m.Prefix, owner, name, strings.ToLower(ulid.Make().String())))
	// Mkdir, not MkdirAll: an existing path means a collision and must fail.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create workspace: %w", ErrSourceUnavailable, err)
	}
	m.active.Store(dir, struct{}{})
	activeWorkspaces.Inc()

	start := time.Now()
	url := fmt.Sprintf("%s/%s/%s.git", m.BaseURL, owner, name)
	if err := m.Cloner.Clone(ctx, url, dir); err != nil {
		checkoutDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if rerr := m.remove(dir); rerr != nil {
			logger(ctx).Error().Err(rerr).Str("path", dir).Msg("remove failed checkout")
		}
		return nil, fmt.Errorf("%w: checkout %s/%s: %w", ErrSourceUnavailable, owner, name, err)
	}
	checkoutDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	return &Workspace{
		Path:      dir,
		Owner:     owner,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		m:         m,
	}, nil
}

// Release removes ws from disk. It is idempotent per workspace.
func (m *Manager) Release(ws *Workspace) error {
	return ws.Release()
}

// With acquires a workspace for owner/name, runs fn, and releases the
// workspace before returning, even if fn panics. It returns fn's error;
// release failures go to OnCleanupError and never replace it.
func (m *Manager) With(ctx context.Context, owner, name string, fn func(context.Context, *Workspace) error) error {
	ws, err := m.Acquire(ctx, owner, name)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := ws.Release(); rerr != nil {
			m.reportCleanup(ctx, ws, rerr)
		}
	}()
	return fn(ctx, ws)
}

// SweepStale removes leftover workspace directories older than maxAge, for
// example after a crash. Directories in use by this process are skipped.
func (m *Manager) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.Root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), m.Prefix+"-") {
			continue
		}
		path := filepath.Join(m.Root, e.Name())
		if _, busy := m.active.Load(path); busy {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			cleanupFailures.Inc()
			logger(ctx).Error().Err(err).Str("path", path).Msg("remove stale workspace")
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) remove(dir string) error {
	err := os.RemoveAll(dir)
	if err != nil {
		cleanupFailures.Inc()
		return fmt.Errorf("%w: %s: %w", ErrCleanup, dir, err)
	}
	if _, ok := m.active.LoadAndDelete(dir); ok {
		activeWorkspaces.Dec()
	}
	return nil
}

func (m *Manager) reportCleanup(ctx context.Context, ws *Workspace, err error) {
	if m.OnCleanupError != nil {
		m.OnCleanupError(ws, err)
		return
	}
	logger(ctx).Error().Err(err).
		Str("path", ws.Path).
		Str("repo", ws.Owner+"/"+ws.Name).
		Msg("workspace cleanup failed")
}

// logger returns the request logger carried by ctx, or the global logger.
func logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func validSegment(s string) bool {
	return s != "." && s != ".." && segmentRE.MatchString(s)
}
