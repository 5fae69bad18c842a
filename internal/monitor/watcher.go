// Package monitor watches the upload tree for new glider missions and nags
// operators who have not assigned a WMO ID in time.
package monitor

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gliderdac/internal/dac"
)

// DefaultTimeout is how long a new mission may go without a wmoid.txt
// before a notification is sent.
const DefaultTimeout = 60 * time.Second

const missionEmailText = `
A new Glider Mission (%s) has been created. Please assign it a WMO ID and place it
in the directory inside of a file named "wmoid.txt".
`

// Config configures a MissionWatcher.
type Config struct {
	// BaseDir is the root of the <user>/upload/<mission> tree.
	BaseDir string

	// Timeout is the debounce window. Zero selects DefaultTimeout.
	Timeout time.Duration

	Recipients []string
	CC         string // optional
}

// pendingNotification is one armed timer. Entries are compared by pointer so
// a fire only removes the entry it was armed for.
type pendingNotification struct {
	key     string
	mission string
	timer   *time.Timer
}

// MissionWatcher arms a delayed notification for every new mission
// directory and cancels it when the mission's wmoid.txt appears.
//
// Every armed timer ends exactly once: either cancelled by the marker or
// fired. A marker that arrives while the timer is firing may still lose the
// race and the notification is sent anyway.
type MissionWatcher struct {
	cfg      Config
	base     string
	notifier dac.Notifier
	logger   dac.Logger

	mu      sync.Mutex
	pending map[string]*pendingNotification
}

// New creates a MissionWatcher. The base directory is resolved to an
// absolute path with symlinks evaluated.
func New(cfg Config, notifier dac.Notifier, logger dac.Logger) (*MissionWatcher, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("watcher base directory is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	} else if !errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("resolving base directory: %w", err)
	}

	return &MissionWatcher{
		cfg:      cfg,
		base:     base,
		notifier: notifier,
		logger:   logger,
		pending:  make(map[string]*pendingNotification),
	}, nil
}

// BaseDir returns the resolved base directory.
func (w *MissionWatcher) BaseDir() string {
	return w.base
}

// DirCreated handles a directory creation. Only <user>/upload/<mission>
// directories arm a notification; it reports whether one was armed.
func (w *MissionWatcher) DirCreated(path string) bool {
	parts, ok := w.split(path)
	if !ok || len(parts) != 3 {
		return false
	}

	key := filepath.Join(parts...)
	w.logger.Info("new mission directory", "mission", key)
	w.arm(key, parts[2])
	return true
}

// FileCreated handles a file creation. Only <user>/upload/<mission>/wmoid.txt
// is of interest; it reports whether a pending notification was cancelled.
func (w *MissionWatcher) FileCreated(path string) bool {
	parts, ok := w.split(path)
	if !ok || len(parts) != 4 || parts[3] != dac.WMOIDFile {
		return false
	}

	key := filepath.Join(parts[:3]...)
	if !w.cancel(key) {
		return false
	}
	w.logger.Info("wmoid.txt registered, notification cancelled", "mission", key)
	return true
}

// split returns the segments of path relative to the base, or false when
// path is not below the base.
func (w *MissionWatcher) split(path string) ([]string, bool) {
	rel, err := filepath.Rel(w.base, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, false
	}
	return strings.Split(rel, string(filepath.Separator)), true
}

// arm starts the timer for key, replacing a timer already pending under it.
func (w *MissionWatcher) arm(key, mission string) {
	p := &pendingNotification{key: key, mission: mission}

	w.mu.Lock()
	defer w.mu.Unlock()

	if old, ok := w.pending[key]; ok {
		old.timer.Stop()
	}
	p.timer = time.AfterFunc(w.cfg.Timeout, func() { w.fire(p) })
	w.pending[key] = p
}

// cancel stops and removes the timer pending under key.
func (w *MissionWatcher) cancel(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[key]
	if !ok {
		return false
	}
	// A timer that already fired finds its entry gone and does not send.
	p.timer.Stop()
	delete(w.pending, key)
	return true
}

func (w *MissionWatcher) fire(p *pendingNotification) {
	w.mu.Lock()
	if w.pending[p.key] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, p.key)
	w.mu.Unlock()

	w.send(p.mission)
}

// send delivers the missing WMO ID notification. Failures are logged and
// never retried.
func (w *MissionWatcher) send(mission string) {
	w.logger.Info("sending missing WMO ID notification", "mission", mission)

	msg := dac.Message{
		Subject: "New Glider Mission - " + mission,
		Body:    fmt.Sprintf(missionEmailText, mission),
		To:      w.cfg.Recipients,
		CC:      w.cfg.CC,
	}
	if err := w.notifier.Send(context.Background(), msg); err != nil {
		w.logger.Error("failed to send mission notification", "mission", mission, "error", err)
	}
}

// Pending returns the number of armed timers.
func (w *MissionWatcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// PendingMissions returns the keys of the armed timers in lexical order.
func (w *MissionWatcher) PendingMissions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.pending))
	for k := range w.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stop cancels every armed timer without sending.
func (w *MissionWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, key)
	}
}

// Run watches the base tree until ctx is cancelled, then stops all armed
// timers. fsnotify is not recursive, so every directory in the tree gets its
// own watch, including directories created while running.
func (w *MissionWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer fw.Close()
	defer w.Stop()

	if err := w.watchTree(fw, w.base, false); err != nil {
		return err
	}
	w.logger.Info("watching user directories", "base", w.base, "timeout", w.cfg.Timeout.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

func (w *MissionWatcher) handle(fw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}

	info, err := os.Lstat(event.Name)
	if err != nil {
		// Already gone again.
		return
	}
	if info.IsDir() {
		if err := w.watchTree(fw, event.Name, true); err != nil {
			w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
		}
		return
	}
	w.FileCreated(event.Name)
}

// watchTree adds a watch to root and every directory below it. With
// created set, the walk also reports every directory and file it finds as
// created, covering entries that appeared before their parent was watched.
func (w *MissionWatcher) watchTree(fw *fsnotify.Watcher, root string, created bool) error {
	return filepath.WalkDir(root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) && p != root {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if created {
				w.FileCreated(p)
			}
			return nil
		}

		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		if created {
			w.DirCreated(p)
		}
		return nil
	})
}
