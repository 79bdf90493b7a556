package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	listCacheTTL  = 2 * time.Second
	watchDebounce = 250 * time.Millisecond
)

// Loader discovers skills across an ordered list of directories and caches
// the results.
//
// The skill list is cached for a short TTL; within the TTL the loader still
// stats the known SKILL.md files and rescans immediately when any mtime
// changed, so edits show up without waiting. Bodies are cached per file and
// invalidated by mtime.
type Loader struct {
	dirs   []string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	list     []Metadata
	mtimes   map[string]time.Time
	lastScan time.Time
	scanned  bool

	bodyMu sync.Mutex
	bodies map[string]bodyEntry

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

type bodyEntry struct {
	mtime time.Time
	body  string
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithTTL overrides the list cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Loader) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLoader creates a loader over the given search directories, in
// priority order from lowest to highest.
func NewLoader(dirs []string, opts ...Option) *Loader {
	l := &Loader{
		dirs:   dirs,
		ttl:    listCacheTTL,
		logger: slog.Default(),
		now:    time.Now,
		mtimes: make(map[string]time.Time),
		bodies: make(map[string]bodyEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "skills")
	return l
}

// List returns the discovered skills. The result is a copy in discovery
// order with later directories shadowing earlier ones by name.
func (l *Loader) List() []Metadata {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scanned && l.now().Sub(l.lastScan) < l.ttl && !l.mtimesChangedLocked() {
		return append([]Metadata(nil), l.list...)
	}
	l.scanLocked()
	return append([]Metadata(nil), l.list...)
}

// Find returns the metadata for one skill by name.
func (l *Loader) Find(name string) (Metadata, bool) {
	for _, meta := range l.List() {
		if meta.Name == name {
			return meta, true
		}
	}
	return Metadata{}, false
}

// Body returns a skill's markdown body, reading the file only when its
// mtime changed since the last read.
func (l *Loader) Body(name string) (string, error) {
	meta, ok := l.Find(name)
	if !ok {
		return "", fmt.Errorf("unknown skill: %s", name)
	}
	path := filepath.Join(meta.Path, SkillFilename)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat skill: %w", err)
	}

	l.bodyMu.Lock()
	entry, hit := l.bodies[path]
	l.bodyMu.Unlock()
	if hit && entry.mtime.Equal(info.ModTime()) {
		return entry.body, nil
	}

	_, body, err := parseSkillFile(path)
	if err != nil {
		return "", err
	}
	l.bodyMu.Lock()
	l.bodies[path] = bodyEntry{mtime: info.ModTime(), body: body}
	l.bodyMu.Unlock()
	return body, nil
}

// Invalidate drops the cached list so the next List rescans.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.scanned = false
	l.mu.Unlock()
}

// mtimesChangedLocked reports whether any previously seen SKILL.md changed
// or disappeared since the last scan.
func (l *Loader) mtimesChangedLocked() bool {
	for path, mtime := range l.mtimes {
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Equal(mtime) {
			return true
		}
	}
	return false
}

func (l *Loader) scanLocked() {
	list := make([]Metadata, 0, len(l.list))
	mtimes := make(map[string]time.Time)
	index := make(map[string]int)

	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name(), SkillFilename)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			meta, _, err := parseSkillFile(path)
			if err != nil {
				l.logger.Warn("skipping unparsable skill", "path", path, "error", err)
				continue
			}
			mtimes[path] = info.ModTime()
			if i, seen := index[meta.Name]; seen {
				list[i] = meta
				continue
			}
			index[meta.Name] = len(list)
			list = append(list, meta)
		}
	}

	l.list = list
	l.mtimes = mtimes
	l.lastScan = l.now()
	l.scanned = true
}

// Watch starts an fsnotify watcher over the skill directories and their
// immediate subdirectories. Events invalidate the list cache after a short
// debounce. Stop with Close.
func (l *Loader) Watch(ctx context.Context) error {
	l.watchMu.Lock()
	if l.watcher != nil {
		l.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.watchMu.Unlock()
		return fmt.Errorf("create skills watcher: %w", err)
	}
	l.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel
	l.watchMu.Unlock()

	for _, dir := range l.dirs {
		if err := watcher.Add(dir); err != nil {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(dir, entry.Name()))
			}
		}
	}

	l.watchWg.Add(1)
	go l.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the watcher, if one is running.
func (l *Loader) Close() error {
	l.watchMu.Lock()
	if l.watchCancel != nil {
		l.watchCancel()
		l.watchCancel = nil
	}
	watcher := l.watcher
	l.watcher = nil
	l.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	l.watchWg.Wait()
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer l.watchWg.Done()

	var timerMu sync.Mutex
	var timer *time.Timer
	scheduleInvalidate := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, l.Invalidate)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			scheduleInvalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("skills watch error", "error", err)
		}
	}
}
