package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when its content changes and hands each new
// valid [Config] to a callback. Invalid edits are logged and skipped; the
// last good config stays current.
//
// The file's directory is watched with fsnotify so atomic renames are seen.
// A slow poll covers filesystems that drop events.
type Watcher struct {
	path     string
	poll     time.Duration
	settle   time.Duration
	onChange func(old, new *Config)

	notify *fsnotify.Watcher

	mu   sync.Mutex
	snap snapshot

	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
}

type snapshot struct {
	cfg *Config
	sum [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll period. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithDebounce sets the pause between a file event and the re-read. Default
// 50ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

// NewWatcher loads path and starts watching it. The initial load must
// succeed. onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w := &Watcher{
		path:     abs,
		poll:     5 * time.Second,
		settle:   50 * time.Millisecond,
		onChange: onChange,
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	if w.snap, err = w.read(); err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.notify = w.subscribe()

	go w.loop()
	return w, nil
}

// subscribe returns nil when file events are unavailable; polling still runs.
func (w *Watcher) subscribe() *fsnotify.Watcher {
	n, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher: polling only", "path", w.path, "err", err)
		return nil
	}
	if err := n.Add(filepath.Dir(w.path)); err != nil {
		slog.Warn("config watcher: polling only", "path", w.path, "err", err)
		_ = n.Close()
		return nil
	}
	return n
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.cfg
}

// Stop ends watching and waits for the background loop. Repeated calls are
// no-ops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		<-w.exited
		if w.notify == nil {
			return
		}
		if err := w.notify.Close(); err != nil {
			slog.Warn("config watcher: close", "err", err)
		}
	})
}

func (w *Watcher) loop() {
	defer close(w.exited)

	tick := time.NewTicker(w.poll)
	defer tick.Stop()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w.notify != nil {
		events, errs = w.notify.Events, w.notify.Errors
	}

	for {
		select {
		case <-w.quit:
			return
		case <-tick.C:
			w.refresh()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !w.touches(ev) {
				continue
			}
			select {
			case <-w.quit:
				return
			case <-time.After(w.settle):
			}
			w.refresh()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("config watcher: event error", "path", w.path, "err", err)
		}
	}
}

// touches reports whether ev may have changed the watched file's content.
func (w *Watcher) touches(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) refresh() {
	next, err := w.read()
	if err != nil {
		// A rename-in-progress briefly removes the file.
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		}
		return
	}

	w.mu.Lock()
	prev := w.snap
	if prev.sum == next.sum {
		w.mu.Unlock()
		return
	}
	w.snap = next
	w.mu.Unlock()

	slog.Info("config watcher: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

func (w *Watcher) read() (snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data)}, nil
}
