package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	selfWriteIgnoreWindow  = time.Second
	ignoreSweepInterval    = 15 * time.Second
	watchEventBuffer       = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// FilterFunc returns true when an event path should be dropped before
// debouncing.
type FilterFunc func(absPath string) bool

// FileWatcher turns raw inotify-style events into debounced per-path
// notifications. Paths the consumer writes itself are suppressed once via
// IgnoreOnce so the engine does not chase its own writes.
type FileWatcher struct {
	watchDir string
	raw      chan notify.EventInfo
	events   chan notify.EventInfo
	filter   FilterFunc

	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	debounceMu      sync.Mutex
	pending         map[string]notify.EventInfo
	timers          map[string]*time.Timer
	debounceTimeout time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		pending:         make(map[string]notify.EventInfo),
		timers:          make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
		done:            make(chan struct{}),
	}
}

// SetDebounceTimeout overrides the per-path debounce window.
func (fw *FileWatcher) SetDebounceTimeout(d time.Duration) {
	fw.debounceTimeout = d
}

// SetFilter installs the pre-debounce path filter.
func (fw *FileWatcher) SetFilter(filter FilterFunc) {
	fw.filter = filter
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.raw = make(chan notify.EventInfo, watchEventBuffer)
	fw.events = make(chan notify.EventInfo, watchEventBuffer)

	// writes, creates, removes and renames all matter for sync; on linux a
	// single file write arrives as a burst of events, hence the debounce
	err := notify.Watch(fw.watchDir+"/...", fw.raw, notify.Write|notify.Create|notify.Remove|notify.Rename)
	if err != nil {
		return err
	}

	fw.wg.Add(2)
	go fw.pump(ctx)
	go fw.sweepIgnored(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	close(fw.done)
	if fw.raw != nil {
		notify.Stop(fw.raw)
	}
	fw.wg.Wait()
	slog.Info("file watcher stopped")
}

// Events delivers debounced events. The channel closes on Stop.
func (fw *FileWatcher) Events() <-chan notify.EventInfo {
	return fw.events
}

// IgnoreOnce suppresses the next event for an absolute path, for writes the
// sync engine performs itself. The suppression expires after a short window.
func (fw *FileWatcher) IgnoreOnce(absPath string) {
	fw.ignoreMu.Lock()
	fw.ignore[absPath] = time.Now().Add(selfWriteIgnoreWindow)
	fw.ignoreMu.Unlock()
}

func (fw *FileWatcher) consumeIgnored(absPath string) bool {
	fw.ignoreMu.Lock()
	defer fw.ignoreMu.Unlock()

	expiry, ok := fw.ignore[absPath]
	if !ok {
		return false
	}
	delete(fw.ignore, absPath)
	return time.Now().Before(expiry)
}

func (fw *FileWatcher) pump(ctx context.Context) {
	defer func() {
		fw.debounceMu.Lock()
		for path, timer := range fw.timers {
			timer.Stop()
			if event, ok := fw.pending[path]; ok {
				select {
				case fw.events <- event:
				default:
					slog.Warn("file watcher dropped pending event on exit", "path", path)
				}
			}
		}
		fw.debounceMu.Unlock()

		fw.wg.Done()
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.raw:
			if !ok {
				return
			}
			if fw.filter != nil && fw.filter(event.Path()) {
				continue
			}
			fw.debounce(event)
		}
	}
}

func (fw *FileWatcher) debounce(event notify.EventInfo) {
	path := event.Path()

	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if timer, ok := fw.timers[path]; ok {
		timer.Stop()
	}
	fw.pending[path] = event
	fw.timers[path] = time.AfterFunc(fw.debounceTimeout, func() {
		fw.flush(path)
	})
}

func (fw *FileWatcher) flush(path string) {
	fw.debounceMu.Lock()
	event, ok := fw.pending[path]
	delete(fw.pending, path)
	delete(fw.timers, path)
	fw.debounceMu.Unlock()
	if !ok {
		return
	}

	// self-writes are consumed here, after debouncing, so the whole burst
	// of a single write collapses into one suppressed event
	if fw.consumeIgnored(path) {
		return
	}

	select {
	case fw.events <- event:
		slog.Debug("file watcher", "event", event.Event(), "path", path)
	default:
		slog.Warn("file watcher dropped", "reason", "channel full", "path", path)
	}
}

func (fw *FileWatcher) sweepIgnored(ctx context.Context) {
	defer fw.wg.Done()

	ticker := time.NewTicker(ignoreSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case <-ticker.C:
			fw.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range fw.ignore {
				if now.After(expiry) {
					delete(fw.ignore, path)
				}
			}
			fw.ignoreMu.Unlock()
		}
	}
}
