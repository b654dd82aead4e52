package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"formcoach/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// CorpusWatcher watches a corpus directory for YAML changes and reloads the
// knowledge categories into the store. Edits are debounced so a burst of
// rapid saves triggers a single reload.
type CorpusWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	store       *LocalStore
	corpusDir   string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats CorpusWatcherStats
}

// CorpusWatcherStats tracks watcher activity for debugging.
type CorpusWatcherStats struct {
	FilesCreated     int
	FilesModified    int
	FilesDeleted     int
	ReloadsTriggered int
	Errors           int
	LastEventTime    time.Time
	LastEventPath    string
	LastEventType    string
}

// NewCorpusWatcher creates a watcher over the given corpus directory.
func NewCorpusWatcher(corpusDir string, store *LocalStore) (*CorpusWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &CorpusWatcher{
		watcher:     watcher,
		store:       store,
		corpusDir:   corpusDir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Debounce rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching the corpus directory.
// This method is non-blocking; it starts the watcher in a goroutine.
func (cw *CorpusWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	if cw.running {
		cw.mu.Unlock()
		return nil // Already running
	}
	cw.running = true
	cw.mu.Unlock()

	if err := os.MkdirAll(cw.corpusDir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Warn("CorpusWatcher: failed to create corpus dir %s: %v (continuing anyway)", cw.corpusDir, err)
	}

	if err := cw.watcher.Add(cw.corpusDir); err != nil {
		// Directory may not exist yet - that's OK, the operator can create it later
		logging.Get(logging.CategoryStore).Warn("CorpusWatcher: initial watch failed: %v", err)
	} else {
		logging.Store("CorpusWatcher: watching directory: %s", cw.corpusDir)
	}

	go cw.run(ctx)

	return nil
}

// Stop stops the watcher and waits for cleanup.
func (cw *CorpusWatcher) Stop() {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.stopCh)
	<-cw.doneCh

	if err := cw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryStore).Error("CorpusWatcher: error closing watcher: %v", err)
	}
	logging.Store("CorpusWatcher: stopped")
}

// run is the main event loop for the watcher.
func (cw *CorpusWatcher) run(ctx context.Context) {
	defer close(cw.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Store("CorpusWatcher: context cancelled")
			return

		case <-cw.stopCh:
			logging.StoreDebug("CorpusWatcher: stop signal received")
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				logging.Store("CorpusWatcher: event channel closed")
				return
			}
			cw.handleEvent(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				logging.Store("CorpusWatcher: error channel closed")
				return
			}
			logging.Get(logging.CategoryStore).Error("CorpusWatcher error: %v", err)
			cw.mu.Lock()
			cw.stats.Errors++
			cw.mu.Unlock()

		case <-debounceTicker.C:
			cw.processDebouncedEvents(ctx)
		}
	}
}

// handleEvent records a single filesystem event for debounced processing.
func (cw *CorpusWatcher) handleEvent(event fsnotify.Event) {
	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".yaml" && ext != ".yml" {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return // Ignore chmod, etc.
	}

	logging.StoreDebug("CorpusWatcher: %s event for %s", eventType, event.Name)

	cw.mu.Lock()
	cw.stats.LastEventTime = time.Now()
	cw.stats.LastEventPath = event.Name
	cw.stats.LastEventType = eventType

	switch eventType {
	case "create":
		cw.stats.FilesCreated++
	case "modify":
		cw.stats.FilesModified++
	case "delete", "rename":
		cw.stats.FilesDeleted++
	}

	cw.debounceMap[event.Name] = time.Now()
	cw.mu.Unlock()
}

// processDebouncedEvents reloads the corpus once all pending events have
// settled past the debounce window. The reload covers the whole directory
// because a category may be split across files; reloading only the changed
// file would wipe its siblings' atoms on ReplaceCategory.
func (cw *CorpusWatcher) processDebouncedEvents(ctx context.Context) {
	cw.mu.Lock()
	if len(cw.debounceMap) == 0 {
		cw.mu.Unlock()
		return
	}
	now := time.Now()
	settled := true
	for _, eventTime := range cw.debounceMap {
		if now.Sub(eventTime) < cw.debounceDur {
			settled = false
			break
		}
	}
	if !settled {
		cw.mu.Unlock()
		return
	}
	cw.debounceMap = make(map[string]time.Time)
	cw.stats.ReloadsTriggered++
	cw.mu.Unlock()

	if _, err := cw.store.LoadCorpusDir(ctx, cw.corpusDir); err != nil {
		logging.Get(logging.CategoryStore).Error("CorpusWatcher: reload failed: %v", err)
		cw.mu.Lock()
		cw.stats.Errors++
		cw.mu.Unlock()
	}
}

// TriggerReload manually reloads the corpus directory. Useful at startup.
func (cw *CorpusWatcher) TriggerReload(ctx context.Context) error {
	logging.Store("CorpusWatcher: manual reload triggered")
	_, err := cw.store.LoadCorpusDir(ctx, cw.corpusDir)
	if err == nil {
		cw.mu.Lock()
		cw.stats.ReloadsTriggered++
		cw.mu.Unlock()
	}
	return err
}

// GetStats returns the current watcher statistics.
func (cw *CorpusWatcher) GetStats() CorpusWatcherStats {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.stats
}

// IsWatching returns true if the watcher is currently running.
func (cw *CorpusWatcher) IsWatching() bool {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.running
}
