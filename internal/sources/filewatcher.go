package sources

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a file-system change.
type EventKind int

const (
	Created EventKind = iota
	Modified
	Removed
)

// FileEvent is emitted when a watched file changes.
type FileEvent struct {
	Path string
	Kind EventKind
}

// FileWatcher watches paths and delivers FileEvents to a registered
// handler. Production implementations back onto fsnotify; tests use a
// ManualWatcher instead.
type FileWatcher interface {
	Watch(path string) error
	WatchRecursive(path string) error
	Unwatch(path string) error
	WatchedPaths() []string
	SetEventHandler(handler func(FileEvent))
}

// FsnotifyWatcher is the production FileWatcher, backed by fsnotify.
type FsnotifyWatcher struct {
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	paths   map[string]bool
	handler func(FileEvent)
}

// NewFsnotifyWatcher starts the underlying fsnotify watcher and its event
// pump goroutine.
func NewFsnotifyWatcher() (*FsnotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sources: create fsnotify watcher: %w", err)
	}
	fw := &FsnotifyWatcher{watcher: w, paths: make(map[string]bool)}
	go fw.pump()
	return fw, nil
}

func (fw *FsnotifyWatcher) pump() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.dispatch(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[sources] file watch error: %v", err)
		}
	}
}

func (fw *FsnotifyWatcher) dispatch(event fsnotify.Event) {
	var kind EventKind
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = Created
	case event.Op&fsnotify.Write != 0:
		kind = Modified
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = Removed
	default:
		return
	}

	fw.mu.Lock()
	handler := fw.handler
	fw.mu.Unlock()
	if handler != nil {
		handler(FileEvent{Path: event.Name, Kind: kind})
	}
}

// Watch starts watching path non-recursively.
func (fw *FsnotifyWatcher) Watch(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("sources: watch %s: %w", path, err)
	}
	if err := fw.watcher.Add(path); err != nil {
		return fmt.Errorf("sources: watch %s: %w", path, err)
	}
	fw.mu.Lock()
	fw.paths[path] = true
	fw.mu.Unlock()
	log.Printf("[sources] watching %s", path)
	return nil
}

// WatchRecursive watches path and every subdirectory beneath it.
func (fw *FsnotifyWatcher) WatchRecursive(path string) error {
	err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fw.watcher.Add(p); err != nil {
				return err
			}
			fw.mu.Lock()
			fw.paths[p] = true
			fw.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sources: watch recursive %s: %w", path, err)
	}
	log.Printf("[sources] watching %s recursively", path)
	return nil
}

// Unwatch stops watching path.
func (fw *FsnotifyWatcher) Unwatch(path string) error {
	if err := fw.watcher.Remove(path); err != nil {
		return fmt.Errorf("sources: unwatch %s: %w", path, err)
	}
	fw.mu.Lock()
	delete(fw.paths, path)
	fw.mu.Unlock()
	log.Printf("[sources] unwatched %s", path)
	return nil
}

// WatchedPaths returns every currently watched path.
func (fw *FsnotifyWatcher) WatchedPaths() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	out := make([]string, 0, len(fw.paths))
	for p := range fw.paths {
		out = append(out, p)
	}
	return out
}

// SetEventHandler registers the callback invoked on every file event.
func (fw *FsnotifyWatcher) SetEventHandler(handler func(FileEvent)) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.handler = handler
}

// Close stops the watcher.
func (fw *FsnotifyWatcher) Close() error {
	return fw.watcher.Close()
}
