package sources

import "sync"

// ManualWatcher is a test double for FileWatcher: watch/unwatch just track
// state, and tests call Emit directly to simulate a file-system event.
type ManualWatcher struct {
	mu      sync.Mutex
	paths   map[string]bool
	handler func(FileEvent)
}

// NewManualWatcher returns an empty ManualWatcher.
func NewManualWatcher() *ManualWatcher {
	return &ManualWatcher{paths: make(map[string]bool)}
}

func (m *ManualWatcher) Watch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[path] = true
	return nil
}

func (m *ManualWatcher) WatchRecursive(path string) error {
	return m.Watch(path)
}

func (m *ManualWatcher) Unwatch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.paths, path)
	return nil
}

func (m *ManualWatcher) WatchedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.paths))
	for p := range m.paths {
		out = append(out, p)
	}
	return out
}

func (m *ManualWatcher) SetEventHandler(handler func(FileEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Emit simulates a file-system event for path.
func (m *ManualWatcher) Emit(path string, kind EventKind) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(FileEvent{Path: path, Kind: kind})
	}
}
