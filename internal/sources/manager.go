package sources

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/itskum47/relaydesk/internal/configstore"
)

// ErrSourceNotFound is returned when an operation references an
// unregistered source id.
var ErrSourceNotFound = errors.New("sources: source not found")

// ErrUnknownPath is returned by HandleFileEvent for a path not registered
// by any source's WatchPath.
var ErrUnknownPath = errors.New("sources: unknown watched path")

// Ledger is the narrow enqueue capability SourceManager needs from
// internal/ledgerstore.
type Ledger interface {
	Enqueue(ctx context.Context, eventType string, payload string) (string, error)
}

// Info describes one registered source's current state, for UI listings.
type Info struct {
	ID        string
	Name      string
	Enabled   bool
	WatchPath string
}

// Manager is SourceManager: the registry mapping source_id to capability,
// the enabled set, and the path→source index used to route file events.
type Manager struct {
	mu           sync.Mutex
	sources      map[string]Source
	enabled      map[string]bool
	pathToSource map[string]string

	ledger  Ledger
	watcher FileWatcher
	config  *configstore.Store
}

// NewManager wires a SourceManager over the given ledger, file watcher,
// and config store.
func NewManager(ledger Ledger, watcher FileWatcher, config *configstore.Store) *Manager {
	m := &Manager{
		sources:      make(map[string]Source),
		enabled:      make(map[string]bool),
		pathToSource: make(map[string]string),
		ledger:       ledger,
		watcher:      watcher,
		config:       config,
	}
	watcher.SetEventHandler(func(evt FileEvent) {
		if err := m.HandleFileEvent(context.Background(), evt.Path); err != nil && !errors.Is(err, ErrUnknownPath) {
			log.Printf("[sources] handling file event for %s: %v", evt.Path, err)
		}
	})
	return m
}

// Register adds source to the registry and indexes its watch path.
func (m *Manager) Register(source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := source.ID()
	if path := source.WatchPath(); path != "" {
		m.pathToSource[path] = id
	}
	m.sources[id] = source
}

// Enable starts watching sourceID's path (if any) and marks it enabled.
func (m *Manager) Enable(ctx context.Context, sourceID string) error {
	m.mu.Lock()
	source, ok := m.sources[sourceID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}

	if path := source.WatchPath(); path != "" {
		var err error
		if source.WatchRecursive() {
			err = m.watcher.WatchRecursive(path)
		} else {
			err = m.watcher.Watch(path)
		}
		if err != nil {
			return fmt.Errorf("sources: enable %s: %w", sourceID, err)
		}
	}

	m.mu.Lock()
	m.enabled[sourceID] = true
	m.mu.Unlock()
	if err := m.config.Set(ctx, fmt.Sprintf("source.%s.enabled", sourceID), "true"); err != nil {
		log.Printf("[sources] failed to persist enabled state for %s: %v", sourceID, err)
	}
	log.Printf("[sources] enabled %s", sourceID)
	return nil
}

// Disable stops watching sourceID's path (if any) and marks it disabled.
func (m *Manager) Disable(ctx context.Context, sourceID string) error {
	m.mu.Lock()
	source, ok := m.sources[sourceID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}

	if path := source.WatchPath(); path != "" {
		if err := m.watcher.Unwatch(path); err != nil {
			return fmt.Errorf("sources: disable %s: %w", sourceID, err)
		}
	}

	m.mu.Lock()
	delete(m.enabled, sourceID)
	m.mu.Unlock()
	if err := m.config.Set(ctx, fmt.Sprintf("source.%s.enabled", sourceID), "false"); err != nil {
		log.Printf("[sources] failed to persist disabled state for %s: %v", sourceID, err)
	}
	log.Printf("[sources] disabled %s", sourceID)
	return nil
}

// IsEnabled reports whether sourceID is currently enabled.
func (m *Manager) IsEnabled(sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[sourceID]
}

// HandleFileEvent looks up the source registered for path, and if it is
// enabled, parses and enqueues a payload. Unknown paths return
// ErrUnknownPath; disabled sources are a silent no-op, matching spec.md
// §4.J and §7's propagation policy.
func (m *Manager) HandleFileEvent(ctx context.Context, path string) error {
	m.mu.Lock()
	sourceID, ok := m.pathToSource[path]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}

	if !m.IsEnabled(sourceID) {
		return nil
	}

	m.mu.Lock()
	source := m.sources[sourceID]
	m.mu.Unlock()

	payload, err := source.Parse(ctx)
	if err != nil {
		log.Printf("[sources] parse error for %s: %v", sourceID, err)
		return nil
	}

	if _, err := m.ledger.Enqueue(ctx, sourceID, string(payload)); err != nil {
		log.Printf("[sources] enqueue error for %s: %v", sourceID, err)
		return nil
	}
	log.Printf("[sources] enqueued delivery from %s", sourceID)
	return nil
}

// GetSource looks up a registered source by id, for preview commands.
func (m *Manager) GetSource(id string) (Source, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	return s, ok
}

// ListSources returns every registered source with its enabled state.
func (m *Manager) ListSources() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sources))
	for id, s := range m.sources {
		out = append(out, Info{
			ID:        id,
			Name:      s.Name(),
			Enabled:   m.enabled[id],
			WatchPath: s.WatchPath(),
		})
	}
	return out
}

// RestoreEnabled re-enables every source whose persisted config flag is
// true; call once at startup.
func (m *Manager) RestoreEnabled(ctx context.Context) []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var restored []string
	for _, id := range ids {
		enabled, err := m.config.GetBool(ctx, fmt.Sprintf("source.%s.enabled", id))
		if err != nil || !enabled {
			continue
		}
		if err := m.Enable(ctx, id); err == nil {
			restored = append(restored, id)
		}
	}
	return restored
}
