package sources

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/itskum47/relaydesk/internal/configstore"
)

type fakeLedger struct {
	enqueued []string
}

func (f *fakeLedger) Enqueue(ctx context.Context, eventType string, payload string) (string, error) {
	f.enqueued = append(f.enqueued, eventType+":"+payload)
	return "id", nil
}

type fakeSource struct {
	BaseSource
	parseCalls int
	parseErr   error
}

func (s *fakeSource) Parse(ctx context.Context) (json.RawMessage, error) {
	s.parseCalls++
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	return json.RawMessage(`{"value":1}`), nil
}

func (s *fakeSource) Preview(ctx context.Context) (Preview, error) {
	return Preview{Title: s.Name()}, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeLedger, *ManualWatcher) {
	t.Helper()
	store, err := configstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open config store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ledger := &fakeLedger{}
	watcher := NewManualWatcher()
	return NewManager(ledger, watcher, store), ledger, watcher
}

func TestRegisterSource(t *testing.T) {
	m, _, _ := newTestManager(t)
	src := &fakeSource{BaseSource: BaseSource{IDValue: "s1", NameValue: "Source One", WatchPathValue: "/tmp/s1"}}
	m.Register(src)

	got, ok := m.GetSource("s1")
	if !ok || got.Name() != "Source One" {
		t.Fatalf("unexpected source lookup: %+v %v", got, ok)
	}
}

func TestEnableStartsWatching(t *testing.T) {
	m, _, watcher := newTestManager(t)
	src := &fakeSource{BaseSource: BaseSource{IDValue: "s1", WatchPathValue: "/tmp/s1"}}
	m.Register(src)

	if err := m.Enable(context.Background(), "s1"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !m.IsEnabled("s1") {
		t.Fatal("expected s1 enabled")
	}

	found := false
	for _, p := range watcher.WatchedPaths() {
		if p == "/tmp/s1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected watcher to be watching /tmp/s1")
	}
}

func TestDisableStopsWatching(t *testing.T) {
	m, _, watcher := newTestManager(t)
	src := &fakeSource{BaseSource: BaseSource{IDValue: "s1", WatchPathValue: "/tmp/s1"}}
	m.Register(src)

	if err := m.Enable(context.Background(), "s1"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := m.Disable(context.Background(), "s1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if m.IsEnabled("s1") {
		t.Fatal("expected s1 disabled")
	}
	if len(watcher.WatchedPaths()) != 0 {
		t.Fatalf("expected no watched paths, got %v", watcher.WatchedPaths())
	}
}

func TestHandleFileEventEnqueues(t *testing.T) {
	m, ledger, _ := newTestManager(t)
	src := &fakeSource{BaseSource: BaseSource{IDValue: "s1", WatchPathValue: "/tmp/s1"}}
	m.Register(src)
	if err := m.Enable(context.Background(), "s1"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	if err := m.HandleFileEvent(context.Background(), "/tmp/s1"); err != nil {
		t.Fatalf("handle file event: %v", err)
	}
	if len(ledger.enqueued) != 1 {
		t.Fatalf("expected one enqueue, got %v", ledger.enqueued)
	}
	if src.parseCalls != 1 {
		t.Fatalf("expected one parse call, got %d", src.parseCalls)
	}
}

func TestHandleFileEventDisabledSourceIsNoop(t *testing.T) {
	m, ledger, _ := newTestManager(t)
	src := &fakeSource{BaseSource: BaseSource{IDValue: "s1", WatchPathValue: "/tmp/s1"}}
	m.Register(src)

	if err := m.HandleFileEvent(context.Background(), "/tmp/s1"); err != nil {
		t.Fatalf("handle file event: %v", err)
	}
	if len(ledger.enqueued) != 0 {
		t.Fatalf("expected no enqueue for disabled source, got %v", ledger.enqueued)
	}
	if src.parseCalls != 0 {
		t.Fatal("expected parse not called for disabled source")
	}
}

func TestHandleFileEventUnknownPath(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.HandleFileEvent(context.Background(), "/tmp/unknown")
	if !errors.Is(err, ErrUnknownPath) {
		t.Fatalf("expected ErrUnknownPath, got %v", err)
	}
}

func TestListSources(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.Register(&fakeSource{BaseSource: BaseSource{IDValue: "s1", NameValue: "One"}})
	m.Register(&fakeSource{BaseSource: BaseSource{IDValue: "s2", NameValue: "Two"}})
	m.Enable(context.Background(), "s1")

	list := m.ListSources()
	if len(list) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(list))
	}
	for _, info := range list {
		if info.ID == "s1" && !info.Enabled {
			t.Fatal("expected s1 enabled in listing")
		}
		if info.ID == "s2" && info.Enabled {
			t.Fatal("expected s2 disabled in listing")
		}
	}
}

func TestEnableNonexistentSourceFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Enable(context.Background(), "ghost")
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestRestoreEnabled(t *testing.T) {
	m, _, watcher := newTestManager(t)
	src1 := &fakeSource{BaseSource: BaseSource{IDValue: "s1", WatchPathValue: "/tmp/s1"}}
	src2 := &fakeSource{BaseSource: BaseSource{IDValue: "s2", WatchPathValue: "/tmp/s2"}}
	m.Register(src1)
	m.Register(src2)

	if err := m.Enable(context.Background(), "s1"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	fresh, _, _ := newTestManagerSharingConfig(t, m, watcher)
	fresh.Register(&fakeSource{BaseSource: BaseSource{IDValue: "s1", WatchPathValue: "/tmp/s1"}})
	fresh.Register(&fakeSource{BaseSource: BaseSource{IDValue: "s2", WatchPathValue: "/tmp/s2"}})

	restored := fresh.RestoreEnabled(context.Background())
	if len(restored) != 1 || restored[0] != "s1" {
		t.Fatalf("expected only s1 restored, got %v", restored)
	}
	if !fresh.IsEnabled("s1") || fresh.IsEnabled("s2") {
		t.Fatal("unexpected restored enabled state")
	}
}

// newTestManagerSharingConfig builds a second Manager reusing the same
// config store as m, simulating a process restart where persisted
// enabled-state survives but in-memory state does not.
func newTestManagerSharingConfig(t *testing.T, m *Manager, _ *ManualWatcher) (*Manager, *fakeLedger, *ManualWatcher) {
	t.Helper()
	ledger := &fakeLedger{}
	watcher := NewManualWatcher()
	return NewManager(ledger, watcher, m.config), ledger, watcher
}
