package schedule

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/itskum47/relaydesk/internal/bindings"
)

type fakeLedger struct {
	enqueued       []string
	attemptedTargets map[string]string
}

func (f *fakeLedger) EnqueueTargeted(ctx context.Context, eventType, payload, endpointID string) (string, error) {
	f.enqueued = append(f.enqueued, eventType+":"+endpointID)
	return "evt-1", nil
}

func (f *fakeLedger) SetAttemptedTarget(ctx context.Context, eventID, deliveredTo string) error {
	if f.attemptedTargets == nil {
		f.attemptedTargets = make(map[string]string)
	}
	f.attemptedTargets[eventID] = deliveredTo
	return nil
}

type fakeBindingLookup struct {
	scheduled      []bindings.Binding
	lastScheduled  map[string]int64
}

func (f *fakeBindingLookup) GetScheduledBindings(ctx context.Context) ([]bindings.Binding, error) {
	return f.scheduled, nil
}

func (f *fakeBindingLookup) UpdateLastScheduled(ctx context.Context, sourceID, endpointID string, ts int64) error {
	if f.lastScheduled == nil {
		f.lastScheduled = make(map[string]int64)
	}
	f.lastScheduled[sourceID+"/"+endpointID] = ts
	return nil
}

type fakeSource struct{ parseCalls int }

func (s *fakeSource) Parse(ctx context.Context) (json.RawMessage, error) {
	s.parseCalls++
	return json.RawMessage(`{"n":1}`), nil
}

type fakeSourceLookup struct {
	enabled map[string]bool
	source  *fakeSource
}

func (f *fakeSourceLookup) IsEnabled(sourceID string) bool { return f.enabled[sourceID] }
func (f *fakeSourceLookup) GetSource(id string) (Source, bool) {
	if f.source == nil {
		return nil, false
	}
	return f.source, true
}

type fakeTargetLookup struct{}

func (fakeTargetLookup) Lookup(targetID string) (TargetInfo, bool) {
	return TargetInfo{TargetType: "webhook", BaseURL: "https://example.com"}, true
}

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }

func makeBinding(mode bindings.DeliveryMode, scheduleTime string, day *string, last *int64) bindings.Binding {
	return bindings.Binding{
		SourceID:        "test-source",
		TargetID:        "t1",
		EndpointID:      "ep1",
		EndpointURL:     "https://example.com",
		EndpointName:    "Test",
		Active:          true,
		DeliveryMode:    mode,
		ScheduleTime:    strPtr(scheduleTime),
		ScheduleDay:     day,
		LastScheduledAt: last,
	}
}

func TestDailyIsDueAfterTargetTime(t *testing.T) {
	b := makeBinding(bindings.Daily, "09:00", nil, nil)
	now := time.Date(2026, 2, 10, 9, 30, 0, 0, time.Local)
	if !isDue(b, now) {
		t.Fatal("expected due")
	}
}

func TestDailyNotDueBeforeTargetTime(t *testing.T) {
	b := makeBinding(bindings.Daily, "09:00", nil, nil)
	now := time.Date(2026, 2, 10, 8, 59, 0, 0, time.Local)
	if isDue(b, now) {
		t.Fatal("expected not due")
	}
}

func TestDailyNotDueAlreadyDeliveredToday(t *testing.T) {
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.Local)
	targetTS := time.Date(2026, 2, 10, 9, 5, 0, 0, time.Local).Unix()
	b := makeBinding(bindings.Daily, "09:00", nil, i64Ptr(targetTS))
	if isDue(b, now) {
		t.Fatal("expected not due, already delivered today")
	}
}

func TestWeeklyIsDueCorrectDay(t *testing.T) {
	// 2026-02-10 is a Tuesday.
	b := makeBinding(bindings.Weekly, "09:00", strPtr("tuesday"), nil)
	now := time.Date(2026, 2, 10, 9, 30, 0, 0, time.Local)
	if !isDue(b, now) {
		t.Fatal("expected due")
	}
}

func TestWeeklyNotDueWrongDay(t *testing.T) {
	b := makeBinding(bindings.Weekly, "09:00", strPtr("monday"), nil)
	now := time.Date(2026, 2, 10, 9, 30, 0, 0, time.Local)
	if isDue(b, now) {
		t.Fatal("expected not due, wrong weekday")
	}
}

func TestMissingScheduleTimeNotDue(t *testing.T) {
	b := makeBinding(bindings.Daily, "09:00", nil, nil)
	b.ScheduleTime = nil
	now := time.Date(2026, 2, 10, 10, 0, 0, 0, time.Local)
	if isDue(b, now) {
		t.Fatal("expected not due without schedule_time")
	}
}

func TestParseWeekday(t *testing.T) {
	cases := []struct {
		in   string
		want time.Weekday
		ok   bool
	}{
		{"monday", time.Monday, true},
		{"TUESDAY", time.Tuesday, true},
		{"Sunday", time.Sunday, true},
		{"invalid", 0, false},
	}
	for _, c := range cases {
		got, ok := parseWeekday(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Fatalf("parseWeekday(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestTickEnqueuesDueBinding(t *testing.T) {
	b := makeBinding(bindings.Daily, "09:00", nil, nil)
	fixedNow := time.Date(2026, 2, 10, 9, 30, 0, 0, time.Local)

	ledger := &fakeLedger{}
	bindingStore := &fakeBindingLookup{scheduled: []bindings.Binding{b}}
	src := &fakeSource{}
	sources := &fakeSourceLookup{enabled: map[string]bool{"test-source": true}, source: src}

	w := New(ledger, bindingStore, sources, fakeTargetLookup{}, func() time.Time { return fixedNow })
	w.Tick(context.Background())

	if len(ledger.enqueued) != 1 {
		t.Fatalf("expected 1 enqueue, got %v", ledger.enqueued)
	}
	if src.parseCalls != 1 {
		t.Fatalf("expected source parsed once, got %d", src.parseCalls)
	}
	if bindingStore.lastScheduled["test-source/ep1"] != fixedNow.Unix() {
		t.Fatal("expected last_scheduled_at updated")
	}
}

func TestTickSkipsDisabledSource(t *testing.T) {
	b := makeBinding(bindings.Daily, "09:00", nil, nil)
	fixedNow := time.Date(2026, 2, 10, 9, 30, 0, 0, time.Local)

	ledger := &fakeLedger{}
	bindingStore := &fakeBindingLookup{scheduled: []bindings.Binding{b}}
	sources := &fakeSourceLookup{enabled: map[string]bool{}}

	w := New(ledger, bindingStore, sources, fakeTargetLookup{}, func() time.Time { return fixedNow })
	w.Tick(context.Background())

	if len(ledger.enqueued) != 0 {
		t.Fatalf("expected no enqueue for disabled source, got %v", ledger.enqueued)
	}
}

func TestTickSkipsNotYetDueBinding(t *testing.T) {
	b := makeBinding(bindings.Daily, "09:00", nil, nil)
	fixedNow := time.Date(2026, 2, 10, 8, 0, 0, 0, time.Local)

	ledger := &fakeLedger{}
	bindingStore := &fakeBindingLookup{scheduled: []bindings.Binding{b}}
	sources := &fakeSourceLookup{enabled: map[string]bool{"test-source": true}, source: &fakeSource{}}

	w := New(ledger, bindingStore, sources, fakeTargetLookup{}, func() time.Time { return fixedNow })
	w.Tick(context.Background())

	if len(ledger.enqueued) != 0 {
		t.Fatalf("expected no enqueue before target time, got %v", ledger.enqueued)
	}
}
