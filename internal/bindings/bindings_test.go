package bindings

import (
	"context"
	"testing"

	"github.com/itskum47/relaydesk/internal/configstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	cfg, err := configstore.OpenInMemory()
	if err != nil {
		t.Fatalf("configstore: %v", err)
	}
	t.Cleanup(func() { cfg.Close() })
	return New(cfg)
}

func testBinding(sourceID, endpointID string) *Binding {
	return &Binding{
		SourceID:     sourceID,
		TargetID:     "t1",
		EndpointID:   endpointID,
		EndpointURL:  "https://example.com/webhook",
		EndpointName: "Test Endpoint",
		CreatedAt:    1000,
		Active:       true,
		DeliveryMode: OnChange,
	}
}

func TestSaveAndRetrieveBinding(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	b := testBinding("claude-stats", "wf1:Webhook")
	b.EndpointURL = "https://flow.example.com/webhook/analytics"
	if err := s.Save(ctx, b); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetForSource(ctx, "claude-stats")
	if err != nil {
		t.Fatalf("get_for_source: %v", err)
	}
	if len(got) != 1 || got[0].EndpointURL != b.EndpointURL {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestRemoveBinding(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Save(ctx, testBinding("claude-stats", "wf1:Webhook"))
	if err := s.Remove(ctx, "claude-stats", "wf1:Webhook"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	got, _ := s.GetForSource(ctx, "claude-stats")
	if len(got) != 0 {
		t.Fatalf("expected empty, got %+v", got)
	}
}

func TestListAllBindings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Save(ctx, testBinding("claude-stats", "ep1"))
	s.Save(ctx, testBinding("claude-sessions", "ep2"))

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("list_all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2, got %d", len(all))
	}
}

func TestInactiveBindingsExcluded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	inactive := testBinding("claude-stats", "ep1")
	inactive.Active = false
	s.Save(ctx, inactive)
	s.Save(ctx, testBinding("claude-stats", "ep2"))

	got, _ := s.GetForSource(ctx, "claude-stats")
	if len(got) != 1 || got[0].EndpointID != "ep2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestBindingWithHeadersJSONRoundTrips(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	encoded, err := EncodeHeaders([]Header{
		{Name: "Authorization", Value: ""},
		{Name: "X-Custom", Value: "value"},
	})
	if err != nil {
		t.Fatalf("encode headers: %v", err)
	}
	b := testBinding("claude-stats", "ep1")
	b.HeadersJSON = &encoded
	key := "binding:claude-stats:ep1"
	b.AuthCredentialKey = &key
	s.Save(ctx, b)

	loaded, _ := s.GetForSource(ctx, "claude-stats")
	if len(loaded) != 1 {
		t.Fatalf("expected 1, got %d", len(loaded))
	}
	if loaded[0].AuthCredentialKey == nil || *loaded[0].AuthCredentialKey != key {
		t.Fatalf("unexpected credential key: %+v", loaded[0])
	}

	headers, err := loaded[0].Headers()
	if err != nil {
		t.Fatalf("parse headers: %v", err)
	}
	if len(headers) != 2 || headers[0].Name != "Authorization" || headers[1].Value != "value" {
		t.Fatalf("unexpected headers: %+v", headers)
	}
}

func TestBindingWithoutNewFieldsDeserializes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	raw := `{
		"source_id": "claude-stats",
		"target_id": "t1",
		"endpoint_id": "ep1",
		"endpoint_url": "https://example.com/webhook",
		"endpoint_name": "Test",
		"created_at": 1000,
		"active": true
	}`
	s.config.Set(ctx, key("claude-stats", "ep1"), raw)

	got, err := s.GetForSource(ctx, "claude-stats")
	if err != nil {
		t.Fatalf("get_for_source: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1, got %d", len(got))
	}
	if got[0].HeadersJSON != nil || got[0].AuthCredentialKey != nil {
		t.Fatalf("expected absent optional fields, got %+v", got[0])
	}
	if got[0].DeliveryMode != OnChange {
		t.Fatalf("expected default on_change, got %q", got[0].DeliveryMode)
	}
}

func TestGetScheduledBindings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	onChange := testBinding("src", "ep1")
	daily := testBinding("src", "ep2")
	daily.DeliveryMode = Daily
	st := "09:00"
	daily.ScheduleTime = &st

	s.Save(ctx, onChange)
	s.Save(ctx, daily)

	scheduled, err := s.GetScheduledBindings(ctx)
	if err != nil {
		t.Fatalf("get_scheduled_bindings: %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].EndpointID != "ep2" {
		t.Fatalf("unexpected result: %+v", scheduled)
	}
}

func TestUpdateLastScheduled(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	b := testBinding("src", "ep1")
	b.DeliveryMode = Daily
	s.Save(ctx, b)

	if err := s.UpdateLastScheduled(ctx, "src", "ep1", 12345); err != nil {
		t.Fatalf("update_last_scheduled: %v", err)
	}

	got, _ := s.GetForSource(ctx, "src")
	if len(got) != 1 || got[0].LastScheduledAt == nil || *got[0].LastScheduledAt != 12345 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	s.Save(ctx, testBinding("src", "ep1"))
	s.Save(ctx, testBinding("src", "ep2"))

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}
