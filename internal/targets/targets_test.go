package targets

import (
	"context"
	"encoding/json"
	"testing"
)

type fakeTarget struct {
	BaseTarget
	deliverHandled bool
}

func (f *fakeTarget) TestConnection(context.Context) (Info, error) {
	return Info{ID: f.ID(), Connected: true}, nil
}

func (f *fakeTarget) ListEndpoints(context.Context) ([]Endpoint, error) {
	return nil, nil
}

func (f *fakeTarget) Deliver(context.Context, string, json.RawMessage, string, CredentialReader) (bool, error) {
	return f.deliverHandled, nil
}

func TestRegisterAndGet(t *testing.T) {
	m := NewManager()
	target := &fakeTarget{BaseTarget: BaseTarget{IDValue: "t1", NameValue: "Target One"}}
	m.Register(target)

	got, ok := m.Get("t1")
	if !ok || got.Name() != "Target One" {
		t.Fatalf("unexpected get result: %+v, %v", got, ok)
	}
}

func TestListAndRemove(t *testing.T) {
	m := NewManager()
	m.Register(&fakeTarget{BaseTarget: BaseTarget{IDValue: "t1"}})
	m.Register(&fakeTarget{BaseTarget: BaseTarget{IDValue: "t2"}})

	if len(m.List()) != 2 {
		t.Fatalf("expected 2 targets")
	}
	m.Remove("t1")
	if _, ok := m.Get("t1"); ok {
		t.Fatal("expected t1 removed")
	}
	if len(m.List()) != 1 {
		t.Fatalf("expected 1 target remaining")
	}
}

func TestBaseTargetDefaultDeliverReturnsFalse(t *testing.T) {
	var b BaseTarget
	handled, err := b.Deliver(context.Background(), "ep", nil, "evt", nil)
	if err != nil || handled {
		t.Fatalf("expected (false, nil), got (%v, %v)", handled, err)
	}
}

func TestNativeDeliverHandled(t *testing.T) {
	target := &fakeTarget{BaseTarget: BaseTarget{IDValue: "sheet"}, deliverHandled: true}
	handled, err := target.Deliver(context.Background(), "ep", json.RawMessage(`{}`), "src", nil)
	if err != nil || !handled {
		t.Fatalf("expected handled delivery, got (%v, %v)", handled, err)
	}
}
