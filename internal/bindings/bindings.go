// Package bindings implements BindingStore, the routing-rule registry that
// connects a source to a target endpoint.
package bindings

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/itskum47/relaydesk/internal/configstore"
)

// DeliveryMode is how a binding decides when to fire.
type DeliveryMode string

const (
	OnChange DeliveryMode = "on_change"
	Daily    DeliveryMode = "daily"
	Weekly   DeliveryMode = "weekly"
)

// Header is one (name, value) pair in a binding's ordered header list. At
// most one entry's Value is the empty string — the substitution slot for
// AuthCredentialKey (see internal/router).
type Header struct {
	Name  string
	Value string
}

// headerPair is the wire shape: a 2-tuple, matching the original's
// Vec<(String, String)> serialization.
type headerPair [2]string

// Binding is one routing rule (source → endpoint).
type Binding struct {
	SourceID          string       `json:"source_id"`
	TargetID          string       `json:"target_id"`
	EndpointID        string       `json:"endpoint_id"`
	EndpointURL       string       `json:"endpoint_url"`
	EndpointName      string       `json:"endpoint_name"`
	CreatedAt         int64        `json:"created_at"`
	Active            bool         `json:"active"`
	HeadersJSON       *string      `json:"headers_json,omitempty"`
	AuthCredentialKey *string      `json:"auth_credential_key,omitempty"`
	DeliveryMode      DeliveryMode `json:"delivery_mode,omitempty"`
	ScheduleTime      *string      `json:"schedule_time,omitempty"`
	ScheduleDay       *string      `json:"schedule_day,omitempty"`
	LastScheduledAt   *int64       `json:"last_scheduled_at,omitempty"`
}

// Headers parses HeadersJSON into an ordered header list, or nil if absent
// or empty.
func (b *Binding) Headers() ([]Header, error) {
	if b.HeadersJSON == nil || *b.HeadersJSON == "" {
		return nil, nil
	}
	var pairs []headerPair
	if err := json.Unmarshal([]byte(*b.HeadersJSON), &pairs); err != nil {
		return nil, fmt.Errorf("bindings: parse headers_json: %w", err)
	}
	out := make([]Header, len(pairs))
	for i, p := range pairs {
		out[i] = Header{Name: p[0], Value: p[1]}
	}
	return out, nil
}

// EncodeHeaders serializes a header list back to the wire format.
func EncodeHeaders(headers []Header) (string, error) {
	pairs := make([]headerPair, len(headers))
	for i, h := range headers {
		pairs[i] = headerPair{h.Name, h.Value}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("bindings: encode headers: %w", err)
	}
	return string(data), nil
}

// BuildDeliveredToJSON produces a delivered_to blob from the binding alone,
// with TargetID as target_type and EndpointURL as base_url. ScheduledWorker
// does not call it; it builds its own blob from the registered target.
func (b *Binding) BuildDeliveredToJSON() string {
	data, _ := json.Marshal(struct {
		TargetType string `json:"target_type"`
		BaseURL    string `json:"base_url"`
	}{TargetType: b.TargetID, BaseURL: b.EndpointURL})
	return string(data)
}

func key(sourceID, endpointID string) string {
	return fmt.Sprintf("binding.%s.%s", sourceID, endpointID)
}

// Store is BindingStore: a thin façade over ConfigStore.
type Store struct {
	config *configstore.Store
}

// New wraps an existing ConfigStore.
func New(config *configstore.Store) *Store {
	return &Store{config: config}
}

// Save serializes and upserts binding at binding.<source>.<endpoint>.
func (s *Store) Save(ctx context.Context, b *Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("bindings: marshal: %w", err)
	}
	if err := s.config.Set(ctx, key(b.SourceID, b.EndpointID), string(data)); err != nil {
		return fmt.Errorf("bindings: save: %w", err)
	}
	return nil
}

// Remove deletes the binding for (sourceID, endpointID).
func (s *Store) Remove(ctx context.Context, sourceID, endpointID string) error {
	if err := s.config.Delete(ctx, key(sourceID, endpointID)); err != nil {
		return fmt.Errorf("bindings: remove: %w", err)
	}
	return nil
}

// GetForSource returns every active binding registered for sourceID.
func (s *Store) GetForSource(ctx context.Context, sourceID string) ([]Binding, error) {
	entries, err := s.config.GetByPrefix(ctx, fmt.Sprintf("binding.%s.", sourceID))
	if err != nil {
		return nil, fmt.Errorf("bindings: get_for_source: %w", err)
	}
	return decodeActive(entries), nil
}

// ListAll returns every active binding across all sources.
func (s *Store) ListAll(ctx context.Context) ([]Binding, error) {
	entries, err := s.config.GetByPrefix(ctx, "binding.")
	if err != nil {
		return nil, fmt.Errorf("bindings: list_all: %w", err)
	}
	return decodeActive(entries), nil
}

// GetScheduledBindings returns active bindings whose delivery_mode is
// daily or weekly.
func (s *Store) GetScheduledBindings(ctx context.Context) ([]Binding, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []Binding
	for _, b := range all {
		if b.DeliveryMode == Daily || b.DeliveryMode == Weekly {
			out = append(out, b)
		}
	}
	return out, nil
}

// Count returns the number of active bindings across all sources.
func (s *Store) Count(ctx context.Context) (int, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// UpdateLastScheduled rewrites last_scheduled_at on the named binding.
func (s *Store) UpdateLastScheduled(ctx context.Context, sourceID, endpointID string, ts int64) error {
	raw, err := s.config.Get(ctx, key(sourceID, endpointID))
	if err != nil {
		return fmt.Errorf("bindings: update_last_scheduled: load: %w", err)
	}
	b, err := decode(raw)
	if err != nil {
		return fmt.Errorf("bindings: update_last_scheduled: decode: %w", err)
	}
	b.LastScheduledAt = &ts
	return s.Save(ctx, b)
}

func decodeActive(entries []configstore.Entry) []Binding {
	var out []Binding
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, "binding.") {
			continue
		}
		b, err := decode(e.Value)
		if err != nil {
			log.Printf("[bindings] skipping unparsable binding at %s: %v", e.Key, err)
			continue
		}
		if b.Active {
			out = append(out, *b)
		}
	}
	return out
}

// decode is tolerant of older schemas missing delivery_mode, schedule_time,
// schedule_day, last_scheduled_at, headers_json, or auth_credential_key —
// each defaults to its zero value (on_change / null / absent / false).
func decode(raw string) (*Binding, error) {
	var b Binding
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, err
	}
	if b.DeliveryMode == "" {
		b.DeliveryMode = OnChange
	}
	return &b, nil
}
