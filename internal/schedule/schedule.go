// Package schedule implements the ScheduledWorker: the background loop
// that checks daily/weekly bindings and enqueues a targeted delivery when
// their schedule becomes due. The delivery worker handles the actual HTTP
// dispatch; this worker only decides when to enqueue.
package schedule

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/itskum47/relaydesk/internal/bindings"
	"github.com/itskum47/relaydesk/internal/observability"
)

// tickInterval matches original_source's 60-second scheduler cadence.
const tickInterval = 60 * time.Second

// Ledger is the narrow enqueue capability ScheduledWorker needs.
type Ledger interface {
	EnqueueTargeted(ctx context.Context, eventType, payload, endpointID string) (string, error)
	SetAttemptedTarget(ctx context.Context, eventID, deliveredTo string) error
}

// BindingLookup is the scheduled-bindings capability ScheduledWorker needs.
type BindingLookup interface {
	GetScheduledBindings(ctx context.Context) ([]bindings.Binding, error)
	UpdateLastScheduled(ctx context.Context, sourceID, endpointID string, ts int64) error
}

// Source is the narrow source capability ScheduledWorker needs to produce
// fresh data at the scheduled moment.
type Source interface {
	Parse(ctx context.Context) (json.RawMessage, error)
}

// SourceLookup resolves a binding's source_id to a live Source, and reports
// whether the source is currently enabled.
type SourceLookup interface {
	IsEnabled(sourceID string) bool
	GetSource(id string) (Source, bool)
}

// TargetInfo describes the display info stamped into delivered_to.
type TargetInfo struct {
	TargetType string
	BaseURL    string
}

// TargetLookup resolves a binding's target_id to display info, for the
// delivered_to blob written at enqueue time.
type TargetLookup interface {
	Lookup(targetID string) (TargetInfo, bool)
}

// Worker is the ScheduledWorker.
type Worker struct {
	ledger   Ledger
	bindings BindingLookup
	sources  SourceLookup
	targets  TargetLookup

	now func() time.Time
}

// New wires a ScheduledWorker over its dependencies. nowFn defaults to
// time.Now when nil; tests override it for deterministic clocks.
func New(ledger Ledger, bindingStore BindingLookup, sources SourceLookup, targetLookup TargetLookup, nowFn func() time.Time) *Worker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Worker{ledger: ledger, bindings: bindingStore, sources: sources, targets: targetLookup, now: nowFn}
}

// Run polls every 60 seconds until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[schedule] worker started (60s interval)")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[schedule] worker stopping")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick evaluates every scheduled binding once, enqueuing a targeted
// delivery for each one that is due.
func (w *Worker) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { observability.ScheduleTickDuration.Observe(time.Since(start).Seconds()) }()

	scheduled, err := w.bindings.GetScheduledBindings(ctx)
	if err != nil {
		log.Printf("[schedule] failed to load scheduled bindings: %v", err)
		return
	}
	if len(scheduled) == 0 {
		return
	}

	now := w.now()
	for _, b := range scheduled {
		if !isDue(b, now) {
			continue
		}
		w.deliverOne(ctx, b, now)
	}
}

func (w *Worker) deliverOne(ctx context.Context, b bindings.Binding, now time.Time) {
	if !w.sources.IsEnabled(b.SourceID) {
		log.Printf("[schedule] skipping %s: source disabled", b.SourceID)
		return
	}

	source, ok := w.sources.GetSource(b.SourceID)
	if !ok {
		log.Printf("[schedule] source not found for scheduled delivery: %s", b.SourceID)
		return
	}

	payload, err := source.Parse(ctx)
	if err != nil {
		log.Printf("[schedule] failed to parse source %s for scheduled delivery: %v", b.SourceID, err)
		return
	}

	eventID, err := w.ledger.EnqueueTargeted(ctx, b.SourceID, string(payload), b.EndpointID)
	if err != nil {
		log.Printf("[schedule] failed to enqueue scheduled delivery for %s: %v", b.SourceID, err)
		return
	}

	info, _ := w.targets.Lookup(b.TargetID)
	if info.TargetType == "" {
		info = TargetInfo{TargetType: "webhook"}
	}
	deliveredTo := buildDeliveredToJSON(info)
	if err := w.ledger.SetAttemptedTarget(ctx, eventID, deliveredTo); err != nil {
		log.Printf("[schedule] failed to set attempted target for %s: %v", eventID, err)
	}

	log.Printf("[schedule] enqueued scheduled delivery: source=%s endpoint=%s event=%s mode=%s",
		b.SourceID, b.EndpointID, eventID, b.DeliveryMode)

	if err := w.bindings.UpdateLastScheduled(ctx, b.SourceID, b.EndpointID, now.Unix()); err != nil {
		log.Printf("[schedule] failed to update last_scheduled_at for %s/%s: %v", b.SourceID, b.EndpointID, err)
	}
}

func buildDeliveredToJSON(info TargetInfo) string {
	data, _ := json.Marshal(struct {
		TargetType string `json:"target_type"`
		BaseURL    string `json:"base_url"`
	}{TargetType: info.TargetType, BaseURL: info.BaseURL})
	return string(data)
}

// isDue evaluates whether a scheduled binding should fire at now, following
// original_source's is_due exactly: schedule_time parses as "15:04" in
// now's location, weekly bindings additionally require a matching weekday,
// and a binding already delivered at or after today's target time is not
// due again until tomorrow.
func isDue(b bindings.Binding, now time.Time) bool {
	if b.ScheduleTime == nil {
		return false
	}

	targetTime, err := time.ParseInLocation("15:04", *b.ScheduleTime, now.Location())
	if err != nil {
		log.Printf("[schedule] invalid schedule_time %q for %s", *b.ScheduleTime, b.SourceID)
		return false
	}

	todayTarget := time.Date(now.Year(), now.Month(), now.Day(), targetTime.Hour(), targetTime.Minute(), 0, 0, now.Location())
	if now.Before(todayTarget) {
		return false
	}

	if b.DeliveryMode == bindings.Weekly {
		if b.ScheduleDay == nil {
			return false
		}
		targetDay, ok := parseWeekday(*b.ScheduleDay)
		if !ok {
			log.Printf("[schedule] invalid schedule_day %q for %s", *b.ScheduleDay, b.SourceID)
			return false
		}
		if now.Weekday() != targetDay {
			return false
		}
	}

	if b.LastScheduledAt != nil && *b.LastScheduledAt >= todayTarget.Unix() {
		return false
	}

	return true
}

func parseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(s) {
	case "monday":
		return time.Monday, true
	case "tuesday":
		return time.Tuesday, true
	case "wednesday":
		return time.Wednesday, true
	case "thursday":
		return time.Thursday, true
	case "friday":
		return time.Friday, true
	case "saturday":
		return time.Saturday, true
	case "sunday":
		return time.Sunday, true
	default:
		return 0, false
	}
}
