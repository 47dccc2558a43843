// Package delivery implements the DeliveryWorker: the background loop that
// claims ledger batches, resolves destinations via internal/router, and
// dispatches them by generic webhook POST or a target's native Deliver
// hook, updating health and metrics as it goes.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/itskum47/relaydesk/internal/classify"
	"github.com/itskum47/relaydesk/internal/configstore"
	"github.com/itskum47/relaydesk/internal/credentialstore"
	"github.com/itskum47/relaydesk/internal/health"
	"github.com/itskum47/relaydesk/internal/ledgerstore"
	"github.com/itskum47/relaydesk/internal/observability"
	"github.com/itskum47/relaydesk/internal/router"
	"github.com/itskum47/relaydesk/internal/targets"
)

// DefaultBatchSize matches original_source's process_batch(ledger, ..., 10).
const DefaultBatchSize = 10

// tickInterval is the delivery loop's poll period.
const tickInterval = 5 * time.Second

// requestTimeout bounds a single webhook POST.
const requestTimeout = 25 * time.Second

// perTargetRateLimit and perTargetBurst cap outbound request pacing to any
// one target, so a slow or flaky target can't starve the batch.
const perTargetRateLimit = 20
const perTargetBurst = 20

// Ledger is the narrow claim/mark capability the worker needs.
type Ledger interface {
	ClaimBatch(ctx context.Context, limit int) ([]ledgerstore.Entry, error)
	MarkDelivered(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, errText string) (ledgerstore.Status, error)
}

// Worker is the DeliveryWorker.
type Worker struct {
	ledger      Ledger
	bindings    router.BindingLookup
	config      *configstore.Store
	credentials credentialstore.Store
	health      *health.Tracker
	targets     *targets.Manager

	httpClient *http.Client
	batchSize  int

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// New wires a DeliveryWorker over its dependencies.
func New(
	ledger Ledger,
	bindingStore router.BindingLookup,
	config *configstore.Store,
	credentials credentialstore.Store,
	healthTracker *health.Tracker,
	targetManager *targets.Manager,
) *Worker {
	return &Worker{
		ledger:      ledger,
		bindings:    bindingStore,
		config:      config,
		credentials: credentials,
		health:      healthTracker,
		targets:     targetManager,
		httpClient:  &http.Client{Timeout: requestTimeout},
		batchSize:   DefaultBatchSize,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// SetBatchSize overrides the per-tick claim size (default DefaultBatchSize).
func (w *Worker) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

// Run polls every 5 seconds until ctx is cancelled, matching
// original_source's spawn_worker interval.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[delivery] worker started (5s interval, binding-aware routing)")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[delivery] worker stopping")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch claims and dispatches up to one batch of ledger entries,
// returning (delivered, failed) counts.
func (w *Worker) ProcessBatch(ctx context.Context) (delivered, failed int) {
	start := time.Now()
	defer func() { observability.WorkerTickDuration.Observe(time.Since(start).Seconds()) }()

	entries, err := w.ledger.ClaimBatch(ctx, w.batchSize)
	if err != nil {
		log.Printf("[delivery] failed to claim batch: %v", err)
		return 0, 0
	}

	legacy := w.readLegacyConfig(ctx)

	for _, entry := range entries {
		destinations := router.Resolve(ctx, entry.EventType, entry.TargetEndpointID, w.bindings, legacy, w.credentials)

		if len(destinations) == 0 {
			log.Printf("[delivery] no delivery targets for %s (event %s), marking delivered", entry.EventType, entry.EventID)
			if err := w.ledger.MarkDelivered(ctx, entry.EventID); err != nil {
				log.Printf("[delivery] failed to mark %s delivered: %v", entry.EventID, err)
			}
			continue
		}

		anySuccess, lastErr, lastTargetID := w.dispatch(ctx, entry, destinations)

		if anySuccess {
			if err := w.ledger.MarkDelivered(ctx, entry.EventID); err != nil {
				log.Printf("[delivery] failed to mark %s delivered: %v", entry.EventID, err)
				continue
			}
			delivered++
			observability.DeliveriesTotal.WithLabelValues(entry.EventType, lastTargetID, "delivered").Inc()
		} else if lastErr != nil {
			status, err := w.ledger.MarkFailed(ctx, entry.EventID, lastErr.Error())
			if err != nil {
				log.Printf("[delivery] failed to mark %s failed: %v", entry.EventID, err)
				continue
			}
			failed++
			observability.DeliveriesTotal.WithLabelValues(entry.EventType, lastTargetID, "failed").Inc()
			if status == ledgerstore.Dlq {
				observability.DlqTotal.WithLabelValues(entry.EventType, lastTargetID).Inc()
			}
		}
	}

	if delivered > 0 || failed > 0 {
		log.Printf("[delivery] batch: %d delivered, %d failed", delivered, failed)
	}
	return delivered, failed
}

// dispatch sends entry's payload to every destination, returning whether
// any succeeded, the last error seen (for ledger bookkeeping), and the
// target id that error/success belongs to.
func (w *Worker) dispatch(ctx context.Context, entry ledgerstore.Entry, destinations []router.Destination) (anySuccess bool, lastErr error, lastTargetID string) {
	for _, dest := range destinations {
		targetID := dest.TargetID
		if targetID == "" {
			targetID = dest.URL
		}

		if err := w.limiterFor(targetID).Wait(ctx); err != nil {
			lastErr = err
			lastTargetID = targetID
			continue
		}

		httpStatus, err := w.send(ctx, dest, entry.Payload, entry.EventType)
		lastTargetID = targetID
		if err == nil {
			anySuccess = true
			w.health.ReportSuccess(targetID)
			log.Printf("[delivery] delivered to %s (event %s)", dest.URL, entry.EventID)
			continue
		}

		lastErr = err
		diag := classify.Diagnose(httpStatus, err.Error(), entry.EventType, targetID)
		if w.health.ReportFailure(targetID, failureKindFor(diag.Category)) {
			log.Printf("[delivery] target %s degraded: %s", targetID, diag.UserMessage)
		}
		observability.DeliveryFailuresTotal.WithLabelValues(targetID, categoryLabel(diag.Category)).Inc()
		log.Printf("[delivery] failed to %s (event %s): %v", dest.URL, entry.EventID, err)
	}
	return anySuccess, lastErr, lastTargetID
}

// send attempts a target's native Deliver hook first, falling back to a
// generic webhook POST, matching spec.md §9's resolved open question:
// a handled native delivery counts identically to a successful POST.
func (w *Worker) send(ctx context.Context, dest router.Destination, payload, eventType string) (httpStatus int, err error) {
	if dest.TargetID != "" && dest.TargetID != "legacy" {
		if t, ok := w.targets.Get(dest.TargetID); ok {
			handled, derr := t.Deliver(ctx, dest.TargetID, []byte(payload), eventType, w.credentials)
			if derr != nil {
				return 0, derr
			}
			if handled {
				return 0, nil
			}
		}
	}
	return w.postWebhook(ctx, dest, payload)
}

func (w *Worker) postWebhook(ctx context.Context, dest router.Destination, payload string) (httpStatus int, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewBufferString(payload))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, h := range dest.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("target responded with status %d", resp.StatusCode)
}

func (w *Worker) limiterFor(targetID string) *rate.Limiter {
	w.limiterMu.Lock()
	defer w.limiterMu.Unlock()
	l, ok := w.limiters[targetID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(perTargetRateLimit), perTargetBurst)
		w.limiters[targetID] = l
	}
	return l
}

// readLegacyConfig reads the pre-binding v0.1 fallback webhook config,
// matching original_source's read_worker_config.
func (w *Worker) readLegacyConfig(ctx context.Context) *router.LegacyConfig {
	url, err := w.config.Get(ctx, "webhook_url")
	if err != nil || url == "" {
		return nil
	}
	authJSON, _ := w.config.Get(ctx, "webhook_auth_json")
	return &router.LegacyConfig{WebhookURL: url, WebhookAuthJSON: authJSON}
}

// failureKindFor maps a classify.Category to the health tracker's
// FailureKind vocabulary.
func failureKindFor(cat classify.Category) health.FailureKind {
	switch cat {
	case classify.AuthInvalid:
		return health.TokenExpired
	case classify.AuthMissing, classify.AuthNotConfigured:
		return health.AuthFailed
	case classify.Unreachable, classify.Timeout:
		return health.ConnectionFailed
	case classify.EndpointGone:
		return health.InvalidConfig
	default:
		return health.DeliveryError
	}
}

func categoryLabel(cat classify.Category) string {
	switch cat {
	case classify.AuthInvalid:
		return "auth_invalid"
	case classify.AuthMissing:
		return "auth_missing"
	case classify.EndpointGone:
		return "endpoint_gone"
	case classify.RateLimited:
		return "rate_limited"
	case classify.TargetError:
		return "target_error"
	case classify.Unreachable:
		return "unreachable"
	case classify.Timeout:
		return "timeout"
	case classify.AuthNotConfigured:
		return "auth_not_configured"
	default:
		return "unknown"
	}
}
