// Command relaydesk runs the delivery engine: the durable ledger plus its
// concurrent background workers (on-change dispatch, scheduled-cadence
// dispatch, an idle sampler slot, and a health-metrics sampler), wired over
// the env-var configuration described in SPEC_FULL.md.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itskum47/relaydesk/internal/bindings"
	"github.com/itskum47/relaydesk/internal/configstore"
	"github.com/itskum47/relaydesk/internal/credentialstore"
	"github.com/itskum47/relaydesk/internal/delivery"
	"github.com/itskum47/relaydesk/internal/health"
	"github.com/itskum47/relaydesk/internal/ledgerstore"
	"github.com/itskum47/relaydesk/internal/observability"
	"github.com/itskum47/relaydesk/internal/schedule"
	"github.com/itskum47/relaydesk/internal/sources"
	"github.com/itskum47/relaydesk/internal/targets"
)

// idleSamplerInterval matches spec.md §5's OS-idle sampler cadence. The
// sampler itself is a pluggable hook — no OS activity probe is wired here,
// since source adapters (including desktop-activity) are out of scope
// per spec.md §1's Non-goals.
const idleSamplerInterval = 30 * time.Second

// healthSampleInterval governs how often degraded-target metrics are
// refreshed from the in-memory HealthTracker.
const healthSampleInterval = 15 * time.Second

func main() {
	dataDir := envOr("RELAYDESK_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("relaydesk: create data dir %s: %v", dataDir, err)
	}

	batchSize := envIntOr("RELAYDESK_BATCH_SIZE", delivery.DefaultBatchSize)
	devCredentials := envBoolOr("RELAYDESK_DEV_CREDENTIALS", false)

	ledger, err := ledgerstore.Open(filepath.Join(dataDir, "ledger.sqlite"))
	if err != nil {
		log.Fatalf("relaydesk: open ledger: %v", err)
	}
	defer ledger.Close()

	config, err := configstore.Open(filepath.Join(dataDir, "config.sqlite"))
	if err != nil {
		log.Fatalf("relaydesk: open config store: %v", err)
	}
	defer config.Close()

	bindingStore := bindings.New(config)

	var credentials credentialstore.Store
	if devCredentials {
		devStore, err := credentialstore.NewDevFileStore(filepath.Join(dataDir, "credentials.json"))
		if err != nil {
			log.Fatalf("relaydesk: open dev credential store: %v", err)
		}
		credentials = devStore
	} else {
		credentials, err = newCredentialStore(dataDir)
		if err != nil {
			log.Fatalf("relaydesk: open credential store: %v", err)
		}
	}

	healthTracker := health.New()
	targetManager := targets.NewManager()
	sourceManager := sources.NewManager(ledger, mustFileWatcher(), config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("relaydesk: received shutdown signal")
		cancel()
	}()

	recovered, err := ledger.RecoverOrphans(ctx)
	if err != nil {
		log.Printf("relaydesk: orphan recovery failed: %v", err)
	} else if recovered > 0 {
		observability.OrphansRecovered.Add(float64(recovered))
		log.Printf("relaydesk: recovered %d orphaned in-flight entries", recovered)
	}

	restored := sourceManager.RestoreEnabled(ctx)
	log.Printf("relaydesk: restored %d enabled sources", len(restored))

	deliveryWorker := delivery.New(ledger, bindingStore, config, credentials, healthTracker, targetManager)
	deliveryWorker.SetBatchSize(batchSize)
	scheduledWorker := schedule.New(ledger, bindingStore, schedSourceAdapter{sourceManager}, schedTargetAdapter{targetManager}, nil)

	log.Printf("relaydesk: starting in %s (batch size %d)", dataDir, batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { deliveryWorker.Run(gctx); return nil })
	g.Go(func() error { scheduledWorker.Run(gctx); return nil })
	g.Go(func() error { runIdleSampler(gctx); return nil })
	g.Go(func() error { runHealthSampler(gctx, healthTracker); return nil })

	if err := g.Wait(); err != nil {
		log.Printf("relaydesk: worker group exited with error: %v", err)
	}
	log.Println("relaydesk: shutdown complete")
}

func runIdleSampler(ctx context.Context) {
	log.Printf("relaydesk: idle sampler started (%s interval)", idleSamplerInterval)
	ticker := time.NewTicker(idleSamplerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// No OS activity probe is wired; this tick exists to occupy the
			// third concurrent slot spec.md §5 describes and to give a
			// future desktop-activity Source a scheduling home.
		}
	}
}

func runHealthSampler(ctx context.Context, tracker *health.Tracker) {
	ticker := time.NewTicker(healthSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for targetID, state := range tracker.Snapshot() {
				value := 0.0
				if state == health.Degraded {
					value = 1.0
				}
				observability.TargetsDegraded.WithLabelValues(targetID).Set(value)
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("relaydesk: invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("relaydesk: invalid %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return b
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaydesk"
	}
	return filepath.Join(home, ".relaydesk")
}

func mustFileWatcher() *sources.FsnotifyWatcher {
	w, err := sources.NewFsnotifyWatcher()
	if err != nil {
		log.Fatalf("relaydesk: create file watcher: %v", err)
	}
	return w
}

// schedSourceAdapter narrows sources.Manager to schedule.SourceLookup.
type schedSourceAdapter struct{ m *sources.Manager }

func (a schedSourceAdapter) IsEnabled(sourceID string) bool { return a.m.IsEnabled(sourceID) }

func (a schedSourceAdapter) GetSource(id string) (schedule.Source, bool) {
	return a.m.GetSource(id)
}

// schedTargetAdapter narrows targets.Manager to schedule.TargetLookup.
type schedTargetAdapter struct{ m *targets.Manager }

func (a schedTargetAdapter) Lookup(targetID string) (schedule.TargetInfo, bool) {
	t, ok := a.m.Get(targetID)
	if !ok {
		return schedule.TargetInfo{}, false
	}
	return schedule.TargetInfo{TargetType: t.TargetType(), BaseURL: t.BaseURL()}, true
}
