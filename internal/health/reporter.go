// Package health aggregates backend liveness probes into one readiness view.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ncecere/voice_gateway/internal/config"
	"github.com/ncecere/voice_gateway/internal/providers"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	Reachable   = "reachable"
	Unreachable = "unreachable"
)

// Probe checks one backend.
type Probe func(ctx context.Context) error

// BackendStatus is the outcome of one probe.
type BackendStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Snapshot is the aggregated result of one sweep.
type Snapshot struct {
	Status      string                   `json:"status"`
	Backends    map[string]BackendStatus `json:"backends"`
	Unreachable []string                 `json:"unreachable"`
	CheckedAt   time.Time                `json:"checked_at"`
}

func (s Snapshot) Healthy() bool { return s.Status == StatusHealthy }

// Reporter periodically probes every backend and caches the latest snapshot.
type Reporter struct {
	probes    map[string]Probe
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	startOnce sync.Once

	mu   sync.RWMutex
	last *Snapshot
}

// NewReporter builds a reporter for the three roles of set.
func NewReporter(set providers.Set, cfg config.HealthConfig, logger *slog.Logger) *Reporter {
	probes := make(map[string]Probe, len(providers.Roles))
	for _, role := range providers.Roles {
		if probe := set.Probe(role); probe != nil {
			probes[string(role)] = probe
		}
	}
	return NewReporterWithProbes(probes, cfg, logger)
}

// NewReporterWithProbes builds a reporter over arbitrary named probes.
func NewReporterWithProbes(probes map[string]Probe, cfg config.HealthConfig, logger *slog.Logger) *Reporter {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 || timeout > interval {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		probes:   probes,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "health")),
	}
}

// Start begins the refresh loop until ctx is canceled.
func (r *Reporter) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

func (r *Reporter) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

// Snapshot returns the cached snapshot, probing live when no sweep has
// completed yet.
func (r *Reporter) Snapshot(ctx context.Context) Snapshot {
	r.mu.RLock()
	last := r.last
	r.mu.RUnlock()
	if last != nil {
		return *last
	}
	return r.Check(ctx)
}

// Check probes all backends concurrently and stores the result.
func (r *Reporter) Check(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:      StatusHealthy,
		Backends:    make(map[string]BackendStatus, len(r.probes)),
		Unreachable: []string{},
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, probe := range r.probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			status := r.probe(ctx, probe)
			mu.Lock()
			snap.Backends[name] = status
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	for name, status := range snap.Backends {
		if status.Status != Reachable {
			snap.Unreachable = append(snap.Unreachable, name)
		}
	}
	sort.Strings(snap.Unreachable)
	if len(snap.Unreachable) > 0 {
		snap.Status = StatusDegraded
		r.logger.WarnContext(ctx, "backends unreachable", slog.Any("backends", snap.Unreachable))
	}
	snap.CheckedAt = time.Now().UTC()

	r.mu.Lock()
	r.last = &snap
	r.mu.Unlock()
	return snap
}

// probe bounds each check by the probe timeout even when the probe itself
// ignores ctx.
func (r *Reporter) probe(ctx context.Context, probe Probe) BackendStatus {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- probe(timeoutCtx) }()

	var err error
	select {
	case err = <-done:
	case <-timeoutCtx.Done():
		err = timeoutCtx.Err()
	}
	status := BackendStatus{Status: Reachable, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		status.Status = Unreachable
		status.Error = err.Error()
	}
	return status
}
