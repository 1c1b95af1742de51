package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_gateway/internal/config"
)

func ok(context.Context) error { return nil }

func TestCheckAggregates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		probes      map[string]Probe
		status      string
		unreachable []string
	}{
		{
			name:        "all reachable",
			probes:      map[string]Probe{"transcriber": ok, "generator": ok, "synthesizer": ok},
			status:      StatusHealthy,
			unreachable: []string{},
		},
		{
			name: "one down",
			probes: map[string]Probe{
				"transcriber": ok,
				"generator":   func(context.Context) error { return errors.New("connection refused") },
				"synthesizer": ok,
			},
			status:      StatusDegraded,
			unreachable: []string{"generator"},
		},
		{
			name: "hung probe times out",
			probes: map[string]Probe{
				"transcriber": func(context.Context) error { select {} },
				"generator":   ok,
				"synthesizer": func(context.Context) error { return errors.New("binary not found") },
			},
			status:      StatusDegraded,
			unreachable: []string{"synthesizer", "transcriber"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := NewReporterWithProbes(tt.probes, config.HealthConfig{CheckInterval: time.Minute, ProbeTimeout: 50 * time.Millisecond}, nil)
			snap := r.Check(context.Background())
			require.Equal(t, tt.status, snap.Status)
			require.Equal(t, tt.unreachable, snap.Unreachable)
			require.Len(t, snap.Backends, len(tt.probes))
			for _, name := range tt.unreachable {
				require.Equal(t, Unreachable, snap.Backends[name].Status)
				require.NotEmpty(t, snap.Backends[name].Error)
			}
		})
	}
}

func TestSnapshotProbesLiveThenCaches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	probe := func(context.Context) error {
		calls.Add(1)
		return nil
	}
	r := NewReporterWithProbes(map[string]Probe{"generator": probe}, config.HealthConfig{}, nil)

	snap := r.Snapshot(context.Background())
	require.True(t, snap.Healthy())
	require.Equal(t, int64(1), calls.Load())

	_ = r.Snapshot(context.Background())
	require.Equal(t, int64(1), calls.Load())
}

func TestStartRefreshes(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	probe := func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	}
	r := NewReporterWithProbes(map[string]Probe{"synthesizer": probe}, config.HealthConfig{CheckInterval: 20 * time.Millisecond, ProbeTimeout: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)

	require.Eventually(t, func() bool {
		return r.Snapshot(ctx).Status == StatusDegraded
	}, time.Second, 5*time.Millisecond)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		return r.Snapshot(ctx).Healthy()
	}, time.Second, 5*time.Millisecond)
}
