package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ncecere/voice_gateway/internal/apierr"
)

// AdmissionConfig bounds concurrent calls into one backend. MaxConcurrency of
// zero disables the local gate. A zero QueueTimeout rejects as soon as the
// gate is full; a zero MaxQueue leaves the wait queue unbounded.
type AdmissionConfig struct {
	MaxConcurrency int
	QueueTimeout   time.Duration
	MaxQueue       int
}

// Stats is a point-in-time view of an admission gate.
type Stats struct {
	Capacity int
	InFlight int64
	Waiting  int64
}

// Admission gates calls into a single backend. Each successful Acquire holds
// one slot until its release func runs.
type Admission struct {
	name        string
	cfg         AdmissionConfig
	sem         *semaphore.Weighted
	inFlight    atomic.Int64
	waiting     atomic.Int64
	distributed *RateLimiter
	limits      LimitConfig
	logger      *slog.Logger
}

// AdmissionOption customizes an Admission.
type AdmissionOption func(*Admission)

// WithDistributedLimits adds cluster-wide limits enforced through Redis
// behind the local gate.
func WithDistributedLimits(limiter *RateLimiter, cfg LimitConfig) AdmissionOption {
	return func(a *Admission) {
		a.distributed = limiter
		a.limits = cfg
	}
}

// WithLogger sets the logger used for limiter backend failures.
func WithLogger(logger *slog.Logger) AdmissionOption {
	return func(a *Admission) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAdmission(name string, cfg AdmissionConfig, opts ...AdmissionOption) *Admission {
	a := &Admission{name: name, cfg: cfg, logger: slog.Default()}
	if cfg.MaxConcurrency > 0 {
		a.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrency))
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Admission) Name() string { return a.name }

// Acquire takes a slot, waiting up to QueueTimeout. Rejections are
// ServiceBusy errors; a caller that goes away while queued gets a
// RequestCanceled error. The returned release is safe to call more than once.
func (a *Admission) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, apierr.Classify(a.name, err)
	}

	if err := a.acquireLocal(ctx); err != nil {
		return nil, err
	}

	// Cluster counters are touched only once a local slot is held. A request
	// the local gate turns away never spends the shared minute budget.
	distributed := a.distributed != nil && a.limits.enabled()
	if distributed {
		if err := a.distributed.Allow(ctx, a.name, a.limits); err != nil {
			if errors.Is(err, ErrLimitExceeded) {
				a.releaseLocal()
				return nil, apierr.Busy(a.name, "cluster rate limit reached")
			}
			// Redis trouble must not take the gateway down with it.
			a.logger.WarnContext(ctx, "distributed limiter unavailable", slog.String("backend", a.name), slog.String("error", err.Error()))
			distributed = false
		}
	}
	a.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			a.inFlight.Add(-1)
			a.releaseLocal()
			if distributed {
				a.distributed.Release(context.Background(), a.name, a.limits)
			}
		})
	}, nil
}

func (a *Admission) releaseLocal() {
	if a.sem != nil {
		a.sem.Release(1)
	}
}

func (a *Admission) acquireLocal(ctx context.Context) error {
	if a.sem == nil {
		return nil
	}
	if a.sem.TryAcquire(1) {
		return nil
	}
	if a.cfg.QueueTimeout <= 0 {
		return apierr.Busy(a.name, fmt.Sprintf("%s is at capacity", a.name))
	}
	if a.cfg.MaxQueue > 0 {
		if waiting := a.waiting.Add(1); waiting > int64(a.cfg.MaxQueue) {
			a.waiting.Add(-1)
			return apierr.Busy(a.name, fmt.Sprintf("%s queue is full", a.name))
		}
	} else {
		a.waiting.Add(1)
	}
	defer a.waiting.Add(-1)

	waitCtx, cancel := context.WithTimeout(ctx, a.cfg.QueueTimeout)
	defer cancel()
	if err := a.sem.Acquire(waitCtx, 1); err != nil {
		if parentErr := ctx.Err(); parentErr != nil {
			return apierr.Classify(a.name, parentErr)
		}
		return apierr.Busy(a.name, fmt.Sprintf("%s had no free slot within %s", a.name, a.cfg.QueueTimeout))
	}
	return nil
}

// Stats reports current occupancy.
func (a *Admission) Stats() Stats {
	return Stats{
		Capacity: a.cfg.MaxConcurrency,
		InFlight: a.inFlight.Load(),
		Waiting:  a.waiting.Load(),
	}
}
