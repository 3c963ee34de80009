package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/assetd/internal/xerrors"
)

// Probe is checked on every probe request. A nil error means healthy; the
// error text becomes the 503 body.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason ("unhealthy" if empty).
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes when every non-nil probe passes and stops at the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when at least one non-nil probe passes. On failure it returns
// the last probe error.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		err := xerrors.New("no healthy probes")
		for _, p := range ps {
			if p == nil {
				continue
			}
			perr := p.Check(ctx)
			if perr == nil {
				return nil
			}
			err = perr
		}
		return err
	}
}

// ShutdownGate fails readiness once draining starts, so the load balancer
// stops routing new requests while in-flight ones finish.
type ShutdownGate struct {
	draining atomic.Bool
	reason   atomic.Value
}

// Set starts draining; an empty reason reads as "draining".
func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(reason)
	g.draining.Store(true)
}

func (g *ShutdownGate) Clear() {
	g.draining.Store(false)
	g.reason.Store("")
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.draining.Load() {
			return nil
		}
		if r, _ := g.reason.Load().(string); r != "" {
			return xerrors.New(r)
		}
		return xerrors.New("draining")
	}
}
