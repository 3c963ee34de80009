// Package prof runs the continuous pyroscope profiler.
package prof

import (
	"context"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/assetd/internal/log"
	"github.com/keithlinneman/assetd/internal/xerrors"
)

// ErrNoServer is returned by Start when profiling is enabled without a
// server address.
var ErrNoServer = xerrors.New("prof: server address required")

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int

	// OnActive reports profiler state, e.g. to a gauge.
	OnActive func(active bool)
}

// profileTypes covers CPU, heap, goroutines and contention. Contention
// profiles stay empty unless the mutex/block rates are set.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

func (o Options) config() pyroscope.Config {
	return pyroscope.Config{
		ApplicationName: o.AppName,
		ServerAddress:   o.ServerAddress,
		TenantID:        o.TenantID,
		Tags:            o.Tags,
		ProfileTypes:    profileTypes,
	}
}

// Start launches the profiler. The returned stop is never nil, is safe to
// call after a failed Start, and only runs once.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		L.Error(ctx, ErrNoServer, "pyroscope options", "app_name", opts.AppName)
		return noop, ErrNoServer
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	L = L.With("server_address", opts.ServerAddress, "app_name", opts.AppName)
	profiler, err := pyroscope.Start(opts.config())
	if err != nil {
		err = xerrors.Wrap(err, "start pyroscope")
		L.Error(ctx, err, "pyroscope start failed")
		return noop, err
	}
	if opts.OnActive != nil {
		opts.OnActive(true)
	}
	L.Info(ctx, "pyroscope started")

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			if opts.OnActive != nil {
				opts.OnActive(false)
			}
			L.Info(context.Background(), "pyroscope stopped")
		})
	}, nil
}
