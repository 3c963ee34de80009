package opshttp

import (
	"net/http"

	"github.com/keithlinneman/assetd/internal/health"
)

// DefaultPort is used when Options.Port is zero.
const DefaultPort = 9000

// Options configures the admin listener. It is never exposed publicly; every
// route is additionally restricted to loopback and private peers.
type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
}
