package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/assetd/internal/health"
	"github.com/keithlinneman/assetd/internal/httpmw"
	"github.com/keithlinneman/assetd/internal/log"
)

// DefaultPort is used when Options.Port is zero.
const DefaultPort = 8080

// RouteRegistrar mounts routes on the public router. assethttp.Routes
// implements it.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// RouteFunc adapts a plain function into a RouteRegistrar.
type RouteFunc func(r chi.Router)

func (f RouteFunc) RegisterRoutes(r chi.Router) { f(r) }

type Options struct {
	Logger log.Logger
	Port   int

	UseRecoverMW bool
	OnPanic      func() // called after a recovered panic is logged

	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// Probes are served at /-/healthy and /-/ready when set.
	Health    health.Probe
	Readiness health.Probe

	Routes []RouteRegistrar
	// NotFound handles every path no registrar claimed. Nil uses chi's default.
	NotFound http.Handler
}
