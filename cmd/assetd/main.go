package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/assetd/internal/assethttp"
	"github.com/keithlinneman/assetd/internal/assetsync"
	"github.com/keithlinneman/assetd/internal/cfg"
	"github.com/keithlinneman/assetd/internal/health"
	"github.com/keithlinneman/assetd/internal/httpmw"
	"github.com/keithlinneman/assetd/internal/httpserver"
	"github.com/keithlinneman/assetd/internal/log"
	"github.com/keithlinneman/assetd/internal/metrics"
	"github.com/keithlinneman/assetd/internal/opshttp"
	"github.com/keithlinneman/assetd/internal/otelx"
	"github.com/keithlinneman/assetd/internal/prof"
	"github.com/keithlinneman/assetd/internal/ratelimit"
	"github.com/keithlinneman/assetd/internal/rootpath"
	"github.com/keithlinneman/assetd/internal/static"
	v "github.com/keithlinneman/assetd/internal/version"
	"github.com/keithlinneman/assetd/internal/webassets"
	"github.com/keithlinneman/assetd/internal/xerrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	// cli > env (ASSETD_*) > default
	cfg.FillFromEnv(flag.CommandLine, "ASSETD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSONFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_sync", conf.EnableSync,
		"import_name", conf.ImportName,
		"component_dirs", conf.ComponentDirs.String(),
		"root_path", conf.RootPath,
		"static_folder", conf.StaticFolder,
		"static_url_path", conf.StaticURLPath,
		"template_folder", conf.TemplateFolder,
		"max_concurrent_reads", conf.MaxConcurrentReads,
		"max_file_size", conf.MaxFileSize,
		"trusted_hops", conf.TrustedHops,
		"rate_limit_rps", conf.RateLimitRPS,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}

	// collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	// explicit directories beat source locations recorded at init
	assets, err := static.New(static.Options{
		ImportName:         conf.ImportName,
		Locator:            rootpath.Locators{rootpath.Dirs(conf.ComponentDirs), rootpath.Default()},
		RootPath:           conf.RootPath,
		StaticFolder:       conf.StaticFolder,
		StaticURLPath:      conf.StaticURLPath,
		TemplateFolder:     conf.TemplateFolder,
		MaxConcurrentReads: int64(conf.MaxConcurrentReads),
		MaxFileSize:        conf.MaxFileSize,
	})
	if err != nil {
		L.Error(ctx, err, "invalid asset layout")
		os.Exit(1)
	}
	staticDir, haveStatic := assets.StaticFolder()
	staticURL, _ := assets.StaticURLPath()
	L.Info(ctx, "asset layout resolved",
		"root", assets.Root(),
		"static_dir", staticDir,
		"static_url_path", staticURL,
	)

	if conf.EnableSync {
		if err := runSync(ctx, L, conf, staticDir, m); err != nil {
			// serving a stale or empty folder is worse than not starting
			L.Error(ctx, err, "asset sync failed")
			os.Exit(1)
		}
	}

	tmpl, err := assets.ParseTemplates()
	if err != nil {
		L.Warn(ctx, "no themed error pages, using built-in fallbacks", "reason", err.Error())
	}

	assetHandler, err := assethttp.New(&assethttp.Options{
		Logger:     L,
		Assets:     assets,
		Templates:  tmpl,
		FallbackFS: webassets.FallbackFS(),
		Metrics:    m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create asset handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe())
	if haveStatic {
		readiness = health.All(gate.Probe(), health.DirProbe("static", staticDir))
	}

	var rateLimitMW func(http.Handler) http.Handler
	if conf.RateLimitRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) {
				m.IncRateLimitDenied()
			}),
			// logged once per visitor until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		rateLimitMW = limiter.Middleware
	}

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  rateLimitMW,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Routes:       []httpserver.RouteRegistrar{assethttp.NewRoutes(assetHandler)},
		NotFound:     http.HandlerFunc(assetHandler.NotFound),
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}

	// admin listener is for internal monitoring only and rejects public peers
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		_ = siteHTTPStop(context.Background())
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	// restore default handling so a second signal can cut the drain short
	stop()

	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	L.Info(bg, "readiness failing, draining", "drain_delay", conf.DrainDelay)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "site http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}
	stopProf()

	L.Info(bg, "shutdown complete")
}

func runSync(ctx context.Context, L log.Logger, conf cfg.App, staticDir string, m *metrics.ServerMetrics) error {
	ctx, cancel := context.WithTimeout(ctx, conf.SyncTimeout)
	defer cancel()

	syncer, err := assetsync.New(ctx, assetsync.Options{
		Logger:        L,
		SSMParam:      conf.SyncSSMParam,
		S3Bucket:      conf.SyncS3Bucket,
		S3Prefix:      conf.SyncS3Prefix,
		StaticDir:     staticDir,
		MaxObjectSize: conf.MaxFileSize,
		Metrics:       m,
	})
	if err != nil {
		return xerrors.Wrap(err, "create asset syncer")
	}
	_, err = syncer.Run(ctx)
	return err
}

// notifySystemd sends READY=1 when started as a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return xerrors.New("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify dial")
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return xerrors.Wrap(err, "systemd notify write")
	}
	return nil
}
