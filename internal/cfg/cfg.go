package cfg

import (
	"errors"
	"flag"
	"fmt"
	"maps"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/keithlinneman/assetd/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// asset layout
	ImportName         string
	ComponentDirs      ComponentDirs
	RootPath           string
	StaticFolder       string
	StaticURLPath      string
	TemplateFolder     string
	MaxConcurrentReads int
	MaxFileSize        int64

	// public listener hardening
	TrustedHops    int
	RateLimitRPS   float64
	RateLimitBurst int

	// optional startup mirror of an S3 prefix into the static folder
	EnableSync   bool
	SyncSSMParam string
	SyncS3Bucket string
	SyncS3Prefix string
	SyncTimeout  time.Duration

	// shutdown
	DrainDelay time.Duration
}

// Register binds every App field to fs. Defaults live here and nowhere else.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "emit JSON logs (false selects text)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "minimum log level: debug, info, warn or error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "level at which records carry a stack trace")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "attach per-frame error links to error records")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "error links kept per record (1..64)")

	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listener TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listener TCP port for probes and metrics (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "mount /debug/pprof on the admin listener")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export traces over OTLP gRPC to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector as host:port")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "share of new traces sampled (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push continuous profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server URL")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "pyroscope tenant sent as X-Scope-OrgID")

	fs.StringVar(&c.ImportName, "import-name", "main", "component whose source directory is the asset root when -root-path is unset")
	fs.Var(&c.ComponentDirs, "component-dir", "id=dir pairs naming component directories for -import-name, comma separated or repeated")
	fs.StringVar(&c.RootPath, "root-path", "", "asset root directory, used verbatim (default: working directory)")
	fs.StringVar(&c.StaticFolder, "static-folder", "static", "static folder relative to the root (empty disables static serving)")
	fs.StringVar(&c.StaticURLPath, "static-url-path", "", "URL path the static folder is mounted at (default: / + folder name)")
	fs.StringVar(&c.TemplateFolder, "template-folder", "templates", "template folder relative to the root, used for themed error pages")
	fs.IntVar(&c.MaxConcurrentReads, "max-concurrent-reads", 64, "max static file reads in flight (1..4096)")
	fs.Int64Var(&c.MaxFileSize, "max-file-size", 32<<20, "largest static file served in bytes (-1 disables the limit)")

	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "reverse proxies in front of the server (X-Forwarded-For depth, 0..8)")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 20, "per-IP request refill rate (0 disables rate limiting)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 60, "per-IP burst size")

	fs.BoolVar(&c.EnableSync, "enable-sync", false, "mirror the asset prefix from S3 into the static folder at startup")
	fs.StringVar(&c.SyncSSMParam, "sync-ssm-param", "", "ssm parameter holding the release id to mirror (optional)")
	fs.StringVar(&c.SyncS3Bucket, "sync-s3-bucket", "", "s3 bucket to mirror assets from")
	fs.StringVar(&c.SyncS3Prefix, "sync-s3-prefix", "", "s3 prefix (key) to mirror assets from, release id is appended when set")
	fs.DurationVar(&c.SyncTimeout, "sync-timeout", 2*time.Minute, "deadline for the startup sync")

	fs.DurationVar(&c.DrainDelay, "drain-delay", 15*time.Second, "time between failing readiness and closing listeners on shutdown (0..5m)")
}

// ComponentDirs collects -component-dir values. Later pairs for the same id
// replace earlier ones.
type ComponentDirs map[string]string

func (d *ComponentDirs) String() string {
	if d == nil || len(*d) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(*d))
	for id, dir := range *d {
		pairs = append(pairs, id+"="+dir)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, ",")
}

// Set applies every pair in v or none of them.
func (d *ComponentDirs) Set(v string) error {
	parsed := map[string]string{}
	for pair := range strings.SplitSeq(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, dir, ok := strings.Cut(pair, "=")
		id, dir = strings.TrimSpace(id), strings.TrimSpace(dir)
		if !ok || id == "" || dir == "" {
			return fmt.Errorf("component dir %q is not id=dir", pair)
		}
		parsed[id] = dir
	}
	if *d == nil {
		*d = ComponentDirs{}
	}
	maps.Copy(*d, parsed)
	return nil
}

// EnvKey maps flag "foo-bar" to PREFIX_FOO_BAR.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// FillFromEnv applies environment values to flags that were not set on the
// command line, so the order of precedence is flag, then env, then default.
// Shadowed and unparseable env values are reported through logf, which may
// be nil.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	onCLI := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { onCLI[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		switch {
		case !ok:
		case onCLI[f.Name]:
			logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, val)
		default:
			def := f.Value.String()
			if err := fs.Set(f.Name, val); err != nil {
				_ = fs.Set(f.Name, def)
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, val, err)
			}
		}
	})
}

// Validate reports every out-of-range or inconsistent field at once, joined
// into one error, or nil.
func Validate(c App) error {
	var errs []error
	fail := func(cond bool, format string, args ...any) {
		if cond {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	badPort := func(p int) bool { return p < 1 || p > 65535 }

	fail(badPort(c.HTTPPort), "invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort)
	fail(badPort(c.AdminPort), "invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort)
	fail(c.AdminPort == c.HTTPPort, "ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort)

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL: %w", err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL: %w", err))
		}
	}
	fail(c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64),
		"MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks)

	fail(c.TraceSample < 0 || c.TraceSample > 1, "invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample)
	if c.EnableTracing {
		// the gRPC exporter takes host:port without a scheme
		_, _, err := net.SplitHostPort(c.OTLPEndpoint)
		fail(c.OTLPEndpoint == "", "OTLP_ENDPOINT required when ENABLE_TRACING=true")
		fail(c.OTLPEndpoint != "" && err != nil, "OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err)
	}
	if c.EnablePyroscope {
		u, err := url.Parse(c.PyroServer)
		fail(c.PyroServer == "", "PYRO_SERVER required when ENABLE_PYROSCOPE=true")
		fail(c.PyroServer != "" && (err != nil || u.Scheme == "" || u.Host == ""), "PYRO_SERVER must be a URL (got %q)", c.PyroServer)
		fail(c.PyroTenantID == "", "PYRO_TENANT required when ENABLE_PYROSCOPE=true")
	}

	fail(c.StaticURLPath != "" && !strings.HasPrefix(c.StaticURLPath, "/"),
		"STATIC_URL_PATH must start with / (got %q)", c.StaticURLPath)
	fail(c.StaticURLPath != "" && c.StaticFolder == "", "STATIC_URL_PATH set without STATIC_FOLDER")
	fail(strings.HasPrefix(c.StaticURLPath, "/-/"),
		"STATIC_URL_PATH %q collides with the /-/ health routes", c.StaticURLPath)
	for id, dir := range c.ComponentDirs {
		fail(!filepath.IsAbs(dir), "COMPONENT_DIR %s=%q must be absolute", id, dir)
	}
	fail(c.MaxConcurrentReads < 1 || c.MaxConcurrentReads > 4096,
		"MAX_CONCURRENT_READS must be 1..4096 (got %d)", c.MaxConcurrentReads)
	fail(c.MaxFileSize == 0 || c.MaxFileSize < -1, "MAX_FILE_SIZE must be positive or -1 (got %d)", c.MaxFileSize)

	fail(c.TrustedHops < 0 || c.TrustedHops > 8, "TRUSTED_HOPS must be 0..8 (got %d)", c.TrustedHops)
	fail(c.RateLimitRPS < 0, "RATE_LIMIT_RPS must not be negative (got %v)", c.RateLimitRPS)
	fail(c.RateLimitRPS > 0 && c.RateLimitBurst < 1,
		"RATE_LIMIT_BURST must be >= 1 when rate limiting is enabled (got %d)", c.RateLimitBurst)

	if c.EnableSync {
		fail(c.StaticFolder == "", "STATIC_FOLDER is required when ENABLE_SYNC=true")
		fail(c.SyncS3Bucket == "", "SYNC_S3_BUCKET is required when ENABLE_SYNC=true")
		fail(c.SyncTimeout <= 0, "SYNC_TIMEOUT must be positive (got %s)", c.SyncTimeout)
	}
	fail(c.DrainDelay < 0 || c.DrainDelay > 5*time.Minute, "DRAIN_DELAY must be 0..5m (got %s)", c.DrainDelay)

	return errors.Join(errs...)
}
