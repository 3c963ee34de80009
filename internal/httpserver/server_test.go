package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/assetd/internal/health"
	"github.com/keithlinneman/assetd/internal/httpmw"
	"github.com/keithlinneman/assetd/internal/log"
)

func serve(h http.Handler, method, target string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// staticRoutes mounts a fake /static tree that answers with the path it saw.
func staticRoutes() RouteRegistrar {
	return RouteFunc(func(r chi.Router) {
		r.Get("/static/*", func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.HasSuffix(r.URL.Path, ".css"):
				w.Header().Set("Content-Type", "text/css; charset=utf-8")
				_, _ = io.WriteString(w, strings.Repeat("body { margin: 0; }\n", 200))
			case strings.HasSuffix(r.URL.Path, "/boom"):
				panic("asset handler blew up")
			default:
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = io.WriteString(w, "asset:"+chi.URLParam(r, "*"))
			}
		})
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNewHandler_Routing(t *testing.T) {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "themed 404", http.StatusNotFound)
	})
	opts := &Options{
		Logger:    log.Nop(),
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(false, "syncing"),
		Routes:    []RouteRegistrar{nil, staticRoutes()},
		NotFound:  notFound,
	}
	h := NewHandler(opts)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		wantBody string
	}{
		{"asset", http.MethodGet, "/static/js/app.js", http.StatusOK, "asset:js/app.js"},
		{"healthy", http.MethodGet, "/-/healthy", http.StatusOK, "ok"},
		{"not ready", http.MethodGet, "/-/ready", http.StatusServiceUnavailable, "syncing"},
		{"unknown path", http.MethodGet, "/admin", http.StatusNotFound, "themed 404"},
		{"wrong method", http.MethodPost, "/static/js/app.js", http.StatusNotFound, "themed 404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewHandler_NoProbesNoRoutes(t *testing.T) {
	rec := serve(NewHandler(&Options{}), http.MethodGet, "/-/healthy")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want chi default 404", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing on default 404")
	}
}

func TestNewHandler_SecurityHeadersEverywhere(t *testing.T) {
	h := NewHandler(&Options{Logger: log.Nop(), UseRecoverMW: true, Routes: []RouteRegistrar{staticRoutes()}})
	for _, path := range []string{"/static/a.bin", "/missing", "/static/boom"} {
		rec := serve(h, http.MethodGet, path)
		for _, hdr := range []string{"Strict-Transport-Security", "Content-Security-Policy", "X-Frame-Options", "Cross-Origin-Resource-Policy"} {
			if rec.Header().Get(hdr) == "" {
				t.Errorf("%s: missing %s", path, hdr)
			}
		}
	}
}

func TestNewHandler_RequestID(t *testing.T) {
	h := NewHandler(&Options{Routes: []RouteRegistrar{staticRoutes()}})

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id := serve(h, http.MethodGet, "/static/x").Header().Get("X-Request-Id")
		if len(id) != 32 || seen[id] {
			t.Fatalf("generated id %q is not a fresh 16-byte hex id", id)
		}
		seen[id] = true
	}

	if got := serve(h, http.MethodGet, "/static/x", "X-Request-Id", "edge-7f3a").Header().Get("X-Request-Id"); got != "edge-7f3a" {
		t.Fatalf("inbound id not propagated: %q", got)
	}
}

func TestNewHandler_OptionalMiddleware(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	var clientIP string
	routes := RouteFunc(func(r chi.Router) {
		r.Get("/static/ip", func(_ http.ResponseWriter, r *http.Request) {
			clientIP = httpmw.ClientIPFromContext(r.Context())
		})
	})

	h := NewHandler(&Options{RateLimitMW: tag("ratelimit"), MetricsMW: tag("metrics"), Routes: []RouteRegistrar{routes}})
	req := httptest.NewRequest(http.MethodGet, "/static/ip", http.NoBody)
	req.RemoteAddr = "192.0.2.10:4321"
	h.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Join(order, ",") != "ratelimit,metrics" {
		t.Fatalf("middleware order = %v", order)
	}
	if clientIP != "192.0.2.10" {
		t.Fatalf("client ip = %q", clientIP)
	}
}

func TestNewHandler_Recover(t *testing.T) {
	var panics int
	h := NewHandler(&Options{UseRecoverMW: true, OnPanic: func() { panics++ }, Routes: []RouteRegistrar{staticRoutes()}})
	if rec := serve(h, http.MethodGet, "/static/boom"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic calls = %d", panics)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("panic should propagate without the recover middleware")
		}
	}()
	serve(NewHandler(&Options{Routes: []RouteRegistrar{staticRoutes()}}), http.MethodGet, "/static/boom")
}

func TestNewHandler_Compression(t *testing.T) {
	h := NewHandler(&Options{Routes: []RouteRegistrar{staticRoutes()}})
	tests := []struct {
		name   string
		path   string
		accept string
		want   string
	}{
		{"css gzipped", "/static/site.css", "gzip", "gzip"},
		{"css without accept", "/static/site.css", "", ""},
		{"binary untouched", "/static/font.woff2", "gzip", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tt.path, "Accept-Encoding", tt.accept)
			if got := rec.Header().Get("Content-Encoding"); got != tt.want {
				t.Fatalf("Content-Encoding = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTraceable(t *testing.T) {
	for path, want := range map[string]bool{
		"/static/app.js":       true,
		"/static/img/logo.png": true,
		"/":                    true,
		"/-/healthy":           false,
		"/-/ready":             false,
		"/favicon.ico":         false,
		"/robots.txt":          false,
	} {
		if got := traceable(path); got != want {
			t.Errorf("traceable(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	srv := NewServer(":8080", http.NotFoundHandler())
	if srv.Addr != ":8080" || srv.Handler == nil {
		t.Fatalf("addr=%q handler=%v", srv.Addr, srv.Handler)
	}
	got := []time.Duration{srv.ReadHeaderTimeout, srv.ReadTimeout, srv.WriteTimeout, srv.IdleTimeout}
	want := []time.Duration{DefaultReadHeaderTimeout, DefaultReadTimeout, DefaultWriteTimeout, DefaultIdleTimeout}
	for i := range got {
		if got[i] == 0 || got[i] != want[i] {
			t.Fatalf("timeout[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if srv.MaxHeaderBytes != DefaultMaxHeaderBytes {
		t.Fatalf("MaxHeaderBytes = %d", srv.MaxHeaderBytes)
	}
}

func TestStart_Lifecycle(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	opts := &Options{Port: port, Routes: []RouteRegistrar{staticRoutes()}}

	stop, err := Start(ctx, opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := Start(ctx, &Options{Port: port}); err == nil {
		t.Fatal("second Start on the same port should fail")
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/static/logo.svg", port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "asset:logo.svg" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("live response missing X-Request-Id")
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := stop(sctx); err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
	}
	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(url); err == nil {
		resp.Body.Close()
		t.Fatal("server still serving after stop")
	}
}
