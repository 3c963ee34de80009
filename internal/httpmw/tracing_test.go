package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// serveTraced runs h under a recording span and returns the ended span.
func serveTraced(t *testing.T, h http.Handler, method, target string) (sdktrace.ReadOnlySpan, *httptest.ResponseRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("httpmw-test").Start(context.Background(), "http.server")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody).WithContext(ctx))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	return ended[0], rec
}

func routeAttr(s sdktrace.ReadOnlySpan) string {
	for _, kv := range s.Attributes() {
		if kv.Key == "http.route" {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestAnnotateHTTPRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(AnnotateHTTPRoute)
	r.Get("/static/*", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/-/ready", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name      string
		target    string
		wantName  string
		wantRoute string
	}{
		{"asset", "/static/css/site.css", "GET /static/*", "/static/*"},
		{"probe", "/-/ready", "GET /-/ready", "/-/ready"},
		{"unmatched", "/wp-login.php", "GET", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, _ := serveTraced(t, r, http.MethodGet, tt.target)
			if span.Name() != tt.wantName {
				t.Fatalf("span name = %q, want %q", span.Name(), tt.wantName)
			}
			if got := routeAttr(span); got != tt.wantRoute {
				t.Fatalf("http.route = %q, want %q", got, tt.wantRoute)
			}
		})
	}
}

func TestAnnotateHTTPRoute_WithoutRouterOrSpan(t *testing.T) {
	called := 0
	h := AnnotateHTTPRoute(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called++ }))

	span, _ := serveTraced(t, h, http.MethodHead, "/static/a.js")
	if span.Name() != "HEAD" {
		t.Fatalf("span name = %q", span.Name())
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if called != 2 {
		t.Fatalf("next called %d times", called)
	}
}

func TestTraceResponseHeaders(t *testing.T) {
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	valid := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled}))

	tests := []struct {
		name          string
		ctx           context.Context
		traceH, spanH string
		wantTraceH    string
		wantSpanH     string
		wantSet       bool
	}{
		{"defaults", valid, "", "", "X-Trace-Id", "X-Span-Id", true},
		{"custom names", valid, "Trace-Ref", "Span-Ref", "Trace-Ref", "Span-Ref", true},
		{"no span", context.Background(), "", "", "X-Trace-Id", "X-Span-Id", false},
		{"noop span", trace.ContextWithSpan(context.Background(), trace.SpanFromContext(context.Background())), "", "", "X-Trace-Id", "X-Span-Id", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inner bool
			h := TraceResponseHeaders(tt.traceH, tt.spanH)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				inner = true
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", http.NoBody).WithContext(tt.ctx))

			if !inner {
				t.Fatal("next not called")
			}
			gotT, gotS := rec.Header().Get(tt.wantTraceH), rec.Header().Get(tt.wantSpanH)
			if !tt.wantSet {
				if gotT != "" || gotS != "" {
					t.Fatalf("unexpected headers %q %q", gotT, gotS)
				}
				return
			}
			if gotT != tid.String() || gotS != sid.String() {
				t.Fatalf("headers = %q %q", gotT, gotS)
			}
		})
	}
}
