package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/assetd/internal/httpmw"
)

func newLimiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, opts...)
}

func countAllowed(l *IPLimiter, ip string, n int) int {
	ok := 0
	for i := 0; i < n; i++ {
		if l.allow(ip) {
			ok++
		}
	}
	return ok
}

func TestNew_Defaults(t *testing.T) {
	l := newLimiter(t, WithTTL(-time.Second))
	if l.perSecond != defaultPerSecond || l.burst != defaultBurst || l.maxVisitors != defaultMaxVisitors {
		t.Fatalf("rate=%v burst=%d max=%d", l.perSecond, l.burst, l.maxVisitors)
	}
	if l.ttl != defaultTTL {
		t.Fatalf("non-positive ttl should fall back to default, got %v", l.ttl)
	}
}

func TestAllow_Buckets(t *testing.T) {
	l := newLimiter(t, WithRate(1, 3))
	if got := countAllowed(l, "192.0.2.1", 10); got != 3 {
		t.Fatalf("allowed %d of 10, want burst of 3", got)
	}
	if got := countAllowed(l, "192.0.2.2", 10); got != 3 {
		t.Fatalf("second ip allowed %d, buckets must be independent", got)
	}
	if got := countAllowed(l, "", 10); got != 3 {
		t.Fatalf("empty ip allowed %d, want it limited as one bucket", got)
	}
}

func TestAllow_Refill(t *testing.T) {
	l := newLimiter(t, WithRate(50, 1))
	if !l.allow("198.51.100.4") || l.allow("198.51.100.4") {
		t.Fatal("want one admit then a denial")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.allow("198.51.100.4") {
		t.Fatal("bucket should refill")
	}
}

func TestAllow_DenialHooks(t *testing.T) {
	var mu sync.Mutex
	first := map[string]int{}
	var denied int
	l := newLimiter(t, WithRate(0.001, 1),
		WithOnFirstDenied(func(ip string) { mu.Lock(); first[ip]++; mu.Unlock() }),
		WithOnDenied(func(string) { mu.Lock(); denied++; mu.Unlock() }),
	)

	countAllowed(l, "192.0.2.1", 5)
	countAllowed(l, "192.0.2.2", 3)

	mu.Lock()
	defer mu.Unlock()
	if first["192.0.2.1"] != 1 || first["192.0.2.2"] != 1 {
		t.Fatalf("first-denial hook counts = %v, want once per ip", first)
	}
	if denied != 6 {
		t.Fatalf("denied hook fired %d times, want 6", denied)
	}
}

func TestAllow_NilHooks(t *testing.T) {
	l := newLimiter(t, WithRate(0.001, 1), WithMaxVisitors(1))
	countAllowed(l, "192.0.2.1", 3)
	if l.allow("192.0.2.2") {
		t.Fatal("table is full")
	}
}

func TestCleanup_Eviction(t *testing.T) {
	var firsts atomic.Int32
	l := newLimiter(t, WithRate(0.001, 1), WithTTL(40*time.Millisecond),
		WithOnFirstDenied(func(string) { firsts.Add(1) }))

	countAllowed(l, "stale", 2)
	time.Sleep(120 * time.Millisecond)

	l.mu.Lock()
	_, staleKept := l.visitors["stale"]
	l.mu.Unlock()
	if staleKept {
		t.Fatal("idle visitor should be evicted")
	}

	// a fresh entry gets a fresh bucket and a fresh first-denial
	before := firsts.Load()
	if got := countAllowed(l, "stale", 2); got != 1 {
		t.Fatalf("re-admitted %d, want new burst of 1", got)
	}
	if firsts.Load() != before+1 {
		t.Fatal("first-denial hook should re-arm after eviction")
	}
}

func TestCleanup_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New(ctx, WithTTL(20*time.Millisecond))
	l.allow("192.0.2.9")
	cancel()
	time.Sleep(80 * time.Millisecond)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.visitors["192.0.2.9"]; !ok {
		t.Fatal("no sweeps should run after cancel")
	}
}

func TestMaxVisitors(t *testing.T) {
	var capHits atomic.Int32
	l := newLimiter(t, WithRate(0.001, 2), WithMaxVisitors(2), WithTTL(40*time.Millisecond),
		WithOnCapacity(func() { capHits.Add(1) }))

	if !l.allow("a") || !l.allow("b") {
		t.Fatal("first two ips fit")
	}
	for i := 0; i < 3; i++ {
		if l.allow("c") {
			t.Fatal("new ip admitted past capacity")
		}
	}
	if capHits.Load() != 1 {
		t.Fatalf("capacity hook fired %d times, want 1", capHits.Load())
	}
	if !l.allow("a") || l.allow("a") {
		t.Fatal("tracked ip keeps its own bucket at capacity")
	}

	time.Sleep(120 * time.Millisecond)
	if !l.allow("c") {
		t.Fatal("eviction should free a slot")
	}
	l.allow("d")
	if l.allow("e") {
		t.Fatal("table should be full again")
	}
	if capHits.Load() != 2 {
		t.Fatalf("capacity hook should re-arm after eviction, fired %d", capHits.Load())
	}
}

func TestMaxVisitors_ZeroIsUnbounded(t *testing.T) {
	l := newLimiter(t, WithMaxVisitors(0))
	for i := 0; i < 500; i++ {
		if !l.allow(string(rune('a'+i%26)) + time.Duration(i).String()) {
			t.Fatalf("ip #%d rejected with no cap", i)
		}
	}
}

func TestMaxVisitors_Concurrent(t *testing.T) {
	l := newLimiter(t, WithMaxVisitors(50))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				l.allow(time.Duration(g*1000 + i).String())
			}
		}(g)
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.visitors); n > 50 {
		t.Fatalf("tracked %d visitors, cap is 50", n)
	}
}

func TestMiddleware(t *testing.T) {
	l := newLimiter(t, WithRate(0.001, 2), WithMaxVisitors(2))
	var served int
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		served++
		w.WriteHeader(http.StatusOK)
	}))
	get := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/static/app.js", http.NoBody)
		req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	tests := []struct {
		ip   string
		want int
	}{
		{"192.0.2.1", http.StatusOK},
		{"192.0.2.1", http.StatusOK},
		{"192.0.2.1", http.StatusTooManyRequests},
		{"192.0.2.2", http.StatusOK},
		{"192.0.2.3", http.StatusTooManyRequests}, // table full
	}
	for i, tt := range tests {
		if rec := get(tt.ip); rec.Code != tt.want {
			t.Fatalf("request %d from %s: status %d, want %d", i, tt.ip, rec.Code, tt.want)
		}
	}
	if served != 3 {
		t.Fatalf("handler ran %d times, want 3", served)
	}

	rec := get("192.0.2.1")
	if rec.Header().Get("Retry-After") != "30" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("429 headers = %v", rec.Header())
	}
	if rec.Body.String() != `{"error":"too many requests"}` {
		t.Fatalf("429 body = %q", rec.Body.String())
	}
}
