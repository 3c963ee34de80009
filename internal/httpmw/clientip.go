package httpmw

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// unknownClient is recorded when RemoteAddr carries no usable address.
const unknownClient = "0.0.0.0"

// ClientIPOptions controls how much of X-Forwarded-For is believed.
type ClientIPOptions struct {
	// TrustedHops counts the proxies in front of assetd. Zero ignores
	// X-Forwarded-For; 1 takes its last entry (a single load balancer); 2
	// takes the second to last (CDN then load balancer).
	TrustedHops int
}

// ClientIP is ClientIPWithOptions with no trusted proxies.
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions stores the resolved client address in the request
// context for logging and rate limiting.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

// clientAddr resolves the peer address. Forwarding headers are honoured
// only when the peer is on a private network and hops are configured;
// otherwise they are removed so nothing downstream reads them.
func clientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return unknownClient
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return unknownClient
	}

	if !peer.Unmap().IsPrivate() || trustedHops <= 0 {
		dropForwarded(r.Header)
		return host
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return host
	}
	hops := strings.Split(xff, ",")
	i := len(hops) - trustedHops
	if i < 0 {
		// shorter chain than the proxies we expect: spoofed or misrouted
		dropForwarded(r.Header)
		return host
	}
	if cand := strings.TrimSpace(hops[i]); validIP(cand) {
		return cand
	}
	return host
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil && !strings.Contains(s, "%")
}

func dropForwarded(h http.Header) {
	h.Del("X-Forwarded-For")
	h.Del("X-Forwarded-Proto")
}

// ClientIPFromContext returns the address stored by ClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
