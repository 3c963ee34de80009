package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/assetd/internal/log"
)

// adminPeer reports whether remoteAddr may reach the admin port: loopback,
// RFC 1918/4193 private, or link-local. Forwarded headers are not consulted.
func adminPeer(remoteAddr string) (bool, string) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return false, "malformed remote addr"
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false, "unparseable remote ip"
	}
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return true, ""
	}
	return false, "public peer"
}

func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, reason := adminPeer(r.RemoteAddr); !ok {
			L.Warn(r.Context(), "ops request denied",
				"reason", reason,
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
