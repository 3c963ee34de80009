package assethttp

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/assetd/internal/httpmw"
)

// Routes mounts a Handler at the assets' static URL path.
type Routes struct {
	Handler http.Handler
	Prefix  string
}

// NewRoutes returns nil when the assets have no static folder.
func NewRoutes(h *Handler) *Routes {
	prefix, ok := h.opts.Assets.StaticURLPath()
	if !ok {
		return nil
	}
	return &Routes{Handler: h, Prefix: strings.TrimSuffix(prefix, "/")}
}

func (rt *Routes) RegisterRoutes(r chi.Router) {
	if rt == nil {
		return
	}
	// every method reaches the handler so it can answer 405 itself
	r.With(httpmw.Scope("static")).Handle(rt.Prefix+"/*", rt.Handler)
}
