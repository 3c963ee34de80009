package assethttp

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/assetd/internal/log"
	"github.com/keithlinneman/assetd/internal/pathutil"
	"github.com/keithlinneman/assetd/internal/static"
)

// Read outcomes reported to the Recorder.
const (
	ResultOK           = "ok"
	ResultNotFound     = "not_found"
	ResultError        = "error"
	ResultUnconfigured = "unconfigured"
)

type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// read-only surface
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	name, ok := requestedName(r)
	if !ok {
		h.opts.Metrics.ObserveStaticRead(ResultNotFound, 0)
		h.serveNotFound(w, r)
		return
	}

	resp, err := h.send(ctx, name)
	result := outcome(err)
	if pathutil.HasDotSegments(name) {
		h.opts.Metrics.IncDotSegmentRequest(result)
		log.FromContext(ctx).Debug(ctx, "static request with dot segments", "name", name, "result", result)
	}

	switch result {
	case ResultOK:
		h.opts.Metrics.ObserveStaticRead(result, len(resp.Body))
		resp.ServeHTTP(w, r)
	case ResultNotFound:
		h.opts.Metrics.ObserveStaticRead(result, 0)
		h.serveNotFound(w, r)
	case ResultUnconfigured:
		h.opts.Metrics.ObserveStaticRead(result, 0)
		log.FromContext(ctx).Error(ctx, err, "static request without a static folder")
		h.serveError(w, r)
	default:
		h.opts.Metrics.ObserveStaticRead(result, 0)
		log.FromContext(ctx).Error(ctx, err, "static file read failed", "name", name)
		h.serveError(w, r)
	}
}

// send keeps the in-flight gauge balanced even when the read or the
// response factory panics.
func (h *Handler) send(ctx context.Context, name string) (*static.Response, error) {
	h.opts.Metrics.IncStaticInflight()
	defer h.opts.Metrics.DecStaticInflight()
	return h.opts.Assets.SendStaticFile(ctx, name)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, static.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, static.ErrNoStaticFolder):
		return ResultUnconfigured
	}
	return ResultError
}

// requestedName extracts the file name below the mount point.
func requestedName(r *http.Request) (string, bool) {
	name := chi.URLParam(r, "*")
	if chi.RouteContext(r.Context()) == nil {
		name = strings.TrimPrefix(r.URL.Path, "/")
	} else if r.URL.RawPath != "" {
		// chi matched against the escaped path
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			return "", false
		}
		name = unescaped
	}
	if name == "" || strings.HasSuffix(name, "/") {
		// no directory listing
		return "", false
	}
	return name, true
}

// NotFound renders the 404 page for requests outside the static mount.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.serveNotFound(w, r)
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, http.StatusNotFound, h.opts.NotFoundPage)
}

func (h *Handler) serveError(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, http.StatusInternalServerError, h.opts.ErrorPage)
}

// servePage prefers a themed template, then the embedded fallback, then
// plain text. Bodies never include request details.
func (h *Handler) servePage(w http.ResponseWriter, r *http.Request, status int, page string) {
	w.Header().Set("Cache-Control", "no-store")

	if h.opts.Templates != nil && h.opts.Templates.Lookup(page) != nil {
		var buf bytes.Buffer
		data := struct {
			Status     int
			StatusText string
		}{status, http.StatusText(status)}
		err := h.opts.Templates.ExecuteTemplate(&buf, page, data)
		if err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(status)
			if r.Method != http.MethodHead {
				_, _ = w.Write(buf.Bytes())
			}
			return
		}
		log.FromContext(r.Context()).Warn(r.Context(), "error page template failed, using fallback", "page", page, "error", err)
	}

	if existsFile(h.opts.FallbackFS, page) {
		serveFileWithStatus(w, r, status, h.opts.FallbackFS, page)
		return
	}

	writePlain(w, r, status)
}

func writePlain(w http.ResponseWriter, r *http.Request, status int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(http.StatusText(status)))
	}
}

// serveFileWithStatus writes name from fsys with a forced status.
// http.ServeFileFS is not used here: it rejects request paths containing
// "..", which are exactly the requests that end up on the 404 page.
func serveFileWithStatus(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		writePlain(w, r, status)
		return
	}
	ct := mime.TypeByExtension(path.Ext(name))
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

func existsFile(fsys fs.FS, name string) bool {
	if fsys == nil || name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
