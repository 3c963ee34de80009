package log

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// errorLinks controls the per-frame "error_links" attribute on Error.
type errorLinks struct {
	enabled bool
	max     int
}

type slogLogger struct {
	h     slog.Handler
	base  []slog.Attr
	links errorLinks
}

func newSlog(opts Options) (Logger, error) {
	out := cmp.Or[io.Writer](opts.Writer, os.Stdout)
	stackAt := cmp.Or(opts.StacktraceLevel, slog.LevelError)

	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler = slog.NewTextHandler(out, hopts)
	if opts.JSONFormat {
		h = slog.NewJSONHandler(out, hopts)
	}

	base := []slog.Attr{slog.String("app", opts.App)}
	for _, a := range []slog.Attr{slog.String("version", opts.Version), slog.String("commit", opts.Commit)} {
		if a.Value.String() != "" {
			base = append(base, a)
		}
	}

	links := errorLinks{enabled: opts.IncludeErrorLinks, max: opts.MaxErrorLinks}
	if links.max <= 0 {
		links.max = 8
	}
	return &slogLogger{
		h:     stackHandler{next: traceHandler{next: h}, level: stackAt},
		base:  base,
		links: links,
	}, nil
}

// With returns a child; the receiver is shared between goroutines and is
// never modified.
func (s *slogLogger) With(kv ...any) Logger {
	child := *s
	child.base = appendKV(slices.Clip(s.base), kv)
	return &child
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelDebug, msg, kv)
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelInfo, msg, kv)
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.log(ctx, slog.LevelWarn, msg, kv)
}

// Error adds the error together with its type, unwrap chain and, when
// enabled, the source location of each wrap.
func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	if err == nil {
		s.log(ctx, slog.LevelError, msg, kv)
		return
	}
	surface, root := classifyTypes(err)
	kv = append(kv, "err", err, "error_type", surface, "cause_type", root)
	if chain := errorChain(err); len(chain) > 1 {
		kv = append(kv, "error_chain", chain)
	}
	if s.links.enabled {
		kv = append(kv, "error_links", chainLinks(err, s.links.max))
	}
	s.log(ctx, slog.LevelError, msg, kv)
}

func (s *slogLogger) Sync() error { return nil }

// appendKV turns alternating key/value pairs into attrs. Non-string keys
// and a dangling final key are dropped.
func appendKV(dst []slog.Attr, kv []any) []slog.Attr {
	for len(kv) >= 2 {
		if k, ok := kv[0].(string); ok {
			dst = append(dst, slog.Any(k, kv[1]))
		}
		kv = kv[2:]
	}
	return dst
}

func (s *slogLogger) log(ctx context.Context, lvl slog.Level, msg string, kv []any) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, log and the exported level method
	var pc [1]uintptr
	runtime.Callers(3, pc[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pc[0])
	r.AddAttrs(s.base...)
	r.AddAttrs(appendKV(nil, kv)...)
	_ = s.h.Handle(ctx, r)
}

// traceHandler adds trace_id/span_id when ctx carries a valid span.
type traceHandler struct{ next slog.Handler }

func (h traceHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{next: h.next.WithGroup(name)}
}

// stackHandler attaches a stack to records at or above level, preferring the
// stack captured on the logged error.
type stackHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h stackHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h stackHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		var pcs []uintptr
		r.Attrs(func(a slog.Attr) bool {
			if a.Key != "err" {
				return true
			}
			if hs, ok := a.Value.Any().(interface{ StackPCs() []uintptr }); ok {
				pcs = hs.StackPCs()
			}
			return false
		})
		if len(pcs) == 0 {
			buf := make([]uintptr, 64)
			pcs = buf[:runtime.Callers(3, buf)]
		}
		r.AddAttrs(slog.String("stack", renderStack(pcs)))
	}
	return h.next.Handle(ctx, r)
}

func (h stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stackHandler{next: h.next.WithAttrs(attrs), level: h.level}
}

func (h stackHandler) WithGroup(name string) slog.Handler {
	return stackHandler{next: h.next.WithGroup(name), level: h.level}
}

func isInternalFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "log/slog.") ||
		strings.Contains(fn, "/internal/log.") ||
		strings.Contains(fn, "/internal/xerrors.")
}

// renderStack prints func/file:line pairs, skipping leading logger frames
// and stopping at the runtime.
func renderStack(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	started := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !started && !isInternalFrame(fr.Function) {
			started = true
		}
		if started {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// errorChain lists each distinct message from the outermost error inward,
// then the members of a joined error.
func errorChain(err error) []string {
	var msgs []string
	add := func(e error) {
		if m := e.Error(); len(msgs) == 0 || msgs[len(msgs)-1] != m {
			msgs = append(msgs, m)
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e)
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			add(e)
		}
	}
	return msgs
}

// chainLinks walks at most limit errors and keeps the outermost one plus
// every wrap that knows where it was created.
func chainLinks(err error, limit int) []map[string]any {
	var out []map[string]any
	depth := 0
	for e := err; e != nil && (limit <= 0 || depth < limit); e = errors.Unwrap(e) {
		fr, located := errorFrame(e)
		if depth == 0 || located {
			link := map[string]any{"msg": e.Error()}
			if located {
				link["func"] = fr.Function
				link["file"] = fr.File
				link["line"] = fr.Line
			}
			out = append(out, link)
		}
		depth++
	}
	return out
}

func errorFrame(e error) (runtime.Frame, bool) {
	switch v := e.(type) {
	case interface{ PC() uintptr }:
		return frameFromPC(v.PC())
	case interface{ StackPCs() []uintptr }:
		return firstExternalFrame(v.StackPCs())
	}
	return runtime.Frame{}, false
}

func frameFromPC(pc uintptr) (runtime.Frame, bool) {
	if pc == 0 {
		return runtime.Frame{}, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr, true
}

func firstExternalFrame(pcs []uintptr) (runtime.Frame, bool) {
	if len(pcs) == 0 {
		return runtime.Frame{}, false
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if !isInternalFrame(fr.Function) {
			return fr, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

// classifyTypes reports the first non-wrapper type in the chain and the
// type of the innermost error.
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}
	var last error
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
		if surface != "" {
			continue
		}
		t := reflect.TypeOf(e)
		u := t
		for u.Kind() == reflect.Pointer {
			u = u.Elem()
		}
		if strings.Contains(u.PkgPath(), "/internal/xerrors") {
			continue
		}
		if u.PkgPath() == "fmt" && u.Name() == "wrapError" {
			continue
		}
		surface = t.String()
	}
	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, fmt.Sprintf("%T", last)
}
