package httpmw

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "assetd/httpmw"

var errNoHijack = errors.New("httpmw: hijack not supported by response writer")

// responseWriter counts what a handler sends. Under a recording request span
// it also opens a child "response.write" span at the first byte, which is
// where time spent streaming a large asset to a slow client shows up.
type responseWriter struct {
	http.ResponseWriter
	ctx   context.Context
	start time.Time

	status int
	bytes  int64

	writeSpan        trace.Span
	writeSpanStarted bool
	blocked          time.Duration
	writeErr         error
}

func newResponseWriter(w http.ResponseWriter, r *http.Request, start time.Time) *responseWriter {
	return &responseWriter{ResponseWriter: w, ctx: r.Context(), start: start}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.beginWrite()
	rw.status = code
	rw.timed(func() { rw.ResponseWriter.WriteHeader(code) })
}

func (rw *responseWriter) Write(b []byte) (n int, err error) {
	rw.beginWrite()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	rw.timed(func() { n, err = rw.ResponseWriter.Write(b) })
	rw.bytes += int64(n)
	if rw.writeErr == nil {
		rw.writeErr = err
	}
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errNoHijack
}

// statusCode is what the client saw; handlers that never write get 200.
func (rw *responseWriter) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) timed(fn func()) {
	t := time.Now()
	fn()
	rw.blocked += time.Since(t)
}

func (rw *responseWriter) beginWrite() {
	if rw.writeSpanStarted {
		return
	}
	rw.writeSpanStarted = true
	if !trace.SpanFromContext(rw.ctx).IsRecording() {
		return
	}
	ttfb := time.Since(rw.start)
	rw.ctx, rw.writeSpan = otel.Tracer(tracerName).Start(rw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())))
}

func (rw *responseWriter) finishWriteSpan() {
	span := rw.writeSpan
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("http.response.status_code", rw.statusCode()),
		attribute.Int64("http.response.body.size", rw.bytes),
		attribute.Float64("http.server.write.block_seconds", rw.blocked.Seconds()),
	)
	if rw.writeErr != nil {
		span.RecordError(rw.writeErr)
		span.SetStatus(codes.Error, rw.writeErr.Error())
	}
	span.End()
}
