package static

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/keithlinneman/assetd/internal/xerrors"
)

const (
	DefaultMaxConcurrentReads = 64
	DefaultMaxFileSize        = 32 << 20
)

// Reader loads whole files off the request goroutine. At most
// maxConcurrent reads touch the disk at once; callers waiting for a slot
// give up when their context ends.
type Reader struct {
	sem     *semaphore.Weighted
	maxSize int64
	tracer  trace.Tracer
}

// NewReader returns a Reader. Non-positive arguments select the defaults;
// a negative maxSize disables the size limit.
func NewReader(maxConcurrent, maxSize int64) *Reader {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentReads
	}
	if maxSize == 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Reader{
		sem:     semaphore.NewWeighted(maxConcurrent),
		maxSize: maxSize,
		tracer:  otel.Tracer("assetd/static"),
	}
}

var defaultReader = NewReader(0, 0)

type readResult struct {
	data []byte
	err  error
}

// ReadFile returns the content of path. Any failure, including ctx ending
// while the read is in flight, is a *ReadError. The file handle is closed by
// the goroutine that opened it, whether or not the caller is still waiting.
func (r *Reader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	ctx, span := r.tracer.Start(ctx, "static.read",
		trace.WithAttributes(attribute.String("file.name", filepath.Base(path))))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return &ReadError{Path: path, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fail(err)
	}

	done := make(chan readResult, 1)
	go func() {
		defer r.sem.Release(1)
		data, err := readAll(path, r.maxSize)
		done <- readResult{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fail(res.err)
		}
		span.SetAttributes(attribute.Int("file.size", len(res.data)))
		return res.data, nil
	case <-ctx.Done():
		return nil, fail(ctx.Err())
	}
}

func readAll(path string, maxSize int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, xerrors.Newf("%s is no longer a regular file", filepath.Base(path))
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, ErrFileTooLarge
	}

	var src io.Reader = f
	if maxSize > 0 {
		src = io.LimitReader(f, maxSize+1)
	}
	var buf bytes.Buffer
	buf.Grow(int(info.Size()))
	if _, err := buf.ReadFrom(src); err != nil {
		return nil, err
	}
	// file grew after Stat
	if maxSize > 0 && int64(buf.Len()) > maxSize {
		return nil, ErrFileTooLarge
	}
	return buf.Bytes(), nil
}
