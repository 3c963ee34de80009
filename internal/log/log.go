// Package log is the structured logger used across assetd. It wraps log/slog
// behind a small interface so request-scoped loggers can travel in a context
// and tests can swap in Nop.
package log

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/keithlinneman/assetd/internal/xerrors"
)

// Logger methods take the request context first so trace IDs reach every
// record. Error always carries the error being reported.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string

	Level slog.Level
	// StacktraceLevel defaults to error.
	StacktraceLevel slog.Level
	JSONFormat      bool

	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to os.Stdout.
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// ParseLevel accepts the slog level names, case-insensitive and with
// surrounding space, including offsets such as "info+2".
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, xerrors.Newf("unknown log level %q (want debug, info, warn or error)", s)
	}
	return lvl, nil
}
