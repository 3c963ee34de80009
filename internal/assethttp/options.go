package assethttp

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/keithlinneman/assetd/internal/log"
	"github.com/keithlinneman/assetd/internal/static"
)

var ErrInvalidOptions = errors.New("assethttp: invalid options")

// Sender is the part of *static.Assets the handler needs.
type Sender interface {
	SendStaticFile(ctx context.Context, filename string) (*static.Response, error)
	StaticURLPath() (string, bool)
}

// Recorder receives per-request static read outcomes. *metrics.ServerMetrics
// implements it.
type Recorder interface {
	IncStaticInflight()
	DecStaticInflight()
	ObserveStaticRead(result string, size int)
	IncDotSegmentRequest(result string)
}

type Options struct {
	Logger log.Logger
	Assets Sender

	// Templates optionally renders themed error pages, looked up by
	// NotFoundPage and ErrorPage.
	Templates *template.Template
	// FallbackFS serves the same page names when no template is available.
	FallbackFS fs.FS

	NotFoundPage string // default: "404.html"
	ErrorPage    string // default: "500.html"

	Metrics Recorder
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.NotFoundPage == "" {
		o.NotFoundPage = "404.html"
	}
	if o.ErrorPage == "" {
		o.ErrorPage = "500.html"
	}
	if o.Metrics == nil {
		o.Metrics = nopRecorder{}
	}
}

func (o *Options) validate() error {
	if o.Assets == nil {
		return fmt.Errorf("%w: Assets is nil", ErrInvalidOptions)
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) IncStaticInflight()            {}
func (nopRecorder) DecStaticInflight()            {}
func (nopRecorder) ObserveStaticRead(string, int) {}
func (nopRecorder) IncDotSegmentRequest(string)   {}
