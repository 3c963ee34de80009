package static

import (
	"errors"
	"fmt"

	"github.com/keithlinneman/assetd/internal/pathutil"
)

var (
	// ErrNotFound wraps pathutil.ErrNotFound so either sentinel matches.
	ErrNotFound = fmt.Errorf("static: file not found: %w", pathutil.ErrNotFound)

	ErrNoStaticFolder   = errors.New("static: no static folder configured")
	ErrNoTemplateFolder = errors.New("static: no template folder configured")
	ErrFileTooLarge     = errors.New("static: file exceeds size limit")
	ErrWriteMode        = errors.New("static: resources are read-only")
	ErrInvalidOptions   = errors.New("static: invalid options")
)

// ReadError reports a failure reading a file that passed the existence check.
// Path is for logs only and must not be sent to clients.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return "static: read " + e.Path + ": " + e.Err.Error()
}

func (e *ReadError) Unwrap() error { return e.Err }
