package static

import (
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"gitlab.com/gitlab-org/go-mimedb"
)

// DefaultMimetype is used when the extension is unknown.
const DefaultMimetype = "application/octet-stream"

// MIMETypes guesses a media type from a file's base name.
type MIMETypes interface {
	TypeByName(name string) (string, bool)
}

// ExtensionMap is a fixed extension table, keys include the dot (".css").
// Lookups are case-insensitive.
type ExtensionMap map[string]string

func (m ExtensionMap) TypeByName(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "", false
	}
	t, ok := m[ext]
	return t, ok && t != ""
}

var (
	mimeDBOnce sync.Once
	mimeDBErr  error
)

// DefaultMIMETypes returns the process table from package mime, extended
// with the go-mimedb database on first use.
func DefaultMIMETypes() MIMETypes {
	mimeDBOnce.Do(func() {
		mimeDBErr = mimedb.LoadTypes()
	})
	return systemTypes{}
}

// MIMEDBError reports whether loading go-mimedb failed. The stdlib table
// still works when it did.
func MIMEDBError() error {
	DefaultMIMETypes()
	return mimeDBErr
}

type systemTypes struct{}

// TypeByName drops parameters, so ".html" is "text/html" rather than the
// charset form package mime registers.
func (systemTypes) TypeByName(name string) (string, bool) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", false
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return "", false
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return t, true
	}
	return mt, true
}

func mimetypeFor(types MIMETypes, path string) string {
	if types == nil {
		types = DefaultMIMETypes()
	}
	if t, ok := types.TypeByName(filepath.Base(path)); ok {
		return t
	}
	return DefaultMimetype
}
