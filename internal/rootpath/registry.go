package rootpath

import (
	"path/filepath"
	"runtime"
	"sync"
)

// Locator maps a component identifier to a file belonging to that component.
type Locator interface {
	Locate(id string) (file string, ok bool)
}

// LocatorFunc adapts a function into a Locator.
type LocatorFunc func(id string) (string, bool)

func (f LocatorFunc) Locate(id string) (string, bool) { return f(id) }

// Registry records where components live on disk. Packages register from an
// init func so the recorded file is their own source file.
type Registry struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]string)}
}

// Here registers id at the caller's source file and returns that file.
func (r *Registry) Here(id string) string {
	return r.hereAt(id, 2)
}

// hereAt records nothing for binaries built with -trimpath: their caller
// files are module-relative and name no real directory.
func (r *Registry) hereAt(id string, skip int) string {
	_, file, _, ok := runtime.Caller(skip)
	if !ok || !filepath.IsAbs(file) {
		return ""
	}
	r.Set(id, file)
	return file
}

// Set records file for id. An empty id is ignored.
func (r *Registry) Set(id, file string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	r.files[id] = file
	r.mu.Unlock()
}

// Locate returns the file recorded for id.
func (r *Registry) Locate(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[id]
	return f, ok
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by Register.
func Default() *Registry { return defaultRegistry }

// Register records the caller's source file under id in the default registry.
func Register(id string) string {
	return defaultRegistry.hereAt(id, 2)
}

// dirAnchor is the placeholder file name Dirs reports inside a directory.
const dirAnchor = ".component"

// Dirs maps identifiers straight to directories. It serves builds that
// carry no usable source locations.
type Dirs map[string]string

func (d Dirs) Locate(id string) (string, bool) {
	dir, ok := d[id]
	if !ok || dir == "" {
		return "", false
	}
	return filepath.Join(dir, dirAnchor), true
}

// Locators tries each Locator in order and returns the first hit.
type Locators []Locator

func (ls Locators) Locate(id string) (string, bool) {
	for _, l := range ls {
		if l == nil {
			continue
		}
		if file, ok := l.Locate(id); ok && file != "" {
			return file, true
		}
	}
	return "", false
}
