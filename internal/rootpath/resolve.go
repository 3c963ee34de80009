package rootpath

import (
	"os"
	"path/filepath"
)

// EntryPoint is the identifier of the main program. It never resolves
// through the locator.
const EntryPoint = "main"

// Resolver turns an identifier into an absolute root directory.
type Resolver struct {
	// Locator finds component files. Nil means the default registry.
	Locator Locator
	// Getwd returns the working directory. Nil means os.Getwd.
	Getwd func() (string, error)
}

// Resolve returns explicitRoot verbatim when set. Otherwise it returns the
// directory holding the located component, falling back to the working
// directory for unknown identifiers, for EntryPoint and for located
// directories that do not exist on this machine.
func (r Resolver) Resolve(identifier, explicitRoot string) string {
	if explicitRoot != "" {
		return explicitRoot
	}
	if identifier != "" && identifier != EntryPoint {
		loc := r.Locator
		if loc == nil {
			loc = defaultRegistry
		}
		if file, ok := loc.Locate(identifier); ok && file != "" {
			if abs, err := filepath.Abs(file); err == nil {
				if dir := filepath.Dir(abs); isDir(dir) {
					return dir
				}
			}
		}
	}
	return r.cwd()
}

func (r Resolver) cwd() string {
	getwd := r.Getwd
	if getwd == nil {
		getwd = os.Getwd
	}
	if wd, err := getwd(); err == nil && wd != "" {
		return wd
	}
	// last resort, still a usable anchor
	if abs, err := filepath.Abs("."); err == nil {
		return abs
	}
	return "."
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

// Resolve uses a zero Resolver.
func Resolve(identifier, explicitRoot string) string {
	return Resolver{}.Resolve(identifier, explicitRoot)
}
