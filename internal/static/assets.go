package static

import (
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/keithlinneman/assetd/internal/pathutil"
	"github.com/keithlinneman/assetd/internal/rootpath"
)

// Options describes where a component keeps its assets. Only the paths
// are required; everything else has a working default.
type Options struct {
	// ImportName identifies the component whose directory becomes the root
	// when RootPath is empty.
	ImportName string
	// RootPath overrides root resolution and is used verbatim.
	RootPath string

	// StaticFolder is relative to the root unless absolute. Empty disables
	// static serving.
	StaticFolder string
	// StaticURLPath is where the folder is mounted. Empty derives
	// "/" + base(StaticFolder).
	StaticURLPath string
	// TemplateFolder is relative to the root unless absolute. Optional.
	TemplateFolder string

	// Root resolution hooks, see rootpath.Resolver.
	Locator rootpath.Locator
	Getwd   func() (string, error)

	MIME        MIMETypes    // default: DefaultMIMETypes()
	NewResponse ResponseFunc // default: NewResponse

	MaxConcurrentReads int64 // default: DefaultMaxConcurrentReads
	MaxFileSize        int64 // default: DefaultMaxFileSize, negative disables
}

func (o *Options) setDefaults() {
	if o.MIME == nil {
		o.MIME = DefaultMIMETypes()
	}
	if o.NewResponse == nil {
		o.NewResponse = NewResponse
	}
}

func (o *Options) validate() error {
	if o.StaticURLPath != "" && o.StaticURLPath[0] != '/' {
		return fmt.Errorf("%w: StaticURLPath %q must start with /", ErrInvalidOptions, o.StaticURLPath)
	}
	if o.MaxConcurrentReads < 0 {
		return fmt.Errorf("%w: MaxConcurrentReads must not be negative", ErrInvalidOptions)
	}
	return nil
}

// Assets is an immutable view of one component's asset layout.
type Assets struct {
	root           string
	staticFolder   string
	staticURLPath  string
	templateFolder string

	mime        MIMETypes
	newResponse ResponseFunc
	reader      *Reader
}

// New resolves the root once and fixes the layout for the life of the Assets.
func New(opts Options) (*Assets, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	root := rootpath.Resolver{Locator: opts.Locator, Getwd: opts.Getwd}.
		Resolve(opts.ImportName, opts.RootPath)

	a := &Assets{
		root:        root,
		mime:        opts.MIME,
		newResponse: opts.NewResponse,
		reader:      NewReader(opts.MaxConcurrentReads, opts.MaxFileSize),
	}
	if opts.StaticFolder != "" {
		a.staticFolder = a.underRoot(opts.StaticFolder)
		a.staticURLPath = opts.StaticURLPath
		if a.staticURLPath == "" {
			a.staticURLPath = defaultURLPath(a.staticFolder)
		}
	}
	if opts.TemplateFolder != "" {
		a.templateFolder = a.underRoot(opts.TemplateFolder)
	}
	return a, nil
}

// defaultURLPath mounts a folder under its own name. A folder that is the
// filesystem root has no name and mounts at "/".
func defaultURLPath(folder string) string {
	switch base := filepath.ToSlash(filepath.Base(folder)); base {
	case "/", ".":
		return "/"
	default:
		return "/" + base
	}
}

func (a *Assets) underRoot(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(a.root, p)
}

// Root returns the resolved root directory.
func (a *Assets) Root() string { return a.root }

// StaticFolder returns the absolute static folder, if configured.
func (a *Assets) StaticFolder() (string, bool) {
	return a.staticFolder, a.staticFolder != ""
}

// HasStaticFolder reports whether static serving is enabled.
func (a *Assets) HasStaticFolder() bool { return a.staticFolder != "" }

// StaticURLPath returns the mount path for the static folder. It is never
// set without a static folder.
func (a *Assets) StaticURLPath() (string, bool) {
	return a.staticURLPath, a.staticURLPath != ""
}

// TemplateFolder returns the absolute template folder, if configured.
func (a *Assets) TemplateFolder() (string, bool) {
	return a.templateFolder, a.templateFolder != ""
}

// TemplateFS returns the template folder as a filesystem.
func (a *Assets) TemplateFS() (fs.FS, bool) {
	if a.templateFolder == "" {
		return nil, false
	}
	return os.DirFS(a.templateFolder), true
}

// ParseTemplates parses the template files matching patterns from the
// template folder.
func (a *Assets) ParseTemplates(patterns ...string) (*template.Template, error) {
	fsys, ok := a.TemplateFS()
	if !ok {
		return nil, ErrNoTemplateFolder
	}
	if len(patterns) == 0 {
		patterns = []string{"*.html"}
	}
	return template.ParseFS(fsys, patterns...)
}

// OpenResource opens name, relative to the root, for reading.
func (a *Assets) OpenResource(name string) (*os.File, error) {
	return a.OpenResourceMode(name, os.O_RDONLY)
}

// OpenResourceMode is OpenResource with an explicit open flag. Any flag that
// would allow writing is rejected with ErrWriteMode.
func (a *Assets) OpenResourceMode(name string, flag int) (*os.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, ErrWriteMode
	}
	p, err := pathutil.SafeJoin(a.root, name)
	if err != nil {
		return nil, ErrNotFound
	}
	return os.OpenFile(p, flag, 0)
}
