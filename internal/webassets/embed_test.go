package webassets

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keithlinneman/assetd/internal/rootpath"
)

// ---------------------------------------------------------------------------
// FallbackFS
// ---------------------------------------------------------------------------

func TestFallbackFS_ReturnsNonNil(t *testing.T) {
	if FallbackFS() == nil {
		t.Fatal("FallbackFS() returned nil")
	}
}

func TestFallbackFS_Pages(t *testing.T) {
	fsys := FallbackFS()

	tests := []struct {
		page string
		want string
	}{
		{NotFoundPage, "404"},
		{ErrorPage, "500"},
	}
	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			info, err := fs.Stat(fsys, tt.page)
			if err != nil {
				t.Fatalf("%s not found: %v", tt.page, err)
			}
			if info.IsDir() || info.Size() == 0 {
				t.Fatalf("%s must be a non-empty file", tt.page)
			}
			data, err := fs.ReadFile(fsys, tt.page)
			if err != nil {
				t.Fatalf("read %s: %v", tt.page, err)
			}
			body := string(data)
			if !strings.Contains(body, tt.want) {
				t.Fatalf("%s does not mention %s", tt.page, tt.want)
			}
			// generic pages only, nothing request specific
			if strings.Contains(body, "{{") {
				t.Fatalf("%s contains template actions", tt.page)
			}
		})
	}
}

func TestFallbackFS_NoParentEscape(t *testing.T) {
	fsys := FallbackFS()

	// rooted at fallback/
	if _, err := fs.Stat(fsys, "../embed.go"); err == nil {
		t.Fatal("should not be able to escape to parent via ../")
	}
	if _, err := fs.Stat(fsys, "fallback/404.html"); err == nil {
		t.Fatal("FS should be rooted inside fallback/")
	}
}

func TestFallbackFS_Idempotent(t *testing.T) {
	fs1 := FallbackFS()
	fs2 := FallbackFS()

	_, err1 := fs.Stat(fs1, NotFoundPage)
	_, err2 := fs.Stat(fs2, NotFoundPage)
	if err1 != nil || err2 != nil {
		t.Fatalf("multiple FallbackFS() calls should all work: err1=%v err2=%v", err1, err2)
	}
}

// ---------------------------------------------------------------------------
// Embedded FS structure
// ---------------------------------------------------------------------------

func TestEmbeddedFS_OnlyFallbackDir(t *testing.T) {
	entries, err := fs.ReadDir(embedded, ".")
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "fallback" || !entries[0].IsDir() {
		t.Fatalf("embedded root = %v, want only fallback/", entries)
	}
}

func TestComponentRegistered(t *testing.T) {
	file, ok := rootpath.Default().Locate(ComponentID)
	if !ok {
		t.Skip("built with -trimpath, no source location recorded")
	}
	if filepath.Base(file) != "embed.go" {
		t.Fatalf("registered file = %q, want this package's embed.go", file)
	}
	root := rootpath.Resolver{Getwd: func() (string, error) { return "/srv/app", nil }}.Resolve(ComponentID, "")
	if _, err := os.Stat(filepath.Join(root, "fallback", NotFoundPage)); err != nil {
		t.Fatalf("resolved root %q does not hold fallback/: %v", root, err)
	}
}
