package static

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/keithlinneman/assetd/internal/pathutil"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newAssets(t *testing.T, opts Options) *Assets {
	t.Helper()
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestSendFromDirectory(t *testing.T) {
	dir := t.TempDir()
	page := []byte("<!doctype html><p>hello</p>")
	blob := []byte{0x00, 0x01, 0x02, 0xff}
	writeFile(t, filepath.Join(dir, "present.html"), page)
	writeFile(t, filepath.Join(dir, "noext"), blob)
	writeFile(t, filepath.Join(dir, "css", "site.css"), []byte("body{}"))
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	a := newAssets(t, Options{RootPath: dir})
	ctx := context.Background()

	tests := []struct {
		name     string
		file     string
		wantBody []byte
		wantType string
		wantErr  error
	}{
		{name: "html", file: "present.html", wantBody: page, wantType: "text/html"},
		{name: "no extension", file: "noext", wantBody: blob, wantType: DefaultMimetype},
		{name: "nested", file: "css/site.css", wantBody: []byte("body{}"), wantType: "text/css"},
		{name: "missing", file: "missing.txt", wantErr: ErrNotFound},
		{name: "directory", file: "subdir", wantErr: ErrNotFound},
		{name: "dir root", file: "", wantErr: ErrNotFound},
		{name: "escape", file: "../../etc/passwd", wantErr: ErrNotFound},
		{name: "file as directory", file: "present.html/x", wantErr: ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := a.SendFromDirectory(ctx, dir, tt.file)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if resp != nil {
					t.Fatal("response returned alongside error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SendFromDirectory: %v", err)
			}
			if resp.Status != 200 {
				t.Errorf("status = %d", resp.Status)
			}
			if !bytes.Equal(resp.Body, tt.wantBody) {
				t.Errorf("body = %q, want %q", resp.Body, tt.wantBody)
			}
			if resp.Mimetype != tt.wantType {
				t.Errorf("mimetype = %q, want %q", resp.Mimetype, tt.wantType)
			}
		})
	}
}

func TestSendFromDirectory_EscapeMatchesBothSentinels(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "b")
	writeFile(t, filepath.Join(dir, "ok.txt"), []byte("ok"))
	writeFile(t, filepath.Join(parent, "b-evil", "x"), []byte("secret"))

	_, err := SendFromDirectory(context.Background(), dir, "../b-evil/x")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, pathutil.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestSendStaticFile_NoFolderIsConfigurationError(t *testing.T) {
	a := newAssets(t, Options{RootPath: t.TempDir()})

	_, err := a.SendStaticFile(context.Background(), "index.html")
	if !errors.Is(err, ErrNoStaticFolder) {
		t.Fatalf("err = %v, want ErrNoStaticFolder", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("configuration error must not look like not found")
	}
}

func TestSendStaticFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "static", "app.js"), []byte("console.log(1)"))

	a := newAssets(t, Options{RootPath: root, StaticFolder: "static"})

	resp, err := a.SendStaticFile(context.Background(), "app.js")
	if err != nil {
		t.Fatalf("SendStaticFile: %v", err)
	}
	if string(resp.Body) != "console.log(1)" {
		t.Fatalf("body = %q", resp.Body)
	}
	if ct := resp.Header.Get("Content-Type"); ct == "" {
		t.Fatal("Content-Type header missing")
	}

	if _, err := a.SendStaticFile(context.Background(), "../static/app.js"); err != nil {
		t.Fatalf("path that re-enters the folder should be served: %v", err)
	}
	if _, err := a.SendStaticFile(context.Background(), "../secret"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("escape from static folder: err = %v", err)
	}
}

func TestSendFile_InjectedCollaborators(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "data.custom"), []byte("payload"))

	var gotType string
	a := newAssets(t, Options{
		RootPath: dir,
		MIME:     ExtensionMap{".custom": "application/x-custom"},
		NewResponse: func(body []byte, mimetype string) *Response {
			gotType = mimetype
			return &Response{Body: body, Header: map[string][]string{"X-Factory": {"yes"}}}
		},
	})

	resp, err := a.SendFromDirectory(context.Background(), dir, "data.custom")
	if err != nil {
		t.Fatalf("SendFromDirectory: %v", err)
	}
	if gotType != "application/x-custom" {
		t.Fatalf("factory saw mimetype %q", gotType)
	}
	if resp.Header.Get("X-Factory") != "yes" {
		t.Fatal("custom factory not used")
	}
	if resp.Status != 200 || resp.Mimetype != "application/x-custom" {
		t.Fatalf("defaults not filled: status=%d mimetype=%q", resp.Status, resp.Mimetype)
	}
}

func TestSendFile_ReadErrorIsNotNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	writeFile(t, path, bytes.Repeat([]byte("x"), 64))

	a := newAssets(t, Options{RootPath: dir, MaxFileSize: 16})

	_, err := a.SendFromDirectory(context.Background(), dir, "big.bin")
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *ReadError", err)
	}
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("err = %v, want ErrFileTooLarge", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("read failure must not be reported as not found")
	}
	if re.Path != path {
		t.Fatalf("ReadError.Path = %q", re.Path)
	}
}

func TestSendFile_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "locked.txt")
	writeFile(t, path, []byte("secret"))
	if err := os.Chmod(path, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	_, err := SendFromDirectory(context.Background(), dir, "locked.txt")
	var re *ReadError
	if !errors.As(err, &re) || !errors.Is(err, os.ErrPermission) {
		t.Fatalf("err = %v, want *ReadError wrapping permission denied", err)
	}
}

func TestSendFile_VanishedFile(t *testing.T) {
	_, err := SendFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *ReadError", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("a file that vanished after the check is a server error")
	}
}

func TestSendFile_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := SendFromDirectory(ctx, dir, "a.txt")
	var re *ReadError
	if !errors.As(err, &re) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want *ReadError wrapping context.Canceled", err)
	}
}
