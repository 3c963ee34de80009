package static

import (
	"context"
	"net/http"
	"os"

	"github.com/keithlinneman/assetd/internal/pathutil"
	"github.com/keithlinneman/assetd/internal/xerrors"
)

// SendStaticFile serves filename from the static folder.
func (a *Assets) SendStaticFile(ctx context.Context, filename string) (*Response, error) {
	if a.staticFolder == "" {
		return nil, xerrors.WithStack(ErrNoStaticFolder)
	}
	return a.SendFromDirectory(ctx, a.staticFolder, filename)
}

// SendFromDirectory serves name from dir. The joined path must stay inside
// dir and name a regular file, otherwise the result is ErrNotFound.
func (a *Assets) SendFromDirectory(ctx context.Context, dir, name string) (*Response, error) {
	p, err := locate(dir, name)
	if err != nil {
		return nil, err
	}
	return a.SendFile(ctx, p)
}

// SendFile serves the file at path without any containment check. Callers
// outside this package should prefer SendFromDirectory.
func (a *Assets) SendFile(ctx context.Context, path string) (*Response, error) {
	return sendFile(ctx, path, a.mime, a.reader, a.newResponse)
}

// SendFromDirectory is Assets.SendFromDirectory with the default MIME table,
// reader and response factory.
func SendFromDirectory(ctx context.Context, dir, name string) (*Response, error) {
	p, err := locate(dir, name)
	if err != nil {
		return nil, err
	}
	return SendFile(ctx, p)
}

// SendFile is Assets.SendFile with package defaults.
func SendFile(ctx context.Context, path string) (*Response, error) {
	return sendFile(ctx, path, nil, defaultReader, NewResponse)
}

func locate(dir, name string) (string, error) {
	p, err := pathutil.SafeJoin(dir, name)
	if err != nil {
		return "", ErrNotFound
	}
	// missing, unreadable parent and ENOTDIR all look the same to a client
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return p, nil
}

func sendFile(ctx context.Context, path string, types MIMETypes, r *Reader, newResponse ResponseFunc) (*Response, error) {
	mt := mimetypeFor(types, path)

	body, err := r.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}

	resp := newResponse(body, mt)
	if resp == nil {
		return nil, &ReadError{Path: path, Err: xerrors.New("response factory returned nil")}
	}
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	if resp.Mimetype == "" {
		resp.Mimetype = mt
	}
	return resp, nil
}
