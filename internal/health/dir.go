package health

import (
	"context"
	"os"

	"github.com/keithlinneman/assetd/internal/xerrors"
)

// DirProbe fails until dir exists and is a directory. The reason carries name
// rather than the path so probe output does not describe the filesystem.
func DirProbe(name, dir string) CheckFunc {
	return func(context.Context) error {
		if dir == "" {
			return xerrors.Newf("%s: not configured", name)
		}
		fi, err := os.Stat(dir)
		if err != nil {
			return xerrors.Newf("%s: folder unavailable", name)
		}
		if !fi.IsDir() {
			return xerrors.Newf("%s: not a directory", name)
		}
		return nil
	}
}
