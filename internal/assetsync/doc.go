// Package assetsync mirrors an S3 prefix into the local static folder before
// the public listener starts.
//
// The prefix is either fixed or suffixed with a release id read from SSM.
// Every object key is treated as untrusted: it is joined onto the static
// folder with pathutil.SafeJoin and skipped when it would land outside it.
// Objects are written to a temp file in the destination directory and
// renamed into place, so a reader never sees a partial file.
package assetsync
