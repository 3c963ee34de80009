// Package static serves files from a configured asset folder.
//
// An [Assets] value is built once from [Options] and is read-only afterwards,
// so one value can serve any number of concurrent requests. Every request
// re-validates its path through [pathutil.SafeJoin]; nothing resolved for one
// request is reused by another.
//
// Outcomes:
//   - [ErrNotFound]: the file is missing, is not a regular file, or the name
//     escapes the folder. The three cases are deliberately indistinguishable.
//   - [ErrNoStaticFolder]: serving was requested without a static folder.
//   - [*ReadError]: the file existed but could not be read.
//
// The package does not log. Callers map errors to responses.
package static
