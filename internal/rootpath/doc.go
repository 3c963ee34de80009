// Package rootpath resolves the directory an application treats as its home.
//
// Static assets and templates are configured relative to that directory. The
// root comes from, in order: an explicit override, the source directory of a
// component registered under an identifier, or the process working directory.
//
// [Resolver.Resolve] never returns an error. An unknown component, or one
// whose recorded directory does not exist here, resolves to the working
// directory. Existence of anything under the root is checked later by the
// code that actually opens files.
package rootpath
