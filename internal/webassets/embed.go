// Package webassets embeds the error pages served when no themed template
// is configured.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/assetd/internal/rootpath"
)

// ComponentID names this package for root resolution. In a build that keeps
// source paths, -import-name=webassets roots the asset layout here.
const ComponentID = "webassets"

func init() { rootpath.Register(ComponentID) }

// fallback/ must hold 404.html and 500.html
//
//go:embed fallback
var embedded embed.FS

// Page names inside FallbackFS.
const (
	NotFoundPage = "404.html"
	ErrorPage    = "500.html"
)

// FallbackFS returns the embedded pages rooted at fallback/.
func FallbackFS() fs.FS {
	sub, err := fs.Sub(embedded, "fallback")
	if err != nil {
		panic(fmt.Errorf("webassets: fallback subfs: %w", err))
	}
	return sub
}
