// Package files maps object storage keys to URLs clients can download from.
package files

import (
	"net/url"
	"strings"
)

// Resolver builds public file URLs from a base such as a CDN origin.
type Resolver struct {
	base string
}

// NewResolver creates a resolver. An empty base returns keys unchanged.
func NewResolver(base string) *Resolver {
	return &Resolver{base: strings.TrimRight(base, "/")}
}

// PublicURL returns the URL for key.
func (r *Resolver) PublicURL(key string) string {
	if r.base == "" || key == "" {
		return key
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key
	}

	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.base + "/" + strings.Join(segments, "/")
}
