// Package fetcher resolves a remote video URL to {title, length}. Only one
// provider is recognized in v1 (hostname match on the canonical video
// site); additional providers are a pluggable extension per spec.md §6.
package fetcher

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupportedHost is returned by Fetch when no video id can be
// extracted from the URL. Recognize reports an unknown host as false
// rather than returning an error.
var ErrUnsupportedHost = errors.New("fetcher: unsupported host")

// Metadata is what a RemoteFetcher resolves a URL to.
type Metadata struct {
	Title  string
	Length time.Duration
}

// RemoteFetcher resolves a remote video URL to its metadata.
type RemoteFetcher interface {
	// Recognize reports whether rawURL belongs to a provider this
	// fetcher knows how to resolve.
	Recognize(rawURL string) bool
	Fetch(ctx context.Context, rawURL string) (Metadata, error)
}

func hostMatches(rawURL string, hosts ...string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
