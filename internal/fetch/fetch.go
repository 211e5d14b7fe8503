// Package fetch downloads a stream's audio into a temporary file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

// Audio is a downloaded stream on local disk. Close removes it.
type Audio struct {
	Path        string
	ContentType string
	Size        int64

	// dir, when set, is a private temp directory removed with the file.
	dir string
}

func (a *Audio) Close() error {
	if a.dir != "" {
		return os.RemoveAll(a.dir)
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Fetcher acquires the audio behind a stream URL.
type Fetcher interface {
	Fetch(ctx context.Context, streamURL string) (*Audio, error)
}

// Router sends URLs whose host (or a parent domain of it) is in Hosts to
// Page and everything else to Direct.
type Router struct {
	Hosts  []string
	Page   Fetcher
	Direct Fetcher
}

func (r *Router) Fetch(ctx context.Context, streamURL string) (*Audio, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("parsing stream url: %w", err)
	}
	if matchesHost(u.Hostname(), r.Hosts) {
		return r.Page.Fetch(ctx, streamURL)
	}
	return r.Direct.Fetch(ctx, streamURL)
}

func matchesHost(host string, hosts []string) bool {
	host = strings.ToLower(host)
	return slices.ContainsFunc(hosts, func(h string) bool {
		h = strings.ToLower(h)
		return host == h || strings.HasSuffix(host, "."+h)
	})
}

// New builds the fetcher selected by cfg.Backend.
func New(cfg config.FetchConfig) Fetcher {
	direct := NewHTTPFetcher(cfg)
	page := NewYTDLPFetcher(cfg)
	switch cfg.Backend {
	case config.FetchHTTP:
		return direct
	case config.FetchYTDLP:
		return page
	default:
		return &Router{Hosts: cfg.YTDLPHosts, Page: page, Direct: direct}
	}
}
