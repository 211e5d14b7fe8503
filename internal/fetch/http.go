package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

var errTooLarge = errors.New("stream exceeds size limit")

// HTTPFetcher downloads direct media URLs.
type HTTPFetcher struct {
	client   *http.Client
	tempDir  string
	maxBytes int64
	logger   *slog.Logger
}

func NewHTTPFetcher(cfg config.FetchConfig) *HTTPFetcher {
	return &HTTPFetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		tempDir:  cfg.TempDir,
		maxBytes: cfg.MaxBytes,
		logger:   slog.Default().With("component", "fetch-http"),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, streamURL string) (*Audio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", streamURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("downloading %s: status %d", streamURL, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !acceptedMedia(contentType) {
		return nil, fmt.Errorf("downloading %s: unsupported content type %q", streamURL, contentType)
	}

	tmp, err := os.CreateTemp(f.tempDir, "stream-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	audio := &Audio{Path: tmp.Name(), ContentType: contentType}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && f.maxBytes > 0 && n > f.maxBytes {
		err = errTooLarge
	}
	if err != nil {
		audio.Close()
		return nil, fmt.Errorf("downloading %s: %w", streamURL, err)
	}
	audio.Size = n

	f.logger.Info("stream downloaded", "url", streamURL, "bytes", n, "content_type", contentType)
	return audio, nil
}

// acceptedMedia allows audio/*, video/* and application/octet-stream. A
// missing header is accepted.
func acceptedMedia(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "audio/") ||
		strings.HasPrefix(mediaType, "video/") ||
		mediaType == "application/octet-stream"
}
