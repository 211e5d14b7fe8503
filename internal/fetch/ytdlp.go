package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Stream-Transcript-Search/pkg/config"
)

// commandRunner runs an external command; tests substitute it.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}

// YTDLPFetcher extracts the best audio stream of a page URL (YouTube and
// similar) with yt-dlp.
type YTDLPFetcher struct {
	binary   string
	tempDir  string
	maxBytes int64
	runner   commandRunner
	logger   *slog.Logger
}

func NewYTDLPFetcher(cfg config.FetchConfig) *YTDLPFetcher {
	binary := cfg.YTDLPBinary
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLPFetcher{
		binary:   binary,
		tempDir:  cfg.TempDir,
		maxBytes: cfg.MaxBytes,
		runner:   execRunner{},
		logger:   slog.Default().With("component", "fetch-ytdlp"),
	}
}

func (f *YTDLPFetcher) Fetch(ctx context.Context, streamURL string) (*Audio, error) {
	dir, err := os.MkdirTemp(f.tempDir, "ytdlp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	audio := &Audio{dir: dir}

	args := []string{
		"-f", "bestaudio",
		"--no-playlist",
		"--quiet",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
	}
	if f.maxBytes > 0 {
		args = append(args, "--max-filesize", fmt.Sprint(f.maxBytes))
	}
	args = append(args, "--", streamURL)

	if stderr, err := f.runner.Run(ctx, f.binary, args...); err != nil {
		audio.Close()
		return nil, fmt.Errorf("yt-dlp %s: %w: %s", streamURL, err, strings.TrimSpace(stderr))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "audio.*"))
	if err != nil || len(matches) == 0 {
		audio.Close()
		return nil, fmt.Errorf("yt-dlp %s: no audio file written", streamURL)
	}
	info, err := os.Stat(matches[0])
	if err != nil {
		audio.Close()
		return nil, fmt.Errorf("yt-dlp %s: %w", streamURL, err)
	}
	audio.Path = matches[0]
	audio.Size = info.Size()

	f.logger.Info("stream extracted", "url", streamURL, "bytes", audio.Size, "file", filepath.Base(audio.Path))
	return audio, nil
}
