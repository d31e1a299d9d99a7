// Package media implements the binary-media collaborators: HTTP download of
// source audio and video assembly through ffmpeg.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// HTTPDownloader fetches source audio enclosures over HTTP.
type HTTPDownloader struct {
	httpClient *http.Client
}

// NewHTTPDownloader returns a downloader with the given client, or a default
// client without a timeout (episode audio can take minutes; cancellation runs
// through the request context).
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDownloader{httpClient: client}
}

// Download streams the source URL to destPath. The file appears atomically:
// bytes stream into a temporary sibling that is renamed on completion.
func (d *HTTPDownloader) Download(ctx context.Context, sourceURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download audio: unexpected status %d", resp.StatusCode)
	}

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create audio directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close audio file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("finalize audio file: %w", err)
	}
	return nil
}
