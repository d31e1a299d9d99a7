// Package upload publishes draft videos through the youtubeuploader CLI,
// which owns the OAuth flow and resumable upload protocol.
package upload

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"dublaj/internal/stage"
)

var commandContext = exec.CommandContext

// videoIDPattern matches the confirmation line youtubeuploader prints after a
// successful upload.
var videoIDPattern = regexp.MustCompile(`Video ID:\s*([A-Za-z0-9_-]+)`)

// YouTubeUploader invokes the youtubeuploader binary for each publish job.
type YouTubeUploader struct {
	binary  string
	privacy string
}

// NewYouTubeUploader returns an uploader using the given binary path, or
// "youtubeuploader" from PATH when empty. Privacy defaults to "private" so a
// misconfigured deployment never publishes publicly by accident.
func NewYouTubeUploader(binary, privacy string) *YouTubeUploader {
	if strings.TrimSpace(binary) == "" {
		binary = "youtubeuploader"
	}
	if strings.TrimSpace(privacy) == "" {
		privacy = "private"
	}
	return &YouTubeUploader{binary: binary, privacy: privacy}
}

// Upload pushes the draft video and returns the platform video id. The
// chapter listing is appended to the description, where the platform parses
// timestamps from.
func (u *YouTubeUploader) Upload(ctx context.Context, req stage.UploadRequest) (string, error) {
	description := req.Description
	if req.Chapters != "" {
		description = description + "\n\n" + req.Chapters
	}

	args := []string{
		"-filename", req.VideoPath,
		"-title", req.Title,
		"-description", description,
		"-privacy", u.privacy,
	}
	cmd := commandContext(ctx, u.binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("youtubeuploader: %w: %s", err, strings.TrimSpace(string(output)))
	}

	match := videoIDPattern.FindSubmatch(output)
	if match == nil {
		return "", fmt.Errorf("youtubeuploader: no video id in output: %s", strings.TrimSpace(string(output)))
	}
	return string(match[1]), nil
}
