package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dublaj/internal/stage"
)

var commandContext = exec.CommandContext

// FFmpegRenderer assembles chapter segments and the draft video by invoking
// the ffmpeg binary.
type FFmpegRenderer struct {
	binary string
}

// NewFFmpegRenderer returns a renderer using the given ffmpeg binary, or
// "ffmpeg" from PATH when empty.
func NewFFmpegRenderer(binary string) *FFmpegRenderer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegRenderer{binary: binary}
}

// RenderSegment builds one chapter video: the chapter illustration held as a
// still for the duration of the narration clip.
func (r *FFmpegRenderer) RenderSegment(ctx context.Context, spec stage.SegmentSpec, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create segment directory: %w", err)
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-loop", "1",
		"-i", spec.ImagePath,
		"-i", spec.AudioPath,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		destPath,
	}
	cmd := commandContext(ctx, r.binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg segment %s: %w: %s", spec.ChapterID, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Concat joins the chapter segments into the draft video using the concat
// demuxer with stream copy; segments share one encoding profile.
func (r *FFmpegRenderer) Concat(ctx context.Context, segmentPaths []string, destPath string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("concat: no segments")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create render directory: %w", err)
	}

	listPath := destPath + ".concat.txt"
	if err := os.WriteFile(listPath, []byte(concatList(segmentPaths)), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		destPath,
	}
	cmd := commandContext(ctx, r.binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// concatList renders the concat demuxer input. Single quotes in paths are
// escaped the way the demuxer expects.
func concatList(paths []string) string {
	var b strings.Builder
	for _, path := range paths {
		escaped := strings.ReplaceAll(path, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return b.String()
}
