package upload

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"dublaj/internal/stage"
)

func stubCommand(t *testing.T, gotArgs *[]string, script string) {
	t.Helper()
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		*gotArgs = append([]string{name}, args...)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	t.Cleanup(func() { commandContext = exec.CommandContext })
}

func TestUploadParsesVideoIDAndAppendsChapters(t *testing.T) {
	var gotArgs []string
	stubCommand(t, &gotArgs, `echo "Uploading draft.mp4..."; echo "Upload successful! Video ID: dQw4w9WgXcQ"`)

	uploader := NewYouTubeUploader("", "unlisted")
	videoID, err := uploader.Upload(context.Background(), stage.UploadRequest{
		VideoPath:   "/data/outputs/ep1/render/draft.mp4",
		Title:       "Folge 1 (Türkçe)",
		Description: "Bu bölümde tarihten bir hikâye anlatılıyor.",
		Chapters:    "1. Giriş\n2. Kapanış",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if videoID != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected video id %q", videoID)
	}

	joined := strings.Join(gotArgs, " ")
	if gotArgs[0] != "youtubeuploader" {
		t.Fatalf("expected default binary, got %q", gotArgs[0])
	}
	if !strings.Contains(joined, "-privacy unlisted") {
		t.Fatalf("privacy flag missing from args: %s", joined)
	}
	description := gotArgs[6]
	if !strings.Contains(description, "Bu bölümde") || !strings.Contains(description, "2. Kapanış") {
		t.Fatalf("description must carry the chapter listing, got %q", description)
	}
}

func TestUploadFailsWithoutVideoIDInOutput(t *testing.T) {
	var gotArgs []string
	stubCommand(t, &gotArgs, `echo "Upload finished"`)

	_, err := NewYouTubeUploader("youtubeuploader", "private").Upload(context.Background(), stage.UploadRequest{
		VideoPath: "/data/draft.mp4",
		Title:     "Folge 2",
	})
	if err == nil || !strings.Contains(err.Error(), "no video id") {
		t.Fatalf("expected a missing-id error, got %v", err)
	}
}

func TestUploadWrapsCommandFailure(t *testing.T) {
	var gotArgs []string
	stubCommand(t, &gotArgs, `echo "quota exceeded" >&2; exit 1`)

	_, err := NewYouTubeUploader("youtubeuploader", "private").Upload(context.Background(), stage.UploadRequest{
		VideoPath: "/data/draft.mp4",
		Title:     "Folge 3",
	})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected command output in error, got %v", err)
	}
}

func TestNewYouTubeUploaderDefaultsToPrivate(t *testing.T) {
	uploader := NewYouTubeUploader("", "")
	if uploader.privacy != "private" {
		t.Fatalf("expected private default, got %q", uploader.privacy)
	}
}
