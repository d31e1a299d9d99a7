package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dublaj/internal/services"
)

func TestResolveCanonicalPaths(t *testing.T) {
	s := NewStore("/data")

	tests := []struct {
		artifactType string
		want         string
	}{
		{TypeSourceAudio, "/data/raw/ep-1/audio.m4a"},
		{TypeTranscript, "/data/transcripts/ep-1/transcript.de.txt"},
		{TypeCorrectedTranscript, "/data/transcripts/ep-1/transcript.corrected.de.txt"},
		{TypeTranslation, "/data/transcripts/ep-1/transcript.tr.txt"},
		{TypeAdaptedScript, "/data/outputs/ep-1/script.adapted.tr.md"},
		{TypeChapters, "/data/outputs/ep-1/chapters.json"},
		{TypeImageManifest, "/data/outputs/ep-1/images/manifest.json"},
		{TypeTTSManifest, "/data/outputs/ep-1/tts/manifest.json"},
		{TypeRenderManifest, "/data/outputs/ep-1/render/render_manifest.json"},
		{TypeDraftVideo, "/data/outputs/ep-1/render/draft.mp4"},
		{TypeReviewHistory, "/data/outputs/ep-1/review/review_history.json"},
		{TypePublishProvenance, "/data/outputs/ep-1/publish/publish_provenance.json"},
	}
	for _, tc := range tests {
		got, err := s.Resolve("ep-1", tc.artifactType)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.artifactType, err)
		}
		if got != filepath.FromSlash(tc.want) {
			t.Errorf("resolve %s: got %s, want %s", tc.artifactType, got, tc.want)
		}
	}

	if _, err := s.Resolve("ep-1", "bogus"); !errors.Is(err, services.ErrValidation) {
		t.Errorf("expected validation error for unknown type, got %v", err)
	}

	image, err := s.ResolveChapter("ep-1", "chapter_image", "ch-03")
	if err != nil {
		t.Fatalf("resolve chapter image: %v", err)
	}
	if image != filepath.FromSlash("/data/outputs/ep-1/images/ch-03.png") {
		t.Errorf("unexpected chapter image path %s", image)
	}

	diff, err := s.ResolveDiff("ep-1", "correct")
	if err != nil {
		t.Fatalf("resolve diff: %v", err)
	}
	if diff != filepath.FromSlash("/data/outputs/ep-1/review/correct_diff.json") {
		t.Errorf("unexpected diff path %s", diff)
	}
}

func TestResolveSanitizesIdentifiers(t *testing.T) {
	s := NewStore("/data")
	path, err := s.Resolve("../../etc/passwd", TypeSourceAudio)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if strings.Contains(path, "..") {
		t.Fatalf("path traversal not neutralized: %s", path)
	}
}

func TestAtomicWriteAndRead(t *testing.T) {
	s := NewStore(t.TempDir())
	path, err := s.Resolve("ep-2", TypeTranscript)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if s.Exists(path) {
		t.Fatal("file should not exist before write")
	}
	if err := s.WriteText(path, "Guten Tag"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.ReadText(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "Guten Tag" {
		t.Fatalf("unexpected content %q", got)
	}

	// No temp siblings left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file, found %d", len(entries))
	}

	_, err = s.ReadBytes(filepath.Join(s.Root(), "missing.txt"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found for missing artifact, got %v", err)
	}
}

func TestStaleMarkerProtocol(t *testing.T) {
	s := NewStore(t.TempDir())
	path, err := s.Resolve("ep-3", TypeChapters)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A missing file is stale by definition.
	if !s.IsStale(path) {
		t.Fatal("missing artifact should be stale")
	}

	if err := s.WriteText(path, `{"chapters":[]}`); err != nil {
		t.Fatalf("write: %v", err)
	}
	if s.IsStale(path) {
		t.Fatal("fresh artifact should not be stale")
	}

	if err := s.MarkStale(path, "upstream transcript changed", "correct"); err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	if !s.IsStale(path) {
		t.Fatal("marked artifact should be stale")
	}

	first, err := s.StaleMarkerFor(path)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if first.InvalidatedBy != "correct" {
		t.Fatalf("unexpected marker %+v", first)
	}

	// A second marking keeps the earliest invalidation timestamp.
	time.Sleep(10 * time.Millisecond)
	if err := s.MarkStale(path, "upstream re-ran again", "correct"); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	second, err := s.StaleMarkerFor(path)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if !second.InvalidatedAt.Equal(first.InvalidatedAt) {
		t.Fatalf("expected earliest timestamp kept: first=%s second=%s", first.InvalidatedAt, second.InvalidatedAt)
	}

	// A fresh write clears the marker.
	if err := s.WriteText(path, `{"chapters":["ch-01"]}`); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if s.IsStale(path) {
		t.Fatal("rewritten artifact should not be stale")
	}

	marker, err := s.StaleMarkerFor(path)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if marker != nil {
		t.Fatalf("marker should be gone, got %+v", marker)
	}
}
