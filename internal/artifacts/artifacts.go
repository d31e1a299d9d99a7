// Package artifacts owns the on-disk artifact tree rooted at the data
// directory: canonical path resolution, atomic write-then-rename, and the
// stale-marker protocol used for cascade invalidation.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"dublaj/internal/services"
)

// Artifact type identifiers used across stages and persistence records.
const (
	TypeSourceAudio         = "source_audio"
	TypeTranscript          = "transcript"
	TypeCorrectedTranscript = "corrected_transcript"
	TypeTranslation         = "translation"
	TypeAdaptedScript       = "adapted_script"
	TypeChapters            = "chapters"
	TypeImageManifest       = "image_manifest"
	TypeTTSManifest         = "tts_manifest"
	TypeRenderManifest      = "render_manifest"
	TypeDraftVideo          = "draft_video"
	TypeReviewHistory       = "review_history"
	TypePublishProvenance   = "publish_provenance"
)

// StaleMarker is the sidecar payload written next to invalidated artifacts.
type StaleMarker struct {
	InvalidatedAt time.Time `json:"invalidated_at"`
	InvalidatedBy string    `json:"invalidated_by"`
	Reason        string    `json:"reason"`
}

// Store resolves canonical artifact paths under a data root and performs all
// file writes for the pipeline. It never mutates database records.
type Store struct {
	root string
}

// NewStore returns an artifact store rooted at dataRoot.
func NewStore(dataRoot string) *Store {
	return &Store{root: dataRoot}
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

// Resolve computes the canonical path of an artifact type for an episode.
// Per-chapter artifacts (images, TTS clips, render segments) are resolved via
// ResolveChapter instead.
func (s *Store) Resolve(externalID, artifactType string) (string, error) {
	ep := sanitizeID(externalID)
	if ep == "" {
		return "", services.Wrap(services.ErrValidation, "", "resolve artifact", "empty episode identifier", nil)
	}

	var rel string
	switch artifactType {
	case TypeSourceAudio:
		rel = filepath.Join("raw", ep, "audio.m4a")
	case TypeTranscript:
		rel = filepath.Join("transcripts", ep, "transcript.de.txt")
	case TypeCorrectedTranscript:
		rel = filepath.Join("transcripts", ep, "transcript.corrected.de.txt")
	case TypeTranslation:
		rel = filepath.Join("transcripts", ep, "transcript.tr.txt")
	case TypeAdaptedScript:
		rel = filepath.Join("outputs", ep, "script.adapted.tr.md")
	case TypeChapters:
		rel = filepath.Join("outputs", ep, "chapters.json")
	case TypeImageManifest:
		rel = filepath.Join("outputs", ep, "images", "manifest.json")
	case TypeTTSManifest:
		rel = filepath.Join("outputs", ep, "tts", "manifest.json")
	case TypeRenderManifest:
		rel = filepath.Join("outputs", ep, "render", "render_manifest.json")
	case TypeDraftVideo:
		rel = filepath.Join("outputs", ep, "render", "draft.mp4")
	case TypeReviewHistory:
		rel = filepath.Join("outputs", ep, "review", "review_history.json")
	case TypePublishProvenance:
		rel = filepath.Join("outputs", ep, "publish", "publish_provenance.json")
	default:
		return "", services.Wrap(services.ErrValidation, "", "resolve artifact", fmt.Sprintf("unknown artifact type %q", artifactType), nil)
	}
	return filepath.Join(s.root, rel), nil
}

// ResolveChapter computes the path of a per-chapter media artifact.
func (s *Store) ResolveChapter(externalID, artifactType, chapterID string) (string, error) {
	ep := sanitizeID(externalID)
	ch := sanitizeID(chapterID)
	if ep == "" || ch == "" {
		return "", services.Wrap(services.ErrValidation, "", "resolve artifact", "empty episode or chapter identifier", nil)
	}

	var rel string
	switch artifactType {
	case "chapter_image":
		rel = filepath.Join("outputs", ep, "images", ch+".png")
	case "chapter_audio":
		rel = filepath.Join("outputs", ep, "tts", ch+".mp3")
	case "chapter_segment":
		rel = filepath.Join("outputs", ep, "render", "segments", ch+".mp4")
	default:
		return "", services.Wrap(services.ErrValidation, "", "resolve artifact", fmt.Sprintf("unknown chapter artifact type %q", artifactType), nil)
	}
	return filepath.Join(s.root, rel), nil
}

// ResolveDiff computes the path of a review diff file for a stage.
func (s *Store) ResolveDiff(externalID, stage string) (string, error) {
	ep := sanitizeID(externalID)
	if ep == "" {
		return "", services.Wrap(services.ErrValidation, "", "resolve diff", "empty episode identifier", nil)
	}
	return filepath.Join(s.root, "outputs", ep, "review", stage+"_diff.json"), nil
}

// ResolveProvenance computes the path of a stage provenance record.
func (s *Store) ResolveProvenance(externalID, stage string) (string, error) {
	ep := sanitizeID(externalID)
	if ep == "" {
		return "", services.Wrap(services.ErrValidation, "", "resolve provenance", "empty episode identifier", nil)
	}
	return filepath.Join(s.root, "outputs", ep, "provenance", stage+"_provenance.json"), nil
}

// Write writes bytes to path via a temporary sibling and an atomic rename,
// creating parent directories on demand. A fresh write clears any stale
// marker left on the path.
func (s *Store) Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrIO, "", "write artifact", fmt.Sprintf("create directory for %s", path), err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return services.Wrap(services.ErrIO, "", "write artifact", fmt.Sprintf("write %s", path), err)
	}
	return s.ClearStale(path)
}

// WriteText writes a string artifact.
func (s *Store) WriteText(path, text string) error {
	return s.Write(path, []byte(text))
}

// Exists reports whether the file at path exists.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ReadBytes reads the artifact at path.
func (s *Store) ReadBytes(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "", "read artifact", fmt.Sprintf("artifact %s not found", path), err)
		}
		return nil, services.Wrap(services.ErrIO, "", "read artifact", fmt.Sprintf("read %s", path), err)
	}
	return data, nil
}

// ReadText reads the artifact at path as a string.
func (s *Store) ReadText(path string) (string, error) {
	data, err := s.ReadBytes(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// MarkStale writes a {path}.stale sidecar. When a marker already exists the
// earliest invalidation timestamp is kept, so repeated upstream re-runs do not
// mask when an artifact first went stale.
func (s *Store) MarkStale(path, reason, invalidatedBy string) error {
	marker := StaleMarker{
		InvalidatedAt: time.Now().UTC(),
		InvalidatedBy: invalidatedBy,
		Reason:        reason,
	}

	if existing, err := s.StaleMarkerFor(path); err == nil && existing != nil {
		if existing.InvalidatedAt.Before(marker.InvalidatedAt) {
			marker.InvalidatedAt = existing.InvalidatedAt
		}
	}

	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stale marker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrIO, "", "mark stale", fmt.Sprintf("create directory for %s", path), err)
	}
	if err := renameio.WriteFile(stalePath(path), data, 0o644); err != nil {
		return services.Wrap(services.ErrIO, "", "mark stale", fmt.Sprintf("write stale marker for %s", path), err)
	}
	return nil
}

// IsStale reports whether an artifact is missing or carries a stale sidecar.
func (s *Store) IsStale(path string) bool {
	if !s.Exists(path) {
		return true
	}
	_, err := os.Stat(stalePath(path))
	return err == nil
}

// StaleMarkerFor returns the decoded sidecar for path, or nil when none exists.
func (s *Store) StaleMarkerFor(path string) (*StaleMarker, error) {
	data, err := os.ReadFile(stalePath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrIO, "", "read stale marker", fmt.Sprintf("read marker for %s", path), err)
	}
	var marker StaleMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("decode stale marker: %w", err)
	}
	return &marker, nil
}

// ClearStale removes the sidecar after a fresh write supersedes it.
func (s *Store) ClearStale(path string) error {
	err := os.Remove(stalePath(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrIO, "", "clear stale", fmt.Sprintf("remove marker for %s", path), err)
	}
	return nil
}

func stalePath(path string) string {
	return path + ".stale"
}

// sanitizeID keeps identifiers filesystem-safe: path separators and parent
// references are stripped.
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.ReplaceAll(id, string(os.PathSeparator), "-")
	id = strings.ReplaceAll(id, "/", "-")
	id = strings.ReplaceAll(id, "..", "")
	return id
}
