package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dublaj/internal/artifacts"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/stage"
	"dublaj/internal/store"
)

// RenderManifest is the render/render_manifest.json document.
type RenderManifest struct {
	Segments []string `json:"segments"`
	Draft    string   `json:"draft"`
}

type renderStage struct {
	base
}

func (s *renderStage) ID() string { return stage.StageRender }

func (s *renderStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.ID(), store.EpisodeTTSDone); err != nil {
		return stage.Failed("precondition not met", err)
	}

	imageManifestPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeImageManifest)
	if err != nil {
		return stage.Failed("resolve image manifest", err)
	}
	ttsManifestPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeTTSManifest)
	if err != nil {
		return stage.Failed("resolve tts manifest", err)
	}
	draftPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeDraftVideo)
	if err != nil {
		return stage.Failed("resolve draft path", err)
	}
	manifestPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeRenderManifest)
	if err != nil {
		return stage.Failed("resolve render manifest", err)
	}

	if s.shouldSkip(rc, skipCheck{
		stageID: s.ID(),
		output:  draftPath,
		inputs:  []string{imageManifestPath, ttsManifestPath},
	}) {
		return stage.Skipped("draft video already current")
	}

	chapters, chaptersPath, err := s.loadChapters(rc.Episode.ExternalID)
	if err != nil {
		return stage.Failed("load chapters", err)
	}

	started := time.Now()
	if rc.DryRun {
		record := usageRecord(nil, time.Since(started))
		if err := s.writeProvenance(rc, s.ID(), record,
			[]string{imageManifestPath, ttsManifestPath, chaptersPath},
			[]string{draftPath, manifestPath}); err != nil {
			return stage.Failed("write provenance", err)
		}
		return stage.Success("dry run", store.EpisodeRendered)
	}

	segmentTimeout := time.Duration(rc.Config.Render.SegmentTimeoutSeconds) * time.Second
	concatTimeout := time.Duration(rc.Config.Render.ConcatTimeoutSeconds) * time.Second

	var segments []string
	for _, chapter := range chapters.Chapters {
		imagePath, err := s.deps.Artifacts.ResolveChapter(rc.Episode.ExternalID, "chapter_image", chapter.ID)
		if err != nil {
			return stage.Failed("resolve image path", err)
		}
		clipPath, err := s.deps.Artifacts.ResolveChapter(rc.Episode.ExternalID, "chapter_audio", chapter.ID)
		if err != nil {
			return stage.Failed("resolve clip path", err)
		}
		segmentPath, err := s.deps.Artifacts.ResolveChapter(rc.Episode.ExternalID, "chapter_segment", chapter.ID)
		if err != nil {
			return stage.Failed("resolve segment path", err)
		}

		if rc.Force || !s.deps.Artifacts.Exists(segmentPath) || s.deps.Artifacts.IsStale(segmentPath) {
			segmentCtx, cancel := context.WithTimeout(ctx, segmentTimeout)
			err := s.deps.Renderer.RenderSegment(segmentCtx, stage.SegmentSpec{
				ChapterID: chapter.ID,
				ImagePath: imagePath,
				AudioPath: clipPath,
			}, segmentPath)
			cancel()
			if err != nil {
				return stage.Failed(fmt.Sprintf("segment render failed for chapter %s", chapter.ID),
					services.Wrap(services.ErrExternalService, s.ID(), "render segment", chapter.ID, err))
			}
			if err := s.deps.Artifacts.ClearStale(segmentPath); err != nil {
				return stage.Failed("clear stale marker", err)
			}
		}
		segments = append(segments, segmentPath)
	}

	concatCtx, cancel := context.WithTimeout(ctx, concatTimeout)
	err = s.deps.Renderer.Concat(concatCtx, segments, draftPath)
	cancel()
	if err != nil {
		return stage.Failed("draft concatenation failed",
			services.Wrap(services.ErrExternalService, s.ID(), "concat", draftPath, err))
	}
	if err := s.deps.Artifacts.ClearStale(draftPath); err != nil {
		return stage.Failed("clear stale marker", err)
	}

	manifest := RenderManifest{Segments: segments, Draft: draftPath}
	data, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return stage.Failed("encode render manifest", err)
	}
	if err := s.deps.Artifacts.Write(manifestPath, data); err != nil {
		return stage.Failed("write render manifest", err)
	}

	if err := s.deps.Store.RecordMediaAsset(ctx, &store.MediaAsset{
		EpisodeID: rc.Episode.ID,
		AssetType: store.AssetVideo,
		Path:      draftPath,
		MimeType:  "video/mp4",
	}); err != nil {
		return stage.Failed("record media asset", err)
	}

	record := usageRecord(nil, time.Since(started))
	if err := s.writeProvenance(rc, s.ID(), record,
		[]string{imageManifestPath, ttsManifestPath, chaptersPath},
		[]string{draftPath, manifestPath}); err != nil {
		return stage.Failed("write provenance", err)
	}

	s.deps.logger().Info("draft video rendered",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.Int("segments", len(segments)),
		logging.String("path", draftPath))
	return stage.Success(fmt.Sprintf("draft rendered from %d segments", len(segments)), store.EpisodeRendered)
}
