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

// TTSManifestEntry records one synthesized narration clip.
type TTSManifestEntry struct {
	ChapterID string `json:"chapter_id"`
	Path      string `json:"path"`
	Voice     string `json:"voice"`
	Chars     int    `json:"chars"`
}

// TTSManifest is the tts/manifest.json document.
type TTSManifest struct {
	Clips []TTSManifestEntry `json:"clips"`
}

type ttsStage struct {
	base
}

func (s *ttsStage) ID() string { return stage.StageTTS }

func (s *ttsStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.ID(), store.EpisodeImagesGenerated); err != nil {
		return stage.Failed("precondition not met", err)
	}

	manifestPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeTTSManifest)
	if err != nil {
		return stage.Failed("resolve manifest path", err)
	}
	chaptersPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeChapters)
	if err != nil {
		return stage.Failed("resolve chapters path", err)
	}

	if s.shouldSkip(rc, skipCheck{
		stageID: s.ID(),
		output:  manifestPath,
		inputs:  []string{chaptersPath},
	}) {
		return stage.Skipped("narration clips already current")
	}

	chapters, _, err := s.loadChapters(rc.Episode.ExternalID)
	if err != nil {
		return stage.Failed("load chapters", err)
	}

	started := time.Now()
	if rc.DryRun {
		record := usageRecord(nil, time.Since(started))
		if err := s.writeProvenance(rc, s.ID(), record, []string{chaptersPath}, []string{manifestPath}); err != nil {
			return stage.Failed("write provenance", err)
		}
		return stage.Success("dry run", store.EpisodeTTSDone)
	}

	voice := rc.Config.TTS.Voice
	var (
		manifest  TTSManifest
		totalCost float64
	)
	for _, chapter := range chapters.Chapters {
		clipPath, err := s.deps.Artifacts.ResolveChapter(rc.Episode.ExternalID, "chapter_audio", chapter.ID)
		if err != nil {
			return stage.Failed("resolve clip path", err)
		}

		if rc.Force || !s.deps.Artifacts.Exists(clipPath) || s.deps.Artifacts.IsStale(clipPath) {
			cost, err := s.deps.Speech.Synthesize(ctx, chapter.Text, voice, clipPath)
			if err != nil {
				return stage.Failed(fmt.Sprintf("speech synthesis failed for chapter %s", chapter.ID),
					services.Wrap(services.ErrExternalService, s.ID(), "synthesize", chapter.ID, err))
			}
			totalCost += cost
			if err := s.deps.Artifacts.ClearStale(clipPath); err != nil {
				return stage.Failed("clear stale marker", err)
			}
			if err := s.deps.Store.RecordMediaAsset(ctx, &store.MediaAsset{
				EpisodeID: rc.Episode.ID,
				AssetType: store.AssetAudio,
				ChapterID: chapter.ID,
				Path:      clipPath,
				MimeType:  "audio/mpeg",
				Metadata:  map[string]string{"voice": voice, "model": rc.Config.TTS.Model},
			}); err != nil {
				return stage.Failed("record media asset", err)
			}
		}

		manifest.Clips = append(manifest.Clips, TTSManifestEntry{
			ChapterID: chapter.ID,
			Path:      clipPath,
			Voice:     voice,
			Chars:     len([]rune(chapter.Text)),
		})
	}

	data, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return stage.Failed("encode manifest", err)
	}
	if err := s.deps.Artifacts.Write(manifestPath, data); err != nil {
		return stage.Failed("write manifest", err)
	}
	s.cascade(rc, s.ID())

	record := usageRecord(nil, time.Since(started))
	record.Model = provenanceName(rc.Config.TTS.Model)
	record.CostUSD = &totalCost
	if err := s.writeProvenance(rc, s.ID(), record, []string{chaptersPath}, []string{manifestPath}); err != nil {
		return stage.Failed("write provenance", err)
	}

	s.deps.logger().Info("narration synthesized",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.Int("clips", len(manifest.Clips)),
		logging.Float64("cost_usd", totalCost))

	result := stage.Success(fmt.Sprintf("%d narration clips", len(manifest.Clips)), store.EpisodeTTSDone)
	result.CostUSD = totalCost
	return result
}
