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

// ImageManifestEntry records one generated chapter illustration.
type ImageManifestEntry struct {
	ChapterID string `json:"chapter_id"`
	Path      string `json:"path"`
	Prompt    string `json:"prompt"`
}

// ImageManifest is the images/manifest.json document.
type ImageManifest struct {
	Images []ImageManifestEntry `json:"images"`
}

type imageGenStage struct {
	base
}

func (s *imageGenStage) ID() string { return stage.StageImageGen }

func (s *imageGenStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.ID(), store.EpisodeChapterized); err != nil {
		return stage.Failed("precondition not met", err)
	}

	manifestPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeImageManifest)
	if err != nil {
		return stage.Failed("resolve manifest path", err)
	}
	chaptersPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeChapters)
	if err != nil {
		return stage.Failed("resolve chapters path", err)
	}

	promptHash := s.defaultPromptHash(ctx, rc, "imagegen")
	if s.shouldSkip(rc, skipCheck{
		stageID:    s.ID(),
		output:     manifestPath,
		promptHash: promptHash,
		inputs:     []string{chaptersPath},
	}) {
		return stage.Skipped("chapter images already current")
	}

	chapters, _, err := s.loadChapters(rc.Episode.ExternalID)
	if err != nil {
		return stage.Failed("load chapters", err)
	}

	tmpl, version, err := s.deps.Prompts.CurrentDefault(ctx, "imagegen")
	if err != nil {
		return stage.Failed("load image prompt", err)
	}

	started := time.Now()
	if rc.DryRun {
		record := usageRecord(nil, time.Since(started))
		record.PromptName = provenanceName(version.Name)
		if err := s.writeProvenance(rc, s.ID(), record, []string{chaptersPath}, []string{manifestPath}); err != nil {
			return stage.Failed("write provenance", err)
		}
		return stage.Success("dry run", store.EpisodeImagesGenerated)
	}

	var (
		manifest  ImageManifest
		totalCost float64
	)
	for _, chapter := range chapters.Chapters {
		imagePath, err := s.deps.Artifacts.ResolveChapter(rc.Episode.ExternalID, "chapter_image", chapter.ID)
		if err != nil {
			return stage.Failed("resolve image path", err)
		}

		prompt := tmpl.Render(map[string]string{
			"title":        chapter.Title,
			"summary":      chapter.Summary,
			"image_prompt": chapter.ImagePrompt,
		})

		if rc.Force || !s.deps.Artifacts.Exists(imagePath) || s.deps.Artifacts.IsStale(imagePath) {
			cost, err := s.deps.Images.Generate(ctx, prompt, imagePath)
			if err != nil {
				return stage.Failed(fmt.Sprintf("image generation failed for chapter %s", chapter.ID),
					services.Wrap(services.ErrExternalService, s.ID(), "generate image", chapter.ID, err))
			}
			totalCost += cost
			if err := s.deps.Artifacts.ClearStale(imagePath); err != nil {
				return stage.Failed("clear stale marker", err)
			}
			if err := s.deps.Store.RecordMediaAsset(ctx, &store.MediaAsset{
				EpisodeID:       rc.Episode.ID,
				AssetType:       store.AssetImage,
				ChapterID:       chapter.ID,
				Path:            imagePath,
				MimeType:        "image/png",
				PromptVersionID: &version.ID,
				Metadata:        map[string]string{"model": rc.Config.ImageGen.Model},
			}); err != nil {
				return stage.Failed("record media asset", err)
			}
		}

		manifest.Images = append(manifest.Images, ImageManifestEntry{
			ChapterID: chapter.ID,
			Path:      imagePath,
			Prompt:    prompt,
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
	record.PromptName = provenanceName(version.Name)
	record.PromptVersion = &version.Version
	record.PromptHash = &version.ContentHash
	record.Model = provenanceName(rc.Config.ImageGen.Model)
	record.CostUSD = &totalCost
	if err := s.writeProvenance(rc, s.ID(), record, []string{chaptersPath}, []string{manifestPath}); err != nil {
		return stage.Failed("write provenance", err)
	}

	s.deps.logger().Info("chapter images generated",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.Int("images", len(manifest.Images)),
		logging.Float64("cost_usd", totalCost))

	result := stage.Success(fmt.Sprintf("%d chapter images", len(manifest.Images)), store.EpisodeImagesGenerated)
	result.CostUSD = totalCost
	return result
}

func provenanceName(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
