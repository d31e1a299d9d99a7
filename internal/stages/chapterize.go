package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dublaj/internal/artifacts"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/services/llm"
	"dublaj/internal/stage"
	"dublaj/internal/store"
	"dublaj/internal/textutil"
)

// Chapter is one segment of the adapted script, the unit the image, TTS, and
// render stages work on.
type Chapter struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	ImagePrompt string `json:"image_prompt"`
	Text        string `json:"text"`
}

// ChapterList is the chapters.json document.
type ChapterList struct {
	Chapters []Chapter `json:"chapters"`
}

// NormalizeIDs slugs every chapter id, so the ids stay safe to use in file
// names and artifact paths however the model spelled them.
func (l *ChapterList) NormalizeIDs() {
	for i := range l.Chapters {
		l.Chapters[i].ID = textutil.Slug(l.Chapters[i].ID)
	}
}

// Validate enforces the chapter schema the downstream stages rely on.
func (l *ChapterList) Validate() error {
	if len(l.Chapters) == 0 {
		return services.Wrap(services.ErrValidation, stage.StageChapterize, "validate chapters", "no chapters in model output", nil)
	}
	seen := make(map[string]struct{}, len(l.Chapters))
	for i, chapter := range l.Chapters {
		if chapter.ID == "" {
			return services.Wrap(services.ErrValidation, stage.StageChapterize, "validate chapters", fmt.Sprintf("chapter %d has no id", i), nil)
		}
		if _, dup := seen[chapter.ID]; dup {
			return services.Wrap(services.ErrValidation, stage.StageChapterize, "validate chapters", fmt.Sprintf("duplicate chapter id %q", chapter.ID), nil)
		}
		seen[chapter.ID] = struct{}{}
		if chapter.Title == "" {
			return services.Wrap(services.ErrValidation, stage.StageChapterize, "validate chapters", fmt.Sprintf("chapter %q has no title", chapter.ID), nil)
		}
		if chapter.Text == "" {
			return services.Wrap(services.ErrValidation, stage.StageChapterize, "validate chapters", fmt.Sprintf("chapter %q has no text", chapter.ID), nil)
		}
	}
	return nil
}

type chapterizeStage struct {
	base
}

func (s *chapterizeStage) ID() string { return stage.StageChapterize }

func (s *chapterizeStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.ID(), store.EpisodeAdapted); err != nil {
		return stage.Failed("precondition not met", err)
	}

	scriptPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeAdaptedScript)
	if err != nil {
		return stage.Failed("resolve script path", err)
	}
	chaptersPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeChapters)
	if err != nil {
		return stage.Failed("resolve chapters path", err)
	}

	promptHash := s.defaultPromptHash(ctx, rc, "chapterize")
	if s.shouldSkip(rc, skipCheck{
		stageID:    s.ID(),
		output:     chaptersPath,
		promptHash: promptHash,
		inputs:     []string{scriptPath},
	}) {
		return stage.Skipped("chapters already current")
	}

	script, err := s.deps.Artifacts.ReadText(scriptPath)
	if err != nil {
		return stage.Failed("read adapted script", err)
	}

	started := time.Now()
	if rc.DryRun {
		record := usageRecord(nil, time.Since(started))
		if err := s.writeProvenance(rc, s.ID(), record, []string{scriptPath}, []string{chaptersPath}); err != nil {
			return stage.Failed("write provenance", err)
		}
		return stage.Success("dry run", store.EpisodeChapterized)
	}

	vars := map[string]string{"script": script}
	var (
		chapters   ChapterList
		totalUsage *llmUsage
	)

	// Structured output gets one corrective retry: the validation error is
	// fed back so the model can repair its JSON.
	for attempt := 1; attempt <= 2; attempt++ {
		text, usage, err := s.completePrompt(ctx, rc, "chapterize", vars)
		if err != nil {
			return stage.Failed("completion failed", err)
		}
		if totalUsage == nil {
			totalUsage = usage
		} else {
			totalUsage.InputTokens += usage.InputTokens
			totalUsage.OutputTokens += usage.OutputTokens
			totalUsage.CostUSD += usage.CostUSD
		}

		chapters = ChapterList{}
		decodeErr := llm.DecodeLLMJSON(text, &chapters)
		if decodeErr == nil {
			chapters.NormalizeIDs()
			decodeErr = chapters.Validate()
		}
		if decodeErr == nil {
			break
		}
		if attempt == 2 {
			result := stage.Failed("chapter output failed validation twice", decodeErr)
			result.CostUSD = totalUsage.CostUSD
			result.InputTokens = totalUsage.InputTokens
			result.OutputTokens = totalUsage.OutputTokens
			return result
		}
		vars["validation_error"] = decodeErr.Error()
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&chapters); err != nil {
		return stage.Failed("encode chapters", err)
	}
	if err := s.deps.Artifacts.Write(chaptersPath, buf.Bytes()); err != nil {
		return stage.Failed("write chapters", err)
	}
	if err := s.deps.Store.RecordArtifact(ctx, &store.ContentArtifact{
		EpisodeID:    rc.Episode.ID,
		ArtifactType: artifacts.TypeChapters,
		Path:         chaptersPath,
		Model:        totalUsage.Model,
		PromptHash:   totalUsage.PromptHash,
	}); err != nil {
		return stage.Failed("record artifact", err)
	}
	s.cascade(rc, s.ID())

	record := usageRecord(totalUsage, time.Since(started))
	if err := s.writeProvenance(rc, s.ID(), record, []string{scriptPath}, []string{chaptersPath}); err != nil {
		return stage.Failed("write provenance", err)
	}

	s.deps.logger().Info("chapters produced",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.Int("chapters", len(chapters.Chapters)))

	result := stage.Success(fmt.Sprintf("%d chapters", len(chapters.Chapters)), store.EpisodeChapterized)
	result.CostUSD = totalUsage.CostUSD
	result.InputTokens = totalUsage.InputTokens
	result.OutputTokens = totalUsage.OutputTokens
	return result
}

// loadChapters reads and validates chapters.json for downstream stages.
func (b *base) loadChapters(externalID string) (*ChapterList, string, error) {
	path, err := b.deps.Artifacts.Resolve(externalID, artifacts.TypeChapters)
	if err != nil {
		return nil, "", err
	}
	data, err := b.deps.Artifacts.ReadBytes(path)
	if err != nil {
		return nil, "", err
	}
	var chapters ChapterList
	if err := json.Unmarshal(data, &chapters); err != nil {
		return nil, "", fmt.Errorf("decode chapters: %w", err)
	}
	if err := chapters.Validate(); err != nil {
		return nil, "", err
	}
	return &chapters, path, nil
}
