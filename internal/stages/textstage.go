package stages

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"dublaj/internal/artifacts"
	"dublaj/internal/logging"
	"dublaj/internal/review"
	"dublaj/internal/stage"
	"dublaj/internal/store"
)

// textStage is the shared shape of the three prompted text stages: correct,
// translate, and adapt. Each reads one text artifact, runs one completion,
// and writes one text artifact.
type textStage struct {
	base
	id           string
	promptName   string
	inputType    string
	outputType   string
	inputVar     string
	required     store.EpisodeStatus
	produced     store.EpisodeStatus
	withFeedback bool
	withDiff     bool
}

func newCorrectStage(deps *Deps) *textStage {
	return &textStage{
		base:         base{deps},
		id:           stage.StageCorrect,
		promptName:   "correct_transcript",
		inputType:    artifacts.TypeTranscript,
		outputType:   artifacts.TypeCorrectedTranscript,
		inputVar:     "transcript",
		required:     store.EpisodeTranscribed,
		produced:     store.EpisodeCorrected,
		withFeedback: true,
		withDiff:     true,
	}
}

func newTranslateStage(deps *Deps) *textStage {
	return &textStage{
		base:       base{deps},
		id:         stage.StageTranslate,
		promptName: "translate",
		inputType:  artifacts.TypeCorrectedTranscript,
		outputType: artifacts.TypeTranslation,
		inputVar:   "text",
		required:   store.EpisodeCorrected,
		produced:   store.EpisodeTranslated,
	}
}

func newAdaptStage(deps *Deps) *textStage {
	return &textStage{
		base:         base{deps},
		id:           stage.StageAdapt,
		promptName:   "adapt",
		inputType:    artifacts.TypeTranslation,
		outputType:   artifacts.TypeAdaptedScript,
		inputVar:     "text",
		required:     store.EpisodeTranslated,
		produced:     store.EpisodeAdapted,
		withFeedback: true,
	}
}

func (s *textStage) ID() string { return s.id }

func (s *textStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.id, s.required); err != nil {
		return stage.Failed("precondition not met", err)
	}

	inputPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, s.inputType)
	if err != nil {
		return stage.Failed("resolve input path", err)
	}
	outputPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, s.outputType)
	if err != nil {
		return stage.Failed("resolve output path", err)
	}

	promptHash := s.defaultPromptHash(ctx, rc, s.promptName)
	if s.shouldSkip(rc, skipCheck{
		stageID:    s.id,
		output:     outputPath,
		promptHash: promptHash,
		inputs:     []string{inputPath},
	}) {
		return stage.Skipped("output already current for this prompt and input")
	}

	inputText, err := s.deps.Artifacts.ReadText(inputPath)
	if err != nil {
		return stage.Failed("read input artifact", err)
	}

	vars := map[string]string{s.inputVar: inputText}
	if s.withFeedback {
		feedback, err := s.deps.Review.LatestFeedback(ctx, rc.Episode.ID, s.id)
		if err != nil {
			return stage.Failed("load reviewer feedback", err)
		}
		vars["reviewer_feedback"] = feedback
	}

	started := time.Now()
	if rc.DryRun {
		record := usageRecord(nil, time.Since(started))
		if err := s.writeProvenance(rc, s.id, record, []string{inputPath}, []string{outputPath}); err != nil {
			return stage.Failed("write provenance", err)
		}
		return stage.Success("dry run", s.produced)
	}

	outputText, usage, err := s.completePrompt(ctx, rc, s.promptName, vars)
	if err != nil {
		return stage.Failed("completion failed", err)
	}

	if err := s.deps.Artifacts.WriteText(outputPath, outputText); err != nil {
		return stage.Failed("write output artifact", err)
	}
	if err := s.deps.Store.RecordArtifact(ctx, &store.ContentArtifact{
		EpisodeID:    rc.Episode.ID,
		ArtifactType: s.outputType,
		Path:         outputPath,
		Model:        usage.Model,
		PromptHash:   usage.PromptHash,
	}); err != nil {
		return stage.Failed("record artifact", err)
	}

	if s.withDiff {
		if err := s.writeDiff(rc, inputText, outputText); err != nil {
			return stage.Failed("write correction diff", err)
		}
	}
	s.cascade(rc, s.id)

	record := usageRecord(usage, time.Since(started))
	if err := s.writeProvenance(rc, s.id, record, []string{inputPath}, []string{outputPath}); err != nil {
		return stage.Failed("write provenance", err)
	}

	s.deps.logger().Info("text stage completed",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.String(logging.FieldStage, s.id),
		logging.Float64("cost_usd", usage.CostUSD))

	result := stage.Success("output written", s.produced)
	result.CostUSD = usage.CostUSD
	result.InputTokens = usage.InputTokens
	result.OutputTokens = usage.OutputTokens
	return result
}

// writeDiff records the line-level changes between input and output so the
// review gate can show them and the auto-approve rule can classify them.
func (s *textStage) writeDiff(rc *stage.RunContext, before, after string) error {
	diffPath, err := s.deps.Artifacts.ResolveDiff(rc.Episode.ExternalID, s.id)
	if err != nil {
		return err
	}
	diff := computeLineDiff(before, after)
	data, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return err
	}
	return s.deps.Artifacts.Write(diffPath, data)
}

// computeLineDiff pairs lines positionally. Real corrections are local edits
// that keep line structure, so positional pairing captures them; structural
// rewrites show up as many changes and simply fail auto-approval.
func computeLineDiff(before, after string) review.Diff {
	beforeLines := strings.Split(before, "\n")
	afterLines := strings.Split(after, "\n")

	var diff review.Diff
	common := len(beforeLines)
	if len(afterLines) < common {
		common = len(afterLines)
	}
	for i := 0; i < common; i++ {
		if beforeLines[i] != afterLines[i] {
			diff.Changes = append(diff.Changes, review.DiffChange{Before: beforeLines[i], After: afterLines[i]})
		}
	}
	for i := common; i < len(beforeLines); i++ {
		diff.Changes = append(diff.Changes, review.DiffChange{Before: beforeLines[i]})
	}
	for i := common; i < len(afterLines); i++ {
		diff.Changes = append(diff.Changes, review.DiffChange{After: afterLines[i]})
	}
	return diff
}
