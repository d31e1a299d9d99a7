package stages

import (
	"context"
	"fmt"
	"time"

	"dublaj/internal/artifacts"
	"dublaj/internal/hashing"
	"dublaj/internal/logging"
	"dublaj/internal/provenance"
	"dublaj/internal/services"
	"dublaj/internal/stage"
	"dublaj/internal/store"
)

// base carries the shared adapter behavior: precondition checks, hash-based
// idempotency, provenance emission, and cascade invalidation.
type base struct {
	deps *Deps
}

// precondition verifies the episode has reached the stage's required prior
// status. Force bypasses the check.
func (b *base) precondition(rc *stage.RunContext, stageID string, required store.EpisodeStatus) error {
	if rc.Force {
		return nil
	}
	if rc.Episode.Status.AtLeast(required) {
		return nil
	}
	return services.Wrap(
		services.ErrPreconditionFailed,
		stageID,
		"precondition",
		fmt.Sprintf("episode %d is %s, stage requires at least %s", rc.Episode.ID, rc.Episode.Status, required),
		nil,
	)
}

// skipCheck describes the state an adapter compares against its previous run.
type skipCheck struct {
	stageID    string
	output     string
	promptHash string
	inputs     []string
}

// shouldSkip implements the idempotency protocol: the canonical output exists
// and is not stale, the recorded provenance carries the current default prompt
// hash (when the stage is prompted), and the recorded input hashes match the
// current input files. Any mismatch forces a re-run.
func (b *base) shouldSkip(rc *stage.RunContext, check skipCheck) bool {
	if rc.Force {
		return false
	}
	if check.output == "" || b.deps.Artifacts.IsStale(check.output) {
		return false
	}

	record, err := b.deps.Provenance.Load(rc.Episode.ExternalID, check.stageID)
	if err != nil {
		return false
	}

	if check.promptHash != "" {
		if record.PromptHash == nil || *record.PromptHash != check.promptHash {
			return false
		}
	}

	recorded := make(map[string]string, len(record.InputFiles))
	for _, ref := range record.InputFiles {
		recorded[ref.Path] = ref.Hash
	}
	for _, input := range check.inputs {
		current, err := hashing.HashFile(input)
		if err != nil {
			return false
		}
		if recorded[input] != current {
			return false
		}
	}
	return true
}

// fileRefs hashes the given paths into provenance references. Files that do
// not exist (dry-run outputs) are recorded with an empty hash.
func (b *base) fileRefs(paths []string) []provenance.FileRef {
	refs := make([]provenance.FileRef, 0, len(paths))
	for _, path := range paths {
		ref := provenance.FileRef{Path: path}
		if hash, err := hashing.HashFile(path); err == nil {
			ref.Hash = hash
		}
		refs = append(refs, ref)
	}
	return refs
}

// writeProvenance fills in the file references and persists the record.
func (b *base) writeProvenance(rc *stage.RunContext, stageID string, record *provenance.Record, inputs, outputs []string) error {
	record.Stage = stageID
	record.EpisodeID = rc.Episode.ExternalID
	record.InputFiles = b.fileRefs(inputs)
	record.OutputFiles = b.fileRefs(outputs)
	return b.deps.Provenance.Write(rc.Episode.ExternalID, stageID, record)
}

// downstreamArtifacts maps each stage to the artifact types its re-run
// invalidates. The render draft is terminal on disk; publish consumes it but
// verifies integrity by hash instead of staleness.
var downstreamArtifacts = map[string][]string{
	stage.StageDownload:   {artifacts.TypeTranscript},
	stage.StageTranscribe: {artifacts.TypeCorrectedTranscript},
	stage.StageCorrect:    {artifacts.TypeTranslation},
	stage.StageTranslate:  {artifacts.TypeAdaptedScript},
	stage.StageAdapt:      {artifacts.TypeChapters},
	stage.StageChapterize: {artifacts.TypeImageManifest, artifacts.TypeTTSManifest},
	stage.StageImageGen:   {artifacts.TypeRenderManifest},
	stage.StageTTS:        {artifacts.TypeRenderManifest},
}

// cascade marks the stage's downstream outputs stale after a fresh run.
func (b *base) cascade(rc *stage.RunContext, stageID string) {
	for _, artifactType := range downstreamArtifacts[stageID] {
		path, err := b.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifactType)
		if err != nil {
			continue
		}
		if !b.deps.Artifacts.Exists(path) {
			continue
		}
		if err := b.deps.Artifacts.MarkStale(path, fmt.Sprintf("%s re-ran upstream", stageID), stageID); err != nil {
			b.deps.logger().Warn("cascade invalidation failed",
				logging.String(logging.FieldStage, stageID),
				logging.String("path", path),
				logging.Error(err))
		}
	}
}

// llmUsage carries the prompt binding and accounting of one completion.
type llmUsage struct {
	PromptName    string
	PromptVersion int
	PromptHash    string
	Model         string
	Temperature   float64
	MaxTokens     int
	InputTokens   int64
	OutputTokens  int64
	CostUSD       float64
}

// completePrompt loads the default prompt version, renders it with the given
// variables, and runs the completion. The returned usage binds the call to
// the exact prompt version for provenance.
func (b *base) completePrompt(ctx context.Context, rc *stage.RunContext, promptName string, vars map[string]string) (string, *llmUsage, error) {
	tmpl, version, err := b.deps.Prompts.CurrentDefault(ctx, promptName)
	if err != nil {
		return "", nil, err
	}

	model := version.Model
	if model == "" {
		model = rc.Config.LLM.Model
	}
	usage := &llmUsage{
		PromptName:    version.Name,
		PromptVersion: version.Version,
		PromptHash:    version.ContentHash,
		Model:         model,
		Temperature:   version.Temperature,
		MaxTokens:     version.MaxTokens,
	}

	resp, err := b.deps.Chat.Complete(ctx, stage.ChatRequest{
		Model:       model,
		Prompt:      tmpl.Render(vars),
		Temperature: version.Temperature,
		MaxTokens:   version.MaxTokens,
	})
	if err != nil {
		return "", nil, services.Wrap(services.ErrExternalService, "", "llm complete", fmt.Sprintf("prompt %s", promptName), err)
	}

	usage.InputTokens = resp.InputTokens
	usage.OutputTokens = resp.OutputTokens
	usage.CostUSD = float64(resp.InputTokens)/1e6*rc.Config.LLM.InputCostPerMTok +
		float64(resp.OutputTokens)/1e6*rc.Config.LLM.OutputCostPerMTok
	return resp.Text, usage, nil
}

// defaultPromptHash returns the hash of the current default version of a
// prompt, or empty when none is registered yet.
func (b *base) defaultPromptHash(ctx context.Context, rc *stage.RunContext, promptName string) string {
	tmpl, err := b.deps.Prompts.Load(promptName)
	if err != nil {
		return ""
	}
	if _, err := b.deps.Prompts.RegisterVersion(ctx, promptName); err != nil {
		return ""
	}
	version, err := b.deps.Prompts.GetDefault(ctx, promptName)
	if err != nil {
		return tmpl.ContentHash
	}
	return version.ContentHash
}

// usageRecord converts LLM usage into the provenance fields.
func usageRecord(usage *llmUsage, duration time.Duration) *provenance.Record {
	record := &provenance.Record{DurationSeconds: duration.Seconds()}
	if usage == nil {
		return record
	}
	record.PromptName = provenance.String(usage.PromptName)
	record.PromptVersion = provenance.Int(usage.PromptVersion)
	record.PromptHash = provenance.String(usage.PromptHash)
	record.Model = provenance.String(usage.Model)
	record.ModelParams = &provenance.ModelParams{Temperature: usage.Temperature, MaxTokens: usage.MaxTokens}
	record.InputTokens = provenance.Int64(usage.InputTokens)
	record.OutputTokens = provenance.Int64(usage.OutputTokens)
	record.CostUSD = provenance.Float64(usage.CostUSD)
	return record
}
