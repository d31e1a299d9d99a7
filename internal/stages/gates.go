package stages

import (
	"context"
	"errors"
	"fmt"

	"dublaj/internal/artifacts"
	"dublaj/internal/hashing"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/stage"
	"dublaj/internal/store"
)

// gatePrimaryArtifact maps each reviewed stage to the artifact a reviewer
// approves or rejects.
var gatePrimaryArtifact = map[string]string{
	stage.StageCorrect: artifacts.TypeCorrectedTranscript,
	stage.StageAdapt:   artifacts.TypeAdaptedScript,
	stage.StageRender:  artifacts.TypeDraftVideo,
}

// gateRequired maps each gate to the status the reviewed stage produced.
var gateRequired = map[string]store.EpisodeStatus{
	stage.StageReviewGate1: store.EpisodeCorrected,
	stage.StageReviewGate2: store.EpisodeAdapted,
	stage.StageReviewGate3: store.EpisodeRendered,
}

// gatePromptName maps a reviewed stage to the prompt whose default version a
// new review task is tagged with.
var gatePromptName = map[string]string{
	stage.StageCorrect: "correct_transcript",
	stage.StageAdapt:   "adapt",
}

// gateStage pauses the pipeline until a human has approved the reviewed
// stage's primary artifact. An approval binds to the exact artifact bytes:
// if the artifact changed since, the old approval no longer counts and a
// fresh task is opened.
type gateStage struct {
	base
	id       string
	reviewed string
}

func newGate(deps *Deps, gateID string) *gateStage {
	return &gateStage{base: base{deps}, id: gateID, reviewed: stage.GateStages[gateID]}
}

func (s *gateStage) ID() string { return s.id }

func (s *gateStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.id, gateRequired[s.id]); err != nil {
		return stage.Failed("precondition not met", err)
	}

	primaryPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, gatePrimaryArtifact[s.reviewed])
	if err != nil {
		return stage.Failed("resolve reviewed artifact", err)
	}
	if !s.deps.Artifacts.Exists(primaryPath) {
		return stage.Failed("reviewed artifact missing",
			services.Wrap(services.ErrPreconditionFailed, s.id, "gate", fmt.Sprintf("artifact %s does not exist", primaryPath), nil))
	}
	if s.deps.Artifacts.IsStale(primaryPath) {
		return stage.Failed("reviewed artifact is stale",
			services.Wrap(services.ErrPreconditionFailed, s.id, "gate", fmt.Sprintf("artifact %s awaits regeneration by %s", primaryPath, s.reviewed), nil))
	}

	currentHash, err := hashing.HashFile(primaryPath)
	if err != nil {
		return stage.Failed("hash reviewed artifact", err)
	}

	approved, err := s.deps.Store.ApprovedReviewTask(ctx, rc.Episode.ID, s.reviewed)
	if err != nil {
		return stage.Failed("load approval", err)
	}
	if approved != nil && approved.ArtifactHash == currentHash {
		return s.pass(rc, fmt.Sprintf("approved by task %d", approved.ID))
	}

	open, err := s.deps.Store.OpenReviewTask(ctx, rc.Episode.ID, s.reviewed)
	if err != nil {
		return stage.Failed("load open task", err)
	}
	if open != nil {
		return stage.ReviewPending(fmt.Sprintf("task %d awaits review", open.ID))
	}

	if rc.DryRun {
		return stage.ReviewPending("dry run: review task would be created")
	}

	task, err := s.createTask(ctx, rc, primaryPath)
	if err != nil {
		// A concurrent pass may have opened the task first; both runs
		// then suspend on the same task.
		if errors.Is(err, services.ErrGateConflict) {
			return stage.ReviewPending("review task already open")
		}
		return stage.Failed("create review task", err)
	}
	if task.Status == store.ReviewApproved {
		return s.pass(rc, fmt.Sprintf("task %d auto-approved", task.ID))
	}

	s.deps.logger().Info("review task opened",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.String(logging.FieldStage, s.reviewed),
		logging.Int64("task_id", task.ID))
	return stage.ReviewPending(fmt.Sprintf("task %d awaits review", task.ID))
}

// pass builds the success result. Only the final gate advances the episode;
// the earlier gates let the plan continue at the current status.
func (s *gateStage) pass(rc *stage.RunContext, detail string) stage.Result {
	if produced, ok := stage.ProducedStatus(s.id); ok {
		return stage.Success(detail, produced)
	}
	return stage.Result{Status: stage.StatusSuccess, Detail: detail}
}

func (s *gateStage) createTask(ctx context.Context, rc *stage.RunContext, primaryPath string) (*store.ReviewTask, error) {
	var diffPath string
	if s.reviewed == stage.StageCorrect {
		path, err := s.deps.Artifacts.ResolveDiff(rc.Episode.ExternalID, s.reviewed)
		if err == nil && s.deps.Artifacts.Exists(path) {
			diffPath = path
		}
	}

	var promptVersionID *int64
	if name, ok := gatePromptName[s.reviewed]; ok {
		if version, err := s.deps.Prompts.GetDefault(ctx, name); err == nil {
			promptVersionID = &version.ID
		}
	}

	return s.deps.Review.CreateTask(ctx, rc.Episode, s.reviewed, []string{primaryPath}, diffPath, promptVersionID)
}
