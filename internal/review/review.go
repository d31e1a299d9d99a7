// Package review manages the human review gates: task creation, the decision
// state machine, episode reverts on rejection, and the append-only review
// history file downstream tooling reads.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"dublaj/internal/artifacts"
	"dublaj/internal/config"
	"dublaj/internal/hashing"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/store"
	"dublaj/internal/textutil"
)

// revertStatus maps a reviewed stage to the episode status a rejection
// reverts to, so the stage re-runs on the next orchestrator pass.
var revertStatus = map[string]store.EpisodeStatus{
	"correct": store.EpisodeTranscribed,
	"adapt":   store.EpisodeTranslated,
	"render":  store.EpisodeTTSDone,
}

// DiffChange is one recorded edit between a stage's input and output text.
type DiffChange struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Diff is the correction diff written next to a review task.
type Diff struct {
	Changes []DiffChange `json:"changes"`
}

// HistoryEvent is one entry in the per-episode review_history.json file.
type HistoryEvent struct {
	TaskID    int64     `json:"task_id"`
	EpisodeID string    `json:"episode_id"`
	Stage     string    `json:"stage"`
	Decision  string    `json:"decision"`
	Notes     string    `json:"notes,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Service exposes the gate operations the orchestrator and CLI use.
type Service struct {
	store     *store.Store
	artifacts *artifacts.Store
	cfg       config.Review
	logger    *slog.Logger
}

// NewService builds a review service.
func NewService(st *store.Store, art *artifacts.Store, cfg config.Review, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: st, artifacts: art, cfg: cfg, logger: logger}
}

// CreateTask opens a pending review task for (episode, stage). When the
// auto-approve rule is enabled and the correction diff qualifies, the task is
// approved immediately.
func (s *Service) CreateTask(ctx context.Context, episode *store.Episode, stageID string, artifactPaths []string, diffPath string, promptVersionID *int64) (*store.ReviewTask, error) {
	task := &store.ReviewTask{
		EpisodeID:       episode.ID,
		Stage:           stageID,
		ArtifactPaths:   artifactPaths,
		DiffPath:        diffPath,
		PromptVersionID: promptVersionID,
	}
	if err := s.store.CreateReviewTask(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("review task created",
		logging.Int64(logging.FieldEpisodeID, episode.ID),
		logging.String(logging.FieldStage, stageID),
		logging.Int64("task_id", task.ID))

	if stageID == "correct" && s.cfg.AutoApproveCorrections && diffPath != "" {
		if s.qualifiesForAutoApprove(diffPath) {
			if _, err := s.Approve(ctx, episode, task.ID, "auto-approved: punctuation-only corrections"); err != nil {
				return nil, err
			}
			task.Status = store.ReviewApproved
			s.logger.Info("review task auto-approved",
				logging.Int64(logging.FieldEpisodeID, episode.ID),
				logging.Int64("task_id", task.ID))
		}
	}
	return task, nil
}

// qualifiesForAutoApprove checks the narrow rule: strictly fewer than the
// configured change count, every change punctuation-only.
func (s *Service) qualifiesForAutoApprove(diffPath string) bool {
	data, err := s.artifacts.ReadBytes(diffPath)
	if err != nil {
		return false
	}
	var diff Diff
	if err := json.Unmarshal(data, &diff); err != nil {
		return false
	}
	if len(diff.Changes) >= s.cfg.AutoApproveMaxChanges {
		return false
	}
	for _, change := range diff.Changes {
		if !textutil.PunctuationOnlyChange(change.Before, change.After) {
			return false
		}
	}
	return true
}

// Approve closes a task as APPROVED and binds the approval to the exact bytes
// of the primary artifact via its SHA-256.
func (s *Service) Approve(ctx context.Context, episode *store.Episode, taskID int64, notes string) (*store.ReviewDecision, error) {
	task, err := s.openTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	primary := task.PrimaryArtifact()
	if primary == "" {
		return nil, services.Wrap(services.ErrValidation, task.Stage, "approve", fmt.Sprintf("review task %d has no artifacts", taskID), nil)
	}
	hash, err := hashing.HashFile(primary)
	if err != nil {
		return nil, err
	}

	decision, err := s.store.ApplyReviewDecision(ctx, store.ReviewDecisionRequest{
		TaskID:       taskID,
		Decision:     store.DecisionApproved,
		Notes:        notes,
		TaskStatus:   store.ReviewApproved,
		ArtifactHash: hash,
		EpisodeID:    task.EpisodeID,
	})
	if err != nil {
		return nil, err
	}
	s.appendHistory(episode, task, decision)
	return decision, nil
}

// Reject closes a task as REJECTED, reverts the episode to the reviewed
// stage's prior status, and marks the primary artifact stale.
func (s *Service) Reject(ctx context.Context, episode *store.Episode, taskID int64, notes string) (*store.ReviewDecision, error) {
	return s.sendBack(ctx, episode, taskID, notes, store.DecisionRejected, store.ReviewRejected)
}

// RequestChanges closes a task as CHANGES_REQUESTED with the same reverting
// side effects as Reject. The notes are injected into the stage's next run.
func (s *Service) RequestChanges(ctx context.Context, episode *store.Episode, taskID int64, notes string) (*store.ReviewDecision, error) {
	return s.sendBack(ctx, episode, taskID, notes, store.DecisionChangesRequested, store.ReviewChangesRequested)
}

func (s *Service) sendBack(ctx context.Context, episode *store.Episode, taskID int64, notes string, kind store.DecisionKind, taskStatus store.ReviewStatus) (*store.ReviewDecision, error) {
	task, err := s.openTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	revert, ok := revertStatus[task.Stage]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, task.Stage, "review", fmt.Sprintf("stage %q has no review revert target", task.Stage), nil)
	}

	decision, err := s.store.ApplyReviewDecision(ctx, store.ReviewDecisionRequest{
		TaskID:        taskID,
		Decision:      kind,
		Notes:         notes,
		TaskStatus:    taskStatus,
		ArtifactHash:  task.ArtifactHash,
		EpisodeID:     task.EpisodeID,
		EpisodeStatus: &revert,
	})
	if err != nil {
		return nil, err
	}

	if primary := task.PrimaryArtifact(); primary != "" {
		if err := s.artifacts.MarkStale(primary, "rejected in review", task.Stage); err != nil {
			s.logger.Warn("stale marking failed",
				logging.Int64("task_id", taskID),
				logging.Error(err))
		}
	}

	episode.Status = revert
	s.appendHistory(episode, task, decision)
	s.logger.Info("review task sent back",
		logging.Int64(logging.FieldEpisodeID, task.EpisodeID),
		logging.String(logging.FieldStage, task.Stage),
		logging.String("decision", string(kind)))
	return decision, nil
}

// openTask loads a task and verifies it still accepts decisions.
func (s *Service) openTask(ctx context.Context, taskID int64) (*store.ReviewTask, error) {
	task, err := s.store.ReviewTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.IsOpen() {
		return nil, services.Wrap(
			services.ErrInvalidTransition,
			task.Stage,
			"review",
			fmt.Sprintf("review task %d is %s and accepts no further decisions", taskID, task.Status),
			nil,
		)
	}
	return task, nil
}

// HasApproved reports whether an APPROVED task exists for (episode, stage).
func (s *Service) HasApproved(ctx context.Context, episodeID int64, stageID string) (bool, error) {
	return s.store.HasReviewTask(ctx, episodeID, stageID, store.ReviewApproved)
}

// HasPending reports whether a PENDING, IN_REVIEW, or CHANGES_REQUESTED task
// exists for (episode, stage).
func (s *Service) HasPending(ctx context.Context, episodeID int64, stageID string) (bool, error) {
	return s.store.HasReviewTask(ctx, episodeID, stageID, store.ReviewPending, store.ReviewInReview, store.ReviewChangesRequested)
}

// LatestFeedback returns the notes of the most recent rejection or
// change request for (episode, stage), empty when none exists.
func (s *Service) LatestFeedback(ctx context.Context, episodeID int64, stageID string) (string, error) {
	return s.store.LatestDecisionNotes(ctx, episodeID, stageID, store.DecisionChangesRequested, store.DecisionRejected)
}

// PendingCount counts open tasks for an episode.
func (s *Service) PendingCount(ctx context.Context, episodeID int64) (int, error) {
	return s.store.PendingReviewCount(ctx, episodeID)
}

// appendHistory adds a decision event to the episode's review history file.
// History write failures are logged, not fatal: the database already holds
// the authoritative decision record.
func (s *Service) appendHistory(episode *store.Episode, task *store.ReviewTask, decision *store.ReviewDecision) {
	path, err := s.artifacts.Resolve(episode.ExternalID, artifacts.TypeReviewHistory)
	if err != nil {
		s.logger.Warn("review history path", logging.Error(err))
		return
	}

	var events []HistoryEvent
	if data, err := s.artifacts.ReadBytes(path); err == nil {
		_ = json.Unmarshal(data, &events)
	}
	events = append(events, HistoryEvent{
		TaskID:    task.ID,
		EpisodeID: episode.ExternalID,
		Stage:     task.Stage,
		Decision:  string(decision.Decision),
		Notes:     decision.Notes,
		DecidedAt: decision.DecidedAt,
	})

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		s.logger.Warn("review history encode", logging.Error(err))
		return
	}
	if err := s.artifacts.Write(path, data); err != nil {
		s.logger.Warn("review history write", logging.Error(err))
	}
}
