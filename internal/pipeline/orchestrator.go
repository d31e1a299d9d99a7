// Package pipeline walks an episode through its stage plan: one adapter per
// plan entry, one pipeline_runs record per invocation, episode status advanced
// on success, the run suspended at review gates, and the cost cap enforced
// after every stage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"dublaj/internal/config"
	"dublaj/internal/costguard"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/stage"
	"dublaj/internal/store"
)

// Options modifies a single orchestrator pass.
type Options struct {
	Force  bool
	DryRun bool
	// Stages restricts the pass to the named plan entries. Empty means the
	// whole plan. Restricted passes still honor each stage's precondition.
	Stages []string
}

func (o Options) wantsStage(stageID string) bool {
	if len(o.Stages) == 0 {
		return true
	}
	for _, want := range o.Stages {
		if want == stageID {
			return true
		}
	}
	return false
}

// ReportEntry is one plan entry's outcome within a pass.
type ReportEntry struct {
	Stage   string
	Status  store.RunStatus
	Detail  string
	CostUSD float64
}

// Report summarizes one orchestrator pass over one episode.
type Report struct {
	EpisodeID   int64
	ExternalID  string
	Entries     []ReportEntry
	FinalStatus store.EpisodeStatus
	SpentUSD    float64
}

// Orchestrator drives episodes through their stage plans.
type Orchestrator struct {
	store    *store.Store
	registry *stage.Registry
	guard    *costguard.Guard
	cfg      *config.Config
	logger   *slog.Logger
}

// New builds an orchestrator.
func New(st *store.Store, registry *stage.Registry, guard *costguard.Guard, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{store: st, registry: registry, guard: guard, cfg: cfg, logger: logger}
}

// RunEpisode executes one pass of the episode's stage plan. The pass stops
// cleanly at an open review gate, terminally on failure or cost cap, and runs
// to COMPLETED otherwise. COMPLETED episodes are left untouched; a FAILED
// episode is re-attempted when Force is set, and a COST_LIMIT episode resumes
// once the spend cap has been raised above what it already spent.
func (o *Orchestrator) RunEpisode(ctx context.Context, episodeID int64, opts Options) (*Report, error) {
	episode, err := o.store.EpisodeByID(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if episode == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "run episode", fmt.Sprintf("episode %d does not exist", episodeID), nil)
	}

	report := &Report{EpisodeID: episode.ID, ExternalID: episode.ExternalID, FinalStatus: episode.Status}
	if episode.Status == store.EpisodeCompleted {
		return report, nil
	}

	unlock, err := o.lockEpisode(episode)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if episode.Status.IsTerminal() {
		switch episode.Status {
		case store.EpisodeCostLimit:
			if err := o.guard.Check(ctx, episode.ID); err != nil {
				if services.IsCostCap(err) {
					// Cap unchanged; the episode stays parked.
					return report, nil
				}
				return nil, err
			}
		case store.EpisodeFailed:
			if !opts.Force {
				return report, nil
			}
		default:
			return report, nil
		}

		resumed, err := o.resumeStatus(ctx, episode.ID)
		if err != nil {
			return nil, err
		}
		o.logger.Info("re-attempting terminal episode",
			logging.Int64(logging.FieldEpisodeID, episode.ID),
			logging.String("from", string(episode.Status)),
			logging.String("resume_at", string(resumed)))
		episode.Status = resumed
		episode.ErrorMessage = ""
		episode.RetryCount = 0
		if err := o.store.UpdateEpisode(ctx, episode); err != nil {
			return nil, err
		}
		report.FinalStatus = resumed
	}

	ctx = services.WithEpisodeID(ctx, episode.ExternalID)
	ctx = services.WithRunID(ctx, uuid.NewString())
	passLogger := logging.WithContext(ctx, o.logger)

	plan, err := stage.PlanForVersion(episode.PipelineVersion)
	if err != nil {
		return nil, err
	}
	dryRun := opts.DryRun || o.cfg.Pipeline.DryRun

	for _, entry := range plan {
		if err := ctx.Err(); err != nil {
			report.FinalStatus = episode.Status
			return report, err
		}

		if !opts.wantsStage(entry.StageID) {
			continue
		}

		// Stages the episode has moved strictly past are recorded as
		// skipped without invoking the adapter.
		if o.stagePast(episode, entry) {
			if err := o.recordSkipped(ctx, episode, entry.StageID); err != nil {
				return nil, err
			}
			report.Entries = append(report.Entries, ReportEntry{
				Stage:  entry.StageID,
				Status: store.RunSkipped,
				Detail: "episode already past this stage",
			})
			continue
		}

		adapter, err := o.registry.Get(entry.StageID)
		if err != nil {
			return nil, err
		}

		run := &store.PipelineRun{EpisodeID: episode.ID, Stage: entry.StageID}
		if err := o.store.InsertRun(ctx, run); err != nil {
			return nil, err
		}

		stageCtx := services.WithStage(ctx, entry.StageID)
		result := adapter.Run(stageCtx, &stage.RunContext{
			Episode: episode,
			Config:  o.cfg,
			Force:   opts.Force,
			DryRun:  dryRun,
			Logger:  logging.WithContext(stageCtx, o.logger),
		})

		run.Status = store.RunStatus(result.Status)
		run.CostUSD = result.CostUSD
		run.InputTokens = result.InputTokens
		run.OutputTokens = result.OutputTokens
		if result.Err != nil {
			run.ErrorMessage = result.Err.Error()
		}
		if err := o.store.CompleteRun(ctx, run); err != nil {
			return nil, err
		}

		report.Entries = append(report.Entries, ReportEntry{
			Stage:   entry.StageID,
			Status:  run.Status,
			Detail:  result.Detail,
			CostUSD: result.CostUSD,
		})

		switch result.Status {
		case stage.StatusSuccess:
			if result.NewEpisodeStatus != nil && *result.NewEpisodeStatus != episode.Status {
				if err := o.store.SetEpisodeStatus(ctx, episode.ID, *result.NewEpisodeStatus, ""); err != nil {
					return nil, err
				}
				episode.Status = *result.NewEpisodeStatus
				episode.ErrorMessage = ""
			}
			if stopped, err := o.checkCostCap(ctx, episode, passLogger); err != nil {
				return nil, err
			} else if stopped {
				return o.finish(ctx, episode, report)
			}

		case stage.StatusSkipped:
			// Output already current; move on.

		case stage.StatusReviewPending:
			passLogger.Info("pass suspended at review gate",
				logging.String(logging.FieldStage, entry.StageID),
				logging.String("detail", result.Detail))
			return o.finish(ctx, episode, report)

		case stage.StatusFailed:
			if err := o.handleFailure(ctx, episode, entry.StageID, result, passLogger); err != nil {
				return nil, err
			}
			return o.finish(ctx, episode, report)
		}
	}

	if episode.Status == store.EpisodePublished {
		if err := o.store.SetEpisodeStatus(ctx, episode.ID, store.EpisodeCompleted, ""); err != nil {
			return nil, err
		}
		episode.Status = store.EpisodeCompleted
	}
	return o.finish(ctx, episode, report)
}

// RunPending runs one pass over every actionable episode, skipping episodes
// blocked on an open review task, up to the configured limit.
func (o *Orchestrator) RunPending(ctx context.Context, opts Options) ([]*Report, error) {
	episodes, err := o.store.ActionableEpisodes(ctx)
	if err != nil {
		return nil, err
	}

	limit := o.cfg.Pipeline.RunPendingLimit
	var reports []*Report
	for _, episode := range episodes {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if limit > 0 && len(reports) >= limit {
			break
		}

		pending, err := o.store.PendingReviewCount(ctx, episode.ID)
		if err != nil {
			return reports, err
		}
		if pending > 0 {
			o.logger.Debug("episode blocked on review",
				logging.Int64(logging.FieldEpisodeID, episode.ID),
				logging.Int("open_tasks", pending))
			continue
		}

		report, err := o.RunEpisode(ctx, episode.ID, opts)
		if err != nil {
			o.logger.Warn("episode pass failed",
				logging.Int64(logging.FieldEpisodeID, episode.ID),
				logging.Error(err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Status returns the episode count per lifecycle status.
func (o *Orchestrator) Status(ctx context.Context) (map[store.EpisodeStatus]int, error) {
	return o.store.EpisodeStats(ctx)
}

// CostReport aggregates run cost per stage, for one episode or globally.
func (o *Orchestrator) CostReport(ctx context.Context, episodeID *int64) ([]store.StageCost, error) {
	return o.store.CostByStage(ctx, episodeID)
}

// stagePast reports whether the episode has already moved strictly past the
// plan entry. Gates without a produced status compare on their required prior.
func (o *Orchestrator) stagePast(episode *store.Episode, entry stage.PlanEntry) bool {
	if produced, ok := stage.ProducedStatus(entry.StageID); ok {
		return produced.Before(episode.Status)
	}
	return entry.RequiredPrior.Before(episode.Status)
}

func (o *Orchestrator) recordSkipped(ctx context.Context, episode *store.Episode, stageID string) error {
	now := time.Now().UTC()
	return o.store.InsertRun(ctx, &store.PipelineRun{
		EpisodeID:   episode.ID,
		Stage:       stageID,
		Status:      store.RunSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	})
}

// resumeStatus recomputes the progression status for a terminal episode being
// re-attempted: the status produced by its most recent successful stage run,
// or NEW when no stage ever succeeded. The next pass then resumes from the
// failure point instead of starting over.
func (o *Orchestrator) resumeStatus(ctx context.Context, episodeID int64) (store.EpisodeStatus, error) {
	runs, err := o.store.RunsForEpisode(ctx, episodeID)
	if err != nil {
		return store.EpisodeNew, err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Status != store.RunSuccess {
			continue
		}
		if produced, ok := stage.ProducedStatus(runs[i].Stage); ok {
			return produced, nil
		}
	}
	return store.EpisodeNew, nil
}

// checkCostCap enforces the per-episode spend cap after a successful stage.
// Returns true when the episode was moved to COST_LIMIT and the pass must stop.
func (o *Orchestrator) checkCostCap(ctx context.Context, episode *store.Episode, logger *slog.Logger) (bool, error) {
	err := o.guard.Check(ctx, episode.ID)
	if err == nil {
		return false, nil
	}
	if !services.IsCostCap(err) {
		return false, err
	}
	logger.Warn("cost cap reached", logging.Error(err))
	if err := o.store.SetEpisodeStatus(ctx, episode.ID, store.EpisodeCostLimit, err.Error()); err != nil {
		return false, err
	}
	episode.Status = store.EpisodeCostLimit
	return true, nil
}

// handleFailure applies the retry budget: below the budget the episode keeps
// its status so the next pass retries the stage; at the budget it goes FAILED.
// A cost-cap failure always goes COST_LIMIT.
func (o *Orchestrator) handleFailure(ctx context.Context, episode *store.Episode, stageID string, result stage.Result, logger *slog.Logger) error {
	message := result.Detail
	if result.Err != nil {
		message = result.Err.Error()
	}

	if services.IsCostCap(result.Err) {
		if err := o.store.SetEpisodeStatus(ctx, episode.ID, store.EpisodeCostLimit, message); err != nil {
			return err
		}
		episode.Status = store.EpisodeCostLimit
		return nil
	}

	episode.RetryCount++
	episode.ErrorMessage = message
	if o.cfg.Pipeline.MaxRetries > 0 && episode.RetryCount < o.cfg.Pipeline.MaxRetries {
		logger.Warn("stage failed, will retry",
			logging.String(logging.FieldStage, stageID),
			logging.Int("retry_count", episode.RetryCount),
			logging.Error(result.Err))
		return o.store.UpdateEpisode(ctx, episode)
	}

	logger.Error("stage failed, retries exhausted",
		logging.String(logging.FieldStage, stageID),
		logging.Error(result.Err))
	episode.Status = store.EpisodeFailed
	return o.store.UpdateEpisode(ctx, episode)
}

func (o *Orchestrator) finish(ctx context.Context, episode *store.Episode, report *Report) (*Report, error) {
	report.FinalStatus = episode.Status
	spent, err := o.guard.SpentUSD(ctx, episode.ID)
	if err != nil {
		return nil, err
	}
	report.SpentUSD = spent
	return report, nil
}

// lockEpisode takes the per-episode file lock so overlapping invocations
// cannot interleave stage runs.
func (o *Orchestrator) lockEpisode(episode *store.Episode) (func(), error) {
	lockDir := o.cfg.LockDir()
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrIO, "", "lock episode", fmt.Sprintf("create lock directory %s", lockDir), err)
	}

	lock := flock.New(filepath.Join(lockDir, episode.ExternalID+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrIO, "", "lock episode", fmt.Sprintf("acquire lock for %s", episode.ExternalID), err)
	}
	if !locked {
		return nil, fmt.Errorf("episode %s is already being processed", episode.ExternalID)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			o.logger.Warn("episode unlock failed",
				logging.Int64(logging.FieldEpisodeID, episode.ID),
				logging.Error(err))
		}
	}, nil
}
