// Package stage defines the contract between the orchestrator and stage
// adapters: the run context, the result value, the per-version stage plans,
// and the interfaces of the external services adapters call.
package stage

import (
	"context"
	"log/slog"

	"dublaj/internal/config"
	"dublaj/internal/store"
)

// Status classifies the outcome of one adapter invocation.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusSkipped       Status = "skipped"
	StatusFailed        Status = "failed"
	StatusReviewPending Status = "review_pending"
)

// Result is the value every adapter returns. It is the only thing the
// orchestrator knows about what happened inside a stage.
type Result struct {
	Status           Status
	Detail           string
	CostUSD          float64
	InputTokens      int64
	OutputTokens     int64
	NewEpisodeStatus *store.EpisodeStatus
	Err              error
}

// Success builds a success result advancing the episode to produced.
func Success(detail string, produced store.EpisodeStatus) Result {
	return Result{Status: StatusSuccess, Detail: detail, NewEpisodeStatus: &produced}
}

// Skipped builds a skipped result: output already current, nothing touched.
func Skipped(detail string) Result {
	return Result{Status: StatusSkipped, Detail: detail}
}

// Failed builds a failed result carrying the causing error.
func Failed(detail string, err error) Result {
	return Result{Status: StatusFailed, Detail: detail, Err: err}
}

// ReviewPending builds a result that suspends the run at a gate.
func ReviewPending(detail string) Result {
	return Result{Status: StatusReviewPending, Detail: detail}
}

// RunContext carries everything an adapter may consult during one invocation.
type RunContext struct {
	Episode *store.Episode
	Config  *config.Config
	Force   bool
	DryRun  bool
	Logger  *slog.Logger
}

// Adapter is one named unit of work in a stage plan.
type Adapter interface {
	ID() string
	Run(ctx context.Context, rc *RunContext) Result
}
