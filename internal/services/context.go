package services

import "context"

type contextKey string

const (
	episodeIDKey contextKey = "episode_id"
	stageKey     contextKey = "stage"
	runIDKey     contextKey = "run_id"
)

// WithEpisodeID attaches an episode identifier to the context for logging.
func WithEpisodeID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, episodeIDKey, id)
}

// EpisodeIDFromContext extracts the episode identifier, if present.
func EpisodeIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(episodeIDKey).(string)
	return id, ok && id != ""
}

// WithStage attaches a stage identifier to the context for logging.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext extracts the stage identifier, if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	stage, ok := ctx.Value(stageKey).(string)
	return stage, ok && stage != ""
}

// WithRunID attaches a run correlation identifier to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the run correlation identifier, if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(runIDKey).(string)
	return id, ok && id != ""
}
