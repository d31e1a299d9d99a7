package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const runColumns = "id, episode_id, stage, status, started_at, completed_at, input_tokens, output_tokens, cost_usd, error_message"

// InsertRun appends a new pipeline run record, typically in the running state.
func (s *Store) InsertRun(ctx context.Context, run *PipelineRun) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pipeline_runs (
            episode_id, stage, status, started_at, completed_at,
            input_tokens, output_tokens, cost_usd, error_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.EpisodeID,
		run.Stage,
		run.Status,
		formatTime(run.StartedAt),
		nullableTime(run.CompletedAt),
		run.InputTokens,
		run.OutputTokens,
		run.CostUSD,
		nullableString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// CompleteRun records the terminal outcome of a running pipeline run. Runs are
// never mutated after reaching a terminal status.
func (s *Store) CompleteRun(ctx context.Context, run *PipelineRun) error {
	if run == nil {
		return errors.New("run is nil")
	}
	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE pipeline_runs
         SET status = ?, completed_at = ?, input_tokens = ?, output_tokens = ?,
             cost_usd = ?, error_message = ?
         WHERE id = ? AND status = ?`,
		run.Status,
		nullableTime(run.CompletedAt),
		run.InputTokens,
		run.OutputTokens,
		run.CostUSD,
		nullableString(run.ErrorMessage),
		run.ID,
		RunRunning,
	)
	if err != nil {
		return fmt.Errorf("complete pipeline run: %w", err)
	}
	return nil
}

// RunsForEpisode returns the full run history of an episode in invocation order.
func (s *Store) RunsForEpisode(ctx context.Context, episodeID int64) ([]*PipelineRun, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE episode_id = ? ORDER BY id`,
		episodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []*PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SumRunCost sums estimated cost across success and failed runs of an episode.
func (s *Store) SumRunCost(ctx context.Context, episodeID int64) (float64, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM pipeline_runs
         WHERE episode_id = ? AND status IN (?, ?)`,
		episodeID,
		RunSuccess,
		RunFailed,
	)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum run cost: %w", err)
	}
	return total, nil
}

// CostByStage aggregates run cost per stage, optionally scoped to one episode.
func (s *Store) CostByStage(ctx context.Context, episodeID *int64) ([]StageCost, error) {
	query := `SELECT stage, COUNT(1), COALESCE(SUM(cost_usd), 0) FROM pipeline_runs`
	args := []any{}
	if episodeID != nil {
		query += ` WHERE episode_id = ?`
		args = append(args, *episodeID)
	}
	query += ` GROUP BY stage ORDER BY stage`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cost by stage: %w", err)
	}
	defer rows.Close()

	var costs []StageCost
	for rows.Next() {
		var entry StageCost
		if err := rows.Scan(&entry.Stage, &entry.Runs, &entry.CostUSD); err != nil {
			return nil, err
		}
		costs = append(costs, entry)
	}
	return costs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*PipelineRun, error) {
	var (
		id           int64
		episodeID    int64
		stage        string
		statusStr    string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		inputTokens  int64
		outputTokens int64
		costUSD      float64
		errMessage   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&episodeID,
		&stage,
		&statusStr,
		&startedRaw,
		&completedRaw,
		&inputTokens,
		&outputTokens,
		&costUSD,
		&errMessage,
	); err != nil {
		return nil, err
	}

	run := &PipelineRun{
		ID:           id,
		EpisodeID:    episodeID,
		Stage:        stage,
		Status:       RunStatus(statusStr),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      costUSD,
		ErrorMessage: errMessage.String,
	}
	if started, err := parseTimeString(startedRaw.String); err == nil {
		run.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			run.CompletedAt = &completed
		}
	}
	return run, nil
}
