package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dublaj/internal/services"
)

const reviewTaskColumns = "id, episode_id, stage, status, artifact_paths, diff_path, prompt_version_id, created_at, reviewed_at, notes, artifact_hash"

// CreateReviewTask inserts a new pending task. At most one open task may exist
// per (episode, stage); a second insert fails with a gate-conflict error.
func (s *Store) CreateReviewTask(ctx context.Context, task *ReviewTask) error {
	if task == nil {
		return errors.New("review task is nil")
	}
	if task.Status == "" {
		task.Status = ReviewPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	paths, err := json.Marshal(task.ArtifactPaths)
	if err != nil {
		return fmt.Errorf("encode artifact paths: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO review_tasks (
            episode_id, stage, status, artifact_paths, diff_path,
            prompt_version_id, created_at, reviewed_at, notes, artifact_hash
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.EpisodeID,
		task.Stage,
		task.Status,
		string(paths),
		nullableString(task.DiffPath),
		nullableInt64(task.PromptVersionID),
		formatTime(task.CreatedAt),
		nullableTime(task.ReviewedAt),
		nullableString(task.Notes),
		nullableString(task.ArtifactHash),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return services.Wrap(
				services.ErrGateConflict,
				task.Stage,
				"create review task",
				fmt.Sprintf("episode %d already has an open %s review task", task.EpisodeID, task.Stage),
				err,
			)
		}
		return fmt.Errorf("insert review task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	task.ID = id
	return nil
}

// ReviewTaskByID fetches a review task by identifier.
func (s *Store) ReviewTaskByID(ctx context.Context, id int64) (*ReviewTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reviewTaskColumns+` FROM review_tasks WHERE id = ?`, id)
	task, err := scanReviewTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "review task", fmt.Sprintf("review task %d not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get review task: %w", err)
	}
	return task, nil
}

// OpenReviewTask returns the open (pending or in-review) task for a stage on
// an episode, or nil when none exists.
func (s *Store) OpenReviewTask(ctx context.Context, episodeID int64, stage string) (*ReviewTask, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+reviewTaskColumns+` FROM review_tasks
         WHERE episode_id = ? AND stage = ? AND status IN (?, ?)`,
		episodeID,
		stage,
		ReviewPending,
		ReviewInReview,
	)
	task, err := scanReviewTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open review task: %w", err)
	}
	return task, nil
}

// LatestReviewTask returns the most recently created task for a stage on an
// episode regardless of status, or nil when none exists.
func (s *Store) LatestReviewTask(ctx context.Context, episodeID int64, stage string) (*ReviewTask, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+reviewTaskColumns+` FROM review_tasks
         WHERE episode_id = ? AND stage = ? ORDER BY id DESC LIMIT 1`,
		episodeID,
		stage,
	)
	task, err := scanReviewTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest review task: %w", err)
	}
	return task, nil
}

// ApprovedReviewTask returns the most recent approved task for a stage on an
// episode, or nil when none exists.
func (s *Store) ApprovedReviewTask(ctx context.Context, episodeID int64, stage string) (*ReviewTask, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+reviewTaskColumns+` FROM review_tasks
         WHERE episode_id = ? AND stage = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		episodeID,
		stage,
		ReviewApproved,
	)
	task, err := scanReviewTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approved review task: %w", err)
	}
	return task, nil
}

// ListReviewTasks returns tasks filtered by status set (or all tasks when no
// status is provided), oldest first.
func (s *Store) ListReviewTasks(ctx context.Context, statuses ...ReviewStatus) ([]*ReviewTask, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + reviewTaskColumns + ` FROM review_tasks`
	orderClause := ` ORDER BY id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list review tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ReviewTask
	for rows.Next() {
		task, err := scanReviewTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// PendingReviewCount counts open tasks for an episode.
func (s *Store) PendingReviewCount(ctx context.Context, episodeID int64) (int, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM review_tasks WHERE episode_id = ? AND status IN (?, ?)`,
		episodeID,
		ReviewPending,
		ReviewInReview,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("pending review count: %w", err)
	}
	return count, nil
}

// ReviewDecisionRequest carries everything a decision must change atomically:
// the decision log entry, the task's new status, and an optional episode
// status update used when a rejection reverts the episode.
type ReviewDecisionRequest struct {
	TaskID        int64
	Decision      DecisionKind
	Notes         string
	TaskStatus    ReviewStatus
	ArtifactHash  string
	EpisodeID     int64
	EpisodeStatus *EpisodeStatus
}

// ApplyReviewDecision records a decision, moves the task to its new status,
// and optionally reverts the episode, all in one transaction. Decisions on
// tasks that are no longer open fail with a gate-conflict error.
func (s *Store) ApplyReviewDecision(ctx context.Context, req ReviewDecisionRequest) (*ReviewDecision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin decision tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()

	res, err := tx.ExecContext(
		ctx,
		`UPDATE review_tasks
         SET status = ?, reviewed_at = ?, notes = ?, artifact_hash = ?
         WHERE id = ? AND status IN (?, ?)`,
		req.TaskStatus,
		formatTime(now),
		nullableString(req.Notes),
		nullableString(req.ArtifactHash),
		req.TaskID,
		ReviewPending,
		ReviewInReview,
	)
	if err != nil {
		return nil, fmt.Errorf("update review task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, services.Wrap(
			services.ErrGateConflict,
			"",
			"apply review decision",
			fmt.Sprintf("review task %d is not open", req.TaskID),
			nil,
		)
	}

	insert, err := tx.ExecContext(
		ctx,
		`INSERT INTO review_decisions (task_id, decision, notes, decided_at) VALUES (?, ?, ?, ?)`,
		req.TaskID,
		req.Decision,
		nullableString(req.Notes),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert review decision: %w", err)
	}
	decisionID, err := insert.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if req.EpisodeStatus != nil {
		_, err = tx.ExecContext(
			ctx,
			`UPDATE episodes SET status = ?, updated_at = ? WHERE id = ?`,
			*req.EpisodeStatus,
			formatTime(now),
			req.EpisodeID,
		)
		if err != nil {
			return nil, fmt.Errorf("revert episode status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}

	return &ReviewDecision{
		ID:        decisionID,
		TaskID:    req.TaskID,
		Decision:  req.Decision,
		Notes:     req.Notes,
		DecidedAt: now,
	}, nil
}

// DecisionsForTask returns the append-only decision log of a task, oldest first.
func (s *Store) DecisionsForTask(ctx context.Context, taskID int64) ([]*ReviewDecision, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, task_id, decision, notes, decided_at FROM review_decisions
         WHERE task_id = ? ORDER BY id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list review decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*ReviewDecision
	for rows.Next() {
		var (
			decision   ReviewDecision
			notes      sql.NullString
			decidedRaw sql.NullString
		)
		if err := rows.Scan(&decision.ID, &decision.TaskID, &decision.Decision, &notes, &decidedRaw); err != nil {
			return nil, err
		}
		decision.Notes = notes.String
		if decided, err := parseTimeString(decidedRaw.String); err == nil {
			decision.DecidedAt = decided
		}
		decisions = append(decisions, &decision)
	}
	return decisions, rows.Err()
}

// HasReviewTask reports whether any task for (episode, stage) carries one of
// the given statuses.
func (s *Store) HasReviewTask(ctx context.Context, episodeID int64, stage string, statuses ...ReviewStatus) (bool, error) {
	if len(statuses) == 0 {
		return false, errors.New("no statuses given")
	}
	placeholders := makePlaceholders(len(statuses))
	args := []any{episodeID, stage}
	for _, status := range statuses {
		args = append(args, status)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM review_tasks
         WHERE episode_id = ? AND stage = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("has review task: %w", err)
	}
	return count > 0, nil
}

// LatestDecisionNotes returns the notes of the most recent decision of any of
// the given kinds across all tasks for a stage on an episode. Empty when none.
func (s *Store) LatestDecisionNotes(ctx context.Context, episodeID int64, stage string, kinds ...DecisionKind) (string, error) {
	if len(kinds) == 0 {
		return "", errors.New("no decision kinds given")
	}
	placeholders := makePlaceholders(len(kinds))
	args := []any{episodeID, stage}
	for _, kind := range kinds {
		args = append(args, kind)
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT d.notes FROM review_decisions d
         JOIN review_tasks t ON t.id = d.task_id
         WHERE t.episode_id = ? AND t.stage = ? AND d.decision IN (`+placeholders+`)
         ORDER BY d.id DESC LIMIT 1`,
		args...,
	)
	var notes sql.NullString
	if err := row.Scan(&notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest decision notes: %w", err)
	}
	return notes.String, nil
}

func scanReviewTask(scanner interface{ Scan(dest ...any) error }) (*ReviewTask, error) {
	var (
		id           int64
		episodeID    int64
		stage        string
		statusStr    string
		pathsRaw     string
		diffPath     sql.NullString
		promptID     sql.NullInt64
		createdRaw   sql.NullString
		reviewedRaw  sql.NullString
		notes        sql.NullString
		artifactHash sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&episodeID,
		&stage,
		&statusStr,
		&pathsRaw,
		&diffPath,
		&promptID,
		&createdRaw,
		&reviewedRaw,
		&notes,
		&artifactHash,
	); err != nil {
		return nil, err
	}

	task := &ReviewTask{
		ID:           id,
		EpisodeID:    episodeID,
		Stage:        stage,
		Status:       ReviewStatus(statusStr),
		DiffPath:     diffPath.String,
		Notes:        notes.String,
		ArtifactHash: artifactHash.String,
	}
	if pathsRaw != "" {
		if err := json.Unmarshal([]byte(pathsRaw), &task.ArtifactPaths); err != nil {
			return nil, fmt.Errorf("decode artifact paths: %w", err)
		}
	}
	if promptID.Valid {
		task.PromptVersionID = &promptID.Int64
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		task.CreatedAt = created
	}
	if reviewedRaw.Valid {
		if reviewed, err := parseTimeString(reviewedRaw.String); err == nil {
			task.ReviewedAt = &reviewed
		}
	}
	return task, nil
}
