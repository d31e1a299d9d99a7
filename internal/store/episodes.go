package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const episodeColumns = "id, external_id, channel_id, title, duration_seconds, source_url, status, pipeline_version, audio_path, transcript_path, output_dir, video_id, retry_count, error_message, detected_at, updated_at"

// CreateEpisode inserts a new episode detected from a source feed.
func (s *Store) CreateEpisode(ctx context.Context, episode *Episode) error {
	if episode == nil {
		return errors.New("episode is nil")
	}
	now := time.Now().UTC()
	if episode.DetectedAt.IsZero() {
		episode.DetectedAt = now
	}
	episode.UpdatedAt = now
	if episode.Status == "" {
		episode.Status = EpisodeNew
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO episodes (
            external_id, channel_id, title, duration_seconds, source_url, status,
            pipeline_version, audio_path, transcript_path, output_dir, video_id,
            retry_count, error_message, detected_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episode.ExternalID,
		nullableString(episode.ChannelID),
		nullableString(episode.Title),
		episode.DurationSeconds,
		nullableString(episode.SourceURL),
		episode.Status,
		episode.PipelineVersion,
		nullableString(episode.AudioPath),
		nullableString(episode.TranscriptPath),
		nullableString(episode.OutputDir),
		nullableString(episode.VideoID),
		episode.RetryCount,
		nullableString(episode.ErrorMessage),
		formatTime(episode.DetectedAt),
		formatTime(episode.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	episode.ID = id
	return nil
}

// EpisodeByID fetches an episode by identifier. Returns nil when missing.
func (s *Store) EpisodeByID(ctx context.Context, id int64) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return episode, nil
}

// EpisodeByExternalID fetches an episode by its stable external identifier.
func (s *Store) EpisodeByExternalID(ctx context.Context, externalID string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE external_id = ?`, externalID)
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode by external id: %w", err)
	}
	return episode, nil
}

// UpdateEpisode persists changes to an existing episode.
func (s *Store) UpdateEpisode(ctx context.Context, episode *Episode) error {
	if episode == nil {
		return errors.New("episode is nil")
	}
	episode.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes
         SET channel_id = ?, title = ?, duration_seconds = ?, source_url = ?, status = ?,
             pipeline_version = ?, audio_path = ?, transcript_path = ?, output_dir = ?,
             video_id = ?, retry_count = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(episode.ChannelID),
		nullableString(episode.Title),
		episode.DurationSeconds,
		nullableString(episode.SourceURL),
		episode.Status,
		episode.PipelineVersion,
		nullableString(episode.AudioPath),
		nullableString(episode.TranscriptPath),
		nullableString(episode.OutputDir),
		nullableString(episode.VideoID),
		episode.RetryCount,
		nullableString(episode.ErrorMessage),
		formatTime(episode.UpdatedAt),
		episode.ID,
	)
	if err != nil {
		return fmt.Errorf("update episode: %w", err)
	}
	return nil
}

// SetEpisodeStatus updates only the status and error message of an episode.
func (s *Store) SetEpisodeStatus(ctx context.Context, id int64, status EpisodeStatus, errorMessage string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status,
		nullableString(errorMessage),
		formatTime(time.Now().UTC()),
		id,
	)
	if err != nil {
		return fmt.Errorf("set episode status: %w", err)
	}
	return nil
}

// ListEpisodes returns episodes filtered by status set (or all episodes when no
// status is provided), ordered by detection time.
func (s *Store) ListEpisodes(ctx context.Context, statuses ...EpisodeStatus) ([]*Episode, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + episodeColumns + ` FROM episodes`
	orderClause := ` ORDER BY detected_at, id`

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
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episode)
	}
	return episodes, rows.Err()
}

// ActionableEpisodes returns episodes a pending pass may act on, ordered by
// detection time. COST_LIMIT episodes stay in the set: they become runnable
// again as soon as the spend cap is raised.
func (s *Store) ActionableEpisodes(ctx context.Context) ([]*Episode, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE status NOT IN (?, ?) ORDER BY detected_at, id`,
		EpisodeCompleted,
		EpisodeFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("list actionable episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episode)
	}
	return episodes, rows.Err()
}

// EpisodeStats returns a count of episodes grouped by status.
func (s *Store) EpisodeStats(ctx context.Context) (map[EpisodeStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("episode stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[EpisodeStatus]int)
	for rows.Next() {
		var status EpisodeStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanEpisode(scanner interface{ Scan(dest ...any) error }) (*Episode, error) {
	var (
		id          int64
		externalID  string
		channelID   sql.NullString
		title       sql.NullString
		duration    sql.NullFloat64
		sourceURL   sql.NullString
		statusStr   string
		version     int
		audioPath   sql.NullString
		transcript  sql.NullString
		outputDir   sql.NullString
		videoID     sql.NullString
		retryCount  int
		errMessage  sql.NullString
		detectedRaw sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&externalID,
		&channelID,
		&title,
		&duration,
		&sourceURL,
		&statusStr,
		&version,
		&audioPath,
		&transcript,
		&outputDir,
		&videoID,
		&retryCount,
		&errMessage,
		&detectedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	episode := &Episode{
		ID:              id,
		ExternalID:      externalID,
		ChannelID:       channelID.String,
		Title:           title.String,
		DurationSeconds: duration.Float64,
		SourceURL:       sourceURL.String,
		Status:          EpisodeStatus(statusStr),
		PipelineVersion: version,
		AudioPath:       audioPath.String,
		TranscriptPath:  transcript.String,
		OutputDir:       outputDir.String,
		VideoID:         videoID.String,
		RetryCount:      retryCount,
		ErrorMessage:    errMessage.String,
	}
	if detected, err := parseTimeString(detectedRaw.String); err == nil {
		episode.DetectedAt = detected
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		episode.UpdatedAt = updated
	}
	return episode, nil
}
