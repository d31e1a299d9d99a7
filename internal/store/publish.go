package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const publishJobColumns = "id, episode_id, platform, video_id, status, created_at, completed_at"

// Publish job statuses.
const (
	PublishJobPending = "pending"
	PublishJobDone    = "done"
	PublishJobFailed  = "failed"
)

// CreatePublishJob records a new publishing attempt.
func (s *Store) CreatePublishJob(ctx context.Context, job *PublishJob) error {
	if job == nil {
		return errors.New("publish job is nil")
	}
	if job.Status == "" {
		job.Status = PublishJobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO publish_jobs (episode_id, platform, video_id, status, created_at, completed_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		job.EpisodeID,
		job.Platform,
		nullableString(job.VideoID),
		job.Status,
		formatTime(job.CreatedAt),
		nullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert publish job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id
	return nil
}

// CompletePublishJob marks a job done or failed and records the returned
// remote video identifier.
func (s *Store) CompletePublishJob(ctx context.Context, jobID int64, status, videoID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE publish_jobs SET status = ?, video_id = ?, completed_at = ? WHERE id = ?`,
		status,
		nullableString(videoID),
		formatTime(now),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("complete publish job: %w", err)
	}
	return nil
}

// PublishJobsForEpisode returns the publish attempts of an episode in order.
func (s *Store) PublishJobsForEpisode(ctx context.Context, episodeID int64) ([]*PublishJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+publishJobColumns+` FROM publish_jobs WHERE episode_id = ? ORDER BY id`,
		episodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list publish jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*PublishJob
	for rows.Next() {
		job, err := scanPublishJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpsertChannel inserts a channel or refreshes its name and feed URL.
func (s *Store) UpsertChannel(ctx context.Context, channel *Channel) error {
	if channel == nil {
		return errors.New("channel is nil")
	}
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO channels (channel_id, name, feed_url, created_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(channel_id) DO UPDATE SET name = excluded.name, feed_url = excluded.feed_url`,
		channel.ChannelID,
		nullableString(channel.Name),
		nullableString(channel.FeedURL),
		formatTime(channel.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		channel.ID = id
	}
	return nil
}

// Channels returns all registered source channels.
func (s *Store) Channels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel_id, name, feed_url, created_at FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		var (
			channel    Channel
			name       sql.NullString
			feedURL    sql.NullString
			createdRaw sql.NullString
		)
		if err := rows.Scan(&channel.ID, &channel.ChannelID, &name, &feedURL, &createdRaw); err != nil {
			return nil, err
		}
		channel.Name = name.String
		channel.FeedURL = feedURL.String
		if created, err := parseTimeString(createdRaw.String); err == nil {
			channel.CreatedAt = created
		}
		channels = append(channels, &channel)
	}
	return channels, rows.Err()
}

func scanPublishJob(scanner interface{ Scan(dest ...any) error }) (*PublishJob, error) {
	var (
		id           int64
		episodeID    int64
		platform     string
		videoID      sql.NullString
		status       string
		createdRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(&id, &episodeID, &platform, &videoID, &status, &createdRaw, &completedRaw); err != nil {
		return nil, err
	}

	job := &PublishJob{
		ID:        id,
		EpisodeID: episodeID,
		Platform:  platform,
		VideoID:   videoID.String,
		Status:    status,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}
