package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const artifactColumns = "id, episode_id, artifact_type, path, model, prompt_hash, created_at"

const assetColumns = "id, episode_id, asset_type, chapter_id, path, mime_type, size_bytes, duration_seconds, metadata_json, prompt_version_id, created_at"

// RecordArtifact inserts a content artifact record. A regenerated file gets a
// fresh record; existing records are never updated.
func (s *Store) RecordArtifact(ctx context.Context, artifact *ContentArtifact) error {
	if artifact == nil {
		return errors.New("artifact is nil")
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO content_artifacts (
            episode_id, artifact_type, path, model, prompt_hash, created_at
        ) VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.EpisodeID,
		artifact.ArtifactType,
		artifact.Path,
		nullableString(artifact.Model),
		nullableString(artifact.PromptHash),
		formatTime(artifact.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert content artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	artifact.ID = id
	return nil
}

// LatestArtifact returns the most recent artifact of a type for an episode, or
// nil when none exists.
func (s *Store) LatestArtifact(ctx context.Context, episodeID int64, artifactType string) (*ContentArtifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM content_artifacts
         WHERE episode_id = ? AND artifact_type = ? ORDER BY id DESC LIMIT 1`,
		episodeID,
		artifactType,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest artifact: %w", err)
	}
	return artifact, nil
}

// ArtifactsForEpisode returns all artifact records for an episode in creation
// order.
func (s *Store) ArtifactsForEpisode(ctx context.Context, episodeID int64) ([]*ContentArtifact, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+artifactColumns+` FROM content_artifacts WHERE episode_id = ? ORDER BY id`,
		episodeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list content artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*ContentArtifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// RecordMediaAsset inserts a media asset record.
func (s *Store) RecordMediaAsset(ctx context.Context, asset *MediaAsset) error {
	if asset == nil {
		return errors.New("media asset is nil")
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}

	var metadataJSON any
	if len(asset.Metadata) > 0 {
		encoded, err := json.Marshal(asset.Metadata)
		if err != nil {
			return fmt.Errorf("encode asset metadata: %w", err)
		}
		metadataJSON = string(encoded)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO media_assets (
            episode_id, asset_type, chapter_id, path, mime_type, size_bytes,
            duration_seconds, metadata_json, prompt_version_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.EpisodeID,
		asset.AssetType,
		nullableString(asset.ChapterID),
		asset.Path,
		nullableString(asset.MimeType),
		asset.SizeBytes,
		nullableFloat64(asset.DurationSeconds),
		metadataJSON,
		nullableInt64(asset.PromptVersionID),
		formatTime(asset.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert media asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	asset.ID = id
	return nil
}

// MediaAssetsForEpisode returns assets for an episode, optionally filtered by
// type, ordered by chapter then creation order.
func (s *Store) MediaAssetsForEpisode(ctx context.Context, episodeID int64, assetType MediaAssetType) ([]*MediaAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM media_assets WHERE episode_id = ?`
	args := []any{episodeID}
	if assetType != "" {
		query += ` AND asset_type = ?`
		args = append(args, assetType)
	}
	query += ` ORDER BY chapter_id, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media assets: %w", err)
	}
	defer rows.Close()

	var assets []*MediaAsset
	for rows.Next() {
		asset, err := scanMediaAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*ContentArtifact, error) {
	var (
		id           int64
		episodeID    int64
		artifactType string
		path         string
		model        sql.NullString
		promptHash   sql.NullString
		createdRaw   sql.NullString
	)

	if err := scanner.Scan(&id, &episodeID, &artifactType, &path, &model, &promptHash, &createdRaw); err != nil {
		return nil, err
	}

	artifact := &ContentArtifact{
		ID:           id,
		EpisodeID:    episodeID,
		ArtifactType: artifactType,
		Path:         path,
		Model:        model.String,
		PromptHash:   promptHash.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		artifact.CreatedAt = created
	}
	return artifact, nil
}

func scanMediaAsset(scanner interface{ Scan(dest ...any) error }) (*MediaAsset, error) {
	var (
		id          int64
		episodeID   int64
		assetType   string
		chapterID   sql.NullString
		path        string
		mimeType    sql.NullString
		sizeBytes   int64
		duration    sql.NullFloat64
		metadataRaw sql.NullString
		promptID    sql.NullInt64
		createdRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&episodeID,
		&assetType,
		&chapterID,
		&path,
		&mimeType,
		&sizeBytes,
		&duration,
		&metadataRaw,
		&promptID,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	asset := &MediaAsset{
		ID:        id,
		EpisodeID: episodeID,
		AssetType: MediaAssetType(assetType),
		ChapterID: chapterID.String,
		Path:      path,
		MimeType:  mimeType.String,
		SizeBytes: sizeBytes,
	}
	if duration.Valid {
		asset.DurationSeconds = &duration.Float64
	}
	if metadataRaw.Valid && metadataRaw.String != "" {
		if err := json.Unmarshal([]byte(metadataRaw.String), &asset.Metadata); err != nil {
			return nil, fmt.Errorf("decode asset metadata: %w", err)
		}
	}
	if promptID.Valid {
		asset.PromptVersionID = &promptID.Int64
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		asset.CreatedAt = created
	}
	return asset, nil
}
