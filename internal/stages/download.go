package stages

import (
	"context"
	"time"

	"dublaj/internal/artifacts"
	"dublaj/internal/logging"
	"dublaj/internal/provenance"
	"dublaj/internal/services"
	"dublaj/internal/stage"
	"dublaj/internal/store"
)

type downloadStage struct {
	base
}

func (s *downloadStage) ID() string { return stage.StageDownload }

func (s *downloadStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.ID(), store.EpisodeNew); err != nil {
		return stage.Failed("precondition not met", err)
	}
	if rc.Episode.SourceURL == "" {
		return stage.Failed("episode has no source url",
			services.Wrap(services.ErrValidation, s.ID(), "download", "missing source url", nil))
	}

	audioPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeSourceAudio)
	if err != nil {
		return stage.Failed("resolve audio path", err)
	}

	if !rc.Force && s.deps.Artifacts.Exists(audioPath) && !s.deps.Artifacts.IsStale(audioPath) {
		return stage.Skipped("source audio already downloaded")
	}

	started := time.Now()
	if !rc.DryRun {
		if err := s.deps.Downloader.Download(ctx, rc.Episode.SourceURL, audioPath); err != nil {
			return stage.Failed("audio download failed",
				services.Wrap(services.ErrExternalService, s.ID(), "download", rc.Episode.SourceURL, err))
		}
		if err := s.deps.Artifacts.ClearStale(audioPath); err != nil {
			return stage.Failed("clear stale marker", err)
		}

		rc.Episode.AudioPath = audioPath
		if err := s.deps.Store.UpdateEpisode(ctx, rc.Episode); err != nil {
			return stage.Failed("persist audio path", err)
		}
		if err := s.deps.Store.RecordArtifact(ctx, &store.ContentArtifact{
			EpisodeID:    rc.Episode.ID,
			ArtifactType: artifacts.TypeSourceAudio,
			Path:         audioPath,
		}); err != nil {
			return stage.Failed("record artifact", err)
		}
		s.cascade(rc, s.ID())
	}

	record := &provenance.Record{
		DurationSeconds: time.Since(started).Seconds(),
		Notes:           provenance.String("source: " + rc.Episode.SourceURL),
	}
	if err := s.writeProvenance(rc, s.ID(), record, nil, []string{audioPath}); err != nil {
		return stage.Failed("write provenance", err)
	}

	s.deps.logger().Info("source audio downloaded",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.String("path", audioPath))
	return stage.Success("source audio downloaded", store.EpisodeDownloaded)
}
