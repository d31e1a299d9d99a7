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

type transcribeStage struct {
	base
}

func (s *transcribeStage) ID() string { return stage.StageTranscribe }

func (s *transcribeStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	if err := s.precondition(rc, s.ID(), store.EpisodeDownloaded); err != nil {
		return stage.Failed("precondition not met", err)
	}

	audioPath := rc.Episode.AudioPath
	if audioPath == "" {
		resolved, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeSourceAudio)
		if err != nil {
			return stage.Failed("resolve audio path", err)
		}
		audioPath = resolved
	}
	transcriptPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeTranscript)
	if err != nil {
		return stage.Failed("resolve transcript path", err)
	}

	if s.shouldSkip(rc, skipCheck{
		stageID: s.ID(),
		output:  transcriptPath,
		inputs:  []string{audioPath},
	}) {
		return stage.Skipped("transcript already current")
	}

	started := time.Now()
	if !rc.DryRun {
		text, err := s.deps.Transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			return stage.Failed("transcription failed",
				services.Wrap(services.ErrExternalService, s.ID(), "transcribe", audioPath, err))
		}
		if err := s.deps.Artifacts.WriteText(transcriptPath, text); err != nil {
			return stage.Failed("write transcript", err)
		}

		rc.Episode.TranscriptPath = transcriptPath
		if err := s.deps.Store.UpdateEpisode(ctx, rc.Episode); err != nil {
			return stage.Failed("persist transcript path", err)
		}
		if err := s.deps.Store.RecordArtifact(ctx, &store.ContentArtifact{
			EpisodeID:    rc.Episode.ID,
			ArtifactType: artifacts.TypeTranscript,
			Path:         transcriptPath,
			Model:        rc.Config.Transcribe.Model,
		}); err != nil {
			return stage.Failed("record artifact", err)
		}
		s.cascade(rc, s.ID())
	}

	record := &provenance.Record{
		Model:           provenance.String(rc.Config.Transcribe.Model),
		DurationSeconds: time.Since(started).Seconds(),
	}
	if err := s.writeProvenance(rc, s.ID(), record, []string{audioPath}, []string{transcriptPath}); err != nil {
		return stage.Failed("write provenance", err)
	}

	s.deps.logger().Info("episode transcribed",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.String("path", transcriptPath))
	return stage.Success("transcript produced", store.EpisodeTranscribed)
}
