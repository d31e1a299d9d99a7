package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dublaj/internal/artifacts"
	"dublaj/internal/hashing"
	"dublaj/internal/logging"
	"dublaj/internal/services"
	"dublaj/internal/stage"
	"dublaj/internal/store"
	"dublaj/internal/textutil"
)

type publishStage struct {
	base
}

func (s *publishStage) ID() string { return stage.StagePublish }

func (s *publishStage) Run(ctx context.Context, rc *stage.RunContext) stage.Result {
	// The legacy plan has no render gate, so publish follows RENDERED
	// directly there.
	required := store.EpisodeApproved
	if rc.Episode.PipelineVersion == 1 {
		required = store.EpisodeRendered
	}
	if err := s.precondition(rc, s.ID(), required); err != nil {
		return stage.Failed("precondition not met", err)
	}

	draftPath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypeDraftVideo)
	if err != nil {
		return stage.Failed("resolve draft path", err)
	}
	provenancePath, err := s.deps.Artifacts.Resolve(rc.Episode.ExternalID, artifacts.TypePublishProvenance)
	if err != nil {
		return stage.Failed("resolve publish provenance path", err)
	}

	if !rc.Force && rc.Episode.VideoID != "" && s.deps.Artifacts.Exists(provenancePath) {
		return stage.Skipped(fmt.Sprintf("already published as %s", rc.Episode.VideoID))
	}

	// The approval binds to the exact bytes of the draft. A draft modified
	// after gate 3 must never be uploaded.
	if rc.Episode.PipelineVersion >= 2 {
		task, err := s.deps.Store.ApprovedReviewTask(ctx, rc.Episode.ID, stage.StageRender)
		if err != nil {
			return stage.Failed("load render approval", err)
		}
		if task == nil {
			return stage.Failed("no render approval on record",
				services.Wrap(services.ErrPreconditionFailed, s.ID(), "verify approval", "publish requires an approved render review", nil))
		}
		currentHash, err := hashing.HashFile(draftPath)
		if err != nil {
			return stage.Failed("hash draft video", err)
		}
		if task.ArtifactHash != currentHash {
			return stage.Failed("artifact integrity check failed: draft video changed after approval",
				services.Wrap(services.ErrValidation, s.ID(), "verify approval",
					fmt.Sprintf("approved hash %s, current hash %s", task.ArtifactHash, currentHash), nil))
		}
	}

	chapters, chaptersPath, err := s.loadChapters(rc.Episode.ExternalID)
	if err != nil {
		return stage.Failed("load chapters", err)
	}

	started := time.Now()
	if rc.DryRun {
		record := usageRecord(nil, time.Since(started))
		if err := s.writeProvenance(rc, s.ID(), record, []string{draftPath, chaptersPath}, nil); err != nil {
			return stage.Failed("write provenance", err)
		}
		return stage.Success("dry run", store.EpisodePublished)
	}

	job := &store.PublishJob{
		EpisodeID: rc.Episode.ID,
		Platform:  rc.Config.Publish.Platform,
	}
	if err := s.deps.Store.CreatePublishJob(ctx, job); err != nil {
		return stage.Failed("create publish job", err)
	}

	videoID, err := s.deps.Uploader.Upload(ctx, stage.UploadRequest{
		VideoPath:   draftPath,
		Title:       rc.Episode.Title,
		Description: publishDescription(chapters),
		Chapters:    chapterListing(chapters),
	})
	if err != nil {
		if completeErr := s.deps.Store.CompletePublishJob(ctx, job.ID, store.PublishJobFailed, ""); completeErr != nil {
			s.deps.logger().Warn("publish job completion failed", logging.Error(completeErr))
		}
		return stage.Failed("upload failed",
			services.Wrap(services.ErrExternalService, s.ID(), "upload", draftPath, err))
	}
	if err := s.deps.Store.CompletePublishJob(ctx, job.ID, store.PublishJobDone, videoID); err != nil {
		return stage.Failed("complete publish job", err)
	}

	rc.Episode.VideoID = videoID
	if err := s.deps.Store.UpdateEpisode(ctx, rc.Episode); err != nil {
		return stage.Failed("persist video id", err)
	}

	record := usageRecord(nil, time.Since(started))
	record.Notes = provenanceName(fmt.Sprintf("published to %s as %s", rc.Config.Publish.Platform, videoID))
	if err := s.writeProvenance(rc, s.ID(), record, []string{draftPath, chaptersPath}, nil); err != nil {
		return stage.Failed("write provenance", err)
	}
	if err := s.writePublishRecord(rc, provenancePath, draftPath, videoID); err != nil {
		return stage.Failed("write publish record", err)
	}

	s.deps.logger().Info("episode published",
		logging.Int64(logging.FieldEpisodeID, rc.Episode.ID),
		logging.String("platform", rc.Config.Publish.Platform),
		logging.String("video_id", videoID))
	return stage.Success(fmt.Sprintf("published as %s", videoID), store.EpisodePublished)
}

// publishRecord documents one completed upload: the platform, the remote
// video identifier, and the exact draft bytes that went out.
type publishRecord struct {
	Platform    string    `json:"platform"`
	VideoID     string    `json:"video_id"`
	DraftPath   string    `json:"draft_path"`
	DraftHash   string    `json:"draft_hash"`
	PublishedAt time.Time `json:"published_at"`
}

func (s *publishStage) writePublishRecord(rc *stage.RunContext, path, draftPath, videoID string) error {
	hash, err := hashing.HashFile(draftPath)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(&publishRecord{
		Platform:    rc.Config.Publish.Platform,
		VideoID:     videoID,
		DraftPath:   draftPath,
		DraftHash:   hash,
		PublishedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return s.deps.Artifacts.Write(path, data)
}

// publishDescription builds the upload description from the chapter summaries.
// Titles get Turkish title casing for the Turkish-speaking audience.
func publishDescription(chapters *ChapterList) string {
	var b strings.Builder
	for _, chapter := range chapters.Chapters {
		if chapter.Summary == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(textutil.TitleTurkish(chapter.Title))
		b.WriteString("\n")
		b.WriteString(chapter.Summary)
	}
	return b.String()
}

// chapterListing renders the chapter titles as a numbered list for the
// platform's chapter field, title-cased with Turkish rules.
func chapterListing(chapters *ChapterList) string {
	var b strings.Builder
	for i, chapter := range chapters.Chapters {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, textutil.TitleTurkish(chapter.Title))
	}
	return b.String()
}
