package review

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"dublaj/internal/artifacts"
	"dublaj/internal/config"
	"dublaj/internal/hashing"
	"dublaj/internal/services"
	"dublaj/internal/store"
)

type fixture struct {
	store     *store.Store
	artifacts *artifacts.Store
	service   *Service
	episode   *store.Episode
}

func setup(t *testing.T, cfg config.Review) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "dublaj.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	art := artifacts.NewStore(t.TempDir())
	episode := &store.Episode{ExternalID: "ep-review", PipelineVersion: 2, Status: store.EpisodeCorrected}
	if err := st.CreateEpisode(context.Background(), episode); err != nil {
		t.Fatalf("create episode: %v", err)
	}
	if err := st.SetEpisodeStatus(context.Background(), episode.ID, store.EpisodeCorrected, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}

	return &fixture{
		store:     st,
		artifacts: art,
		service:   NewService(st, art, cfg, nil),
		episode:   episode,
	}
}

func (f *fixture) writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path, err := f.artifacts.Resolve(f.episode.ExternalID, artifacts.TypeCorrectedTranscript)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := f.artifacts.WriteText(path, content); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestApproveBindsArtifactHash(t *testing.T) {
	f := setup(t, config.Review{})
	ctx := context.Background()
	path := f.writeArtifact(t, "Korrigiertes Transkript.")

	task, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, "", nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	decision, err := f.service.Approve(ctx, f.episode, task.ID, "looks good")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decision.Decision != store.DecisionApproved {
		t.Fatalf("unexpected decision %s", decision.Decision)
	}

	updated, err := f.store.ReviewTaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	wantHash, err := hashing.HashFile(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if updated.ArtifactHash != wantHash {
		t.Fatalf("approval must record the artifact hash: got %q want %q", updated.ArtifactHash, wantHash)
	}

	approved, err := f.service.HasApproved(ctx, f.episode.ID, "correct")
	if err != nil {
		t.Fatalf("has approved: %v", err)
	}
	if !approved {
		t.Fatal("expected HasApproved true after approval")
	}
}

func TestRejectRevertsEpisodeAndMarksStale(t *testing.T) {
	f := setup(t, config.Review{})
	ctx := context.Background()
	path := f.writeArtifact(t, "Falsches Deutsch.")

	task, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, "", nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := f.service.Reject(ctx, f.episode, task.ID, "wrong German"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	reloaded, err := f.store.EpisodeByID(ctx, f.episode.ID)
	if err != nil {
		t.Fatalf("reload episode: %v", err)
	}
	if reloaded.Status != store.EpisodeTranscribed {
		t.Fatalf("expected revert to TRANSCRIBED, got %s", reloaded.Status)
	}
	if !f.artifacts.IsStale(path) {
		t.Fatal("rejected artifact must be marked stale")
	}

	feedback, err := f.service.LatestFeedback(ctx, f.episode.ID, "correct")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if feedback != "wrong German" {
		t.Fatalf("expected reviewer notes back, got %q", feedback)
	}
}

func TestNoApprovalAfterRejection(t *testing.T) {
	f := setup(t, config.Review{})
	ctx := context.Background()
	path := f.writeArtifact(t, "Text.")

	task, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, "", nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := f.service.Reject(ctx, f.episode, task.ID, "no"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	_, err = f.service.Approve(ctx, f.episode, task.ID, "changed my mind")
	if !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on closed task, got %v", err)
	}
}

func TestRequestChangesRetainsNotesAndAllowsNewTask(t *testing.T) {
	f := setup(t, config.Review{})
	ctx := context.Background()
	path := f.writeArtifact(t, "Erster Entwurf.")

	task, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, "", nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := f.service.RequestChanges(ctx, f.episode, task.ID, "fix the speaker names"); err != nil {
		t.Fatalf("request changes: %v", err)
	}

	pending, err := f.service.HasPending(ctx, f.episode.ID, "correct")
	if err != nil {
		t.Fatalf("has pending: %v", err)
	}
	if !pending {
		t.Fatal("CHANGES_REQUESTED must count as pending")
	}

	// The stage re-runs and a fresh task is created; the old one stays closed.
	fresh, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, "", nil)
	if err != nil {
		t.Fatalf("create fresh task: %v", err)
	}
	if fresh.ID == task.ID {
		t.Fatal("expected a new task record")
	}

	old, err := f.store.ReviewTaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("reload old task: %v", err)
	}
	if old.Status != store.ReviewChangesRequested {
		t.Fatalf("old task must stay CHANGES_REQUESTED, got %s", old.Status)
	}
}

func TestAutoApprovePunctuationOnly(t *testing.T) {
	f := setup(t, config.Review{AutoApproveCorrections: true, AutoApproveMaxChanges: 5})
	ctx := context.Background()
	path := f.writeArtifact(t, "Guten Tag, wie geht es?")

	diffPath, err := f.artifacts.ResolveDiff(f.episode.ExternalID, "correct")
	if err != nil {
		t.Fatalf("resolve diff: %v", err)
	}
	diff, _ := json.Marshal(Diff{Changes: []DiffChange{
		{Before: "Guten Tag wie geht es", After: "Guten Tag, wie geht es?"},
		{Before: "Ja sagte er", After: "Ja, sagte er."},
	}})
	if err := f.artifacts.Write(diffPath, diff); err != nil {
		t.Fatalf("write diff: %v", err)
	}

	task, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, diffPath, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != store.ReviewApproved {
		t.Fatalf("expected auto-approval, task is %s", task.Status)
	}
}

func TestAutoApproveDeclinesWordChanges(t *testing.T) {
	f := setup(t, config.Review{AutoApproveCorrections: true, AutoApproveMaxChanges: 5})
	ctx := context.Background()
	path := f.writeArtifact(t, "Text.")

	diffPath, err := f.artifacts.ResolveDiff(f.episode.ExternalID, "correct")
	if err != nil {
		t.Fatalf("resolve diff: %v", err)
	}
	diff, _ := json.Marshal(Diff{Changes: []DiffChange{
		{Before: "Er ging nach Hause", After: "Sie ging nach Hause."},
	}})
	if err := f.artifacts.Write(diffPath, diff); err != nil {
		t.Fatalf("write diff: %v", err)
	}

	task, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, diffPath, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != store.ReviewPending {
		t.Fatalf("word-level change must stay pending, task is %s", task.Status)
	}
}

func TestReviewHistoryAppended(t *testing.T) {
	f := setup(t, config.Review{})
	ctx := context.Background()
	path := f.writeArtifact(t, "Inhalt.")

	task, err := f.service.CreateTask(ctx, f.episode, "correct", []string{path}, "", nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := f.service.Approve(ctx, f.episode, task.ID, "ok"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	historyPath, err := f.artifacts.Resolve(f.episode.ExternalID, artifacts.TypeReviewHistory)
	if err != nil {
		t.Fatalf("resolve history: %v", err)
	}
	data, err := f.artifacts.ReadBytes(historyPath)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	var events []HistoryEvent
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(events) != 1 || events[0].Decision != string(store.DecisionApproved) {
		t.Fatalf("unexpected history %+v", events)
	}
}
