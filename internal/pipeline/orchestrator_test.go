package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dublaj/internal/artifacts"
	"dublaj/internal/config"
	"dublaj/internal/costguard"
	"dublaj/internal/logging"
	"dublaj/internal/prompts"
	"dublaj/internal/provenance"
	"dublaj/internal/review"
	"dublaj/internal/stage"
	"dublaj/internal/stages"
	"dublaj/internal/store"
)

type fakeServices struct {
	downloads     int
	transcribes   int
	transcribeErr error
	chats         int
	chatQueue     []string
	images        int
	clips         int
	segments      int
	concats       int
	uploads       int
}

func (f *fakeServices) Download(_ context.Context, _, destPath string) error {
	f.downloads++
	return writeFakeFile(destPath, "audio")
}

func (f *fakeServices) Transcribe(context.Context, string) (string, error) {
	f.transcribes++
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return "Das ist das Transkript", nil
}

func (f *fakeServices) Complete(_ context.Context, _ stage.ChatRequest) (*stage.ChatResponse, error) {
	f.chats++
	text := f.chatQueue[0]
	if len(f.chatQueue) > 1 {
		f.chatQueue = f.chatQueue[1:]
	}
	return &stage.ChatResponse{Text: text, InputTokens: 2000, OutputTokens: 1000}, nil
}

func (f *fakeServices) Generate(_ context.Context, _, destPath string) (float64, error) {
	f.images++
	return 0.04, writeFakeFile(destPath, "png")
}

func (f *fakeServices) Synthesize(_ context.Context, _, _, destPath string) (float64, error) {
	f.clips++
	return 0.02, writeFakeFile(destPath, "mp3")
}

func (f *fakeServices) RenderSegment(_ context.Context, spec stage.SegmentSpec, destPath string) error {
	f.segments++
	return writeFakeFile(destPath, "segment-"+spec.ChapterID)
}

func (f *fakeServices) Concat(_ context.Context, _ []string, destPath string) error {
	f.concats++
	return writeFakeFile(destPath, "draft")
}

func (f *fakeServices) Upload(context.Context, stage.UploadRequest) (string, error) {
	f.uploads++
	return "vid-777", nil
}

func writeFakeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

const chaptersJSON = `{
  "chapters": [
    {"id": "giris", "title": "Giriş", "summary": "Açılış", "image_prompt": "sunrise", "text": "Merhaba."},
    {"id": "kapanis", "title": "Kapanış", "summary": "Veda", "image_prompt": "sunset", "text": "Görüşürüz."}
  ]
}`

type testEnv struct {
	orch     *Orchestrator
	store    *store.Store
	review   *review.Service
	services *fakeServices
	cfg      *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "dublaj.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	art := artifacts.NewStore(t.TempDir())
	promptsDir := t.TempDir()
	for name, body := range map[string]string{
		"correct_transcript": "Korrigiere:\n\n{{ transcript }}\n{{ reviewer_feedback }}\n",
		"translate":          "Übersetze:\n\n{{ text }}\n",
		"adapt":              "Passe an:\n\n{{ text }}\n{{ reviewer_feedback }}\n",
		"chapterize":         "Kapitel als JSON:\n\n{{ script }}\n{{ validation_error }}\n",
		"imagegen":           "Bild: {{ title }} {{ image_prompt }}\n",
	} {
		if err := os.WriteFile(filepath.Join(promptsDir, name+".md"), []byte(body), 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}

	cfg := config.Default()
	cfg.Paths.DataRoot = t.TempDir()
	cfg.Pipeline.MaxEpisodeCostUSD = 100
	cfg.Pipeline.MaxRetries = 1
	cfg.LLM.Model = "deepseek/deepseek-chat"
	cfg.LLM.InputCostPerMTok = 3
	cfg.LLM.OutputCostPerMTok = 15
	cfg.TTS.Voice = "tr-TR-EmelNeural"
	cfg.Render.SegmentTimeoutSeconds = 30
	cfg.Render.ConcatTimeoutSeconds = 60
	cfg.Publish.Platform = "youtube"

	fake := &fakeServices{chatQueue: []string{"Korrigiert", "Çeviri", "Uyarlama", chaptersJSON}}
	reviewSvc := review.NewService(st, art, cfg.Review, logging.NewNop())
	registry := stages.NewRegistry(&stages.Deps{
		Store:       st,
		Artifacts:   art,
		Prompts:     prompts.NewRegistry(st, promptsDir, logging.NewNop()),
		Provenance:  provenance.NewWriter(art),
		Review:      reviewSvc,
		Downloader:  fake,
		Transcriber: fake,
		Chat:        fake,
		Images:      fake,
		Speech:      fake,
		Renderer:    fake,
		Uploader:    fake,
		Logger:      logging.NewNop(),
	})

	return &testEnv{
		orch:     New(st, registry, costguard.New(st, cfg.Pipeline.MaxEpisodeCostUSD), &cfg, logging.NewNop()),
		store:    st,
		review:   reviewSvc,
		services: fake,
		cfg:      &cfg,
	}
}

func (e *testEnv) newEpisode(t *testing.T, externalID string, version int) *store.Episode {
	t.Helper()
	episode := &store.Episode{
		ExternalID:      externalID,
		Title:           "Folge 7",
		SourceURL:       "https://example.org/feed/7.m4a",
		PipelineVersion: version,
	}
	if err := e.store.CreateEpisode(context.Background(), episode); err != nil {
		t.Fatalf("create episode: %v", err)
	}
	return episode
}

func (e *testEnv) approveOpenTask(t *testing.T, episode *store.Episode, reviewedStage string) {
	t.Helper()
	task, err := e.store.OpenReviewTask(context.Background(), episode.ID, reviewedStage)
	if err != nil {
		t.Fatalf("open task: %v", err)
	}
	if task == nil {
		t.Fatalf("expected an open %s task", reviewedStage)
	}
	if _, err := e.review.Approve(context.Background(), episode, task.ID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func TestRunEpisodeSuspendsAtEachGateAndCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	episode := env.newEpisode(t, "yt-folge7", 2)

	// Pass 1 runs download through correct and suspends at gate 1.
	report, err := env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("pass 1: %v", err)
	}
	if report.FinalStatus != store.EpisodeCorrected {
		t.Fatalf("pass 1: expected CORRECTED, got %s", report.FinalStatus)
	}
	last := report.Entries[len(report.Entries)-1]
	if last.Stage != stage.StageReviewGate1 || last.Status != store.RunReviewPending {
		t.Fatalf("pass 1: expected suspension at gate 1, got %+v", last)
	}
	env.approveOpenTask(t, episode, stage.StageCorrect)

	// Pass 2 translates and adapts, then suspends at gate 2. The stages
	// already passed are recorded as skipped without re-invoking services.
	report, err = env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("pass 2: %v", err)
	}
	if report.FinalStatus != store.EpisodeAdapted {
		t.Fatalf("pass 2: expected ADAPTED, got %s", report.FinalStatus)
	}
	if env.services.downloads != 1 || env.services.transcribes != 1 {
		t.Fatalf("pass 2: services re-invoked: downloads=%d transcripts=%d", env.services.downloads, env.services.transcribes)
	}
	for _, entry := range report.Entries[:2] {
		if entry.Status != store.RunSkipped {
			t.Fatalf("pass 2: expected skipped record for %s, got %s", entry.Stage, entry.Status)
		}
	}
	episode.Status = store.EpisodeAdapted
	env.approveOpenTask(t, episode, stage.StageAdapt)

	// Pass 3 chapterizes, generates media, renders, and suspends at gate 3.
	report, err = env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("pass 3: %v", err)
	}
	if report.FinalStatus != store.EpisodeRendered {
		t.Fatalf("pass 3: expected RENDERED, got %s", report.FinalStatus)
	}
	if env.services.images != 2 || env.services.clips != 2 || env.services.segments != 2 || env.services.concats != 1 {
		t.Fatalf("pass 3: unexpected media calls: %+v", env.services)
	}
	episode.Status = store.EpisodeRendered
	env.approveOpenTask(t, episode, stage.StageRender)

	// Pass 4 publishes and completes.
	report, err = env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("pass 4: %v", err)
	}
	if report.FinalStatus != store.EpisodeCompleted {
		t.Fatalf("pass 4: expected COMPLETED, got %s", report.FinalStatus)
	}
	if env.services.uploads != 1 {
		t.Fatalf("expected 1 upload, got %d", env.services.uploads)
	}
	if report.SpentUSD <= 0 {
		t.Fatalf("expected recorded spend, got %f", report.SpentUSD)
	}

	// A completed episode is never touched again.
	report, err = env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("pass 5: %v", err)
	}
	if len(report.Entries) != 0 || report.FinalStatus != store.EpisodeCompleted {
		t.Fatalf("pass 5: expected empty report, got %+v", report)
	}
}

func TestLegacyPlanRunsWithoutGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	episode := env.newEpisode(t, "yt-legacy", 1)

	report, err := env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FinalStatus != store.EpisodeCompleted {
		t.Fatalf("expected COMPLETED in one pass, got %s", report.FinalStatus)
	}
	if env.services.uploads != 1 {
		t.Fatalf("expected 1 upload, got %d", env.services.uploads)
	}

	tasks, err := env.store.ListReviewTasks(ctx)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("legacy plan must not open review tasks, got %d", len(tasks))
	}
}

func TestRunEpisodeStopsAtCostCap(t *testing.T) {
	env := newTestEnv(t)
	// The correct stage alone costs 2000/1e6*3 + 1000/1e6*15 = 0.021 USD.
	env.cfg.Pipeline.MaxEpisodeCostUSD = 0.01
	env.orch.guard = costguard.New(env.store, env.cfg.Pipeline.MaxEpisodeCostUSD)

	ctx := context.Background()
	episode := env.newEpisode(t, "yt-teuer", 2)

	report, err := env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FinalStatus != store.EpisodeCostLimit {
		t.Fatalf("expected COST_LIMIT, got %s", report.FinalStatus)
	}

	fetched, err := env.store.EpisodeByID(ctx, episode.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.Status != store.EpisodeCostLimit {
		t.Fatalf("expected persisted COST_LIMIT, got %s", fetched.Status)
	}
	if fetched.ErrorMessage == "" {
		t.Fatal("expected cost cap message on episode")
	}
}

func TestRunPendingSkipsEpisodesBlockedOnReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	blocked := env.newEpisode(t, "yt-blocked", 2)
	if _, err := env.orch.RunEpisode(ctx, blocked.ID, Options{}); err != nil {
		t.Fatalf("run blocked: %v", err)
	}
	// blocked now waits at gate 1 with an open task.

	env.services.chatQueue = []string{"Korrigiert", "Çeviri", "Uyarlama", chaptersJSON}
	fresh := env.newEpisode(t, "yt-fresh", 2)

	reports, err := env.orch.RunPending(ctx, Options{})
	if err != nil {
		t.Fatalf("run pending: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].EpisodeID != fresh.ID {
		t.Fatalf("expected fresh episode to run, got %d", reports[0].EpisodeID)
	}
}

func TestRunPendingHonorsLimit(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Pipeline.RunPendingLimit = 1
	ctx := context.Background()

	env.newEpisode(t, "yt-eins", 2)
	env.newEpisode(t, "yt-zwei", 2)

	reports, err := env.orch.RunPending(ctx, Options{})
	if err != nil {
		t.Fatalf("run pending: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected limit of 1, got %d", len(reports))
	}
}

func TestForceReattemptsFailedEpisodeFromFailurePoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	episode := env.newEpisode(t, "yt-neustart", 2)

	env.services.transcribeErr = errors.New("asr offline")
	report, err := env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("failing pass: %v", err)
	}
	if report.FinalStatus != store.EpisodeFailed {
		t.Fatalf("expected FAILED, got %s", report.FinalStatus)
	}

	// Without force a FAILED episode stays put.
	report, err = env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("unforced pass: %v", err)
	}
	if len(report.Entries) != 0 || report.FinalStatus != store.EpisodeFailed {
		t.Fatalf("unforced pass must not touch a FAILED episode, got %+v", report)
	}

	// Force re-attempts from the failure point: download already succeeded,
	// so the pass resumes at transcribe and runs up to gate 1.
	env.services.transcribeErr = nil
	report, err = env.orch.RunEpisode(ctx, episode.ID, Options{Force: true})
	if err != nil {
		t.Fatalf("forced pass: %v", err)
	}
	if report.FinalStatus != store.EpisodeCorrected {
		t.Fatalf("forced pass: expected CORRECTED, got %s", report.FinalStatus)
	}
	last := report.Entries[len(report.Entries)-1]
	if last.Stage != stage.StageReviewGate1 || last.Status != store.RunReviewPending {
		t.Fatalf("forced pass: expected suspension at gate 1, got %+v", last)
	}

	fetched, err := env.store.EpisodeByID(ctx, episode.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if fetched.RetryCount != 0 || fetched.ErrorMessage != "" {
		t.Fatalf("re-attempt must reset the retry budget and error, got %+v", fetched)
	}
}

func TestRaisedCostCapResumesCostLimitEpisode(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Pipeline.MaxEpisodeCostUSD = 0.01
	env.orch.guard = costguard.New(env.store, env.cfg.Pipeline.MaxEpisodeCostUSD)

	ctx := context.Background()
	episode := env.newEpisode(t, "yt-budget", 2)

	report, err := env.orch.RunEpisode(ctx, episode.ID, Options{})
	if err != nil {
		t.Fatalf("capped pass: %v", err)
	}
	if report.FinalStatus != store.EpisodeCostLimit {
		t.Fatalf("expected COST_LIMIT, got %s", report.FinalStatus)
	}

	// With the cap unchanged the episode stays parked, even under force.
	reports, err := env.orch.RunPending(ctx, Options{Force: true})
	if err != nil {
		t.Fatalf("parked pass: %v", err)
	}
	if len(reports) != 1 || len(reports[0].Entries) != 0 || reports[0].FinalStatus != store.EpisodeCostLimit {
		t.Fatalf("expected the episode to stay parked, got %+v", reports)
	}

	// Raising the cap makes the next pending pass resume from the last
	// completed stage, with no force required.
	env.cfg.Pipeline.MaxEpisodeCostUSD = 100
	env.orch.guard = costguard.New(env.store, env.cfg.Pipeline.MaxEpisodeCostUSD)
	reports, err = env.orch.RunPending(ctx, Options{})
	if err != nil {
		t.Fatalf("resumed pass: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].FinalStatus != store.EpisodeCorrected {
		t.Fatalf("expected resume up to CORRECTED, got %s", reports[0].FinalStatus)
	}
	last := reports[0].Entries[len(reports[0].Entries)-1]
	if last.Stage != stage.StageReviewGate1 || last.Status != store.RunReviewPending {
		t.Fatalf("expected suspension at gate 1, got %+v", last)
	}
}

func TestRunEpisodeHonorsStageFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	episode := env.newEpisode(t, "yt-teil", 2)

	report, err := env.orch.RunEpisode(ctx, episode.ID, Options{Stages: []string{stage.StageDownload}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Entries) != 1 || report.Entries[0].Stage != stage.StageDownload {
		t.Fatalf("expected only the download stage, got %+v", report.Entries)
	}
	if report.FinalStatus != store.EpisodeDownloaded {
		t.Fatalf("expected DOWNLOADED, got %s", report.FinalStatus)
	}
	if env.services.transcribes != 0 {
		t.Fatalf("transcribe must not run under the filter, got %d calls", env.services.transcribes)
	}

	// A filtered stage whose precondition is unmet fails instead of jumping ahead.
	report, err = env.orch.RunEpisode(ctx, episode.ID, Options{Stages: []string{stage.StageAdapt}})
	if err != nil {
		t.Fatalf("filtered run: %v", err)
	}
	if len(report.Entries) != 1 || report.Entries[0].Status != store.RunFailed {
		t.Fatalf("expected a failed adapt entry, got %+v", report.Entries)
	}
}
