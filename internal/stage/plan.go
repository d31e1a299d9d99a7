package stage

import (
	"fmt"

	"dublaj/internal/services"
	"dublaj/internal/store"
)

// Stage identifiers.
const (
	StageDownload    = "download"
	StageTranscribe  = "transcribe"
	StageCorrect     = "correct"
	StageReviewGate1 = "review_gate_1"
	StageTranslate   = "translate"
	StageAdapt       = "adapt"
	StageReviewGate2 = "review_gate_2"
	StageChapterize  = "chapterize"
	StageImageGen    = "imagegen"
	StageTTS         = "tts"
	StageRender      = "render"
	StageReviewGate3 = "review_gate_3"
	StagePublish     = "publish"
)

// PlanEntry pairs a stage with the episode status required before it runs.
type PlanEntry struct {
	StageID       string
	RequiredPrior store.EpisodeStatus
}

// v2Plan interleaves three human review gates with the work stages.
var v2Plan = []PlanEntry{
	{StageDownload, store.EpisodeNew},
	{StageTranscribe, store.EpisodeDownloaded},
	{StageCorrect, store.EpisodeTranscribed},
	{StageReviewGate1, store.EpisodeCorrected},
	{StageTranslate, store.EpisodeCorrected},
	{StageAdapt, store.EpisodeTranslated},
	{StageReviewGate2, store.EpisodeAdapted},
	{StageChapterize, store.EpisodeAdapted},
	{StageImageGen, store.EpisodeChapterized},
	{StageTTS, store.EpisodeImagesGenerated},
	{StageRender, store.EpisodeTTSDone},
	{StageReviewGate3, store.EpisodeRendered},
	{StagePublish, store.EpisodeApproved},
}

// legacyPlan is the v1 pipeline: the same work stages without review gates.
// The render stage hands off directly to publish.
var legacyPlan = []PlanEntry{
	{StageDownload, store.EpisodeNew},
	{StageTranscribe, store.EpisodeDownloaded},
	{StageCorrect, store.EpisodeTranscribed},
	{StageTranslate, store.EpisodeCorrected},
	{StageAdapt, store.EpisodeTranslated},
	{StageChapterize, store.EpisodeAdapted},
	{StageImageGen, store.EpisodeChapterized},
	{StageTTS, store.EpisodeImagesGenerated},
	{StageRender, store.EpisodeTTSDone},
	{StagePublish, store.EpisodeRendered},
}

// producedStatus maps each stage to the episode status it produces on
// success. Gates 1 and 2 suspend or pass; only gate 3 advances the episode.
var producedStatus = map[string]store.EpisodeStatus{
	StageDownload:    store.EpisodeDownloaded,
	StageTranscribe:  store.EpisodeTranscribed,
	StageCorrect:     store.EpisodeCorrected,
	StageTranslate:   store.EpisodeTranslated,
	StageAdapt:       store.EpisodeAdapted,
	StageChapterize:  store.EpisodeChapterized,
	StageImageGen:    store.EpisodeImagesGenerated,
	StageTTS:         store.EpisodeTTSDone,
	StageRender:      store.EpisodeRendered,
	StageReviewGate3: store.EpisodeApproved,
	StagePublish:     store.EpisodePublished,
}

// PlanForVersion returns the stage plan for an episode's pipeline version.
// Versions beyond 2 are reserved.
func PlanForVersion(version int) ([]PlanEntry, error) {
	switch version {
	case 1:
		return legacyPlan, nil
	case 2:
		return v2Plan, nil
	default:
		return nil, services.Wrap(services.ErrValidation, "", "resolve plan", fmt.Sprintf("unsupported pipeline version %d", version), nil)
	}
}

// ProducedStatus returns the status a stage yields on success. The second
// return is false for gates that never advance the episode.
func ProducedStatus(stageID string) (store.EpisodeStatus, bool) {
	status, ok := producedStatus[stageID]
	return status, ok
}

// GateStages lists the review gates and the work stage each one reviews.
var GateStages = map[string]string{
	StageReviewGate1: StageCorrect,
	StageReviewGate2: StageAdapt,
	StageReviewGate3: StageRender,
}

// IsGate reports whether a stage identifier names a review gate.
func IsGate(stageID string) bool {
	_, ok := GateStages[stageID]
	return ok
}

// Registry maps stage identifiers to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own identifier. Re-registration replaces.
func (r *Registry) Register(adapter Adapter) {
	r.adapters[adapter.ID()] = adapter
}

// Get returns the adapter for a stage identifier.
func (r *Registry) Get(stageID string) (Adapter, error) {
	adapter, ok := r.adapters[stageID]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, stageID, "resolve adapter", fmt.Sprintf("no adapter registered for stage %q", stageID), nil)
	}
	return adapter, nil
}
